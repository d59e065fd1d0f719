// Package arxiv implements metadata.Provider over the public arXiv Atom API
// for paper records and the Semantic Scholar Graph API for citation and
// reference edges (arXiv itself does not expose a citation graph).
package arxiv

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/arxivgraph/corpusd/engine/domain"
	"github.com/arxivgraph/corpusd/engine/provider/metadata"
)

const (
	defaultAPIBase       = "http://export.arxiv.org/api/query"
	defaultGraphAPIBase  = "https://api.semanticscholar.org/graph/v1/paper"
	defaultPageSize      = 100
	defaultRequestTimeout = 30 * time.Second
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default *http.Client (e.g. for tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAPIBase overrides the arXiv Atom API base URL.
func WithAPIBase(base string) Option {
	return func(c *Client) { c.apiBase = base }
}

// WithGraphAPIBase overrides the Semantic Scholar Graph API base URL.
func WithGraphAPIBase(base string) Option {
	return func(c *Client) { c.graphAPIBase = base }
}

// WithPageSize overrides the page size used for citation/reference paging.
func WithPageSize(n int) Option {
	return func(c *Client) { c.pageSize = n }
}

// Client is a metadata.Provider backed by arXiv and Semantic Scholar.
type Client struct {
	httpClient   *http.Client
	apiBase      string
	graphAPIBase string
	pageSize     int
}

// New creates a Client with the given options.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient:   &http.Client{Timeout: defaultRequestTimeout},
		apiBase:      defaultAPIBase,
		graphAPIBase: defaultGraphAPIBase,
		pageSize:     defaultPageSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ metadata.Provider = (*Client)(nil)

// atomFeed models the subset of the arXiv Atom response needed here.
type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string   `xml:"id"`
	Title     string   `xml:"title"`
	Summary   string   `xml:"summary"`
	Published string   `xml:"published"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Categories []struct {
		Term string `xml:"term,attr"`
	} `xml:"category"`
}

// GetPaper resolves a PaperId via the arXiv Atom API.
func (c *Client) GetPaper(ctx context.Context, id domain.PaperID) (domain.Paper, error) {
	if err := domain.ValidatePaperID(id); err != nil {
		return domain.Paper{}, err
	}

	params := url.Values{"id_list": {string(id)}, "max_results": {"1"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"?"+params.Encode(), nil)
	if err != nil {
		return domain.Paper{}, fmt.Errorf("arxiv: build request for %s: %w", id, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Paper{}, wrapNetworkErr(id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		after := retryAfterFromHeader(resp.Header.Get("Retry-After"))
		return domain.Paper{}, &domain.RateLimitedError{Provider: "arxiv", After: after}
	}
	if resp.StatusCode >= 500 {
		return domain.Paper{}, fmt.Errorf("arxiv: get_paper %s: %w", id, domain.ErrUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Paper{}, fmt.Errorf("arxiv: get_paper %s: status %d: %w", id, resp.StatusCode, domain.ErrUnavailable)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Paper{}, fmt.Errorf("arxiv: read body for %s: %w", id, err)
	}

	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return domain.Paper{}, fmt.Errorf("arxiv: decode atom feed for %s: %w", id, err)
	}
	if len(feed.Entries) == 0 {
		return domain.Paper{}, fmt.Errorf("arxiv: get_paper %s: %w", id, domain.ErrNotFound)
	}

	return paperFromEntry(id, feed.Entries[0]), nil
}

func paperFromEntry(id domain.PaperID, e atomEntry) domain.Paper {
	authors := make([]string, 0, len(e.Authors))
	for _, a := range e.Authors {
		authors = append(authors, a.Name)
	}
	categories := make([]string, 0, len(e.Categories))
	for _, c := range e.Categories {
		categories = append(categories, c.Term)
	}

	var published time.Time
	if t, err := time.Parse(time.RFC3339, e.Published); err == nil {
		published = t
	}

	return domain.Paper{
		ID:             id,
		Title:          strings.TrimSpace(collapseWhitespace(e.Title)),
		Abstract:       strings.TrimSpace(collapseWhitespace(e.Summary)),
		Authors:        authors,
		Categories:     categories,
		PublishedDate:  published,
	}
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// semanticScholarEdge is the subset of the Graph API's citation/reference
// response needed to build a metadata.Edge.
type semanticScholarEdge struct {
	Contexts    []string `json:"contexts"`
	CitingPaper *struct {
		ExternalIDs struct {
			ArXiv string `json:"ArXiv"`
		} `json:"externalIds"`
	} `json:"citingPaper"`
	CitedPaper *struct {
		ExternalIDs struct {
			ArXiv string `json:"ArXiv"`
		} `json:"externalIds"`
	} `json:"citedPaper"`
}

type semanticScholarPage struct {
	Offset int                   `json:"offset"`
	Next   int                   `json:"next"`
	Data   []semanticScholarEdge `json:"data"`
}

// GetCitations returns one page of papers that cite id, via Semantic Scholar.
func (c *Client) GetCitations(ctx context.Context, id domain.PaperID, cursor string) (metadata.Page, error) {
	return c.fetchEdges(ctx, id, cursor, "citations", func(e semanticScholarEdge) (string, bool) {
		if e.CitingPaper == nil || e.CitingPaper.ExternalIDs.ArXiv == "" {
			return "", false
		}
		return e.CitingPaper.ExternalIDs.ArXiv, true
	})
}

// GetReferences returns one page of papers that id cites, via Semantic Scholar.
func (c *Client) GetReferences(ctx context.Context, id domain.PaperID, cursor string) (metadata.Page, error) {
	return c.fetchEdges(ctx, id, cursor, "references", func(e semanticScholarEdge) (string, bool) {
		if e.CitedPaper == nil || e.CitedPaper.ExternalIDs.ArXiv == "" {
			return "", false
		}
		return e.CitedPaper.ExternalIDs.ArXiv, true
	})
}

func (c *Client) fetchEdges(ctx context.Context, id domain.PaperID, cursor, relation string, otherID func(semanticScholarEdge) (string, bool)) (metadata.Page, error) {
	if err := domain.ValidatePaperID(id); err != nil {
		return metadata.Page{}, err
	}

	offset := 0
	if cursor != "" {
		o, err := strconv.Atoi(cursor)
		if err != nil {
			return metadata.Page{}, fmt.Errorf("arxiv: %w: invalid cursor %q", domain.ErrInvalidInput, cursor)
		}
		offset = o
	}

	params := url.Values{
		"fields": {"contexts,citingPaper.externalIds,citedPaper.externalIds"},
		"offset": {strconv.Itoa(offset)},
		"limit":  {strconv.Itoa(c.pageSize)},
	}
	reqURL := fmt.Sprintf("%s/arXiv:%s/%s?%s", c.graphAPIBase, id, relation, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return metadata.Page{}, fmt.Errorf("arxiv: build %s request for %s: %w", relation, id, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return metadata.Page{}, wrapNetworkErr(id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		after := retryAfterFromHeader(resp.Header.Get("Retry-After"))
		return metadata.Page{}, &domain.RateLimitedError{Provider: "semanticscholar", After: after}
	}
	if resp.StatusCode == http.StatusNotFound {
		return metadata.Page{}, fmt.Errorf("arxiv: %s %s: %w", relation, id, domain.ErrNotFound)
	}
	if resp.StatusCode >= 500 {
		return metadata.Page{}, fmt.Errorf("arxiv: %s %s: %w", relation, id, domain.ErrUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return metadata.Page{}, fmt.Errorf("arxiv: %s %s: status %d: %w", relation, id, resp.StatusCode, domain.ErrUnavailable)
	}

	var page semanticScholarPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return metadata.Page{}, fmt.Errorf("arxiv: decode %s page for %s: %w", relation, id, err)
	}

	edges := make([]metadata.Edge, 0, len(page.Data))
	for _, e := range page.Data {
		other, ok := otherID(e)
		if !ok {
			continue
		}
		edges = append(edges, metadata.Edge{
			OtherID: domain.PaperID(other),
			Context: strings.Join(e.Contexts, " "),
		})
	}

	out := metadata.Page{Edges: edges}
	if page.Next > page.Offset {
		out.Cursor = strconv.Itoa(page.Next)
	}
	return out, nil
}

func retryAfterFromHeader(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func wrapNetworkErr(id domain.PaperID, err error) error {
	return fmt.Errorf("arxiv: request for %s: %w: %v", id, domain.ErrUnavailable, err)
}
