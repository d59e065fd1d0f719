// Package anthropic implements analysis.Provider using the Anthropic Messages
// API for summarize/extract/classify. Anthropic has no embeddings endpoint,
// so Embed always fails with domain.ErrInvalidInput; a deployment that wants
// embeddings must configure anthropic as the fallback, not the primary,
// since analysis.Selector never fails over on ErrInvalidInput.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/arxivgraph/corpusd/engine/domain"
	"github.com/arxivgraph/corpusd/engine/provider/analysis"
)

// DefaultModel is the default Claude model used for all operations.
const DefaultModel = anthropic.ModelClaude3_5HaikuLatest

const defaultMaxTokens = 1024

// Provider implements analysis.Provider using the Anthropic API.
type Provider struct {
	client anthropic.Client
	model  anthropic.Model
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default Anthropic API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs an Anthropic-backed analysis.Provider. If model is empty,
// DefaultModel is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic analysis: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	client := anthropic.NewClient(reqOpts...)
	return &Provider{client: client, model: anthropic.Model(model)}, nil
}

var _ analysis.Provider = (*Provider)(nil)

func (p *Provider) complete(ctx context.Context, system, user string) (string, error) {
	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: defaultMaxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", classifyErr(err)
	}
	var out strings.Builder
	for _, block := range msg.Content {
		if block.Text != "" {
			out.WriteString(block.Text)
		}
	}
	return out.String(), nil
}

// Summarize implements analysis.Provider.
func (p *Provider) Summarize(ctx context.Context, text string, level analysis.SummaryLevel) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("anthropic analysis: summarize: %w", domain.ErrInvalidInput)
	}
	var target string
	switch level {
	case analysis.LevelBrief:
		target = "one sentence"
	case analysis.LevelDetailed:
		target = "a detailed paragraph covering motivation, method and result"
	default:
		target = "two to three sentences"
	}
	out, err := p.complete(ctx, "You summarize scientific abstracts precisely and without embellishment.",
		fmt.Sprintf("Summarize the following in %s:\n\n%s", target, text))
	if err != nil {
		return "", fmt.Errorf("anthropic analysis: summarize: %w", err)
	}
	return strings.TrimSpace(out), nil
}

type extractedEntity struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

type extractResponse struct {
	Entities []extractedEntity `json:"entities"`
}

// ExtractEntities implements analysis.Provider.
func (p *Provider) ExtractEntities(ctx context.Context, text string) ([]domain.Concept, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("anthropic analysis: extract_entities: %w", domain.ErrInvalidInput)
	}
	system := "You extract named scientific entities (methods, theorems, datasets, equations, constants, conjectures) from text. " +
		`Respond with strict JSON only, no prose: {"entities":[{"name":"...","kind":"Method|Theorem|Dataset|Equation|Constant|Conjecture|Other"}]}`
	out, err := p.complete(ctx, system, text)
	if err != nil {
		return nil, fmt.Errorf("anthropic analysis: extract_entities: %w", err)
	}

	var parsed extractResponse
	if err := json.Unmarshal([]byte(extractJSON(out)), &parsed); err != nil {
		return nil, fmt.Errorf("anthropic analysis: extract_entities: decode response: %w", err)
	}

	concepts := make([]domain.Concept, 0, len(parsed.Entities))
	for _, e := range parsed.Entities {
		kind := domain.ConceptKind(e.Kind)
		if !domain.ValidConceptKinds[kind] {
			kind = domain.ConceptOther
		}
		concepts = append(concepts, domain.Concept{Name: e.Name, Kind: kind})
	}
	return concepts, nil
}

type classifyResponse struct {
	Intent   string `json:"intent"`
	Position string `json:"position"`
}

// ClassifyCitation implements analysis.Provider.
func (p *Provider) ClassifyCitation(ctx context.Context, citationContext string) (domain.CitationIntent, domain.CitationPosition, error) {
	if strings.TrimSpace(citationContext) == "" {
		return "", "", fmt.Errorf("anthropic analysis: classify_citation: %w", domain.ErrInvalidInput)
	}
	system := "You classify why a scientific paper cites another paper, given the citing sentence. " +
		`Respond with strict JSON only, no prose: {"intent":"Method|Background|Result|Critique|Extension|Unknown","position":"Abstract|Introduction|Methods|Results|Discussion|Other"}`
	out, err := p.complete(ctx, system, citationContext)
	if err != nil {
		return "", "", fmt.Errorf("anthropic analysis: classify_citation: %w", err)
	}

	var parsed classifyResponse
	if err := json.Unmarshal([]byte(extractJSON(out)), &parsed); err != nil {
		return "", "", fmt.Errorf("anthropic analysis: classify_citation: decode response: %w", err)
	}

	intent := domain.CitationIntent(parsed.Intent)
	if !domain.ValidIntents[intent] {
		intent = domain.IntentUnknown
	}
	position := domain.CitationPosition(parsed.Position)
	if !domain.ValidPositions[position] {
		position = domain.PositionOther
	}
	return intent, position, nil
}

// Embed implements analysis.Provider. Anthropic has no embeddings endpoint.
func (p *Provider) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, fmt.Errorf("anthropic analysis: embed: %w: anthropic has no embeddings endpoint", domain.ErrInvalidInput)
}

// ModelID implements analysis.Provider.
func (p *Provider) ModelID() string { return string(p.model) }

// Dimensions implements analysis.Provider. Anthropic has no embeddings endpoint.
func (p *Provider) Dimensions() int { return 0 }

func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// classifyErr maps an Anthropic SDK error to the domain error taxonomy.
func classifyErr(err error) error {
	var apiErr *anthropic.Error
	if asAPIError(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests:
			return &domain.RateLimitedError{Provider: "anthropic"}
		case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout, http.StatusInternalServerError:
			return domain.ErrUnavailable
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return domain.ErrInvalidInput
		case http.StatusNotFound:
			return domain.ErrNotFound
		}
	}
	return err
}

func asAPIError(err error, target **anthropic.Error) bool {
	for err != nil {
		if e, ok := err.(*anthropic.Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
