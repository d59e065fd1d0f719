// Package openai implements analysis.Provider using the OpenAI chat
// completions and embeddings APIs.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/arxivgraph/corpusd/engine/domain"
	"github.com/arxivgraph/corpusd/engine/provider/analysis"
)

// DefaultChatModel is the default chat model used for summarize/extract/classify.
const DefaultChatModel = "gpt-4o-mini"

// DefaultEmbeddingModel is the default embeddings model.
const DefaultEmbeddingModel = oai.EmbeddingModelTextEmbedding3Small

// Provider implements analysis.Provider using the OpenAI API.
type Provider struct {
	client    oai.Client
	chatModel string
	embedModel string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	embedModel   string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) { c.organization = org }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithEmbeddingModel overrides DefaultEmbeddingModel.
func WithEmbeddingModel(model string) Option {
	return func(c *config) { c.embedModel = model }
}

// New constructs an OpenAI-backed analysis.Provider. chatModel selects the
// model used for Summarize/ExtractEntities/ClassifyCitation; if empty,
// DefaultChatModel is used.
func New(apiKey string, chatModel string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai analysis: apiKey must not be empty")
	}
	if chatModel == "" {
		chatModel = DefaultChatModel
	}

	cfg := &config{embedModel: DefaultEmbeddingModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, chatModel: chatModel, embedModel: cfg.embedModel}, nil
}

var _ analysis.Provider = (*Provider)(nil)

func (p *Provider) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.chatModel),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(system),
			oai.UserMessage(user),
		},
		Temperature: param.NewOpt(0.0),
	})
	if err != nil {
		return "", classifyErr(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai analysis: %w: empty choices", domain.ErrUnavailable)
	}
	return resp.Choices[0].Message.Content, nil
}

// Summarize implements analysis.Provider.
func (p *Provider) Summarize(ctx context.Context, text string, level analysis.SummaryLevel) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("openai analysis: summarize: %w", domain.ErrInvalidInput)
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
	system := "You summarize scientific abstracts precisely and without embellishment."
	user := fmt.Sprintf("Summarize the following in %s:\n\n%s", target, text)
	out, err := p.complete(ctx, system, user)
	if err != nil {
		return "", fmt.Errorf("openai analysis: summarize: %w", err)
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
		return nil, fmt.Errorf("openai analysis: extract_entities: %w", domain.ErrInvalidInput)
	}
	system := "You extract named scientific entities (methods, theorems, datasets, equations, constants, conjectures) from text. " +
		`Respond with strict JSON: {"entities":[{"name":"...","kind":"Method|Theorem|Dataset|Equation|Constant|Conjecture|Other"}]}`
	out, err := p.complete(ctx, system, text)
	if err != nil {
		return nil, fmt.Errorf("openai analysis: extract_entities: %w", err)
	}

	var parsed extractResponse
	if err := json.Unmarshal([]byte(extractJSON(out)), &parsed); err != nil {
		return nil, fmt.Errorf("openai analysis: extract_entities: decode response: %w", err)
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
		return "", "", fmt.Errorf("openai analysis: classify_citation: %w", domain.ErrInvalidInput)
	}
	system := "You classify why a scientific paper cites another paper, given the citing sentence. " +
		`Respond with strict JSON: {"intent":"Method|Background|Result|Critique|Extension|Unknown","position":"Abstract|Introduction|Methods|Results|Discussion|Other"}`
	out, err := p.complete(ctx, system, citationContext)
	if err != nil {
		return "", "", fmt.Errorf("openai analysis: classify_citation: %w", err)
	}

	var parsed classifyResponse
	if err := json.Unmarshal([]byte(extractJSON(out)), &parsed); err != nil {
		return "", "", fmt.Errorf("openai analysis: classify_citation: decode response: %w", err)
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

// Embed implements analysis.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("openai analysis: embed: %w", domain.ErrInvalidInput)
	}
	resp, err := p.client.Embeddings.New(ctx, oai.EmbeddingNewParams{
		Model: p.embedModel,
		Input: oai.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(text)},
	})
	if err != nil {
		return nil, fmt.Errorf("openai analysis: embed: %w", classifyErr(err))
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai analysis: embed: %w: empty response", domain.ErrUnavailable)
	}
	return float64ToFloat32(resp.Data[0].Embedding), nil
}

// ModelID implements analysis.Provider.
func (p *Provider) ModelID() string { return p.embedModel }

// Dimensions implements analysis.Provider.
func (p *Provider) Dimensions() int { return modelDimensions(p.embedModel) }

func modelDimensions(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "text-embedding-3-large"):
		return 3072
	case strings.Contains(lower, "text-embedding-3-small"):
		return 1536
	case strings.Contains(lower, "text-embedding-ada-002"):
		return 1536
	default:
		return 1536
	}
}

func float64ToFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

// extractJSON trims any markdown code fences a chat model wraps its JSON in.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// classifyErr maps an OpenAI SDK error to the domain error taxonomy so
// engine/provider.RateLimited can make correct retry decisions.
func classifyErr(err error) error {
	var apiErr *oai.Error
	if ok := asAPIError(err, &apiErr); ok {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests:
			return &domain.RateLimitedError{Provider: "openai"}
		case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
			return domain.ErrUnavailable
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return domain.ErrInvalidInput
		case http.StatusNotFound:
			return domain.ErrNotFound
		}
	}
	return err
}

func asAPIError(err error, target **oai.Error) bool {
	for err != nil {
		if e, ok := err.(*oai.Error); ok {
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
