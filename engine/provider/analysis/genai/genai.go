// Package genai implements analysis.Provider using Google's unified Gemini
// SDK for both text generation and embeddings.
package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/arxivgraph/corpusd/engine/domain"
	"github.com/arxivgraph/corpusd/engine/provider/analysis"
)

// DefaultChatModel is the default Gemini model for summarize/extract/classify.
const DefaultChatModel = "gemini-2.0-flash"

// DefaultEmbeddingModel is the default Gemini embedding model.
const DefaultEmbeddingModel = "text-embedding-004"

// DefaultDimensions is the vector length produced by DefaultEmbeddingModel.
const DefaultDimensions = 768

// Provider implements analysis.Provider using the Gemini API.
type Provider struct {
	client     *genai.Client
	chatModel  string
	embedModel string
	dimensions int
}

// config holds optional configuration for the provider.
type config struct {
	embedModel string
	dimensions int
	backend    genai.Backend
}

// Option is a functional option for Provider.
type Option func(*config)

// WithEmbeddingModel overrides DefaultEmbeddingModel and its dimensionality.
func WithEmbeddingModel(model string, dimensions int) Option {
	return func(c *config) { c.embedModel = model; c.dimensions = dimensions }
}

// WithVertexAI switches the client to the Vertex AI backend instead of the
// Gemini Developer API.
func WithVertexAI() Option {
	return func(c *config) { c.backend = genai.BackendVertexAI }
}

// New constructs a Gemini-backed analysis.Provider. If chatModel is empty,
// DefaultChatModel is used.
func New(ctx context.Context, apiKey string, chatModel string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai analysis: apiKey must not be empty")
	}
	if chatModel == "" {
		chatModel = DefaultChatModel
	}

	cfg := &config{embedModel: DefaultEmbeddingModel, dimensions: DefaultDimensions, backend: genai.BackendGeminiAPI}
	for _, o := range opts {
		o(cfg)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: cfg.backend})
	if err != nil {
		return nil, fmt.Errorf("genai analysis: new client: %w", err)
	}

	return &Provider{
		client:     client,
		chatModel:  chatModel,
		embedModel: cfg.embedModel,
		dimensions: cfg.dimensions,
	}, nil
}

var _ analysis.Provider = (*Provider)(nil)

func (p *Provider) generate(ctx context.Context, system, user string) (string, error) {
	resp, err := p.client.Models.GenerateContent(ctx, p.chatModel, genai.Text(user), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr(float32(0)),
	})
	if err != nil {
		return "", classifyErr(err)
	}
	return resp.Text(), nil
}

// Summarize implements analysis.Provider.
func (p *Provider) Summarize(ctx context.Context, text string, level analysis.SummaryLevel) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("genai analysis: summarize: %w", domain.ErrInvalidInput)
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
	out, err := p.generate(ctx, "You summarize scientific abstracts precisely and without embellishment.",
		fmt.Sprintf("Summarize the following in %s:\n\n%s", target, text))
	if err != nil {
		return "", fmt.Errorf("genai analysis: summarize: %w", err)
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
		return nil, fmt.Errorf("genai analysis: extract_entities: %w", domain.ErrInvalidInput)
	}
	system := "You extract named scientific entities (methods, theorems, datasets, equations, constants, conjectures) from text. " +
		`Respond with strict JSON only, no prose: {"entities":[{"name":"...","kind":"Method|Theorem|Dataset|Equation|Constant|Conjecture|Other"}]}`
	out, err := p.generate(ctx, system, text)
	if err != nil {
		return nil, fmt.Errorf("genai analysis: extract_entities: %w", err)
	}

	var parsed extractResponse
	if err := json.Unmarshal([]byte(extractJSON(out)), &parsed); err != nil {
		return nil, fmt.Errorf("genai analysis: extract_entities: decode response: %w", err)
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
		return "", "", fmt.Errorf("genai analysis: classify_citation: %w", domain.ErrInvalidInput)
	}
	system := "You classify why a scientific paper cites another paper, given the citing sentence. " +
		`Respond with strict JSON only, no prose: {"intent":"Method|Background|Result|Critique|Extension|Unknown","position":"Abstract|Introduction|Methods|Results|Discussion|Other"}`
	out, err := p.generate(ctx, system, citationContext)
	if err != nil {
		return "", "", fmt.Errorf("genai analysis: classify_citation: %w", err)
	}

	var parsed classifyResponse
	if err := json.Unmarshal([]byte(extractJSON(out)), &parsed); err != nil {
		return "", "", fmt.Errorf("genai analysis: classify_citation: decode response: %w", err)
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
		return nil, fmt.Errorf("genai analysis: embed: %w", domain.ErrInvalidInput)
	}
	resp, err := p.client.Models.EmbedContent(ctx, p.embedModel, []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}, nil)
	if err != nil {
		return nil, fmt.Errorf("genai analysis: embed: %w", classifyErr(err))
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("genai analysis: embed: %w: empty response", domain.ErrUnavailable)
	}
	return resp.Embeddings[0].Values, nil
}

// ModelID implements analysis.Provider.
func (p *Provider) ModelID() string { return p.embedModel }

// Dimensions implements analysis.Provider.
func (p *Provider) Dimensions() int { return p.dimensions }

func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// classifyErr maps a genai SDK error to the domain error taxonomy.
func classifyErr(err error) error {
	var apiErr genai.APIError
	if asAPIError(err, &apiErr) {
		switch apiErr.Code {
		case 429:
			return &domain.RateLimitedError{Provider: "genai"}
		case 503, 502, 504:
			return domain.ErrUnavailable
		case 400, 422:
			return domain.ErrInvalidInput
		case 404:
			return domain.ErrNotFound
		}
	}
	return err
}

func asAPIError(err error, target *genai.APIError) bool {
	for err != nil {
		if e, ok := err.(genai.APIError); ok {
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
