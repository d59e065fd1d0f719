package provider

import (
	"context"

	"github.com/arxivgraph/corpusd/engine/domain"
	"github.com/arxivgraph/corpusd/engine/provider/analysis"
	"github.com/arxivgraph/corpusd/pkg/resilience"
)

// AnalysisClient wraps an analysis.Provider with the shared rate
// limiter/retry/breaker stack, so every call the Analyzer makes to an LLM
// backend goes through C1 uniformly regardless of which of the three
// configured providers is currently active behind an analysis.Selector.
type AnalysisClient struct {
	inner   analysis.Provider
	cfg     Config
	limiter *resilience.Limiter
	breaker *resilience.Breaker
}

var _ analysis.Provider = (*AnalysisClient)(nil)

// NewAnalysisClient wraps inner with cfg's policy.
func NewAnalysisClient(inner analysis.Provider, cfg Config) *AnalysisClient {
	return &AnalysisClient{inner: inner, cfg: cfg, limiter: NewLimiter(cfg), breaker: NewBreaker(cfg)}
}

type summarizeReq struct {
	text  string
	level analysis.SummaryLevel
}

func (c *AnalysisClient) Summarize(ctx context.Context, text string, level analysis.SummaryLevel) (string, error) {
	return Call(ctx, c.cfg, c.limiter, c.breaker, summarizeReq{text, level}, func(ctx context.Context, r summarizeReq) (string, error) {
		return c.inner.Summarize(ctx, r.text, r.level)
	})
}

func (c *AnalysisClient) ExtractEntities(ctx context.Context, text string) ([]domain.Concept, error) {
	return Call(ctx, c.cfg, c.limiter, c.breaker, text, c.inner.ExtractEntities)
}

type classifyResult struct {
	intent   domain.CitationIntent
	position domain.CitationPosition
}

func (c *AnalysisClient) ClassifyCitation(ctx context.Context, citationContext string) (domain.CitationIntent, domain.CitationPosition, error) {
	r, err := Call(ctx, c.cfg, c.limiter, c.breaker, citationContext, func(ctx context.Context, text string) (classifyResult, error) {
		intent, position, err := c.inner.ClassifyCitation(ctx, text)
		return classifyResult{intent, position}, err
	})
	return r.intent, r.position, err
}

func (c *AnalysisClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return Call(ctx, c.cfg, c.limiter, c.breaker, text, c.inner.Embed)
}

func (c *AnalysisClient) ModelID() string { return c.inner.ModelID() }

func (c *AnalysisClient) Dimensions() int { return c.inner.Dimensions() }
