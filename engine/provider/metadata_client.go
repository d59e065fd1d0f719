package provider

import (
	"context"

	"github.com/arxivgraph/corpusd/engine/domain"
	"github.com/arxivgraph/corpusd/engine/provider/metadata"
	"github.com/arxivgraph/corpusd/pkg/resilience"
)

// MetadataClient wraps a metadata.Provider with the shared rate
// limiter/retry/breaker stack, so every outbound call the Pipeline
// Coordinator's fetch stage makes to the metadata provider goes through C1
// uniformly.
type MetadataClient struct {
	inner   metadata.Provider
	cfg     Config
	limiter *resilience.Limiter
	breaker *resilience.Breaker
}

var _ metadata.Provider = (*MetadataClient)(nil)

// NewMetadataClient wraps inner with cfg's policy. limiter and breaker are
// shared across every call this client makes (and nothing else), matching
// §5's "rate-limit token bucket is shared across all callers of a
// provider".
func NewMetadataClient(inner metadata.Provider, cfg Config) *MetadataClient {
	return &MetadataClient{inner: inner, cfg: cfg, limiter: NewLimiter(cfg), breaker: NewBreaker(cfg)}
}

func (c *MetadataClient) GetPaper(ctx context.Context, id domain.PaperID) (domain.Paper, error) {
	return Call(ctx, c.cfg, c.limiter, c.breaker, id, c.inner.GetPaper)
}

type cursorReq struct {
	id     domain.PaperID
	cursor string
}

func (c *MetadataClient) GetCitations(ctx context.Context, id domain.PaperID, cursor string) (metadata.Page, error) {
	return Call(ctx, c.cfg, c.limiter, c.breaker, cursorReq{id, cursor}, func(ctx context.Context, r cursorReq) (metadata.Page, error) {
		return c.inner.GetCitations(ctx, r.id, r.cursor)
	})
}

func (c *MetadataClient) GetReferences(ctx context.Context, id domain.PaperID, cursor string) (metadata.Page, error) {
	return Call(ctx, c.cfg, c.limiter, c.breaker, cursorReq{id, cursor}, func(ctx context.Context, r cursorReq) (metadata.Page, error) {
		return c.inner.GetReferences(ctx, r.id, r.cursor)
	})
}
