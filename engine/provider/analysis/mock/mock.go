// Package mock provides a test double for the analysis.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/arxivgraph/corpusd/engine/domain"
	"github.com/arxivgraph/corpusd/engine/provider/analysis"
)

// ClassifyResult bundles the two values ClassifyCitation returns.
type ClassifyResult struct {
	Intent   domain.CitationIntent
	Position domain.CitationPosition
}

// Provider is a mock implementation of analysis.Provider. Zero values cause
// methods to return zero values and nil errors; set the Err fields to inject
// failures.
type Provider struct {
	mu sync.Mutex

	Model      string
	Dims       int

	SummarizeResponse string
	SummarizeErr      error

	EntitiesResponse []domain.Concept
	EntitiesErr      error

	ClassifyResponse ClassifyResult
	ClassifyErr      error

	EmbedResponse []float32
	EmbedErr      error

	SummarizeCalls []string
	ExtractCalls   []string
	ClassifyCalls  []string
	EmbedCalls     []string
}

var _ analysis.Provider = (*Provider)(nil)

// Summarize records the call and returns SummarizeResponse, SummarizeErr.
func (p *Provider) Summarize(_ context.Context, text string, _ analysis.SummaryLevel) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SummarizeCalls = append(p.SummarizeCalls, text)
	return p.SummarizeResponse, p.SummarizeErr
}

// ExtractEntities records the call and returns EntitiesResponse, EntitiesErr.
func (p *Provider) ExtractEntities(_ context.Context, text string) ([]domain.Concept, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ExtractCalls = append(p.ExtractCalls, text)
	return p.EntitiesResponse, p.EntitiesErr
}

// ClassifyCitation records the call and returns ClassifyResponse, ClassifyErr.
func (p *Provider) ClassifyCitation(_ context.Context, context string) (domain.CitationIntent, domain.CitationPosition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ClassifyCalls = append(p.ClassifyCalls, context)
	return p.ClassifyResponse.Intent, p.ClassifyResponse.Position, p.ClassifyErr
}

// Embed records the call and returns EmbedResponse, EmbedErr.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, text)
	return p.EmbedResponse, p.EmbedErr
}

// ModelID implements analysis.Provider.
func (p *Provider) ModelID() string { return p.Model }

// Dimensions implements analysis.Provider.
func (p *Provider) Dimensions() int { return p.Dims }

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SummarizeCalls = nil
	p.ExtractCalls = nil
	p.ClassifyCalls = nil
	p.EmbedCalls = nil
}
