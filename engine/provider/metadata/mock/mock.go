// Package mock provides a test double for the metadata.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/arxivgraph/corpusd/engine/domain"
	"github.com/arxivgraph/corpusd/engine/provider/metadata"
)

// GetPaperCall records one invocation of GetPaper.
type GetPaperCall struct {
	ID domain.PaperID
}

// PageCall records one invocation of GetCitations or GetReferences.
type PageCall struct {
	ID     domain.PaperID
	Cursor string
}

// Provider is a mock implementation of metadata.Provider. With zero values,
// GetCitations and GetReferences return empty pages and nil errors, while
// GetPaper returns domain.ErrNotFound for ids absent from Papers; set the Err
// fields to inject failures.
type Provider struct {
	mu sync.Mutex

	Papers    map[domain.PaperID]domain.Paper
	GetPaperErr error

	Citations    map[domain.PaperID]metadata.Page
	CitationsErr error

	References    map[domain.PaperID]metadata.Page
	ReferencesErr error

	GetPaperCalls    []GetPaperCall
	CitationsCalls   []PageCall
	ReferencesCalls  []PageCall
}

var _ metadata.Provider = (*Provider)(nil)

// GetPaper records the call and returns the configured Papers entry, or
// domain.ErrNotFound if absent and no override error is set.
func (p *Provider) GetPaper(_ context.Context, id domain.PaperID) (domain.Paper, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GetPaperCalls = append(p.GetPaperCalls, GetPaperCall{ID: id})
	if p.GetPaperErr != nil {
		return domain.Paper{}, p.GetPaperErr
	}
	if paper, ok := p.Papers[id]; ok {
		return paper, nil
	}
	return domain.Paper{}, domain.ErrNotFound
}

// GetCitations records the call and returns the configured Citations entry.
func (p *Provider) GetCitations(_ context.Context, id domain.PaperID, cursor string) (metadata.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CitationsCalls = append(p.CitationsCalls, PageCall{ID: id, Cursor: cursor})
	if p.CitationsErr != nil {
		return metadata.Page{}, p.CitationsErr
	}
	return p.Citations[id], nil
}

// GetReferences records the call and returns the configured References entry.
func (p *Provider) GetReferences(_ context.Context, id domain.PaperID, cursor string) (metadata.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ReferencesCalls = append(p.ReferencesCalls, PageCall{ID: id, Cursor: cursor})
	if p.ReferencesErr != nil {
		return metadata.Page{}, p.ReferencesErr
	}
	return p.References[id], nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GetPaperCalls = nil
	p.CitationsCalls = nil
	p.ReferencesCalls = nil
}
