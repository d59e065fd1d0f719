package analysis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/arxivgraph/corpusd/engine/domain"
)

// Selector composes a primary analysis Provider with a fallback, switching to
// the fallback for the remainder of a budget window once the primary trips
// its failure budget — the "three interchangeable analysis providers with
// select(primary, fallback, budget_window)" design note.
type Selector struct {
	mu sync.Mutex

	primary  Provider
	fallback Provider

	failBudget   int
	budgetWindow time.Duration
	now          func() time.Time

	failures     int
	windowStart  time.Time
	usingFallback bool
}

// NewSelector creates a Selector. failBudget is the number of primary
// failures within budgetWindow that trips the switch to fallback; the
// window resets (and the primary is retried) once budgetWindow elapses since
// the first failure in the current streak.
func NewSelector(primary, fallback Provider, failBudget int, budgetWindow time.Duration) *Selector {
	if failBudget <= 0 {
		failBudget = 3
	}
	if budgetWindow <= 0 {
		budgetWindow = time.Minute
	}
	return &Selector{
		primary:      primary,
		fallback:     fallback,
		failBudget:   failBudget,
		budgetWindow: budgetWindow,
		now:          time.Now,
	}
}

var _ Provider = (*Selector)(nil)

// active returns the provider this call should use, resetting the budget
// window if it has elapsed.
func (s *Selector) active() Provider {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.usingFallback && !s.windowStart.IsZero() && s.now().Sub(s.windowStart) >= s.budgetWindow {
		s.usingFallback = false
		s.failures = 0
		s.windowStart = time.Time{}
	}
	if s.usingFallback {
		return s.fallback
	}
	return s.primary
}

// record updates the failure budget after a call against the primary.
func (s *Selector) record(usedPrimary bool, err error) {
	if !usedPrimary || err == nil {
		return
	}
	if errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrNotFound) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 && s.now().Sub(s.windowStart) >= s.budgetWindow {
		s.failures = 0
	}
	if s.failures == 0 {
		s.windowStart = s.now()
	}
	s.failures++
	if s.failures >= s.failBudget {
		s.usingFallback = true
	}
}

func (s *Selector) Summarize(ctx context.Context, text string, level SummaryLevel) (string, error) {
	p := s.active()
	out, err := p.Summarize(ctx, text, level)
	s.record(p == s.primary, err)
	return out, err
}

func (s *Selector) ExtractEntities(ctx context.Context, text string) ([]domain.Concept, error) {
	p := s.active()
	out, err := p.ExtractEntities(ctx, text)
	s.record(p == s.primary, err)
	return out, err
}

func (s *Selector) ClassifyCitation(ctx context.Context, citationContext string) (domain.CitationIntent, domain.CitationPosition, error) {
	p := s.active()
	intent, position, err := p.ClassifyCitation(ctx, citationContext)
	s.record(p == s.primary, err)
	return intent, position, err
}

func (s *Selector) Embed(ctx context.Context, text string) ([]float32, error) {
	p := s.active()
	out, err := p.Embed(ctx, text)
	s.record(p == s.primary, err)
	return out, err
}

func (s *Selector) ModelID() string {
	return s.active().ModelID()
}

func (s *Selector) Dimensions() int {
	return s.active().Dimensions()
}
