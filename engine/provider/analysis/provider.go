// Package analysis defines the LLM half of the Rate-Limited Client (C1):
// summarization, entity extraction, citation classification, and embedding.
package analysis

import (
	"context"

	"github.com/arxivgraph/corpusd/engine/domain"
)

// SummaryLevel selects how much detail summarize() should produce.
type SummaryLevel string

const (
	LevelBrief    SummaryLevel = "brief"
	LevelStandard SummaryLevel = "standard"
	LevelDetailed SummaryLevel = "detailed"
)

// Provider is the analysis half of C1. Implementations own their own SDK
// client; rate limiting, retry and circuit breaking are layered on top by
// engine/provider.RateLimited, not by the Provider itself.
type Provider interface {
	// Summarize produces a summary of text at the requested level of detail.
	Summarize(ctx context.Context, text string, level SummaryLevel) (string, error)

	// ExtractEntities identifies the concepts (methods, theorems, datasets,
	// equations, constants, conjectures) mentioned in text.
	ExtractEntities(ctx context.Context, text string) ([]domain.Concept, error)

	// ClassifyCitation labels the intent and position of a citation from the
	// surrounding context text.
	ClassifyCitation(ctx context.Context, citationContext string) (domain.CitationIntent, domain.CitationPosition, error)

	// Embed produces a dense embedding vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// ModelID identifies the model backing Embed, stored alongside every
	// embedding it produces so a later model change can be detected (§6).
	ModelID() string

	// Dimensions is the length D of vectors returned by Embed.
	Dimensions() int
}
