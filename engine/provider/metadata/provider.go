// Package metadata defines the paper-metadata half of the Rate-Limited
// Client (C1): fetching paper records, incoming citations, and outgoing
// references from an external catalog.
package metadata

import (
	"context"

	"github.com/arxivgraph/corpusd/engine/domain"
)

// Edge is one citation relationship as reported by a metadata provider: the
// id of the other paper and, if the provider surfaces it, the surrounding
// text used later to classify the edge's intent and position.
type Edge struct {
	OtherID domain.PaperID
	Context string
}

// Page is one page of edges plus an opaque cursor for the next page. Cursor
// is empty when there is no further page.
type Page struct {
	Edges  []Edge
	Cursor string
}

// Provider is the metadata half of C1. Implementations own their own HTTP
// transport; rate limiting, retry and circuit breaking are layered on top by
// engine/provider.RateLimited, not by the Provider itself.
type Provider interface {
	// GetPaper resolves a PaperId to its metadata record. Returns
	// domain.ErrNotFound if the id does not exist upstream.
	GetPaper(ctx context.Context, id domain.PaperID) (domain.Paper, error)

	// GetCitations returns one page of papers that cite id.
	GetCitations(ctx context.Context, id domain.PaperID, cursor string) (Page, error)

	// GetReferences returns one page of papers that id cites.
	GetReferences(ctx context.Context, id domain.PaperID, cursor string) (Page, error)
}
