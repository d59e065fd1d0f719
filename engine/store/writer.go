// Package store implements the Store Writer (C4): idempotent upserts across
// the graph and vector backends, graph-first, with the only permitted
// cross-store inconsistency tracked explicitly rather than hidden.
package store

import (
	"context"
	"fmt"

	"github.com/arxivgraph/corpusd/engine/domain"
	"github.com/arxivgraph/corpusd/engine/store/graphstore"
	"github.com/arxivgraph/corpusd/engine/store/vectorstore"
	"github.com/rs/zerolog"
)

// Writer is the single entry point for persisting papers, citations and
// concept mentions. It owns the graph-then-vector write order required by
// §4.4: a vector failure after a graph success never rolls back the graph
// write, it is recorded and left for a later re-embed pass.
type Writer struct {
	graph         *graphstore.GraphStore
	vector        *vectorstore.VectorStore
	embeddingDim  int
	log           zerolog.Logger
}

// New creates a Writer. embeddingDim is the deployment-wide dimension D
// every persisted embedding must match (invariant 3).
func New(graph *graphstore.GraphStore, vector *vectorstore.VectorStore, embeddingDim int, log zerolog.Logger) *Writer {
	return &Writer{graph: graph, vector: vector, embeddingDim: embeddingDim, log: log.With().Str("component", "store.writer").Logger()}
}

// WriteResult reports the outcome of an UpsertPaper call. EmbeddingMissing is
// set when the graph write succeeded but the vector write did not; this is
// the system's only permitted inconsistency and converges on retry.
type WriteResult struct {
	PaperID          domain.PaperID
	EmbeddingMissing bool
}

// UpsertPaper creates or updates the Paper node, then, if the paper carries
// an embedding, upserts it into the vector store. A vector failure is
// swallowed into EmbeddingMissing rather than returned as an error: from the
// caller's perspective the paper is persisted.
func (w *Writer) UpsertPaper(ctx context.Context, p domain.Paper) (WriteResult, error) {
	if err := domain.ValidatePaper(p); err != nil {
		return WriteResult{}, err
	}
	if err := w.graph.UpsertPaper(ctx, p); err != nil {
		return WriteResult{}, fmt.Errorf("store: graph upsert_paper %s: %w", p.ID, err)
	}

	result := WriteResult{PaperID: p.ID}
	if !p.HasEmbedding() {
		return result, nil
	}
	if err := domain.ValidateEmbedding(p.Embedding, w.embeddingDim); err != nil {
		return WriteResult{}, err
	}

	record := vectorstore.Record{
		PaperID:   string(p.ID),
		Embedding: p.Embedding,
		Category:  p.PrimaryCategory(),
		Year:      p.Year(),
	}
	if err := w.vector.EnsureCollection(ctx, p.EmbeddingModel, len(p.Embedding)); err != nil {
		w.log.Warn().Err(err).Str("paper_id", string(p.ID)).Msg("vector collection unavailable, embedding recorded as missing")
		result.EmbeddingMissing = true
		return result, nil
	}
	if err := w.vector.Upsert(ctx, p.EmbeddingModel, []vectorstore.Record{record}); err != nil {
		w.log.Warn().Err(err).Str("paper_id", string(p.ID)).Msg("vector upsert failed, embedding recorded as missing")
		result.EmbeddingMissing = true
		return result, nil
	}
	return result, nil
}

// UpsertCitation creates stub endpoints as needed and merges the CITES edge.
func (w *Writer) UpsertCitation(ctx context.Context, e domain.CitationEdge) error {
	if err := w.graph.UpsertCitation(ctx, e); err != nil {
		return fmt.Errorf("store: upsert_citation %s->%s: %w", e.Src, e.Dst, err)
	}
	return nil
}

// UpsertConceptMentions upserts each concept and its MENTIONS edge to paperID.
func (w *Writer) UpsertConceptMentions(ctx context.Context, paperID domain.PaperID, mentions []domain.MentionsEdge) error {
	if err := w.graph.UpsertConceptMentions(ctx, paperID, mentions); err != nil {
		return fmt.Errorf("store: upsert_concept_mentions %s: %w", paperID, err)
	}
	return nil
}

// Batch describes a sequence of writes applied atomically per-store (graph
// transaction, then vector upserts); cross-store atomicity is never promised.
type Batch struct {
	Papers    []domain.Paper
	Citations []domain.CitationEdge
	Mentions  map[domain.PaperID][]domain.MentionsEdge
}

// ApplyBatch applies a Batch. Papers with embeddings are upserted into the
// vector store after the graph transaction commits; any vector failures are
// aggregated into the returned missing-embedding id list rather than failing
// the whole batch.
func (w *Writer) ApplyBatch(ctx context.Context, b Batch) ([]domain.PaperID, error) {
	for _, p := range b.Papers {
		if err := domain.ValidatePaper(p); err != nil {
			return nil, err
		}
	}
	if err := w.graph.Batch(ctx, b.Papers, b.Citations, b.Mentions); err != nil {
		return nil, fmt.Errorf("store: batch: %w", err)
	}

	var missing []domain.PaperID
	byModel := make(map[string][]vectorstore.Record)
	for _, p := range b.Papers {
		if !p.HasEmbedding() {
			continue
		}
		if err := domain.ValidateEmbedding(p.Embedding, w.embeddingDim); err != nil {
			return nil, err
		}
		byModel[p.EmbeddingModel] = append(byModel[p.EmbeddingModel], vectorstore.Record{
			PaperID:   string(p.ID),
			Embedding: p.Embedding,
			Category:  p.PrimaryCategory(),
			Year:      p.Year(),
		})
	}
	for modelID, records := range byModel {
		if err := w.vector.EnsureCollection(ctx, modelID, len(records[0].Embedding)); err != nil {
			w.log.Warn().Err(err).Str("model", modelID).Msg("vector collection unavailable for batch")
			for _, r := range records {
				missing = append(missing, domain.PaperID(r.PaperID))
			}
			continue
		}
		if err := w.vector.Upsert(ctx, modelID, records); err != nil {
			w.log.Warn().Err(err).Str("model", modelID).Msg("vector batch upsert failed")
			for _, r := range records {
				missing = append(missing, domain.PaperID(r.PaperID))
			}
		}
	}
	return missing, nil
}
