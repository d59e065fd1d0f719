// Package analyzer implements the Analyzer (C3): given a metadata-resolved
// Paper, produces a summary, extracted concepts, classified outgoing-edge
// labels, and an embedding, tolerating partial failure of any sub-step.
package analyzer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/arxivgraph/corpusd/engine/domain"
	"github.com/arxivgraph/corpusd/engine/provider/analysis"
	"github.com/arxivgraph/corpusd/engine/provider/metadata"
	"github.com/arxivgraph/corpusd/pkg/cache"
	"github.com/arxivgraph/corpusd/pkg/fn"
)

// Reference pairs an outgoing edge's destination with its citing context, as
// returned by metadata.Provider.GetReferences.
type Reference struct {
	Dst     domain.PaperID
	Context string
}

// EdgeLabel is the classified (intent, position) for one outgoing reference.
type EdgeLabel struct {
	Dst      domain.PaperID
	Intent   domain.CitationIntent
	Position domain.CitationPosition
}

// Enrichment is the output of analyzing one paper. Partial is set when one
// or more sub-steps failed; the Store Writer persists whatever is present.
type Enrichment struct {
	Summary    string
	Concepts   []domain.Concept
	EdgeLabels []EdgeLabel
	Embedding  []float32
	ModelID    string
	Partial    bool
	Errors     []error
}

// CacheTTL is how long a cached sub-step result is trusted before recomputing.
const CacheTTL = 7 * 24 * time.Hour

// Analyzer runs the four C3 sub-steps with bounded per-paper concurrency.
type Analyzer struct {
	provider analysis.Provider
	cache    cache.Cache
	workers  int
	log      zerolog.Logger
}

// New creates an Analyzer. workers bounds the concurrency of the
// per-reference classify_citation fan-out.
func New(provider analysis.Provider, c cache.Cache, workers int, log zerolog.Logger) *Analyzer {
	if workers <= 0 {
		workers = 4
	}
	return &Analyzer{provider: provider, cache: c, workers: workers, log: log.With().Str("component", "analyzer").Logger()}
}

// Analyze produces an Enrichment for paper, given its outgoing references
// with context (when the metadata provider supplies one). existingModelID is
// the model id already persisted for this paper, if any; sub-steps whose
// cached output already matches the analyzer's current model id are
// short-circuited.
func (a *Analyzer) Analyze(ctx context.Context, paper domain.Paper, refs []metadata.Edge, existingModelID string) Enrichment {
	var enr Enrichment
	enr.ModelID = a.provider.ModelID()

	type subResult struct {
		kind string
		err  error
	}

	results := fn.ParMap([]func() subResult{
		func() subResult { err := a.summarize(ctx, paper, &enr); return subResult{"summarize", err} },
		func() subResult { err := a.extractConcepts(ctx, paper, &enr); return subResult{"extract", err} },
		func() subResult { err := a.classifyEdges(ctx, paper, refs, &enr); return subResult{"classify", err} },
		func() subResult {
			err := a.embed(ctx, paper, existingModelID, &enr)
			return subResult{"embed", err}
		},
	}, 4, func(f func() subResult) subResult { return f() })

	for _, r := range results {
		if r.err != nil {
			enr.Partial = true
			enr.Errors = append(enr.Errors, fmt.Errorf("%s: %w", r.kind, r.err))
			a.log.Warn().Err(r.err).Str("sub_step", r.kind).Str("paper_id", string(paper.ID)).Msg("analyzer sub-step failed")
		}
	}
	return enr
}

func (a *Analyzer) summarize(ctx context.Context, paper domain.Paper, enr *Enrichment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := cacheKey("summary", paper.ID, a.provider.ModelID())
	out, err := a.cache.GetOrCompute(ctx, key, CacheTTL, func(ctx context.Context) ([]byte, error) {
		s, err := a.provider.Summarize(ctx, paper.Abstract, analysis.LevelStandard)
		return []byte(s), err
	})
	if err != nil {
		return err
	}
	enr.Summary = string(out)
	return nil
}

func (a *Analyzer) extractConcepts(ctx context.Context, paper domain.Paper, enr *Enrichment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	concepts, err := a.provider.ExtractEntities(ctx, paper.Abstract)
	if err != nil {
		return err
	}
	enr.Concepts = concepts
	return nil
}

func (a *Analyzer) classifyEdges(ctx context.Context, paper domain.Paper, refs []metadata.Edge, enr *Enrichment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	withContext := make([]metadata.Edge, 0, len(refs))
	for _, r := range refs {
		if r.Context != "" {
			withContext = append(withContext, r)
		}
	}
	if len(withContext) == 0 {
		return nil
	}

	type labelResult struct {
		label EdgeLabel
		err   error
	}
	results := fn.ParMap(withContext, a.workers, func(r metadata.Edge) labelResult {
		if err := ctx.Err(); err != nil {
			return labelResult{err: err}
		}
		intent, position, err := a.provider.ClassifyCitation(ctx, r.Context)
		if err != nil {
			return labelResult{err: err}
		}
		return labelResult{label: EdgeLabel{Dst: r.OtherID, Intent: intent, Position: position}}
	})

	var firstErr error
	for _, r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		enr.EdgeLabels = append(enr.EdgeLabels, r.label)
	}
	_ = paper
	return firstErr
}

func (a *Analyzer) embed(ctx context.Context, paper domain.Paper, existingModelID string, enr *Enrichment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if existingModelID != "" && existingModelID == a.provider.ModelID() && paper.HasEmbedding() {
		enr.Embedding = paper.Embedding
		return nil
	}

	key := cacheKey("embedding", paper.ID, a.provider.ModelID())
	text := paper.Title + "\n\n" + paper.Abstract
	out, err := a.cache.GetOrCompute(ctx, key, CacheTTL, func(ctx context.Context) ([]byte, error) {
		vec, err := a.provider.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		return encodeFloat32(vec), nil
	})
	if err != nil {
		return err
	}
	enr.Embedding = decodeFloat32(out)
	return nil
}

func cacheKey(kind string, id domain.PaperID, modelID string) string {
	h := sha256.Sum256([]byte(string(id) + "\x00" + modelID))
	return kind + ":" + hex.EncodeToString(h[:8])
}

func encodeFloat32(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		bits := math.Float32bits(f)
		out[i*4] = byte(bits)
		out[i*4+1] = byte(bits >> 8)
		out[i*4+2] = byte(bits >> 16)
		out[i*4+3] = byte(bits >> 24)
	}
	return out
}

func decodeFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		bits := uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}
