// Package query implements the Read Facade (C6): the read-only operations
// the HTTP layer and the prediction subsystem issue against the completed
// store while a write pipeline may still be running against it.
package query

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/arxivgraph/corpusd/engine/domain"
	"github.com/arxivgraph/corpusd/engine/store/graphstore"
	"github.com/arxivgraph/corpusd/engine/store/vectorstore"
)

// GraphReader is the subset of graphstore.GraphStore the facade reads from,
// declared locally so tests can substitute a fake instead of a live Neo4j
// session.
type GraphReader interface {
	GetPaper(ctx context.Context, id domain.PaperID) (domain.Paper, error)
	ListPapers(ctx context.Context, offset, limit int, category string) ([]domain.Paper, error)
	Citations(ctx context.Context, id domain.PaperID) (outgoing, incoming []domain.CitationEdge, err error)
	Neighborhood(ctx context.Context, id domain.PaperID, depth int) ([]domain.Paper, []domain.CitationEdge, error)
	Clusters(ctx context.Context, minSize int) ([]graphstore.Cluster, error)
}

// VectorReader is the subset of vectorstore.VectorStore the facade searches.
type VectorReader interface {
	CollectionName(modelID string) string
	Search(ctx context.Context, modelID string, embedding []float32, limit int, filter *vectorstore.SearchFilter) ([]vectorstore.SearchHit, error)
}

// Embedder embeds query text through C1, once per search call.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelID() string
}

// hybridAlpha is the fixed convex-combination weight on vector similarity in
// hybrid_search (§4.6); the remainder goes to citation-derived influence.
const hybridAlpha = 0.7

// hybridOverfetchFactor is how many times limit the vector search over-fetches
// before re-scoring and truncating, per §4.6.
const hybridOverfetchFactor = 3

// Facade is the C6 Read Facade. All methods are non-mutating and safe to
// call concurrently with an active Pipeline Coordinator run.
type Facade struct {
	graph  GraphReader
	vector VectorReader
	embed  Embedder
	log    zerolog.Logger
}

// New creates a Facade. vector and embed may be nil; semantic_search and
// hybrid_search return domain.ErrUnavailable in that case rather than
// panicking, so a deployment without a vector store still serves graph-only
// reads.
func New(graph GraphReader, vector VectorReader, embed Embedder, log zerolog.Logger) *Facade {
	return &Facade{graph: graph, vector: vector, embed: embed, log: log.With().Str("component", "query").Logger()}
}

// PaperSummary is the compact projection returned by list_papers and both
// search operations.
type PaperSummary struct {
	ID            domain.PaperID `json:"id"`
	Title         string         `json:"title"`
	Categories    []string       `json:"categories"`
	Year          int            `json:"year,omitempty"`
	CitationCount int            `json:"citation_count"`
	Stub          bool           `json:"stub"`
}

func summarize(p domain.Paper) PaperSummary {
	return PaperSummary{
		ID: p.ID, Title: p.Title, Categories: p.Categories,
		Year: p.Year(), CitationCount: p.CitationCount, Stub: p.Stub,
	}
}

// PaperDetail is get_paper's response: the full paper plus, when requested,
// its outgoing (references) and incoming (citations) edges.
type PaperDetail struct {
	Paper      domain.Paper         `json:"paper"`
	Citations  []domain.CitationEdge `json:"citations,omitempty"`  // incoming: papers that cite this one
	References []domain.CitationEdge `json:"references,omitempty"` // outgoing: papers this one cites
}

// GetPaper resolves a paper by id, optionally including its citation and
// reference edges.
func (f *Facade) GetPaper(ctx context.Context, id domain.PaperID, includeCitations, includeReferences bool) (PaperDetail, error) {
	if err := domain.ValidatePaperID(id); err != nil {
		return PaperDetail{}, err
	}
	p, err := f.graph.GetPaper(ctx, id)
	if err != nil {
		return PaperDetail{}, fmt.Errorf("query: get_paper %s: %w", id, err)
	}
	detail := PaperDetail{Paper: p}
	if !includeCitations && !includeReferences {
		return detail, nil
	}
	references, citations, err := f.graph.Citations(ctx, id)
	if err != nil {
		return PaperDetail{}, fmt.Errorf("query: get_paper %s citations: %w", id, err)
	}
	if includeReferences {
		detail.References = references
	}
	if includeCitations {
		detail.Citations = citations
	}
	return detail, nil
}

// Page is list_papers' response.
type Page struct {
	Papers   []PaperSummary `json:"papers"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	HasMore  bool           `json:"has_more"`
}

// ListPapers returns one page of papers, optionally restricted to category.
// page is 1-indexed; a non-positive page or page_size is rejected.
func (f *Facade) ListPapers(ctx context.Context, page, pageSize int, category string) (Page, error) {
	if page < 1 || pageSize < 1 {
		return Page{}, fmt.Errorf("query: list_papers: %w: page and page_size must be positive", domain.ErrInvalidInput)
	}
	offset := (page - 1) * pageSize
	// Over-fetch by one to detect a following page without a separate count
	// query against the store.
	papers, err := f.graph.ListPapers(ctx, offset, pageSize+1, category)
	if err != nil {
		return Page{}, fmt.Errorf("query: list_papers: %w", err)
	}
	hasMore := len(papers) > pageSize
	if hasMore {
		papers = papers[:pageSize]
	}
	summaries := make([]PaperSummary, len(papers))
	for i, p := range papers {
		summaries[i] = summarize(p)
	}
	return Page{Papers: summaries, Page: page, PageSize: pageSize, HasMore: hasMore}, nil
}

// ScoredPaper pairs a PaperSummary with a [0,1] relevance score.
type ScoredPaper struct {
	Paper PaperSummary `json:"paper"`
	Score float64      `json:"score"`
}

// SemanticSearch embeds query_text once through C1, then runs kNN on the
// vector store.
func (f *Facade) SemanticSearch(ctx context.Context, queryText string, limit int, filter *vectorstore.SearchFilter) ([]ScoredPaper, error) {
	hits, err := f.vectorSearch(ctx, queryText, limit, filter)
	if err != nil {
		return nil, err
	}
	return f.resolveHits(ctx, hits)
}

func (f *Facade) vectorSearch(ctx context.Context, queryText string, limit int, filter *vectorstore.SearchFilter) ([]vectorstore.SearchHit, error) {
	if f.vector == nil || f.embed == nil {
		return nil, fmt.Errorf("query: semantic search: %w: no vector store configured", domain.ErrUnavailable)
	}
	if limit < 1 {
		return nil, fmt.Errorf("query: semantic search: %w: limit must be positive", domain.ErrInvalidInput)
	}
	embedding, err := f.embed.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("query: embed query: %w", err)
	}
	hits, err := f.vector.Search(ctx, f.embed.ModelID(), embedding, limit, filter)
	if err != nil {
		return nil, fmt.Errorf("query: vector search: %w", err)
	}
	return hits, nil
}

// resolveHits joins vector-store hits back to graph paper records, dropping
// any hit whose paper has since been removed from the graph rather than
// failing the whole search.
func (f *Facade) resolveHits(ctx context.Context, hits []vectorstore.SearchHit) ([]ScoredPaper, error) {
	out := make([]ScoredPaper, 0, len(hits))
	for _, h := range hits {
		p, err := f.graph.GetPaper(ctx, domain.PaperID(h.PaperID))
		if err != nil {
			f.log.Warn().Err(err).Str("paper_id", h.PaperID).Msg("search hit has no graph record, skipping")
			continue
		}
		out = append(out, ScoredPaper{Paper: summarize(p), Score: clampUnit(float64(h.Score))})
	}
	return out, nil
}

// HybridSearch takes the top 3*limit candidates by vector similarity, then
// re-scores each by a fixed convex sum of similarity and a citation-derived
// influence score, and returns the top limit.
//
// Influence is the candidate set's z-normalized citation_count squashed
// through a logistic curve so it lands in (0,1) like similarity, rather than
// leaving an unbounded z-score to dominate the sum; this resolves §4.6's
// otherwise-unspecified combination of a bounded and an unbounded quantity.
func (f *Facade) HybridSearch(ctx context.Context, queryText string, limit int) ([]ScoredPaper, error) {
	if limit < 1 {
		return nil, fmt.Errorf("query: hybrid search: %w: limit must be positive", domain.ErrInvalidInput)
	}
	hits, err := f.vectorSearch(ctx, queryText, limit*hybridOverfetchFactor, nil)
	if err != nil {
		return nil, err
	}
	candidates, err := f.resolveHits(ctx, hits)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	counts := make([]float64, len(candidates))
	for i, c := range candidates {
		counts[i] = float64(c.Paper.CitationCount)
	}
	mean, stddev := meanStddev(counts)

	rescored := make([]ScoredPaper, len(candidates))
	for i, c := range candidates {
		z := 0.0
		if stddev > 0 {
			z = (counts[i] - mean) / stddev
		}
		influence := 1 / (1 + math.Exp(-z))
		rescored[i] = ScoredPaper{
			Paper: c.Paper,
			Score: hybridAlpha*c.Score + (1-hybridAlpha)*influence,
		}
	}
	sort.Slice(rescored, func(i, j int) bool { return rescored[i].Score > rescored[j].Score })
	if len(rescored) > limit {
		rescored = rescored[:limit]
	}
	return rescored, nil
}

func meanStddev(xs []float64) (mean, stddev float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))
	var sqDiff float64
	for _, x := range xs {
		d := x - mean
		sqDiff += d * d
	}
	stddev = math.Sqrt(sqDiff / float64(len(xs)))
	return mean, stddev
}

func clampUnit(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// NeighborhoodResult is citation_neighborhood's response.
type NeighborhoodResult struct {
	Nodes []domain.Paper       `json:"nodes"`
	Edges []domain.CitationEdge `json:"edges"`
}

// CitationNeighborhood returns the BFS neighborhood of id up to depth hops.
func (f *Facade) CitationNeighborhood(ctx context.Context, id domain.PaperID, depth int) (NeighborhoodResult, error) {
	if err := domain.ValidatePaperID(id); err != nil {
		return NeighborhoodResult{}, err
	}
	if depth < 1 {
		depth = 1
	}
	nodes, edges, err := f.graph.Neighborhood(ctx, id, depth)
	if err != nil {
		return NeighborhoodResult{}, fmt.Errorf("query: citation_neighborhood %s: %w", id, err)
	}
	return NeighborhoodResult{Nodes: nodes, Edges: edges}, nil
}

// ClusterSummary is one cluster returned by clusters, with an optional
// human-facing label left for a future labeling pass to fill in.
type ClusterSummary struct {
	ID      string           `json:"id"`
	Members []domain.PaperID `json:"members"`
	Label   string           `json:"label,omitempty"`
}

// Clusters returns every connected component of the citation graph with at
// least minSize members. Components are built from citation edges only, so a
// paper with no citation edge is in no cluster.
func (f *Facade) Clusters(ctx context.Context, minSize int) ([]ClusterSummary, error) {
	if minSize < 1 {
		minSize = 1
	}
	clusters, err := f.graph.Clusters(ctx, minSize)
	if err != nil {
		return nil, fmt.Errorf("query: clusters: %w", err)
	}
	out := make([]ClusterSummary, len(clusters))
	for i, c := range clusters {
		out[i] = ClusterSummary{ID: c.ID, Members: c.Members, Label: c.Label}
	}
	return out, nil
}
