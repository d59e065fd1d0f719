package query

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/arxivgraph/corpusd/engine/domain"
	"github.com/arxivgraph/corpusd/engine/store/graphstore"
	"github.com/arxivgraph/corpusd/engine/store/vectorstore"
)

type fakeGraph struct {
	papers    map[domain.PaperID]domain.Paper
	outgoing  map[domain.PaperID][]domain.CitationEdge
	incoming  map[domain.PaperID][]domain.CitationEdge
	listAll   []domain.Paper
	clusters  []graphstore.Cluster
	neighbors []domain.Paper
	edges     []domain.CitationEdge
}

func (g *fakeGraph) GetPaper(_ context.Context, id domain.PaperID) (domain.Paper, error) {
	p, ok := g.papers[id]
	if !ok {
		return domain.Paper{}, domain.ErrNotFound
	}
	return p, nil
}

func (g *fakeGraph) ListPapers(_ context.Context, offset, limit int, category string) ([]domain.Paper, error) {
	var filtered []domain.Paper
	for _, p := range g.listAll {
		if category == "" || p.PrimaryCategory() == category {
			filtered = append(filtered, p)
		}
	}
	if offset >= len(filtered) {
		return nil, nil
	}
	end := offset + limit
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[offset:end], nil
}

func (g *fakeGraph) Citations(_ context.Context, id domain.PaperID) ([]domain.CitationEdge, []domain.CitationEdge, error) {
	return g.outgoing[id], g.incoming[id], nil
}

func (g *fakeGraph) Neighborhood(_ context.Context, id domain.PaperID, depth int) ([]domain.Paper, []domain.CitationEdge, error) {
	if _, ok := g.papers[id]; !ok {
		return nil, nil, domain.ErrNotFound
	}
	return g.neighbors, g.edges, nil
}

func (g *fakeGraph) Clusters(_ context.Context, minSize int) ([]graphstore.Cluster, error) {
	var out []graphstore.Cluster
	for _, c := range g.clusters {
		if len(c.Members) >= minSize {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeVector struct {
	hits []vectorstore.SearchHit
	err  error
}

func (v *fakeVector) CollectionName(modelID string) string { return "test__" + modelID }

func (v *fakeVector) Search(_ context.Context, _ string, _ []float32, limit int, _ *vectorstore.SearchFilter) ([]vectorstore.SearchHit, error) {
	if v.err != nil {
		return nil, v.err
	}
	if limit < len(v.hits) {
		return v.hits[:limit], nil
	}
	return v.hits, nil
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (e *fakeEmbedder) Embed(context.Context, string) ([]float32, error) { return e.vec, e.err }
func (e *fakeEmbedder) ModelID() string                                  { return "fake-embed-v1" }

func TestGetPaperWithoutEdges(t *testing.T) {
	g := &fakeGraph{papers: map[domain.PaperID]domain.Paper{"P0": {ID: "P0", Title: "T0"}}}
	f := New(g, nil, nil, zerolog.Nop())

	detail, err := f.GetPaper(context.Background(), "P0", false, false)
	if err != nil {
		t.Fatalf("GetPaper: %v", err)
	}
	if detail.Paper.Title != "T0" {
		t.Errorf("Title = %q, want T0", detail.Paper.Title)
	}
	if detail.Citations != nil || detail.References != nil {
		t.Errorf("expected no edges fetched, got citations=%v references=%v", detail.Citations, detail.References)
	}
}

func TestGetPaperWithEdges(t *testing.T) {
	g := &fakeGraph{
		papers:   map[domain.PaperID]domain.Paper{"P0": {ID: "P0"}},
		outgoing: map[domain.PaperID][]domain.CitationEdge{"P0": {{Src: "P0", Dst: "P1"}}},
		incoming: map[domain.PaperID][]domain.CitationEdge{"P0": {{Src: "P2", Dst: "P0"}}},
	}
	f := New(g, nil, nil, zerolog.Nop())

	detail, err := f.GetPaper(context.Background(), "P0", true, true)
	if err != nil {
		t.Fatalf("GetPaper: %v", err)
	}
	if len(detail.References) != 1 || detail.References[0].Dst != "P1" {
		t.Errorf("References = %v, want one edge to P1", detail.References)
	}
	if len(detail.Citations) != 1 || detail.Citations[0].Src != "P2" {
		t.Errorf("Citations = %v, want one edge from P2", detail.Citations)
	}
}

func TestGetPaperNotFound(t *testing.T) {
	g := &fakeGraph{papers: map[domain.PaperID]domain.Paper{}}
	f := New(g, nil, nil, zerolog.Nop())

	if _, err := f.GetPaper(context.Background(), "Pmissing", false, false); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetPaper = %v, want ErrNotFound", err)
	}
}

func TestListPapersPaginatesAndReportsHasMore(t *testing.T) {
	g := &fakeGraph{listAll: []domain.Paper{
		{ID: "P0"}, {ID: "P1"}, {ID: "P2"},
	}}
	f := New(g, nil, nil, zerolog.Nop())

	page, err := f.ListPapers(context.Background(), 1, 2, "")
	if err != nil {
		t.Fatalf("ListPapers: %v", err)
	}
	if len(page.Papers) != 2 || !page.HasMore {
		t.Fatalf("page = %+v, want 2 papers with HasMore", page)
	}

	page2, err := f.ListPapers(context.Background(), 2, 2, "")
	if err != nil {
		t.Fatalf("ListPapers page 2: %v", err)
	}
	if len(page2.Papers) != 1 || page2.HasMore {
		t.Fatalf("page2 = %+v, want 1 paper and no more", page2)
	}
}

func TestListPapersRejectsNonPositivePaging(t *testing.T) {
	f := New(&fakeGraph{}, nil, nil, zerolog.Nop())
	if _, err := f.ListPapers(context.Background(), 0, 10, ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("ListPapers page=0 = %v, want ErrInvalidInput", err)
	}
}

func TestSemanticSearchWithoutVectorStoreIsUnavailable(t *testing.T) {
	f := New(&fakeGraph{}, nil, nil, zerolog.Nop())
	if _, err := f.SemanticSearch(context.Background(), "q", 5, nil); !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("SemanticSearch without vector store = %v, want ErrUnavailable", err)
	}
}

func TestSemanticSearchResolvesHitsAgainstGraph(t *testing.T) {
	g := &fakeGraph{papers: map[domain.PaperID]domain.Paper{
		"P0": {ID: "P0", Title: "T0"},
		"P1": {ID: "P1", Title: "T1"},
	}}
	v := &fakeVector{hits: []vectorstore.SearchHit{
		{PaperID: "P0", Score: 0.9},
		{PaperID: "Pmissing", Score: 0.8}, // graph record gone, should be skipped
		{PaperID: "P1", Score: 0.5},
	}}
	f := New(g, v, &fakeEmbedder{vec: []float32{0.1, 0.2}}, zerolog.Nop())

	results, err := f.SemanticSearch(context.Background(), "query", 5, nil)
	if err != nil {
		t.Fatalf("SemanticSearch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %v, want 2 (missing hit dropped)", results)
	}
	if results[0].Paper.ID != "P0" || results[0].Score != float64(float32(0.9)) {
		t.Errorf("results[0] = %+v, want P0 score 0.9", results[0])
	}
}

func TestHybridSearchFavorsHighCitationCountAtEqualSimilarity(t *testing.T) {
	g := &fakeGraph{papers: map[domain.PaperID]domain.Paper{
		"Plow":  {ID: "Plow", CitationCount: 1},
		"Pmid":  {ID: "Pmid", CitationCount: 50},
		"Phigh": {ID: "Phigh", CitationCount: 500},
	}}
	v := &fakeVector{hits: []vectorstore.SearchHit{
		{PaperID: "Plow", Score: 0.8},
		{PaperID: "Pmid", Score: 0.8},
		{PaperID: "Phigh", Score: 0.8},
	}}
	f := New(g, v, &fakeEmbedder{vec: []float32{0.1}}, zerolog.Nop())

	results, err := f.HybridSearch(context.Background(), "query", 3)
	if err != nil {
		t.Fatalf("HybridSearch: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %v, want 3", results)
	}
	if results[0].Paper.ID != "Phigh" {
		t.Errorf("top result = %s, want Phigh (highest citation influence at equal similarity)", results[0].Paper.ID)
	}
	if results[len(results)-1].Paper.ID != "Plow" {
		t.Errorf("bottom result = %s, want Plow", results[len(results)-1].Paper.ID)
	}
}

func TestHybridSearchRejectsNonPositiveLimit(t *testing.T) {
	f := New(&fakeGraph{}, &fakeVector{}, &fakeEmbedder{}, zerolog.Nop())
	if _, err := f.HybridSearch(context.Background(), "q", 0); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("HybridSearch limit=0 = %v, want ErrInvalidInput", err)
	}
}

func TestCitationNeighborhoodAcceptsZeroDepth(t *testing.T) {
	g := &fakeGraph{
		papers:    map[domain.PaperID]domain.Paper{"P0": {ID: "P0"}},
		neighbors: []domain.Paper{{ID: "P0"}, {ID: "P1"}},
		edges:     []domain.CitationEdge{{Src: "P0", Dst: "P1"}},
	}
	f := New(g, nil, nil, zerolog.Nop())

	result, err := f.CitationNeighborhood(context.Background(), "P0", 0)
	if err != nil {
		t.Fatalf("CitationNeighborhood: %v", err)
	}
	if len(result.Nodes) != 2 || len(result.Edges) != 1 {
		t.Fatalf("result = %+v, want 2 nodes and 1 edge", result)
	}
}

func TestClustersFiltersByMinSize(t *testing.T) {
	g := &fakeGraph{clusters: []graphstore.Cluster{
		{ID: "a", Members: []domain.PaperID{"P0", "P1", "P2"}},
		{ID: "b", Members: []domain.PaperID{"P3"}},
	}}
	f := New(g, nil, nil, zerolog.Nop())

	clusters, err := f.Clusters(context.Background(), 2)
	if err != nil {
		t.Fatalf("Clusters: %v", err)
	}
	if len(clusters) != 1 || clusters[0].ID != "a" {
		t.Fatalf("clusters = %v, want only cluster a", clusters)
	}
}
