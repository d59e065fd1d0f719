package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/arxivgraph/corpusd/engine/analyzer"
	"github.com/arxivgraph/corpusd/engine/domain"
	analysismock "github.com/arxivgraph/corpusd/engine/provider/analysis/mock"
	"github.com/arxivgraph/corpusd/engine/provider/metadata"
	metadatamock "github.com/arxivgraph/corpusd/engine/provider/metadata/mock"
	"github.com/arxivgraph/corpusd/engine/store"
	"github.com/arxivgraph/corpusd/pkg/cache/memory"
)

type fakeWriter struct {
	mu        sync.Mutex
	papers    []domain.Paper
	citations []domain.CitationEdge
}

func (w *fakeWriter) UpsertPaper(_ context.Context, p domain.Paper) (store.WriteResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.papers = append(w.papers, p)
	return store.WriteResult{PaperID: p.ID}, nil
}

func (w *fakeWriter) UpsertCitation(_ context.Context, e domain.CitationEdge) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.citations = append(w.citations, e)
	return nil
}

func (w *fakeWriter) UpsertConceptMentions(context.Context, domain.PaperID, []domain.MentionsEdge) error {
	return nil
}

func (w *fakeWriter) snapshot() ([]domain.Paper, []domain.CitationEdge) {
	w.mu.Lock()
	defer w.mu.Unlock()
	papers := make([]domain.Paper, len(w.papers))
	copy(papers, w.papers)
	edges := make([]domain.CitationEdge, len(w.citations))
	copy(edges, w.citations)
	return papers, edges
}

func waitUntilDone(t *testing.T, c *Coordinator) Status {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st := c.Status()
		if !st.Running {
			return st
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("run did not finish within deadline")
	return Status{}
}

func TestSingleSeedDepthZeroNoAnalysis(t *testing.T) {
	mp := &metadatamock.Provider{Papers: map[domain.PaperID]domain.Paper{
		"P0": {ID: "P0", Title: "T0", Abstract: "A0"},
	}}
	w := &fakeWriter{}
	a := analyzer.New(&analysismock.Provider{Model: "m"}, memory.New(), 2, zerolog.Nop())
	c := New(mp, a, w, nil, nil, nil, "", zerolog.Nop())

	cfg := RunConfig{Seeds: []domain.PaperID{"P0"}, MaxDepth: 0, MaxPapers: 1, UseMetadata: true}
	if err := c.Start(context.Background(), cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}

	st := waitUntilDone(t, c)
	if st.State != "completed" {
		t.Fatalf("State = %s, want completed", st.State)
	}
	papers, edges := w.snapshot()
	if len(papers) != 1 || papers[0].ID != "P0" {
		t.Fatalf("papers = %v, want exactly P0", papers)
	}
	if len(edges) != 0 {
		t.Fatalf("citations = %v, want none at depth 0", edges)
	}
	if st.Persisted != 1 {
		t.Errorf("Persisted = %d, want 1", st.Persisted)
	}
}

func TestDepthOneWithReferencesAndAnalysis(t *testing.T) {
	mp := &metadatamock.Provider{
		Papers: map[domain.PaperID]domain.Paper{
			"P0": {ID: "P0", Title: "T0", Abstract: "A0"},
			"P1": {ID: "P1", Title: "T1", Abstract: "A1"},
			"P2": {ID: "P2", Title: "T2", Abstract: "A2"},
			"P3": {ID: "P3", Title: "T3", Abstract: "A3"},
		},
		References: map[domain.PaperID]metadata.Page{
			"P0": {Edges: []metadata.Edge{{OtherID: "P1"}, {OtherID: "P2"}, {OtherID: "P3"}}},
		},
	}
	w := &fakeWriter{}
	a := analyzer.New(&analysismock.Provider{Model: "m", EmbedResponse: []float32{0.1}}, memory.New(), 2, zerolog.Nop())
	c := New(mp, a, w, nil, nil, nil, "", zerolog.Nop())

	cfg := RunConfig{Seeds: []domain.PaperID{"P0"}, MaxDepth: 1, UseMetadata: true, AnalyzeEnabled: true, EmbedEnabled: true}
	if err := c.Start(context.Background(), cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}

	st := waitUntilDone(t, c)
	if st.State != "completed" {
		t.Fatalf("State = %s, want completed", st.State)
	}
	papers, edges := w.snapshot()
	if len(papers) != 4 {
		t.Fatalf("papers = %v, want 4", papers)
	}
	if len(edges) != 3 {
		t.Fatalf("citations = %v, want 3", edges)
	}
}

func TestStartRejectsWhileRunActive(t *testing.T) {
	mp := &metadatamock.Provider{Papers: map[domain.PaperID]domain.Paper{"P0": {ID: "P0"}}}
	w := &fakeWriter{}
	a := analyzer.New(&analysismock.Provider{Model: "m"}, memory.New(), 2, zerolog.Nop())
	c := New(mp, a, w, nil, nil, nil, "", zerolog.Nop())

	cfg := RunConfig{Seeds: []domain.PaperID{"P0"}, MaxDepth: 0, UseMetadata: true}
	if err := c.Start(context.Background(), cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := c.Start(context.Background(), cfg)
	if !errors.Is(err, domain.ErrRunAlreadyActive) {
		t.Fatalf("second Start = %v, want ErrRunAlreadyActive", err)
	}
	waitUntilDone(t, c)
}

func TestStopIsIdempotentAndQuiescent(t *testing.T) {
	mp := &metadatamock.Provider{Papers: map[domain.PaperID]domain.Paper{"P0": {ID: "P0"}}}
	w := &fakeWriter{}
	a := analyzer.New(&analysismock.Provider{Model: "m"}, memory.New(), 2, zerolog.Nop())
	c := New(mp, a, w, nil, nil, nil, "", zerolog.Nop())

	// Idempotent on an already-idle coordinator.
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop on idle coordinator: %v", err)
	}

	cfg := RunConfig{Seeds: []domain.PaperID{"P0"}, MaxDepth: 0, UseMetadata: true}
	if err := c.Start(context.Background(), cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	st := c.Status()
	if st.Running {
		t.Fatalf("Status() = %+v, want not running after Stop returns", st)
	}
	// Idempotent a second time.
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestNotFoundPersistsStubWithoutRequeue(t *testing.T) {
	mp := &metadatamock.Provider{GetPaperErr: domain.ErrNotFound}
	w := &fakeWriter{}
	a := analyzer.New(&analysismock.Provider{Model: "m"}, memory.New(), 2, zerolog.Nop())
	c := New(mp, a, w, nil, nil, nil, "", zerolog.Nop())

	cfg := RunConfig{Seeds: []domain.PaperID{"Pmissing"}, MaxDepth: 0, UseMetadata: true}
	if err := c.Start(context.Background(), cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	st := waitUntilDone(t, c)
	papers, _ := w.snapshot()
	if len(papers) != 1 || !papers[0].Stub {
		t.Fatalf("papers = %v, want one stub paper", papers)
	}
	if st.ErrorsByKind["not_found"] == 0 {
		t.Errorf("ErrorsByKind = %v, want a not_found entry", st.ErrorsByKind)
	}
}
