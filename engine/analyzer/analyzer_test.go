package analyzer

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/arxivgraph/corpusd/engine/domain"
	analysismock "github.com/arxivgraph/corpusd/engine/provider/analysis/mock"
	"github.com/arxivgraph/corpusd/engine/provider/metadata"
	"github.com/arxivgraph/corpusd/pkg/cache/memory"
)

func testPaper() domain.Paper {
	return domain.Paper{ID: "2401.00001", Title: "Title", Abstract: "Abstract text."}
}

func TestAnalyzeHappyPath(t *testing.T) {
	p := &analysismock.Provider{
		Model:             "test-model",
		SummarizeResponse: "a summary",
		EntitiesResponse:  []domain.Concept{{Name: "Gradient Descent", Kind: domain.ConceptMethod}},
		ClassifyResponse:  analysismock.ClassifyResult{Intent: domain.IntentMethod, Position: domain.PositionMethods},
		EmbedResponse:     []float32{0.1, 0.2, 0.3},
	}
	a := New(p, memory.New(), 2, zerolog.Nop())

	refs := []metadata.Edge{{OtherID: "2401.00002", Context: "we build on [1]"}}
	enr := a.Analyze(context.Background(), testPaper(), refs, "")

	if enr.Partial {
		t.Fatalf("expected non-partial enrichment, got errors: %v", enr.Errors)
	}
	if enr.Summary != "a summary" {
		t.Errorf("Summary = %q, want %q", enr.Summary, "a summary")
	}
	if len(enr.Concepts) != 1 {
		t.Errorf("Concepts = %v, want 1 entry", enr.Concepts)
	}
	if len(enr.EdgeLabels) != 1 || enr.EdgeLabels[0].Dst != "2401.00002" {
		t.Errorf("EdgeLabels = %v, want one label for 2401.00002", enr.EdgeLabels)
	}
	if len(enr.Embedding) != 3 {
		t.Errorf("Embedding = %v, want length 3", enr.Embedding)
	}
}

func TestAnalyzeToleratesPartialFailure(t *testing.T) {
	p := &analysismock.Provider{
		Model:             "test-model",
		SummarizeResponse: "a summary",
		EntitiesErr:       errors.New("extraction backend down"),
		EmbedResponse:     []float32{0.1},
	}
	a := New(p, memory.New(), 2, zerolog.Nop())

	enr := a.Analyze(context.Background(), testPaper(), nil, "")

	if !enr.Partial {
		t.Fatal("expected Partial=true when one sub-step fails")
	}
	if enr.Summary != "a summary" {
		t.Errorf("Summary = %q, want %q (should survive other failures)", enr.Summary, "a summary")
	}
	if len(enr.Embedding) != 1 {
		t.Errorf("Embedding = %v, want length 1 (should survive other failures)", enr.Embedding)
	}
}

func TestAnalyzeShortCircuitsEmbedWhenModelUnchanged(t *testing.T) {
	p := &analysismock.Provider{Model: "test-model"}
	a := New(p, memory.New(), 2, zerolog.Nop())

	paper := testPaper()
	paper.Embedding = []float32{9, 9, 9}
	paper.EmbeddingModel = "test-model"

	enr := a.Analyze(context.Background(), paper, nil, "test-model")

	if len(p.EmbedCalls) != 0 {
		t.Errorf("Embed called %d times, want 0 (short-circuit)", len(p.EmbedCalls))
	}
	if len(enr.Embedding) != 3 {
		t.Errorf("Embedding = %v, want the existing vector", enr.Embedding)
	}
}

func TestAnalyzeCachesSummaryAcrossCalls(t *testing.T) {
	p := &analysismock.Provider{Model: "test-model", SummarizeResponse: "cached"}
	c := memory.New()
	a := New(p, c, 2, zerolog.Nop())

	paper := testPaper()
	a.Analyze(context.Background(), paper, nil, "")
	a.Analyze(context.Background(), paper, nil, "")

	if len(p.SummarizeCalls) != 1 {
		t.Errorf("Summarize called %d times, want 1 (cache hit on second call)", len(p.SummarizeCalls))
	}
}

func TestAnalyzeRespectsCancellation(t *testing.T) {
	p := &analysismock.Provider{Model: "test-model"}
	a := New(p, memory.New(), 2, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	enr := a.Analyze(ctx, testPaper(), nil, "")
	if !enr.Partial {
		t.Fatal("expected Partial=true when context is already cancelled")
	}
}
