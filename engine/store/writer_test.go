package store

import (
	"context"
	"testing"

	"github.com/arxivgraph/corpusd/engine/domain"
)

func badPaper() domain.Paper {
	return domain.Paper{ID: "bad id with spaces"}
}

func TestUpsertPaperRejectsInvalidIDBeforeTouchingStores(t *testing.T) {
	w := &Writer{} // graph/vector left nil: a panic here would mean validation ran too late.
	_, err := w.UpsertPaper(context.Background(), badPaper())
	if err == nil {
		t.Fatal("expected validation error for invalid paper id")
	}
}

func TestApplyBatchRejectsInvalidPaperBeforeGraphWrite(t *testing.T) {
	w := &Writer{}
	_, err := w.ApplyBatch(context.Background(), Batch{Papers: []domain.Paper{badPaper()}})
	if err == nil {
		t.Fatal("expected validation error for invalid paper id")
	}
}
