package domain

import (
	"errors"
	"testing"
)

func TestValidatePaperID(t *testing.T) {
	cases := []struct {
		id      PaperID
		wantErr bool
	}{
		{"2401.00001", false},
		{"hep-th/9901001", false},
		{"", true},
		{"bad id with spaces", true},
	}
	for _, c := range cases {
		err := ValidatePaperID(c.id)
		if (err != nil) != c.wantErr {
			t.Errorf("ValidatePaperID(%q) err=%v, wantErr=%v", c.id, err, c.wantErr)
		}
	}
}

func TestValidateCitationEdgeRejectsSelfLoop(t *testing.T) {
	e := CitationEdge{Src: "2401.00001", Dst: "2401.00001"}
	err := ValidateCitationEdge(e)
	if err == nil {
		t.Fatal("expected error for self-loop edge")
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if !errors.Is(err, ErrSelfLoop) {
		t.Errorf("expected wrapped ErrSelfLoop, got %v", ve.Wrapped)
	}
}

func TestValidateEmbeddingDimension(t *testing.T) {
	if err := ValidateEmbedding(make([]float32, 768), 768); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if err := ValidateEmbedding(make([]float32, 100), 768); err == nil {
		t.Error("expected error for mismatched dimension")
	}
}

func TestNormalizedNameCaseAndWhitespace(t *testing.T) {
	a := Concept{Name: "  Gradient   Descent ", Kind: ConceptMethod}
	b := Concept{Name: "gradient descent", Kind: ConceptMethod}
	if a.Key() != b.Key() {
		t.Errorf("expected equal keys, got %q vs %q", a.Key(), b.Key())
	}
}

func TestMergeCitationAttrsPreservesNonNull(t *testing.T) {
	existing := CitationEdge{Src: "a", Dst: "b", Intent: IntentMethod}
	incoming := CitationEdge{Src: "a", Dst: "b", Intent: ""}
	merged := MergeCitationAttrs(existing, incoming)
	if merged.Intent != IntentMethod {
		t.Errorf("expected intent to remain Method, got %q", merged.Intent)
	}
}
