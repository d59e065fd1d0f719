package domain

import (
	"fmt"
	"strings"
)

// validPaperID accepts non-empty ids of at most 64 characters drawn from
// letters, digits and '.', '-', '/', '_', which covers arXiv-style external
// ids such as "2401.00001" and the older "hep-th/9901001" form.
func validPaperID(id PaperID) bool {
	s := string(id)
	if s == "" || len(s) > 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		ok := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			c == '.' || c == '-' || c == '/' || c == '_'
		if !ok {
			return false
		}
	}
	return true
}

// ValidatePaperID validates a PaperID at any boundary (frontier enqueue,
// provider response, store read).
func ValidatePaperID(id PaperID) error {
	if !validPaperID(id) {
		return NewValidationError("id", string(id), ErrInvalidID)
	}
	return nil
}

// ValidatePaper checks a Paper record decoded from a provider response
// before it is allowed to propagate past C1. Stub papers (ID-only) are
// exempt from the title presence check.
func ValidatePaper(p Paper) error {
	if err := ValidatePaperID(p.ID); err != nil {
		return err
	}
	if p.Stub {
		return nil
	}
	if strings.TrimSpace(p.Title) == "" {
		return NewValidationError("title", "", ErrInvalidInput)
	}
	return nil
}

// ValidateEmbedding checks that an embedding has the deployment-configured
// dimension D (invariant 3 / testable property 7).
func ValidateEmbedding(embedding []float32, dim int) error {
	if len(embedding) != dim {
		return NewValidationError("embedding", fmt.Sprintf("len=%d", len(embedding)), ErrEmbeddingDimension)
	}
	return nil
}

// ValidateCitationEdge checks a CitationEdge before it reaches the Store
// Writer. Self-loops are rejected outright (invariant 2 / testable property 6).
func ValidateCitationEdge(e CitationEdge) error {
	if err := ValidatePaperID(e.Src); err != nil {
		return err
	}
	if err := ValidatePaperID(e.Dst); err != nil {
		return err
	}
	if e.Src == e.Dst {
		return NewValidationError("dst", string(e.Dst), ErrSelfLoop)
	}
	if e.Intent != "" && !ValidIntents[e.Intent] {
		return NewValidationError("intent", string(e.Intent), ErrInvalidInput)
	}
	if e.Position != "" && !ValidPositions[e.Position] {
		return NewValidationError("position", string(e.Position), ErrInvalidInput)
	}
	return nil
}

// ValidateConcept checks a Concept before upsert.
func ValidateConcept(c Concept) error {
	if strings.TrimSpace(c.Name) == "" {
		return NewValidationError("name", c.Name, ErrInvalidInput)
	}
	if !ValidConceptKinds[c.Kind] {
		return NewValidationError("kind", string(c.Kind), ErrInvalidInput)
	}
	return nil
}

// MergeCitationAttrs applies the non-null-overwrite merge policy: existing
// attributes are overwritten only by non-null incoming values (idempotence
// law: upsert_citation(a,b,intent=Method); upsert_citation(a,b,intent=null)
// leaves intent=Method).
func MergeCitationAttrs(existing, incoming CitationEdge) CitationEdge {
	out := existing
	if incoming.Intent != "" && incoming.Intent != IntentUnknown {
		out.Intent = incoming.Intent
	} else if out.Intent == "" {
		out.Intent = IntentUnknown
	}
	if incoming.Position != "" {
		out.Position = incoming.Position
	} else if out.Position == "" {
		out.Position = PositionOther
	}
	if incoming.Context != "" {
		out.Context = incoming.Context
	}
	return out
}
