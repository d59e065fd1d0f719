// Package domain defines the core entities of the paper knowledge graph and
// the boundary validation every provider/store response must pass through.
package domain

import "time"

// PaperID is a stable external identifier string (e.g. an arXiv-style id).
// It is the uniqueness key for papers throughout the system.
type PaperID string

// CitationIntent classifies why src cites dst.
type CitationIntent string

const (
	IntentMethod     CitationIntent = "Method"
	IntentBackground CitationIntent = "Background"
	IntentResult     CitationIntent = "Result"
	IntentCritique   CitationIntent = "Critique"
	IntentExtension  CitationIntent = "Extension"
	IntentUnknown    CitationIntent = "Unknown"
)

// ValidIntents is the set of recognized citation intents.
var ValidIntents = map[CitationIntent]bool{
	IntentMethod: true, IntentBackground: true, IntentResult: true,
	IntentCritique: true, IntentExtension: true, IntentUnknown: true,
}

// CitationPosition classifies where in the citing paper the reference occurs.
type CitationPosition string

const (
	PositionAbstract     CitationPosition = "Abstract"
	PositionIntroduction CitationPosition = "Introduction"
	PositionMethods      CitationPosition = "Methods"
	PositionResults      CitationPosition = "Results"
	PositionDiscussion   CitationPosition = "Discussion"
	PositionOther        CitationPosition = "Other"
)

// ValidPositions is the set of recognized citation positions.
var ValidPositions = map[CitationPosition]bool{
	PositionAbstract: true, PositionIntroduction: true, PositionMethods: true,
	PositionResults: true, PositionDiscussion: true, PositionOther: true,
}

// ConceptKind classifies the kind of entity a Concept represents.
type ConceptKind string

const (
	ConceptMethod     ConceptKind = "Method"
	ConceptTheorem    ConceptKind = "Theorem"
	ConceptDataset    ConceptKind = "Dataset"
	ConceptEquation   ConceptKind = "Equation"
	ConceptConstant   ConceptKind = "Constant"
	ConceptConjecture ConceptKind = "Conjecture"
	ConceptOther      ConceptKind = "Other"
)

// ValidConceptKinds is the set of recognized concept kinds.
var ValidConceptKinds = map[ConceptKind]bool{
	ConceptMethod: true, ConceptTheorem: true, ConceptDataset: true,
	ConceptEquation: true, ConceptConstant: true, ConceptConjecture: true,
	ConceptOther: true,
}

// Paper is the primary entity of the knowledge base. It is created the first
// time its id is observed by the Discovery Frontier, with title/abstract
// left empty until C1 resolves metadata; summary/embedding are filled by C3.
type Paper struct {
	ID             PaperID   `json:"id"`
	Title          string    `json:"title"`
	Abstract       string    `json:"abstract"`
	Authors        []string  `json:"authors"`
	Categories     []string  `json:"categories"`
	PublishedDate  time.Time `json:"published_date"`
	CitationCount  int       `json:"citation_count"`
	CitationCountKnown bool  `json:"citation_count_known"`
	TLDR           string    `json:"tl_dr,omitempty"`
	Summary        string    `json:"summary,omitempty"`
	Embedding      []float32 `json:"embedding,omitempty"`
	EmbeddingModel string    `json:"embedding_model,omitempty"`

	// Stub marks a Paper created solely to satisfy an edge endpoint; it
	// carries only ID until a later pass resolves the rest.
	Stub bool `json:"stub"`
}

// HasEmbedding reports whether the paper carries a persisted embedding.
func (p Paper) HasEmbedding() bool { return len(p.Embedding) > 0 }

// PrimaryCategory returns the first category, used for the vector store's
// projected `category` payload field, or "" if the paper has none.
func (p Paper) PrimaryCategory() string {
	if len(p.Categories) == 0 {
		return ""
	}
	return p.Categories[0]
}

// Year returns the four-digit publication year, used for the vector store's
// projected `year` payload field.
func (p Paper) Year() int {
	if p.PublishedDate.IsZero() {
		return 0
	}
	return p.PublishedDate.Year()
}

// CitationEdge is a directed edge src -> dst. At most one CitationEdge
// exists per (src, dst) pair; a later observation updates attributes but
// never duplicates the edge (see Store Writer merge policy).
type CitationEdge struct {
	Src      PaperID          `json:"src"`
	Dst      PaperID          `json:"dst"`
	Intent   CitationIntent   `json:"intent"`
	Position CitationPosition `json:"position"`
	Context  string           `json:"context,omitempty"`
}

// Concept is keyed by (normalized_name, kind). Names are normalized to
// lowercase with collapsed interior whitespace before comparison.
type Concept struct {
	Name      string      `json:"name"`
	Kind      ConceptKind `json:"kind"`
	Embedding []float32   `json:"embedding,omitempty"`
}

// NormalizedName implements the case-insensitive, whitespace-normalized
// uniqueness rule for Concept.name (invariant 4).
func NormalizedName(name string) string {
	var b []byte
	prevSpace := true
	for i := 0; i < len(name); i++ {
		c := name[i]
		isSpace := c == ' ' || c == '\t' || c == '\n' || c == '\r'
		if isSpace {
			if !prevSpace {
				b = append(b, ' ')
			}
			prevSpace = true
			continue
		}
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		b = append(b, c)
		prevSpace = false
	}
	for len(b) > 0 && b[len(b)-1] == ' ' {
		b = b[:len(b)-1]
	}
	return string(b)
}

// Key returns the (normalized_name, kind) uniqueness key for this concept.
func (c Concept) Key() string {
	return NormalizedName(c.Name) + "\x00" + string(c.Kind)
}

// MentionsEdge links a Paper to a Concept, optionally scored by confidence.
type MentionsEdge struct {
	Paper           PaperID `json:"paper"`
	Concept         Concept `json:"concept"`
	Confidence      float64 `json:"confidence,omitempty"`
	ConfidenceKnown bool    `json:"confidence_known"`
}
