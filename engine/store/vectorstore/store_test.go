package vectorstore

import "testing"

func TestCollectionNameIsModelVersioned(t *testing.T) {
	v := &VectorStore{baseName: "papers"}
	a := v.CollectionName("text-embedding-3-small")
	b := v.CollectionName("text-embedding-3-large")
	if a == b {
		t.Fatalf("expected distinct collections per model, got %q for both", a)
	}
	if a != "papers__text_embedding_3_small" {
		t.Fatalf("unexpected collection name: %q", a)
	}
}

func TestSanitizeCollectionSuffixHandlesSpecialChars(t *testing.T) {
	got := sanitizeCollectionSuffix("Voyage/large-2.1")
	want := "voyage_large_2_1"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSanitizeCollectionSuffixEmpty(t *testing.T) {
	if sanitizeCollectionSuffix("") != "default" {
		t.Fatal("expected default fallback for empty model id")
	}
}

func TestPointIDIsDeterministic(t *testing.T) {
	a := pointID("2401.00001")
	b := pointID("2401.00001")
	c := pointID("2401.00002")
	if a != b {
		t.Fatal("expected pointID to be deterministic for the same input")
	}
	if a == c {
		t.Fatal("expected distinct paper ids to map to distinct point ids")
	}
}
