package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/arxivgraph/corpusd/engine/domain"
	"github.com/arxivgraph/corpusd/engine/frontier"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint.json")

	f := frontier.New(frontier.Opts{MaxDepth: 2}, []domain.PaperID{"P0"})
	f.EnqueueNeighbors("P0", []domain.PaperID{"P1", "P2"}, 0)

	cfg := RunConfig{Seeds: []domain.PaperID{"P0"}, MaxDepth: 2}
	ck := newCheckpoint("run-1", cfg, f)

	if err := save(path, ck); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.RunID != "run-1" {
		t.Errorf("RunID = %q, want run-1", loaded.RunID)
	}
	if loaded.SchemaVersion != CheckpointSchemaVersion {
		t.Errorf("SchemaVersion = %d, want %d", loaded.SchemaVersion, CheckpointSchemaVersion)
	}
	entries := fromQueueEntries(loaded.Queue)
	if len(entries) != 3 {
		t.Fatalf("Queue = %v, want 3 entries", entries)
	}
}

func TestSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint.json")

	f := frontier.New(frontier.Opts{MaxDepth: 1}, []domain.PaperID{"P0"})
	ck := newCheckpoint("run-1", RunConfig{}, f)
	if err := save(path, ck); err != nil {
		t.Fatalf("save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("leftover temp file after save: %s", e.Name())
		}
	}
}

func TestLoadRejectsNewerSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint.json")

	f := frontier.New(frontier.Opts{}, nil)
	ck := newCheckpoint("run-1", RunConfig{}, f)
	ck.SchemaVersion = CheckpointSchemaVersion + 1
	if err := save(path, ck); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := load(path); err == nil {
		t.Fatal("load should reject a checkpoint with a newer schema_version")
	}
}
