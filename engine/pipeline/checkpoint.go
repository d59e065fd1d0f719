package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/arxivgraph/corpusd/engine/domain"
	"github.com/arxivgraph/corpusd/engine/frontier"
)

// CheckpointSchemaVersion gates resume compatibility. Bump on any
// backwards-incompatible change to the Checkpoint shape; Coordinator.Start
// refuses to resume from a checkpoint whose SchemaVersion is newer than
// this.
const CheckpointSchemaVersion = 1

// queueEntry is the checkpoint's JSON-stable rendering of a
// frontier.QueueEntry (an ordered pair, not a struct, per the wire format).
type queueEntry [2]any

// Checkpoint is the full on-disk state written each time the persisted count
// reaches a multiple of CheckpointEveryN and once more when the run ends, and
// read back on a resumed Start. Items that are discovered or enqueued but not
// yet persisted do not trigger a write.
type Checkpoint struct {
	RunID         string       `json:"run_id"`
	SchemaVersion int          `json:"schema_version"`
	Config        RunConfig    `json:"config"`
	Queue         []queueEntry `json:"queue"`
	CreatedAt     time.Time    `json:"created_at"`
}

func toQueueEntries(entries []frontier.QueueEntry) []queueEntry {
	out := make([]queueEntry, len(entries))
	for i, e := range entries {
		out[i] = queueEntry{string(e.ID), e.Depth}
	}
	return out
}

func fromQueueEntries(entries []queueEntry) []frontier.QueueEntry {
	out := make([]frontier.QueueEntry, 0, len(entries))
	for _, e := range entries {
		id, _ := e[0].(string)
		depth, _ := e[1].(float64) // json numbers decode to float64
		out = append(out, frontier.QueueEntry{ID: domain.PaperID(id), Depth: int(depth)})
	}
	return out
}

// newCheckpoint snapshots the coordinator's in-flight run.
func newCheckpoint(runID string, cfg RunConfig, f *frontier.Frontier) Checkpoint {
	return Checkpoint{
		RunID:         runID,
		SchemaVersion: CheckpointSchemaVersion,
		Config:        cfg,
		Queue:         toQueueEntries(f.Snapshot()),
		CreatedAt:     time.Now(),
	}
}

// save writes the checkpoint atomically: the new content lands in a temp
// file in the same directory, then os.Rename swaps it into place, so a
// reader never observes a partially-written checkpoint (grounded on the
// teacher's downloader.go tmp-then-rename idiom; the teacher's own
// loadState/saveState for cmd/ingest was not atomic, which spec.md's
// checkpointing requirement rules out).
func save(path string, c Checkpoint) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("pipeline: marshal checkpoint: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("pipeline: create checkpoint temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("pipeline: write checkpoint temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("pipeline: close checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("pipeline: rename checkpoint into place: %w", err)
	}
	return nil
}

// load reads a checkpoint from path. It returns domain.ErrCheckpointSchema
// if the file's schema_version is newer than CheckpointSchemaVersion.
func load(path string) (Checkpoint, error) {
	var c Checkpoint
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("pipeline: read checkpoint: %w", err)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("pipeline: decode checkpoint: %w", err)
	}
	if c.SchemaVersion > CheckpointSchemaVersion {
		return c, domain.ErrCheckpointSchema
	}
	if c.RunID == "" {
		c.RunID = uuid.NewString()
	}
	return c, nil
}
