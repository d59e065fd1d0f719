// Package frontier implements the Discovery Frontier (C2): a bounded,
// concurrency-safe breadth-first traversal of the citation graph rooted at a
// seed set.
package frontier

import (
	"context"
	"sync"

	"github.com/arxivgraph/corpusd/engine/domain"
)

// QueueEntry is one pending (paper id, depth) pair.
type QueueEntry struct {
	ID    domain.PaperID
	Depth int
}

// Opts configures traversal bounds.
type Opts struct {
	MaxDepth         int
	MaxPapers        int // 0 means unbounded
	MaxFanoutPerPaper int
}

// Frontier owns `visited` and `queue` for one pipeline run. The zero value is
// not usable; construct with New.
//
// Dedup is claim-on-enqueue: a neighbor id becomes "claimed" the instant it
// enters visited via sync.Map.LoadOrStore, so two workers racing to discover
// the same neighbor agree on exactly one winner (grounded on the teacher's
// YouTubeScraper.seen sync.Map dedup idiom).
type Frontier struct {
	opts Opts

	visited sync.Map // domain.PaperID -> struct{}

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []QueueEntry
	inFlight int
	visitedN int
	closed   bool
}

// New creates a Frontier seeded with the initial seed set at depth 0. Seeds
// are claimed into visited and enqueued in insertion order.
func New(opts Opts, seeds []domain.PaperID) *Frontier {
	f := &Frontier{opts: opts}
	f.cond = sync.NewCond(&f.mu)
	for _, id := range seeds {
		if f.claim(id) {
			f.mu.Lock()
			f.queue = append(f.queue, QueueEntry{ID: id, Depth: 0})
			f.mu.Unlock()
		}
	}
	f.cond.Broadcast()
	return f
}

// claim atomically marks id visited; returns true if this call won the claim.
func (f *Frontier) claim(id domain.PaperID) bool {
	_, loaded := f.visited.LoadOrStore(id, struct{}{})
	if !loaded {
		f.mu.Lock()
		f.visitedN++
		f.mu.Unlock()
	}
	return !loaded
}

// Seed primes visited from a graph-store id scan on restart, without
// enqueueing: these papers are already persisted, so they must be excluded
// from rediscovery but are not re-processed.
func (f *Frontier) Seed(ids []domain.PaperID) {
	for _, id := range ids {
		f.claim(id)
	}
}

// Restore primes queue from a checkpoint on restart. Entries are assumed to
// already be claimed (the checkpoint only ever records claimed work).
func (f *Frontier) Restore(entries []QueueEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range entries {
		f.visited.LoadOrStore(e.ID, struct{}{})
		f.queue = append(f.queue, e)
	}
	f.cond.Broadcast()
}

// Next yields the next entry to process, blocking while the queue is empty
// but work is still in flight elsewhere. It reports ok=false (Exhausted) once
// the queue is empty and no worker has outstanding work that could still
// enqueue more. Next respects ctx cancellation.
func (f *Frontier) Next(ctx context.Context) (QueueEntry, bool, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			f.cond.Broadcast()
		case <-done:
		}
	}()

	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		if len(f.queue) > 0 {
			e := f.queue[0]
			f.queue = f.queue[1:]
			f.inFlight++
			return e, true, nil
		}
		if f.inFlight == 0 || f.closed {
			return QueueEntry{}, false, nil
		}
		if err := ctx.Err(); err != nil {
			return QueueEntry{}, false, err
		}
		f.cond.Wait()
	}
}

// Done reports that a worker has finished processing an entry returned by
// Next, including any EnqueueNeighbors call for it. Every Next call that
// returns ok=true must be matched by exactly one Done call.
func (f *Frontier) Done() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
	f.cond.Broadcast()
}

// EnqueueNeighbors filters neighborIDs by: not already visited,
// parentDepth+1 <= MaxDepth, len(visited) < MaxPapers, truncated to
// MaxFanoutPerPaper, and enqueues the survivors at parentDepth+1. Ordering
// among neighbors from the same parent is insertion order.
func (f *Frontier) EnqueueNeighbors(parent domain.PaperID, neighborIDs []domain.PaperID, parentDepth int) {
	childDepth := parentDepth + 1
	if childDepth > f.opts.MaxDepth {
		return
	}

	var accepted []QueueEntry
	fanout := 0
	for _, id := range neighborIDs {
		if f.opts.MaxFanoutPerPaper > 0 && fanout >= f.opts.MaxFanoutPerPaper {
			break
		}
		if f.opts.MaxPapers > 0 && f.Len() >= f.opts.MaxPapers {
			break
		}
		if !f.claim(id) {
			continue
		}
		accepted = append(accepted, QueueEntry{ID: id, Depth: childDepth})
		fanout++
	}
	if len(accepted) == 0 {
		return
	}

	f.mu.Lock()
	f.queue = append(f.queue, accepted...)
	f.mu.Unlock()
	f.cond.Broadcast()
}

// Snapshot returns a copy of the currently queued (not yet claimed-by-Next)
// entries, in order, for checkpointing. Entries already handed to a worker
// via Next (in flight) are not included; they are either finished (and their
// neighbors re-enqueued) or abandoned on cancellation, so a checkpoint taken
// mid-flight only ever loses work still attributable to a live worker.
func (f *Frontier) Snapshot() []QueueEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]QueueEntry, len(f.queue))
	copy(out, f.queue)
	return out
}

// Len returns the number of papers claimed into visited so far in this run.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visitedN
}

// Close unblocks any Next callers waiting on an empty queue, used during
// pipeline shutdown to stop worker goroutines promptly.
func (f *Frontier) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.cond.Broadcast()
}
