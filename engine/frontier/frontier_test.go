package frontier

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/arxivgraph/corpusd/engine/domain"
)

func TestNewSeedsQueueAndVisited(t *testing.T) {
	f := New(Opts{MaxDepth: 2, MaxFanoutPerPaper: 10}, []domain.PaperID{"a", "b"})
	if got := f.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}

	ctx := context.Background()
	first, ok, err := f.Next(ctx)
	if err != nil || !ok {
		t.Fatalf("Next() = %v, %v, %v", first, ok, err)
	}
	if first.ID != "a" || first.Depth != 0 {
		t.Fatalf("Next() = %+v, want a@0", first)
	}
}

func TestEnqueueNeighborsDedupsAndRespectsFanout(t *testing.T) {
	f := New(Opts{MaxDepth: 5, MaxFanoutPerPaper: 2}, []domain.PaperID{"root"})
	ctx := context.Background()

	entry, ok, err := f.Next(ctx)
	if err != nil || !ok {
		t.Fatalf("Next() = %v, %v, %v", entry, ok, err)
	}

	f.EnqueueNeighbors("root", []domain.PaperID{"a", "b", "c"}, entry.Depth)
	f.Done()

	var got []QueueEntry
	for {
		e, ok, err := f.Next(ctx)
		if err != nil {
			t.Fatalf("Next() error: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, e)
		f.Done()
	}

	if len(got) != 2 {
		t.Fatalf("enqueued %d neighbors, want 2 (fanout cap)", len(got))
	}
	for _, e := range got {
		if e.Depth != 1 {
			t.Errorf("entry %+v has depth %d, want 1", e, e.Depth)
		}
	}
}

func TestEnqueueNeighborsSkipsMaxDepth(t *testing.T) {
	f := New(Opts{MaxDepth: 0, MaxFanoutPerPaper: 10}, []domain.PaperID{"root"})
	ctx := context.Background()

	entry, ok, _ := f.Next(ctx)
	if !ok {
		t.Fatal("expected root entry")
	}
	f.EnqueueNeighbors("root", []domain.PaperID{"a"}, entry.Depth)
	f.Done()

	_, ok, err := f.Next(ctx)
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if ok {
		t.Fatal("expected Exhausted once depth exceeds MaxDepth")
	}
}

func TestConcurrentClaimAgreesOnOneWinner(t *testing.T) {
	f := New(Opts{MaxDepth: 5, MaxFanoutPerPaper: 100}, nil)

	var wg sync.WaitGroup
	wins := make([]bool, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			wins[i] = f.claim("shared")
		}(i)
	}
	wg.Wait()

	count := 0
	for _, w := range wins {
		if w {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one winner, got %d", count)
	}
}

func TestSeedDoesNotEnqueue(t *testing.T) {
	f := New(Opts{MaxDepth: 5, MaxFanoutPerPaper: 10}, nil)
	f.Seed([]domain.PaperID{"already-persisted"})

	if f.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", f.Len())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, ok, err := f.Next(ctx)
	if ok {
		t.Fatal("seeded paper should not be enqueued for processing")
	}
	if err != nil && err != context.DeadlineExceeded {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNextUnblocksOnClose(t *testing.T) {
	f := New(Opts{MaxDepth: 5, MaxFanoutPerPaper: 10}, []domain.PaperID{"root"})
	ctx := context.Background()

	entry, ok, _ := f.Next(ctx)
	if !ok {
		t.Fatal("expected root entry")
	}
	_ = entry

	done := make(chan struct{})
	go func() {
		f.Next(ctx) // blocks: inFlight > 0, queue empty
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	f.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Next did not unblock after Close")
	}
}
