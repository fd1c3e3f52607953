package pool

import (
	"context"
	"testing"
	"time"

	"github.com/relaycrew/chatrelay/internal/ratelimit"
	"github.com/relaycrew/chatrelay/internal/transport"
	"github.com/relaycrew/chatrelay/internal/transport/memtransport"
)

func TestIteratorRoundRobinSkipsUnhealthy(t *testing.T) {
	store := memtransport.NewStore()
	p := NewPool(ratelimit.NewGovernor(600))
	p.Add(memtransport.NewHandle(store, "a"))
	p.Add(memtransport.NewHandle(store, "b"))
	p.Add(memtransport.NewHandle(store, "c"))

	p.MarkUnhealthy("b", "job-1", "permission denied")

	it := p.NewIterator("job-1", []string{"a", "b", "c"})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	seen := map[string]int{}
	for i := 0; i < 6; i++ {
		id, err := it.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		seen[id]++
	}

	if seen["b"] != 0 {
		t.Fatalf("expected b to never be returned, saw it %d times", seen["b"])
	}
	if seen["a"] != 3 || seen["c"] != 3 {
		t.Fatalf("expected even round-robin split, got %v", seen)
	}
}

func TestIteratorBlocksUntilGovernorClears(t *testing.T) {
	store := memtransport.NewStore()
	gov := ratelimit.NewGovernor(600)
	p := NewPool(gov)
	p.Add(memtransport.NewHandle(store, "a"))

	gov.NoteFloodWait("a", 0) // floods for [0s, jitter) — clears within ~7s

	it := p.NewIterator("job-1", []string{"a"})
	ctx, cancel := context.WithTimeout(context.Background(), 9*time.Second)
	defer cancel()

	if _, err := it.Next(ctx); err != nil {
		t.Fatalf("expected account to become eligible before ctx deadline: %v", err)
	}
}

func TestWithHandleSerializesAccess(t *testing.T) {
	store := memtransport.NewStore()
	p := NewPool(ratelimit.NewGovernor(600))
	p.Add(memtransport.NewHandle(store, "a"))

	if err := p.WithHandle("a", func(h transport.Handle) error {
		if h.AccountID() != "a" {
			t.Fatalf("unexpected account id %s", h.AccountID())
		}
		return nil
	}); err != nil {
		t.Fatalf("WithHandle: %v", err)
	}
}
