package worker

import (
	"context"
	"testing"
	"time"

	"github.com/relaycrew/chatrelay/internal/bus"
	"github.com/relaycrew/chatrelay/internal/filter"
	"github.com/relaycrew/chatrelay/internal/pool"
	"github.com/relaycrew/chatrelay/internal/ratelimit"
	"github.com/relaycrew/chatrelay/internal/store"
	"github.com/relaycrew/chatrelay/internal/store/file"
	"github.com/relaycrew/chatrelay/internal/transport"
	"github.com/relaycrew/chatrelay/internal/transport/memtransport"
)

func setupJob(t *testing.T, st *memtransport.Store, accountIDs []string, msgs []transport.Message) (*Worker, *file.Store) {
	t.Helper()

	st.AddChat("source", memtransport.Chat{
		Entity:   transport.Entity{ID: 1, Kind: transport.EntityGroup},
		Messages: msgs,
	})
	st.AddChat("target", memtransport.Chat{
		Entity: transport.Entity{ID: 2, Kind: transport.EntityGroup},
	})

	gov := ratelimit.NewGovernor(600)
	p := pool.NewPool(gov)
	var firstHandle transport.Handle
	for _, id := range accountIDs {
		h := memtransport.NewHandle(st, id)
		p.Add(h)
		if firstHandle == nil {
			firstHandle = h
		}
	}

	fs, err := file.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("file.NewStore: %v", err)
	}

	job := store.Job{
		ID:         "job-1",
		SourceRef:  "source",
		TargetRef:  "target",
		AccountIDs: accountIDs,
		Rate:       store.RateParams{InterMessageDelaySeconds: 0, MaxPerMinutePerAccount: 600},
	}
	policy := filter.NewPolicy(true, false, nil, nil)

	w := New(job, policy, fs.Progress(), p, gov, bus.New(), firstHandle)
	return w, fs
}

func TestWorkerForwardsAllMessagesAndCompletes(t *testing.T) {
	st := memtransport.NewStore()
	msgs := []transport.Message{
		{ID: 1, Kind: transport.KindTextOnly, Text: "hello"},
		{ID: 2, Kind: transport.KindTextOnly, Text: "world"},
	}
	w, fs := setupJob(t, st, []string{"acct-a"}, msgs)
	w.job.Rate.InterMessageDelaySeconds = 0

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := w.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != store.JobCompleted {
		t.Fatalf("status = %v, want completed", status)
	}

	cur, err := fs.Load("job-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cur.LastID != 2 || !cur.Delivered[1] || !cur.Delivered[2] {
		t.Fatalf("unexpected cursor: %+v", cur)
	}

	sent := st.Sent()
	// sent[0] is the preflight test send; the two messages follow it.
	if len(sent) != 3 || sent[1].Text != "hello" || sent[2].Text != "world" {
		t.Fatalf("unexpected sent calls: %+v", sent)
	}
}

func TestWorkerCountsPreflightSendAndFiltersDrop(t *testing.T) {
	st := memtransport.NewStore()
	msgs := []transport.Message{
		{ID: 1, Kind: transport.KindEmpty},
		{ID: 2, Kind: transport.KindTextOnly, Text: "keep"},
	}
	w, _ := setupJob(t, st, []string{"acct-a"}, msgs)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := w.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != store.JobCompleted {
		t.Fatalf("status = %v", status)
	}

	sent := st.Sent()
	if len(sent) != 2 { // preflight test send + the one real "keep" message
		t.Fatalf("expected preflight send + 1 real send, got %d: %+v", len(sent), sent)
	}
}

func TestWorkerRetriesFloodWaitOnAnotherAccount(t *testing.T) {
	st := memtransport.NewStore()
	// The preflight test send on acct-a consumes the first injection; the
	// second hits the real send of message 1.
	st.InjectFloodWait("acct-a", 2, 0)

	msgs := []transport.Message{{ID: 1, Kind: transport.KindTextOnly, Text: "hi"}}
	w, _ := setupJob(t, st, []string{"acct-a", "acct-b"}, msgs)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := w.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != store.JobCompleted {
		t.Fatalf("status = %v", status)
	}

	found := false
	for _, s := range st.Sent() {
		if s.Text == "hi" && s.AccountID == "acct-b" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the flooded message to eventually be delivered on acct-b")
	}
}

func TestWorkerFailsJobAfterPermissionDeniedOnAllAccounts(t *testing.T) {
	st := memtransport.NewStore()
	st.DenyAccount("acct-a")

	msgs := []transport.Message{{ID: 1, Kind: transport.KindTextOnly, Text: "hi"}}
	w, _ := setupJob(t, st, []string{"acct-a"}, msgs)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	status, err := w.Run(ctx)
	if err == nil {
		t.Fatal("expected Run to return an error")
	}
	if status != store.JobFailed {
		t.Fatalf("status = %v, want failed", status)
	}
}

func TestWorkerStopIsCooperative(t *testing.T) {
	st := memtransport.NewStore()
	msgs := []transport.Message{
		{ID: 1, Kind: transport.KindTextOnly, Text: "a"},
		{ID: 2, Kind: transport.KindTextOnly, Text: "b"},
	}
	w, _ := setupJob(t, st, []string{"acct-a"}, msgs)
	w.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	status, err := w.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != store.JobStopped {
		t.Fatalf("status = %v, want stopped", status)
	}
}
