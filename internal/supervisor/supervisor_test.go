package supervisor

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
	"github.com/relaycrew/chatrelay/internal/worker"
)

type fixedResolver struct{ h transport.Handle }

func (f fixedResolver) AnyHandle() (transport.Handle, bool) { return f.h, f.h != nil }

func newTestSupervisor(t *testing.T) (*Supervisor, *memtransport.Store) {
	t.Helper()
	mstore := memtransport.NewStore()
	mstore.AddChat("source", memtransport.Chat{Entity: transport.Entity{ID: 1}})
	mstore.AddChat("target", memtransport.Chat{Entity: transport.Entity{ID: 2}})

	gov := ratelimit.NewGovernor(600)
	p := pool.NewPool(gov)
	handle := memtransport.NewHandle(mstore, "acct-a")
	p.Add(handle)

	fs, err := file.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("file.NewStore: %v", err)
	}

	policies := map[string]filter.Policy{"all": filter.NewPolicy(true, false, nil, nil)}
	factory := func(job store.Job, policy filter.Policy, anyHandle transport.Handle) *worker.Worker {
		return worker.New(job, policy, fs.Progress(), p, gov, bus.New(), anyHandle)
	}

	sv := New(fs.Jobs(), policies, p, bus.New(), factory, fixedResolver{handle})
	return sv, mstore
}

func TestCreateStartAndCompleteJob(t *testing.T) {
	sv, _ := newTestSupervisor(t)

	job := store.Job{ID: "job-1", SourceRef: "source", TargetRef: "target", AccountIDs: []string{"acct-a"}, FilterPolicyID: "all"}
	if err := sv.Create(job); err != nil {
		t.Fatalf("Create: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sv.Start(ctx, "job-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got, err := sv.Get("job-1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status == store.JobCompleted {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("job never completed")
}

func TestCreateRejectsUnknownAccount(t *testing.T) {
	sv, _ := newTestSupervisor(t)
	job := store.Job{ID: "job-1", AccountIDs: []string{"no-such-account"}, FilterPolicyID: "all"}
	if err := sv.Create(job); err == nil {
		t.Fatal("expected Create to reject an unauthenticated account")
	}
}

func TestRecoverOnStartDemotesRunningToPending(t *testing.T) {
	sv, _ := newTestSupervisor(t)
	job := store.Job{ID: "job-1", SourceRef: "source", TargetRef: "target", AccountIDs: []string{"acct-a"}, FilterPolicyID: "all", Status: store.JobRunning}
	if err := sv.jobs.Create(job); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := sv.RecoverOnStart(); err != nil {
		t.Fatalf("RecoverOnStart: %v", err)
	}

	got, err := sv.Get("job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != store.JobPending {
		t.Fatalf("status = %v, want pending", got.Status)
	}
}
