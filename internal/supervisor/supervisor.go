// Package supervisor owns the lifecycle of every job: create, start,
// stop, delete, enumerate, and crash recovery on process restart.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/relaycrew/chatrelay/internal/bus"
	"github.com/relaycrew/chatrelay/internal/filter"
	"github.com/relaycrew/chatrelay/internal/pool"
	"github.com/relaycrew/chatrelay/internal/store"
	"github.com/relaycrew/chatrelay/internal/transport"
	"github.com/relaycrew/chatrelay/internal/worker"
)

// WorkerFactory builds a Worker for job; injected so Supervisor doesn't
// need to know how to construct every one of a Worker's collaborators.
type WorkerFactory func(job store.Job, policy filter.Policy, anyHandle transport.Handle) *worker.Worker

// EntityResolver returns any live handle usable to resolve chat
// references for a newly created job (the identity of which account
// resolves it doesn't matter; any authenticated one will do).
type EntityResolver interface {
	AnyHandle() (transport.Handle, bool)
}

// Supervisor tracks one running Worker per active job id.
type Supervisor struct {
	mu       sync.Mutex
	jobs     store.JobStore
	policies map[string]filter.Policy // filter policy id -> Policy
	pool     *pool.Pool
	bus      bus.EventPublisher
	factory  WorkerFactory
	resolver EntityResolver

	running map[string]*runningJob
}

type runningJob struct {
	worker *worker.Worker
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Supervisor. policies maps a job's FilterPolicyID to its
// resolved filter.Policy.
func New(jobs store.JobStore, policies map[string]filter.Policy, p *pool.Pool, b bus.EventPublisher, factory WorkerFactory, resolver EntityResolver) *Supervisor {
	return &Supervisor{
		jobs:     jobs,
		policies: policies,
		pool:     p,
		bus:      b,
		factory:  factory,
		resolver: resolver,
		running:  make(map[string]*runningJob),
	}
}

// RecoverOnStart transitions every job persisted as running to pending:
// the engine never auto-restarts a job it did not itself observe
// crash, so a prior "running" status after an unclean shutdown must be
// explicitly restarted by the operator.
func (s *Supervisor) RecoverOnStart() error {
	jobs, err := s.jobs.List()
	if err != nil {
		return fmt.Errorf("supervisor: list jobs: %w", err)
	}
	for _, j := range jobs {
		s.registerStoredPolicy(j)
		if j.Status == store.JobRunning {
			j.Status = store.JobPending
			if err := s.jobs.Update(j); err != nil {
				return fmt.Errorf("supervisor: recover job %s: %w", j.ID, err)
			}
			slog.Info("recovered job from unclean shutdown", "job_id", j.ID)
		}
	}
	return nil
}

// registerStoredPolicy re-derives j's filter.Policy from its durable
// FilterPolicy spec and registers it under FilterPolicyID, so a job
// created via the Control API or the CLI still has a usable policy
// after a process restart without relying on RegisterPolicy having
// been called again.
func (s *Supervisor) registerStoredPolicy(j store.Job) {
	if j.FilterPolicyID == "" || j.FilterPolicy.IsZero() {
		return
	}
	classes := make([]filter.MediaClass, len(j.FilterPolicy.Classes))
	for i, c := range j.FilterPolicy.Classes {
		classes[i] = filter.MediaClass(c)
	}
	s.RegisterPolicy(j.FilterPolicyID, filter.NewPolicy(j.FilterPolicy.AllMedia, j.FilterPolicy.TextOnly, classes, j.FilterPolicy.Extensions))
}

// RegisterPolicy makes p available under id for subsequent Create
// calls (the Control API registers one per job, keyed by the job's own
// id, from the filter_policy parameter of jobs.create).
func (s *Supervisor) RegisterPolicy(id string, p filter.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[id] = p
}

// Create validates and persists a new job in Pending status.
func (s *Supervisor) Create(j store.Job) error {
	s.registerStoredPolicy(j)

	s.mu.Lock()
	_, ok := s.policies[j.FilterPolicyID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("supervisor: unknown filter policy %q", j.FilterPolicyID)
	}
	for _, accountID := range j.AccountIDs {
		if _, ok := s.pool.GetHandle(accountID); !ok {
			return fmt.Errorf("supervisor: account %s is not authenticated", accountID)
		}
	}
	if _, ok := s.resolver.AnyHandle(); !ok {
		return fmt.Errorf("supervisor: no authenticated account available to resolve source/target")
	}

	j.Status = store.JobPending
	return s.jobs.Create(j)
}

// Start schedules job's worker and returns once it has been launched;
// it does not wait for the job to finish.
func (s *Supervisor) Start(ctx context.Context, jobID string) error {
	s.mu.Lock()
	if _, already := s.running[jobID]; already {
		s.mu.Unlock()
		return fmt.Errorf("supervisor: job %s is already running", jobID)
	}
	s.mu.Unlock()

	job, err := s.jobs.Get(jobID)
	if err != nil {
		return fmt.Errorf("supervisor: get job: %w", err)
	}
	s.mu.Lock()
	policy, ok := s.policies[job.FilterPolicyID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("supervisor: unknown filter policy %q", job.FilterPolicyID)
	}
	anyHandle, ok := s.resolver.AnyHandle()
	if !ok {
		return fmt.Errorf("supervisor: no authenticated account available")
	}

	w := s.factory(job, policy, anyHandle)
	runCtx, cancel := context.WithCancel(ctx)
	rj := &runningJob{worker: w, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.running[jobID] = rj
	s.mu.Unlock()

	job.Status = store.JobRunning
	if job.StartedAt.IsZero() {
		job.StartedAt = time.Now()
	}
	if err := s.jobs.Update(job); err != nil {
		s.mu.Lock()
		delete(s.running, jobID)
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("supervisor: persist running status: %w", err)
	}

	go s.runWorker(runCtx, jobID, w, rj)
	return nil
}

func (s *Supervisor) runWorker(ctx context.Context, jobID string, w *worker.Worker, rj *runningJob) {
	defer close(rj.done)
	status, runErr := w.Run(ctx)

	job, err := s.jobs.Get(jobID)
	if err == nil {
		job.Status = status
		if runErr != nil {
			job.LastError = runErr.Error()
		}
		if status == store.JobCompleted {
			job.CompletedAt = time.Now()
		}
		_ = s.jobs.Update(job)
	}

	s.mu.Lock()
	delete(s.running, jobID)
	s.mu.Unlock()
}

// Stop requests cooperative shutdown of jobID's worker and waits for
// it to acknowledge. Idempotent; stopping a job that isn't running is
// a no-op. Canceling the worker's run context alongside Stop unblocks
// a worker parked indefinitely in pool.Iterator.Next waiting on a
// flood-waited account — that wait has no deadline of its own.
func (s *Supervisor) Stop(jobID string) error {
	s.mu.Lock()
	rj, ok := s.running[jobID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	rj.worker.Stop()
	rj.cancel()
	<-rj.done
	return nil
}

// Delete stops jobID first if running, then removes its durable record.
func (s *Supervisor) Delete(jobID string) error {
	if err := s.Stop(jobID); err != nil {
		return err
	}
	return s.jobs.Delete(jobID)
}

// Get returns jobID's current durable record.
func (s *Supervisor) Get(jobID string) (store.Job, error) {
	return s.jobs.Get(jobID)
}

// List enumerates every job.
func (s *Supervisor) List() ([]store.Job, error) {
	return s.jobs.List()
}

// Stats summarizes system-wide counts for the Control API's stats operation.
type Stats struct {
	CountsByStatus    map[store.JobStatus]int
	AccountsConnected int
	TotalMessagesSent int
}

// Stats computes counts by status and accounts connected.
// TotalMessagesSent is always zero: this package has no visibility into
// per-send counters, and nothing else fills it in.
func (s *Supervisor) Stats(accountsConnected int) (Stats, error) {
	jobs, err := s.jobs.List()
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{CountsByStatus: make(map[store.JobStatus]int), AccountsConnected: accountsConnected}
	for _, j := range jobs {
		stats.CountsByStatus[j.Status]++
	}
	return stats, nil
}
