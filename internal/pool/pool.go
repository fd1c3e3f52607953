// Package pool implements the Account Pool: one live Transport handle
// per authenticated account, a round-robin iterator over the accounts
// eligible for a given job, and per-handle send serialization.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/relaycrew/chatrelay/internal/ratelimit"
	"github.com/relaycrew/chatrelay/internal/transport"
)

// maxEligibilityWait is how often Iterator.Next logs that it is still
// waiting for an eligible account. It is not a deadline: a job whose
// only account is in a long flood-wait pauses rather than fails, per
// the documented boundary behavior for single-account flood-wait.
const maxEligibilityWait = 30 * time.Second

type entry struct {
	handle    transport.Handle
	sendMu    sync.Mutex // serializes sends on this handle across jobs
	unhealthy map[string]string // jobID -> reason, job-scoped unhealth
}

// Pool holds one live Transport handle per authenticated account.
type Pool struct {
	mu       sync.RWMutex
	entries  map[string]*entry // accountID -> entry
	governor *ratelimit.Governor
}

// NewPool builds an empty Pool backed by governor for eligibility checks.
func NewPool(governor *ratelimit.Governor) *Pool {
	return &Pool{
		entries:  make(map[string]*entry),
		governor: governor,
	}
}

// Add registers a live handle for an authenticated account.
func (p *Pool) Add(handle transport.Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[handle.AccountID()] = &entry{handle: handle, unhealthy: make(map[string]string)}
}

// Remove drops accountID from the pool (e.g. on disconnect) without closing its handle.
func (p *Pool) Remove(accountID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, accountID)
}

// GetHandle returns the live handle for accountID, if any.
func (p *Pool) GetHandle(accountID string) (transport.Handle, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[accountID]
	if !ok {
		return nil, false
	}
	return e.handle, true
}

// AnyHandle returns an arbitrary live handle, for operations (e.g.
// resolving a chat reference for a job being created) that don't care
// which authenticated account answers, only that one exists. It
// satisfies supervisor.EntityResolver.
func (p *Pool) AnyHandle() (transport.Handle, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, e := range p.entries {
		return e.handle, true
	}
	return nil, false
}

// MarkUnhealthy marks accountID unhealthy for jobID only; other jobs
// may still use it.
func (p *Pool) MarkUnhealthy(accountID, jobID, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[accountID]
	if !ok {
		return
	}
	e.unhealthy[jobID] = reason
}

// IsHealthy reports whether accountID is usable for jobID.
func (p *Pool) IsHealthy(accountID, jobID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[accountID]
	if !ok {
		return false
	}
	_, bad := e.unhealthy[jobID]
	return !bad
}

// WithHandle runs fn holding accountID's send mutex, serializing
// concurrent sends across jobs that share the account.
func (p *Pool) WithHandle(accountID string, fn func(transport.Handle) error) error {
	p.mu.RLock()
	e, ok := p.entries[accountID]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("pool: account %s has no live handle", accountID)
	}

	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	return fn(e.handle)
}

// Iterator cycles round-robin through accountIDs eligible for jobID,
// skipping flood-waited or job-unhealthy accounts. It polls
// indefinitely while none are eligible: per §8's boundary behavior, a
// job with a single flood-waited account pauses until flood_until
// passes rather than failing.
type Iterator struct {
	pool      *Pool
	jobID     string
	accountIDs []string
	next      int
}

// NewIterator returns a round-robin Iterator over accountIDs for jobID.
func (p *Pool) NewIterator(jobID string, accountIDs []string) *Iterator {
	ids := make([]string, len(accountIDs))
	copy(ids, accountIDs)
	return &Iterator{pool: p, jobID: jobID, accountIDs: ids}
}

// eligibilityPollInterval is how often Next rechecks eligibility while
// waiting.
const eligibilityPollInterval = 250 * time.Millisecond

// Next returns the next eligible account id, blocking indefinitely
// while none are eligible. It only returns an error when the caller's
// context is canceled (e.g. the worker was stopped or the process is
// shutting down) or the iterator was built with no accounts at all;
// running out of eligibility never does. A flood-wait clears on its
// own; a job-unhealth mark is never cleared, so Next keeps waiting
// while every account is unhealthy for the job.
func (it *Iterator) Next(ctx context.Context) (string, error) {
	if len(it.accountIDs) == 0 {
		return "", fmt.Errorf("pool: iterator has no accounts configured")
	}

	ticker := time.NewTicker(eligibilityPollInterval)
	defer ticker.Stop()

	var nextLogAt time.Time
	for {
		if id, ok := it.tryOnePass(); ok {
			return id, nil
		}
		if now := time.Now(); !now.Before(nextLogAt) {
			slog.Debug("pool: no account eligible yet, still waiting", "job_id", it.jobID)
			nextLogAt = now.Add(maxEligibilityWait)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// tryOnePass scans accountIDs once starting after the last returned
// index, returning the first eligible id found.
func (it *Iterator) tryOnePass() (string, bool) {
	n := len(it.accountIDs)
	for i := 0; i < n; i++ {
		idx := (it.next + i) % n
		id := it.accountIDs[idx]

		if !it.pool.IsHealthy(id, it.jobID) {
			continue
		}
		if it.pool.governor != nil && !it.pool.governor.Eligible(id) {
			continue
		}
		if _, ok := it.pool.GetHandle(id); !ok {
			continue
		}

		it.next = (idx + 1) % n
		return id, true
	}
	return "", false
}
