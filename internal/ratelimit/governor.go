// Package ratelimit implements the Rate Governor: a per-account
// token-bucket cap plus a flood-wait calendar, and the dynamic
// post-send delay heuristic the Forwarding Worker uses to pace sends.
package ratelimit

import (
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// floodJitterMin/Max bound the random jitter added on top of a
// server-signaled flood wait, so jobs sharing an account don't all
// retry at the exact same instant.
const (
	floodJitterMin = 2 * time.Second
	floodJitterMax = 7 * time.Second
)

type accountState struct {
	limiter    *rate.Limiter
	floodUntil time.Time
}

// Governor grants per-account send permission under a per-minute cap
// and tracks server-signaled flood-wait back-off. It is safe for
// concurrent use by multiple job workers sharing an account.
type Governor struct {
	mu       sync.Mutex
	accounts map[string]*accountState

	// perMinute is the default cap applied to accounts with no
	// job-specific override; a job's cap is passed to Acquire as
	// perMinuteOverride and takes effect only when that account's
	// limiter is first created.
	perMinute int
}

// NewGovernor builds a Governor with the given default messages-per-minute cap.
func NewGovernor(perMinute int) *Governor {
	return &Governor{
		accounts:  make(map[string]*accountState),
		perMinute: perMinute,
	}
}

func (g *Governor) stateFor(accountID string, perMinuteOverride int) *accountState {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.accounts[accountID]
	if ok {
		return st
	}

	limit := g.perMinute
	if perMinuteOverride > 0 {
		limit = perMinuteOverride
	}
	st = &accountState{
		limiter: rate.NewLimiter(rate.Limit(float64(limit)/60.0), limit),
	}
	g.accounts[accountID] = st
	return st
}

// Acquire reports whether accountID may send right now. If eligible and
// under the per-minute cap it returns (0, true). Otherwise it returns
// the duration the caller must wait before retrying, and false.
func (g *Governor) Acquire(accountID string, perMinuteOverride int) (wait time.Duration, ok bool) {
	st := g.stateFor(accountID, perMinuteOverride)

	g.mu.Lock()
	floodUntil := st.floodUntil
	g.mu.Unlock()

	now := time.Now()
	if now.Before(floodUntil) {
		return floodUntil.Sub(now), false
	}

	res := st.limiter.ReserveN(now, 1)
	if !res.OK() {
		return 0, false
	}
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return d, false
	}
	return 0, true
}

// NoteFloodWait sets accountID ineligible until now + seconds + a
// random 2-7s jitter, so accounts shared by multiple jobs don't
// resynchronize their retries.
func (g *Governor) NoteFloodWait(accountID string, seconds int) {
	st := g.stateFor(accountID, 0)

	jitter := floodJitterMin + time.Duration(rand.Int64N(int64(floodJitterMax-floodJitterMin)))
	until := time.Now().Add(time.Duration(seconds)*time.Second + jitter)

	g.mu.Lock()
	if until.After(st.floodUntil) {
		st.floodUntil = until
	}
	g.mu.Unlock()
}

// FloodUntil returns the time before which accountID is ineligible due
// to a flood-wait, or the zero Value if none is in effect.
func (g *Governor) FloodUntil(accountID string) time.Time {
	st := g.stateFor(accountID, 0)
	g.mu.Lock()
	defer g.mu.Unlock()
	return st.floodUntil
}

// Eligible reports whether accountID is currently past any flood-wait.
func (g *Governor) Eligible(accountID string) bool {
	return time.Now().After(g.FloodUntil(accountID))
}
