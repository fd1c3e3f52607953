// Package worker implements the Forwarding Worker: the per-job state
// machine that fetches source messages in ascending id order, filters
// them, dispatches sends through the Account Pool and Rate Governor,
// checkpoints the Progress Store, and publishes to the Observer Bus.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/relaycrew/chatrelay/internal/bus"
	"github.com/relaycrew/chatrelay/internal/filter"
	"github.com/relaycrew/chatrelay/internal/pool"
	"github.com/relaycrew/chatrelay/internal/ratelimit"
	"github.com/relaycrew/chatrelay/internal/store"
	"github.com/relaycrew/chatrelay/internal/transport"
)

// transientRetryBound is how many send attempts, across accounts, a
// single message gets on Transient errors before it is marked failed
// and the cursor advances past it anyway.
const transientRetryBound = 3

// consecutiveFailureLimit is how many transient-exhausted messages in a
// row fail the whole job.
const consecutiveFailureLimit = 5

// minFetchWindow/maxFetchWindow bound the random per-fetch batch size B.
const (
	minFetchWindow = 5
	maxFetchWindow = 15
)

// Worker runs one job's fetch/filter/send/checkpoint loop to
// completion, stop, or failure. It never parallelizes its own loop:
// sends within a job are strictly ordered by source message id.
type Worker struct {
	job      store.Job
	policy   filter.Policy
	progress store.ProgressStore
	pool     *pool.Pool
	governor *ratelimit.Governor
	bus      bus.EventPublisher
	source   transport.Handle // any live handle, used to resolve entities and read the source history

	stopCh chan struct{}
	stopped bool

	cursor               store.Cursor
	sourceEntity         transport.Entity
	sendTarget           transport.SendTarget
	consecutiveSuccesses int
	consecutiveFailures  int
}

// New builds a Worker for job, ready to Run.
func New(job store.Job, policy filter.Policy, progress store.ProgressStore, p *pool.Pool, governor *ratelimit.Governor, b bus.EventPublisher, anyHandle transport.Handle) *Worker {
	return &Worker{
		job:      job,
		policy:   policy,
		progress: progress,
		pool:     p,
		governor: governor,
		bus:      b,
		source:   anyHandle,
		stopCh:   make(chan struct{}),
	}
}

// Stop requests cooperative shutdown; idempotent.
func (w *Worker) Stop() {
	if w.stopped {
		return
	}
	w.stopped = true
	close(w.stopCh)
}

func (w *Worker) stopRequested() bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

// Run executes initialization then the main loop, returning the job's
// terminal status.
func (w *Worker) Run(ctx context.Context) (store.JobStatus, error) {
	if err := w.initialize(ctx); err != nil {
		w.logf(store.LogError, "init failed: %v", err)
		return store.JobFailed, err
	}

	for {
		if w.stopRequested() {
			_ = w.progress.AdvanceLastID(w.job.ID, w.cursor.LastID)
			w.publish("status_change", map[string]string{"status": string(store.JobStopped)})
			return store.JobStopped, nil
		}

		advanced, status, err := w.runOneFetchWindow(ctx)
		if err != nil {
			w.publish("status_change", map[string]string{"status": string(store.JobFailed)})
			return store.JobFailed, err
		}
		if status != "" {
			w.publish("status_change", map[string]string{"status": string(status)})
			return status, nil
		}
		if !advanced {
			w.publish("completed", map[string]string{"job_id": w.job.ID})
			return store.JobCompleted, nil
		}
	}
}

// initialize performs the three documented startup steps: load (or
// reset) the cursor, resolve source/target entities once, and
// pre-flight every assigned account.
func (w *Worker) initialize(ctx context.Context) error {
	if w.job.ResetProgress {
		if err := w.progress.Reset(w.job.ID); err != nil {
			return fmt.Errorf("worker: reset cursor: %w", err)
		}
	}
	cursor, err := w.progress.Load(w.job.ID)
	if err != nil {
		return fmt.Errorf("worker: load cursor: %w", err)
	}
	w.cursor = cursor

	sourceEntity, err := w.source.ResolveEntity(ctx, transport.ChatRef(w.job.SourceRef))
	if err != nil {
		return fmt.Errorf("worker: resolve source: %w", err)
	}
	w.sourceEntity = sourceEntity

	targetEntity, err := w.source.ResolveEntity(ctx, transport.ChatRef(w.job.TargetRef))
	if err != nil {
		return fmt.Errorf("worker: resolve target: %w", err)
	}
	w.sendTarget = resolveSendTarget(ctx, w.source, targetEntity)

	w.preflight(ctx)
	return nil
}

// resolveSendTarget implements the forum-topic routing rule: a
// broadcast channel with a linked forum discussion group sends into
// that group's General topic; a forum group sends into its own General
// topic; anything else gets no topic id.
func resolveSendTarget(ctx context.Context, h transport.Handle, target transport.Entity) transport.SendTarget {
	if target.Kind == transport.EntityBroadcast && target.LinkedChatID != 0 {
		linkedRef := transport.ChatRef(fmt.Sprintf("%d", target.LinkedChatID))
		if linked, err := h.ResolveEntity(ctx, linkedRef); err == nil && linked.IsForum {
			return transport.SendTarget{ChatID: linked.ID, TopicID: transport.GeneralTopicID}
		}
		return transport.SendTarget{ChatID: target.LinkedChatID}
	}
	if target.IsForum {
		return transport.SendTarget{ChatID: target.ID, TopicID: transport.GeneralTopicID}
	}
	return transport.SendTarget{ChatID: target.ID}
}

// preflight attempts a minimal send to the target on every account
// assigned to the job; accounts that fail with a permission error are
// marked unhealthy for this job only. Pre-flight sends genuinely
// deliver a message (no side-channel "dry run" exists in the Transport
// contract) — jobs should budget for one throwaway send per account.
func (w *Worker) preflight(ctx context.Context) {
	for _, accountID := range w.job.AccountIDs {
		err := w.pool.WithHandle(accountID, func(h transport.Handle) error {
			_, sendErr := h.SendText(ctx, w.sendTarget, "")
			return sendErr
		})
		if te, ok := transport.AsTransportError(err); ok && te.Kind == transport.ErrWritePermissionDenied {
			w.pool.MarkUnhealthy(accountID, w.job.ID, te.Error())
		}
	}
}

// runOneFetchWindow fetches one batch of size B and processes it.
// advanced reports whether any new message (beyond what was already
// fully accounted for) was seen; status is non-empty only when the
// job reached a terminal state mid-window (Failed).
func (w *Worker) runOneFetchWindow(ctx context.Context) (advanced bool, status store.JobStatus, err error) {
	windowSize := minFetchWindow + rand.IntN(maxFetchWindow-minFetchWindow+1)

	iter := w.source.IterateMessagesAscending(ctx, w.sourceEntity, w.cursor.LastID)
	seen := 0
	for msg, iterErr := range iter {
		if iterErr != nil {
			return advanced, "", fmt.Errorf("worker: iterate messages: %w", iterErr)
		}
		if seen >= windowSize {
			break
		}
		seen++
		advanced = true

		if w.stopRequested() {
			break
		}

		if msg.ID <= w.cursor.LastID || w.cursor.Delivered[msg.ID] {
			continue
		}

		if filter.Decide(msg, w.policy) == filter.Drop {
			w.cursor.LastID = msg.ID
			_ = w.progress.AdvanceLastID(w.job.ID, msg.ID)
			w.logf(store.LogInfo, "skipped message %d (filtered)", msg.ID)
			continue
		}

		terminal, werr := w.dispatch(ctx, msg)
		if werr != nil {
			return advanced, "", werr
		}
		if terminal != "" {
			return advanced, terminal, nil
		}
	}
	return advanced, "", nil
}

// dispatch sends one message, retrying across accounts per the
// documented error handling, and returns a non-empty terminal status
// only if this message's outcome fails the whole job.
func (w *Worker) dispatch(ctx context.Context, msg transport.Message) (store.JobStatus, error) {
	it := w.pool.NewIterator(w.job.ID, w.job.AccountIDs)
	transientAttempts := 0

	for {
		if w.stopRequested() {
			return "", nil
		}

		healthy := false
		for _, id := range w.job.AccountIDs {
			if w.pool.IsHealthy(id, w.job.ID) {
				healthy = true
				break
			}
		}
		if !healthy {
			return store.JobFailed, fmt.Errorf("worker: no account of job %s can post to the target", w.job.ID)
		}

		accountID, err := it.Next(ctx)
		if err != nil {
			if w.stopRequested() || ctx.Err() != nil {
				return "", nil
			}
			return store.JobFailed, fmt.Errorf("worker: no eligible account: %w", err)
		}

		if wait, ok := w.governor.Acquire(accountID, w.job.Rate.MaxPerMinutePerAccount); !ok {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", ctx.Err()
			case <-w.stopCh:
				return "", nil
			}
			continue
		}

		ack, sendErr := w.send(ctx, accountID, msg)
		if sendErr == nil {
			_ = ack
			w.onSendSuccess(msg.ID)
			return "", nil
		}

		te, ok := transport.AsTransportError(sendErr)
		if !ok {
			return store.JobFailed, sendErr
		}

		switch te.Kind {
		case transport.ErrFloodWait:
			w.governor.NoteFloodWait(accountID, te.FloodWaitSeconds)
			w.publish("flood_wait", map[string]any{"account_id": accountID, "seconds": te.FloodWaitSeconds})
			continue

		case transport.ErrWritePermissionDenied:
			w.pool.MarkUnhealthy(accountID, w.job.ID, te.Error())
			continue

		case transport.ErrTransient:
			transientAttempts++
			if transientAttempts < transientRetryBound {
				continue
			}
			return w.onMessageFailed(msg.ID)

		default:
			return store.JobFailed, te
		}
	}
}

// send performs the actual SendText/SendFile call per the Filter's
// verdict, serialized through the Account Pool's per-handle mutex.
func (w *Worker) send(ctx context.Context, accountID string, msg transport.Message) (transport.Ack, error) {
	var ack transport.Ack
	err := w.pool.WithHandle(accountID, func(h transport.Handle) error {
		var sendErr error
		switch filter.Decide(msg, w.policy) {
		case filter.ForwardAsText:
			ack, sendErr = h.SendText(ctx, w.sendTarget, msg.Text)
		case filter.ForwardAsMedia:
			ack, sendErr = h.SendFile(ctx, w.sendTarget, msg.MediaRef, msg.Text, msg.DocumentMIME)
		}
		return sendErr
	})
	return ack, err
}

func (w *Worker) onSendSuccess(msgID int64) {
	if w.cursor.Delivered == nil {
		w.cursor.Delivered = make(map[int64]bool)
	}
	w.cursor.Delivered[msgID] = true
	w.cursor.LastID = msgID
	_ = w.progress.Append(w.job.ID, msgID, msgID)

	w.publish("progress", map[string]any{"message_id": msgID})
	w.consecutiveSuccesses++
	w.consecutiveFailures = 0

	delay, _ := ratelimit.DynamicDelay(baseDelay(w.job.Rate), w.consecutiveSuccesses, false)
	time.Sleep(delay)
}

// onMessageFailed marks a transient-exhausted message failed: the
// cursor still advances past it (conservative-skip semantics apply
// only to re-delivery, not to permanent give-up), and the consecutive
// failure counter may fail the whole job.
func (w *Worker) onMessageFailed(msgID int64) (store.JobStatus, error) {
	w.cursor.LastID = msgID
	_ = w.progress.AdvanceLastID(w.job.ID, msgID)
	w.logf(store.LogError, "message %d failed after %d transient attempts", msgID, transientRetryBound)

	w.consecutiveFailures++
	w.consecutiveSuccesses = 0
	if w.consecutiveFailures >= consecutiveFailureLimit {
		return store.JobFailed, fmt.Errorf("worker: %d consecutive message failures", w.consecutiveFailures)
	}
	return "", nil
}

func baseDelay(rp store.RateParams) time.Duration {
	if rp.InterMessageDelaySeconds <= 0 {
		return time.Second
	}
	return time.Duration(rp.InterMessageDelaySeconds) * time.Second
}

func (w *Worker) publish(name string, payload any) {
	if w.bus == nil {
		return
	}
	w.bus.Broadcast(bus.Event{Name: name, JobID: w.job.ID, Payload: payload})
}

func (w *Worker) logf(level store.LogLevel, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	slog.Debug("worker log", "job_id", w.job.ID, "level", level, "msg", msg)
	w.publish("log", map[string]any{"level": level, "message": msg})
}

// newTransientBackoff mirrors the exponential-backoff shape used
// elsewhere in this corpus for transient-error retry pacing. Nothing
// calls it: the in-loop accountwise retry above is bounded and
// immediate, and no other package can reach this unexported helper.
func newTransientBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 60 * time.Second
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.2
	b.Reset()
	return b
}
