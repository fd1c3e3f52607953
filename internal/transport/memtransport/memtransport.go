// Package memtransport is a deterministic in-memory Transport used by
// worker/supervisor tests and local demos. It holds a fixed message
// stream per entity and lets tests inject flood-wait, permission, and
// transient failures on specific accounts.
package memtransport

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/relaycrew/chatrelay/internal/transport"
)

// Chat is a canned source or target chat.
type Chat struct {
	Entity   transport.Entity
	Messages []transport.Message // must be sorted ascending by ID
}

// SentCall records one accepted SendText/SendFile invocation, for
// assertions in tests (the real Transport contract carries no source
// message id, so tests correlate by Text/Caption content instead).
type SentCall struct {
	AccountID string
	Target    transport.SendTarget
	Text      string // Text for SendText, Caption for SendFile
	IsFile    bool
}

// Store is the shared, in-memory backing for one or more Handles. Tests
// construct one Store, register chats on it, then call NewHandle per
// account to get a transport.Handle.
type Store struct {
	mu sync.Mutex

	chats map[transport.ChatRef]Chat
	sent  []SentCall

	// floodAccounts: accountID -> remaining triggers; each send on that
	// account consumes one trigger and fails with FloodWait(seconds)
	// until exhausted.
	floodAccounts map[string]floodInjection

	// deniedAccounts makes every send on that account fail with
	// WritePermissionDenied.
	deniedAccounts map[string]bool

	// transientRemaining: accountID -> remaining Transient failures.
	transientRemaining map[string]int
}

type floodInjection struct {
	remaining int
	seconds   int
}

// NewStore creates an empty in-memory transport backing.
func NewStore() *Store {
	return &Store{
		chats:               make(map[transport.ChatRef]Chat),
		floodAccounts:       make(map[string]floodInjection),
		deniedAccounts:      make(map[string]bool),
		transientRemaining:  make(map[string]int),
	}
}

// AddChat registers a resolvable chat with a canned message history.
func (s *Store) AddChat(ref transport.ChatRef, chat Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[ref] = chat
}

// InjectFloodWait makes the next n send attempts on accountID fail with
// FloodWait(seconds).
func (s *Store) InjectFloodWait(accountID string, n, seconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.floodAccounts[accountID] = floodInjection{remaining: n, seconds: seconds}
}

// DenyAccount makes every send on accountID fail with WritePermissionDenied.
func (s *Store) DenyAccount(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deniedAccounts[accountID] = true
}

// InjectTransient makes the next n send attempts on accountID fail with Transient.
func (s *Store) InjectTransient(accountID string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transientRemaining[accountID] = n
}

// Sent returns a copy of all accepted sends so far, in order.
func (s *Store) Sent() []SentCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SentCall, len(s.sent))
	copy(out, s.sent)
	return out
}

// Handle is a transport.Handle backed by a Store.
type Handle struct {
	store     *Store
	accountID string
}

// NewHandle returns a Handle for accountID backed by store. Connect is
// a no-op for the in-memory transport: the Store stands in for it.
func NewHandle(store *Store, accountID string) *Handle {
	return &Handle{store: store, accountID: accountID}
}

func (h *Handle) AccountID() string { return h.accountID }

func (h *Handle) ResolveEntity(_ context.Context, ref transport.ChatRef) (transport.Entity, error) {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	chat, ok := h.store.chats[ref]
	if !ok {
		return transport.Entity{}, transport.NewError(transport.ErrNotFound, fmt.Errorf("chat %q not registered", ref))
	}
	return chat.Entity, nil
}

func (h *Handle) IterateMessagesAscending(_ context.Context, entity transport.Entity, afterID int64) iter.Seq2[transport.Message, error] {
	return func(yield func(transport.Message, error) bool) {
		h.store.mu.Lock()
		var msgs []transport.Message
		for _, chat := range h.store.chats {
			if chat.Entity.ID == entity.ID {
				msgs = chat.Messages
				break
			}
		}
		h.store.mu.Unlock()

		for _, m := range msgs {
			if m.ID <= afterID {
				continue
			}
			if !yield(m, nil) {
				return
			}
		}
	}
}

func (h *Handle) SendText(_ context.Context, target transport.SendTarget, text string) (transport.Ack, error) {
	if err := h.checkInjections(); err != nil {
		return transport.Ack{}, err
	}
	h.record(target, text, false)
	return transport.Ack{}, nil
}

func (h *Handle) SendFile(_ context.Context, target transport.SendTarget, _ string, caption string, _ string) (transport.Ack, error) {
	if err := h.checkInjections(); err != nil {
		return transport.Ack{}, err
	}
	h.record(target, caption, true)
	return transport.Ack{}, nil
}

func (h *Handle) checkInjections() error {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()

	if h.store.deniedAccounts[h.accountID] {
		return transport.NewError(transport.ErrWritePermissionDenied, fmt.Errorf("account %s cannot post to target", h.accountID))
	}
	if fi, ok := h.store.floodAccounts[h.accountID]; ok && fi.remaining > 0 {
		fi.remaining--
		h.store.floodAccounts[h.accountID] = fi
		return transport.NewFloodWait(fi.seconds)
	}
	if n, ok := h.store.transientRemaining[h.accountID]; ok && n > 0 {
		h.store.transientRemaining[h.accountID] = n - 1
		return transport.NewError(transport.ErrTransient, fmt.Errorf("transient blip"))
	}
	return nil
}

func (h *Handle) record(target transport.SendTarget, text string, isFile bool) {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	h.store.sent = append(h.store.sent, SentCall{AccountID: h.accountID, Target: target, Text: text, IsFile: isFile})
}

func (h *Handle) Close() error { return nil }
