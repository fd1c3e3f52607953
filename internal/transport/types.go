// Package transport defines the narrow capability the Forwarding Engine
// consumes from the messaging service: connect, iterate a chat's
// message history, send text or media, resolve a chat reference, and
// classify the errors the service can return.
//
// The interface is deliberately opaque to any particular wire protocol
// (Bot API, MTProto, or otherwise); concrete adapters live in sibling
// packages (telegrambot, memtransport).
package transport

import (
	"context"
	"iter"
)

// EntityKind discriminates what a resolved Entity actually is.
type EntityKind string

const (
	EntityBroadcast EntityKind = "broadcast-channel"
	EntityGroup     EntityKind = "group"
	EntitySupergroup EntityKind = "supergroup"
)

// Entity is an immutable snapshot of a resolved chat reference.
type Entity struct {
	ID           int64
	Title        string
	Kind         EntityKind
	IsForum      bool
	LinkedChatID int64 // 0 = none
}

// GeneralTopicID is the fixed topic id used for forum targets absent
// any richer topic-resolution extension (§4.1 open question d).
const GeneralTopicID = 1

// MessageKind tags the payload carried by a Message.
type MessageKind string

const (
	KindEmpty    MessageKind = "empty"
	KindTextOnly MessageKind = "text"
	KindPhoto    MessageKind = "photo"
	KindDocument MessageKind = "document"
)

// Message is a single item in a chat's chronological history.
// Only one of the Kind-specific fields is meaningful at a time.
type Message struct {
	ID   int64
	Kind MessageKind

	Text string // TextOnly, and the caption for Photo/Document

	// MediaRef is an opaque handle (e.g. a Bot API file_id) that lets
	// the target Transport copy media server-side without a local
	// download. Implementations that cannot express that fall back to
	// download-then-upload internally; the contract seen by the
	// engine is identical either way.
	MediaRef string

	// DocumentMIME and DocumentExt are populated for Kind == KindDocument.
	DocumentMIME string
	DocumentExt  string // lowercase, no dot
}

// SendTarget names where a message should land, including optional
// forum-topic routing.
type SendTarget struct {
	ChatID  int64
	TopicID int // 0 = no topic
}

// Ack acknowledges a successful send.
type Ack struct {
	MessageID int64
}

// ErrorKind is the small taxonomy of errors a Transport can return (§7).
type ErrorKind string

const (
	ErrFloodWait             ErrorKind = "flood_wait"
	ErrWritePermissionDenied ErrorKind = "write_permission_denied"
	ErrNotFound              ErrorKind = "not_found"
	ErrPrivateForbidden      ErrorKind = "private_forbidden"
	ErrNotAuthorized         ErrorKind = "not_authorized"
	ErrTransient             ErrorKind = "transient"
	ErrUnexpected            ErrorKind = "unexpected"
)

// Error is the structured error type every Transport method returns on
// failure. FloodWaitSeconds is only meaningful when Kind == ErrFloodWait.
type Error struct {
	Kind             ErrorKind
	FloodWaitSeconds int
	Err              error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with the given classification.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// NewFloodWait builds a flood-wait error carrying the server-indicated
// minimum wait in seconds.
func NewFloodWait(seconds int) *Error {
	return &Error{Kind: ErrFloodWait, FloodWaitSeconds: seconds}
}

// AsTransportError extracts a *Error from err, if any.
func AsTransportError(err error) (*Error, bool) {
	te, ok := err.(*Error)
	return te, ok
}

// ChatRef identifies a source or target chat before resolution: either
// a numeric id, a public @handle, or a t.me/... deep link.
type ChatRef string

// Handle is a live, connected per-account transport. It is not safe
// for concurrent Send calls from multiple callers — the Account Pool
// is responsible for serializing sends per handle.
type Handle interface {
	// AccountID identifies which account this handle belongs to.
	AccountID() string

	// ResolveEntity resolves a chat reference to an immutable Entity snapshot.
	ResolveEntity(ctx context.Context, ref ChatRef) (Entity, error)

	// IterateMessagesAscending yields messages from entity in strictly
	// increasing id order, starting with the first id strictly greater
	// than afterID. The sequence is a Go 1.23 iterator; ranging over it
	// stops cleanly when the caller's loop body returns early (e.g. once
	// a fetch window's worth of messages has been read).
	IterateMessagesAscending(ctx context.Context, entity Entity, afterID int64) iter.Seq2[Message, error]

	// SendText sends a text message to target.
	SendText(ctx context.Context, target SendTarget, text string) (Ack, error)

	// SendFile sends mediaRef (with caption) to target, using a
	// server-side copy where the underlying protocol supports it.
	SendFile(ctx context.Context, target SendTarget, mediaRef, caption string, documentMIME string) (Ack, error)

	// Close releases any resources (connections, goroutines) held by the handle.
	Close() error
}

// Connector establishes live Handles from Account credentials. It is
// the one part of Transport that is account-shaped rather than
// handle-shaped, because connecting is what turns an Account into a
// Handle in the first place.
type Connector interface {
	// Connect establishes a live connection using the account's stored
	// session blob. It must verify authorization before returning
	// success; on failure due to an invalid/expired session it returns
	// an *Error with Kind == ErrNotAuthorized.
	Connect(ctx context.Context, accountID, appID, appHash, sessionBlob string) (Handle, error)
}
