package protocol

import "encoding/json"

// RPC method name constants for the Control API and request/response
// frame shapes that carry them over the subscriber WebSocket.

// RequestFrame is sent by a client to invoke a Control API method.
// Params carries the method's arguments as a raw, not-yet-decoded JSON
// object; each method handler unmarshals it into its own params struct.
type RequestFrame struct {
	Type   FrameType       `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame answers a RequestFrame by ID.
type ResponseFrame struct {
	Type   FrameType `json:"type"`
	ID     string    `json:"id"`
	OK     bool      `json:"ok"`
	Result any       `json:"result,omitempty"`
	Error  *APIError `json:"error,omitempty"`
}

// APIError is the structured error carried by a ResponseFrame.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for APIError.Code.
const (
	ErrInvalidRequest = "invalid_request"
	ErrNotFound       = "not_found"
	ErrConflict       = "conflict"
	ErrInternal       = "internal"
)

// NewOKResponse builds a successful ResponseFrame.
func NewOKResponse(id string, result any) *ResponseFrame {
	return &ResponseFrame{Type: FrameTypeResponse, ID: id, OK: true, Result: result}
}

// NewErrorResponse builds a failed ResponseFrame.
func NewErrorResponse(id, code, message string) *ResponseFrame {
	return &ResponseFrame{Type: FrameTypeResponse, ID: id, OK: false, Error: &APIError{Code: code, Message: message}}
}

// Job CRUD + lifecycle methods.
const (
	MethodJobsCreate = "jobs.create"
	MethodJobsStart  = "jobs.start"
	MethodJobsStop   = "jobs.stop"
	MethodJobsDelete = "jobs.delete"
	MethodJobsGet    = "jobs.get"
	MethodJobsList   = "jobs.list"
)

// Account lifecycle methods.
const (
	MethodAccountsList         = "accounts.list"
	MethodAccountsCreate       = "accounts.create"
	MethodAccountsPairingStart = "accounts.pairing.start"
)

// System methods.
const (
	MethodHealth = "health"
	MethodStats  = "stats"
)
