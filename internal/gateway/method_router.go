package gateway

import (
	"context"
	"sync"

	"github.com/relaycrew/chatrelay/pkg/protocol"
)

// MethodHandler processes one RPC request frame for a connected client.
type MethodHandler func(ctx context.Context, client *Client, req *protocol.RequestFrame)

// MethodRouter dispatches incoming RequestFrames by Method name to a
// registered handler, mirroring this corpus's Register(router)
// per-feature-file wiring convention (methods/channel_instances.go).
type MethodRouter struct {
	mu       sync.RWMutex
	handlers map[string]MethodHandler
}

// NewMethodRouter creates an empty router; callers register handlers
// via Register before the server starts accepting connections.
func NewMethodRouter() *MethodRouter {
	return &MethodRouter{handlers: make(map[string]MethodHandler)}
}

// Register wires method to handler. A second Register for the same
// method name replaces the first.
func (r *MethodRouter) Register(method string, handler MethodHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[method] = handler
}

// Dispatch looks up and invokes the handler for req.Method, replying
// with ErrInvalidRequest if no handler is registered.
func (r *MethodRouter) Dispatch(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	r.mu.RLock()
	handler, ok := r.handlers[req.Method]
	r.mu.RUnlock()

	if !ok {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "unknown method: "+req.Method))
		return
	}
	handler(ctx, client, req)
}
