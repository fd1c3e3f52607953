package methods

import (
	"context"

	"github.com/relaycrew/chatrelay/internal/gateway"
	"github.com/relaycrew/chatrelay/pkg/protocol"
)

// SystemMethods handles the health RPC (the WebSocket-reachable
// counterpart of the /health HTTP route, for clients that only speak
// the Control API protocol).
type SystemMethods struct{}

// NewSystemMethods creates a handler for the health method.
func NewSystemMethods() *SystemMethods { return &SystemMethods{} }

// Register wires the health method into router.
func (m *SystemMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodHealth, m.handleHealth)
}

func (m *SystemMethods) handleHealth(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]string{"status": "ok"}))
}
