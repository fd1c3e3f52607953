package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/relaycrew/chatrelay/pkg/protocol"
)

const (
	writeTimeout  = 10 * time.Second
	pongTimeout   = 60 * time.Second
	pingInterval  = (pongTimeout * 9) / 10
	maxFrameBytes = 1 << 20
)

// Client wraps one subscriber WebSocket connection: it reads
// RequestFrames and dispatches them through a MethodRouter, and
// serializes writes (EventFrames and ResponseFrames) onto the
// connection since gorilla/websocket forbids concurrent writers.
type Client struct {
	id     string
	conn   *websocket.Conn
	router *MethodRouter

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

// NewClient wraps an upgraded WebSocket connection for dispatch
// through router. The client id is a short-lived nanoid, not a uuid:
// it only needs to be unique among currently-connected subscribers,
// never persisted once the socket closes.
func NewClient(conn *websocket.Conn, router *MethodRouter) *Client {
	id, err := gonanoid.New(12)
	if err != nil {
		id = conn.RemoteAddr().String()
	}
	return &Client{id: id, conn: conn, router: router}
}

// ID returns the client's connection identifier (used as its bus subscription id).
func (c *Client) ID() string { return c.id }

// Run reads request frames until the connection closes or ctx is done,
// dispatching each to the router. It also drives the ping/pong
// keepalive loop. Run blocks until the connection is finished.
func (c *Client) Run(ctx context.Context) {
	c.conn.SetReadLimit(maxFrameBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	done := make(chan struct{})
	go c.pingLoop(done)
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var req protocol.RequestFrame
		if err := c.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("client read error", "id", c.id, "error", err)
			}
			return
		}
		go c.router.Dispatch(ctx, c, &req)
	}
}

func (c *Client) pingLoop(done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// SendResponse writes resp to the client, answering a prior request by ID.
func (c *Client) SendResponse(resp *protocol.ResponseFrame) {
	c.writeJSON(resp)
}

// SendEvent writes an unsolicited EventFrame to the client.
func (c *Client) SendEvent(event protocol.EventFrame) {
	c.writeJSON(&event)
}

func (c *Client) writeJSON(v any) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(v); err != nil {
		if b, mErr := json.Marshal(v); mErr == nil {
			slog.Warn("client write failed", "id", c.id, "frame", string(b), "error", err)
		}
	}
}

// Close closes the underlying connection. Safe to call more than once.
func (c *Client) Close() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.conn.Close()
}
