package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaycrew/chatrelay/internal/bus"
	"github.com/relaycrew/chatrelay/internal/config"
	"github.com/relaycrew/chatrelay/pkg/protocol"
)

func dialTestServer(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestHealthMethodRoundTrip(t *testing.T) {
	cfg := &config.Config{Gateway: config.GatewayConfig{ListenAddr: ":0"}}
	s := NewServer(cfg, bus.New(), nil)
	s.Router().Register(protocol.MethodHealth, func(ctx context.Context, c *Client, req *protocol.RequestFrame) {
		c.SendResponse(protocol.NewOKResponse(req.ID, map[string]string{"status": "ok"}))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr, start := StartTestServer(s, ctx)
	go start()
	time.Sleep(50 * time.Millisecond)

	conn := dialTestServer(t, addr)
	defer conn.Close()

	req := protocol.RequestFrame{Type: protocol.FrameTypeRequest, ID: "1", Method: protocol.MethodHealth}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write: %v", err)
	}

	var resp protocol.ResponseFrame
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !resp.OK || resp.ID != "1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestUnknownMethodReturnsError(t *testing.T) {
	cfg := &config.Config{Gateway: config.GatewayConfig{ListenAddr: ":0"}}
	s := NewServer(cfg, bus.New(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr, start := StartTestServer(s, ctx)
	go start()
	time.Sleep(50 * time.Millisecond)

	conn := dialTestServer(t, addr)
	defer conn.Close()

	req := protocol.RequestFrame{Type: protocol.FrameTypeRequest, ID: "2", Method: "no.such.method"}
	conn.WriteJSON(req)

	var resp protocol.ResponseFrame
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.OK || resp.Error == nil || resp.Error.Code != protocol.ErrInvalidRequest {
		t.Fatalf("expected invalid_request error, got %+v", resp)
	}
}

func TestBroadcastReachesSubscribedClient(t *testing.T) {
	b := bus.New()
	cfg := &config.Config{Gateway: config.GatewayConfig{ListenAddr: ":0"}}
	s := NewServer(cfg, b, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr, start := StartTestServer(s, ctx)
	go start()
	time.Sleep(50 * time.Millisecond)

	conn := dialTestServer(t, addr)
	defer conn.Close()
	time.Sleep(50 * time.Millisecond) // let the WS registration goroutine subscribe

	b.Broadcast(bus.Event{Name: "status_change", JobID: "job-1", Payload: map[string]string{"status": "running"}})

	var frame protocol.EventFrame
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read: %v", err)
	}
	if frame.Event != "status_change" || frame.JobID != "job-1" {
		t.Fatalf("unexpected event frame: %+v", frame)
	}
	raw, _ := json.Marshal(frame.Payload)
	if string(raw) != `{"status":"running"}` {
		t.Fatalf("unexpected payload: %s", raw)
	}
}
