package methods

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaycrew/chatrelay/internal/accounts"
	"github.com/relaycrew/chatrelay/internal/bus"
	"github.com/relaycrew/chatrelay/internal/config"
	"github.com/relaycrew/chatrelay/internal/filter"
	"github.com/relaycrew/chatrelay/internal/gateway"
	"github.com/relaycrew/chatrelay/internal/pool"
	"github.com/relaycrew/chatrelay/internal/ratelimit"
	"github.com/relaycrew/chatrelay/internal/store"
	"github.com/relaycrew/chatrelay/internal/store/file"
	"github.com/relaycrew/chatrelay/internal/supervisor"
	"github.com/relaycrew/chatrelay/internal/transport"
	"github.com/relaycrew/chatrelay/internal/transport/memtransport"
	"github.com/relaycrew/chatrelay/internal/worker"
	"github.com/relaycrew/chatrelay/pkg/protocol"
)

type fixedResolver struct{ h transport.Handle }

func (f fixedResolver) AnyHandle() (transport.Handle, bool) { return f.h, f.h != nil }

// newTestHarness wires a real gateway.Server with JobsMethods and
// AccountsMethods registered, backed by the file store and memtransport,
// mirroring supervisor_test.go's fixture but reachable over a live
// WebSocket connection.
func newTestHarness(t *testing.T) (*websocket.Conn, accounts.Store) {
	t.Helper()
	mstore := memtransport.NewStore()
	mstore.AddChat("source", memtransport.Chat{Entity: transport.Entity{ID: 1}})
	mstore.AddChat("target", memtransport.Chat{Entity: transport.Entity{ID: 2}})

	gov := ratelimit.NewGovernor(600)
	p := pool.NewPool(gov)
	handle := memtransport.NewHandle(mstore, "acct-a")
	p.Add(handle)

	fs, err := file.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("file.NewStore: %v", err)
	}

	policies := map[string]filter.Policy{}
	factory := func(job store.Job, policy filter.Policy, anyHandle transport.Handle) *worker.Worker {
		return worker.New(job, policy, fs.Progress(), p, gov, bus.New(), anyHandle)
	}
	sv := supervisor.New(fs.Jobs(), policies, p, bus.New(), factory, fixedResolver{handle})

	cfg := &config.Config{Gateway: config.GatewayConfig{ListenAddr: ":0"}}
	s := gateway.NewServer(cfg, bus.New(), sv)
	NewJobsMethods(sv).Register(s.Router())
	NewAccountsMethods(fs.Accounts(), nil, nil).Register(s.Router())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	addr, start := gateway.StartTestServer(s, ctx)
	go start()
	time.Sleep(50 * time.Millisecond)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, fs.Accounts()
}

func call(t *testing.T, conn *websocket.Conn, id, method string, params any) protocol.ResponseFrame {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	req := protocol.RequestFrame{Type: protocol.FrameTypeRequest, ID: id, Method: method, Params: raw}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp protocol.ResponseFrame
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	return resp
}

func TestJobsCreateGeneratesIDWhenOmitted(t *testing.T) {
	conn, _ := newTestHarness(t)

	resp := call(t, conn, "1", protocol.MethodJobsCreate, map[string]any{
		"source_ref":  "source",
		"target_ref":  "target",
		"account_ids": []string{"acct-a"},
	})
	if !resp.OK {
		t.Fatalf("expected ok, got %+v", resp)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("unexpected result shape: %+v", resp.Result)
	}
	// store.Job carries no json tags, so its ID field marshals as "ID".
	if result["ID"] == "" || result["ID"] == nil {
		t.Fatal("expected a generated job id")
	}
}

func TestJobsCreateStartListRoundTrip(t *testing.T) {
	conn, _ := newTestHarness(t)

	createResp := call(t, conn, "1", protocol.MethodJobsCreate, map[string]any{
		"id":          "job-1",
		"source_ref":  "source",
		"target_ref":  "target",
		"account_ids": []string{"acct-a"},
		"filter_policy": map[string]any{
			"all_media": true,
		},
	})
	if !createResp.OK {
		t.Fatalf("create: expected ok, got %+v", createResp)
	}

	startResp := call(t, conn, "2", protocol.MethodJobsStart, map[string]string{"id": "job-1"})
	if !startResp.OK {
		t.Fatalf("start: expected ok, got %+v", startResp)
	}

	listResp := call(t, conn, "3", protocol.MethodJobsList, nil)
	if !listResp.OK {
		t.Fatalf("list: expected ok, got %+v", listResp)
	}
}

func TestJobsCreateRejectsMissingRequiredFields(t *testing.T) {
	conn, _ := newTestHarness(t)

	resp := call(t, conn, "1", protocol.MethodJobsCreate, map[string]any{"id": "job-1"})
	if resp.OK || resp.Error == nil || resp.Error.Code != protocol.ErrInvalidRequest {
		t.Fatalf("expected invalid_request error, got %+v", resp)
	}
}

func TestAccountsCreateGeneratesIDWhenOmitted(t *testing.T) {
	conn, acctStore := newTestHarness(t)

	resp := call(t, conn, "1", protocol.MethodAccountsCreate, map[string]any{"name": "demo"})
	if !resp.OK {
		t.Fatalf("expected ok, got %+v", resp)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok || result["id"] == "" {
		t.Fatalf("expected a generated account id, got %+v", resp.Result)
	}

	accts, err := acctStore.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(accts) != 1 {
		t.Fatalf("expected one persisted account, got %d", len(accts))
	}
}

func TestAccountsPairingStartWithoutPairerFails(t *testing.T) {
	conn, _ := newTestHarness(t)

	resp := call(t, conn, "1", protocol.MethodAccountsPairingStart, map[string]string{"account_id": "acct-a"})
	if resp.OK || resp.Error == nil || resp.Error.Code != protocol.ErrInvalidRequest {
		t.Fatalf("expected invalid_request error, got %+v", resp)
	}
}
