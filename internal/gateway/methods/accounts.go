package methods

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/relaycrew/chatrelay/internal/accounts"
	"github.com/relaycrew/chatrelay/internal/gateway"
	"github.com/relaycrew/chatrelay/pkg/protocol"
)

// AccountsMethods handles account CRUD and the QR pairing RPC.
type AccountsMethods struct {
	store  accounts.Store
	auth   *accounts.Authenticator
	pairer accounts.QRConnector
}

// NewAccountsMethods creates a handler for accounts.* methods. pairer
// is the QRConnector used for accounts.pairing.start; pass nil when no
// wired Transport supports out-of-band pairing (true of telegrambot,
// the bot-token transport this module ships, which authenticates via
// the `chatrelay accounts login` command instead) — handlePairingStart then answers with an
// explicit error rather than accepting a request it can't fulfill.
func NewAccountsMethods(store accounts.Store, auth *accounts.Authenticator, pairer accounts.QRConnector) *AccountsMethods {
	return &AccountsMethods{store: store, auth: auth, pairer: pairer}
}

// Register wires every accounts.* method into router.
func (m *AccountsMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodAccountsList, m.handleList)
	router.Register(protocol.MethodAccountsCreate, m.handleCreate)
	router.Register(protocol.MethodAccountsPairingStart, m.handlePairingStart)
}

func (m *AccountsMethods) handleList(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	list, err := m.store.List()
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, "failed to list accounts"))
		return
	}

	result := make([]map[string]any, 0, len(list))
	for _, a := range list {
		result = append(result, map[string]any{
			"id":          a.ID,
			"name":        a.Name,
			"status":      a.Status,
			"last_active": a.LastActive,
		})
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"accounts": result}))
}

func (m *AccountsMethods) handleCreate(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params struct {
		ID                    string `json:"id"`
		Name                  string `json:"name"`
		AppID                 string `json:"app_id"`
		AppHash               string `json:"app_hash"`
		Phone                 string `json:"phone"`
		SessionBlobPlaintext  string `json:"session_blob"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}
	if params.ID == "" {
		params.ID = uuid.NewString()
	}

	acct := accounts.Account{
		ID:        params.ID,
		Name:      params.Name,
		AppID:     params.AppID,
		AppHash:   params.AppHash,
		Phone:     params.Phone,
		Status:    accounts.StatusCreated,
		CreatedAt: time.Now(),
	}
	if err := m.store.Create(acct); err != nil {
		slog.Error("accounts.create", "error", err)
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrConflict, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]string{"id": acct.ID, "status": string(acct.Status)}))
}

func (m *AccountsMethods) handlePairingStart(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	if m.pairer == nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "this deployment has no QR-pairing transport configured"))
		return
	}

	var params struct {
		AccountID string `json:"account_id"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}

	acct, err := m.store.Get(params.AccountID)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, "account not found"))
		return
	}

	// ACK immediately; QR codes and the final result arrive as events.
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]string{"status": "started"}))

	go func() {
		pairCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		if _, err := m.auth.AuthenticatePairing(pairCtx, acct, m.pairer, false); err != nil {
			slog.Warn("accounts.pairing.start failed", "account_id", acct.ID, "error", err)
		}
	}()
}
