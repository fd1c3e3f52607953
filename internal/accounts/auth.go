package accounts

import (
	"context"
	"os"

	"github.com/mdp/qrterminal/v3"

	"github.com/relaycrew/chatrelay/internal/cryptoutil"
	"github.com/relaycrew/chatrelay/internal/transport"
)

// Publisher is the subset of the Observer Bus that accounts needs:
// broadcasting pairing progress to subscribers.
type Publisher interface {
	Broadcast(event string, payload any)
}

// QRConnector is implemented by Transports that support out-of-band
// device pairing (mirrors the zalo_personal/WhatsApp QR login pattern
// in this corpus). onQR is invoked with the provider's login code each
// time a fresh one is issued — codes expire and rotate before the user
// scans one, so callers may see it called more than once per session.
//
// No shipped Transport implements this: telegrambot authenticates with
// a bot token, not an out-of-band code. AuthenticatePairing and this
// interface are a ready extension point for a future MTProto-style
// Transport, not a wired end-to-end feature of the current binary —
// see cmd/serve.go, which passes a nil QRConnector to
// methods.NewAccountsMethods.
type QRConnector interface {
	LoginQR(ctx context.Context, accountID string, onQR func(code string)) (sessionBlob string, err error)
}

// Authenticator drives both login modes and persists the resulting
// encrypted session blob.
type Authenticator struct {
	store    Store
	registry *Registry
	sealer   *cryptoutil.Sealer
	bus      Publisher
}

// NewAuthenticator wires the collaborators an Authenticate call needs.
// bus may be nil (e.g. in offline/batch tooling) — pairing then runs
// without publishing progress events.
func NewAuthenticator(store Store, registry *Registry, sealer *cryptoutil.Sealer, bus Publisher) *Authenticator {
	return &Authenticator{store: store, registry: registry, sealer: sealer, bus: bus}
}

// AuthenticateDirect verifies app id/app hash/phone credentials already
// known for the account by connecting through connector, then persists
// the resulting session blob encrypted at rest.
func (a *Authenticator) AuthenticateDirect(ctx context.Context, acct Account, connector transport.Connector, sessionBlobPlaintext string) (transport.Handle, error) {
	if err := a.registry.Acquire(acct.ID); err != nil {
		return nil, err
	}

	handle, err := connector.Connect(ctx, acct.ID, acct.AppID, acct.AppHash, sessionBlobPlaintext)
	if err != nil {
		a.registry.Release(acct.ID)
		acct.Status = StatusFailed
		_ = a.store.Update(acct)
		return nil, err
	}

	encrypted, sealErr := a.sealer.Seal([]byte(sessionBlobPlaintext))
	if sealErr != nil {
		a.registry.Release(acct.ID)
		_ = handle.Close()
		return nil, sealErr
	}

	acct.EncryptedBlob = encrypted
	acct.Status = StatusAuthenticated
	if err := a.store.Update(acct); err != nil {
		a.registry.Release(acct.ID)
		_ = handle.Close()
		return nil, err
	}
	return handle, nil
}

// AuthenticatePairing runs a QR pairing flow to completion, publishing
// each login code on the bus as pairing.qr.code and, when toTerminal is
// set, rendering it to the terminal too (no caller in this module sets
// it; the `accounts login` command uses AuthenticateDirect). On success it persists the resulting session blob encrypted
// at rest and publishes pairing.done.
func (a *Authenticator) AuthenticatePairing(ctx context.Context, acct Account, connector QRConnector, toTerminal bool) (string, error) {
	if err := a.registry.Acquire(acct.ID); err != nil {
		return "", err
	}
	defer a.registry.Release(acct.ID)

	acct.Status = StatusAuthenticating
	_ = a.store.Update(acct)

	onQR := func(code string) {
		if a.bus != nil {
			a.bus.Broadcast("pairing.qr.code", map[string]string{
				"account_id": acct.ID,
				"code":       code,
			})
		}
		if toTerminal {
			qrterminal.GenerateHalfBlock(code, qrterminal.L, os.Stdout)
		}
	}

	blob, err := connector.LoginQR(ctx, acct.ID, onQR)
	if err != nil {
		acct.Status = StatusFailed
		_ = a.store.Update(acct)
		return "", err
	}

	encrypted, err := a.sealer.Seal([]byte(blob))
	if err != nil {
		return "", err
	}

	acct.EncryptedBlob = encrypted
	acct.Status = StatusAuthenticated
	if err := a.store.Update(acct); err != nil {
		return "", err
	}
	if a.bus != nil {
		a.bus.Broadcast("pairing.done", map[string]string{"account_id": acct.ID})
	}
	return blob, nil
}
