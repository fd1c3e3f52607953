package accounts

import (
	"fmt"
	"sync"
)

// Registry is the process-wide gate enforcing "at most one live handle
// per session blob": Acquire/Release wrap Connect so a second Acquire
// for an account already in use fails fast instead of racing two
// sessions against the same credentials. Grounded on the
// activeSessions sync.Map dedup-guard pattern used for in-flight QR
// pairing sessions in this corpus's Zalo/WhatsApp gateway methods,
// generalized here to cover every connected Account rather than just
// pairing attempts.
type Registry struct {
	mu     sync.Mutex
	inUse  map[string]bool
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{inUse: make(map[string]bool)}
}

// Acquire marks accountID as holding a live handle. It returns an error
// if accountID already has one.
func (r *Registry) Acquire(accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inUse[accountID] {
		return fmt.Errorf("accounts: %s already has a live handle", accountID)
	}
	r.inUse[accountID] = true
	return nil
}

// Release frees accountID's slot. Safe to call even if Acquire was
// never called or already released (idempotent).
func (r *Registry) Release(accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inUse, accountID)
}

// InUse reports whether accountID currently holds a live handle.
func (r *Registry) InUse(accountID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inUse[accountID]
}
