package system

import (
	"errors"
	"sync"

	"lendledger/crypto"
)

var (
	// ErrPauseUnauthorized is returned when the caller lacks the role needed
	// for the requested pause transition.
	ErrPauseUnauthorized = errors.New("pauses: caller not authorized")
	// ErrPauseAdminUnset indicates the authority was constructed without an
	// administrator.
	ErrPauseAdminUnset = errors.New("pauses: administrator not configured")
)

// PauseAuthority is the ledger circuit breaker. The administrator or the
// optional guardian may halt all mutating flows; only the administrator may
// resume them. It satisfies common.PauseView for every module name, since the
// breaker is global.
type PauseAuthority struct {
	mu       sync.RWMutex
	admin    crypto.Address
	guardian crypto.Address
	paused   bool
}

// NewPauseAuthority constructs the authority with the administrator identity.
func NewPauseAuthority(admin crypto.Address) *PauseAuthority {
	return &PauseAuthority{admin: admin}
}

// SetGuardian installs or replaces the guardian. Administrator only. A zero
// address clears the guardian.
func (p *PauseAuthority) SetGuardian(caller, guardian crypto.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.admin.IsZero() {
		return ErrPauseAdminUnset
	}
	if !caller.Equal(p.admin) {
		return ErrPauseUnauthorized
	}
	p.guardian = guardian
	return nil
}

// Pause trips the breaker. Permitted for the administrator or the guardian.
func (p *PauseAuthority) Pause(caller crypto.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.admin.IsZero() {
		return ErrPauseAdminUnset
	}
	if !caller.Equal(p.admin) && (p.guardian.IsZero() || !caller.Equal(p.guardian)) {
		return ErrPauseUnauthorized
	}
	p.paused = true
	return nil
}

// Resume clears the breaker. Administrator only.
func (p *PauseAuthority) Resume(caller crypto.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.admin.IsZero() {
		return ErrPauseAdminUnset
	}
	if !caller.Equal(p.admin) {
		return ErrPauseUnauthorized
	}
	p.paused = false
	return nil
}

// IsPaused implements common.PauseView. The module name is ignored because the
// breaker halts every flow at once.
func (p *PauseAuthority) IsPaused(string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused
}

// Admin returns the configured administrator identity.
func (p *PauseAuthority) Admin() crypto.Address {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.admin
}
