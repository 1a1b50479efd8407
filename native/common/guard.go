package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// ErrReentrantCall is returned when a collaborator callback attempts to enter
// a mutating entry point while another operation is still in flight.
var ErrReentrantCall = errors.New("reentrant call rejected")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// OpGuard is a single-owner in-operation flag. The execution model is
// serialized, so a plain bool stands in for a lock: Enter sets the flag and
// returns a release func that must run on every exit path.
type OpGuard struct {
	busy bool
}

// Enter marks the guard busy and hands back the release callback. A second
// Enter before release fails with ErrReentrantCall.
func (g *OpGuard) Enter() (func(), error) {
	if g == nil {
		return func() {}, nil
	}
	if g.busy {
		return nil, ErrReentrantCall
	}
	g.busy = true
	return func() { g.busy = false }, nil
}

// Busy reports whether an operation is currently in flight.
func (g *OpGuard) Busy() bool {
	return g != nil && g.busy
}
