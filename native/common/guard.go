package common

import (
	"errors"
	"fmt"
)

// ErrPaused is returned when an action has been halted by the admin or the
// pause guardian.
var ErrPaused = errors.New("action paused")

// Action names a pausable ledger entry point.
type Action string

const (
	ActionMint     Action = "mint"
	ActionBorrow   Action = "borrow"
	ActionTransfer Action = "transfer"
	ActionSeize    Action = "seize"
)

// Valid reports whether the action is one of the known pausable actions.
func (a Action) Valid() bool {
	switch a {
	case ActionMint, ActionBorrow, ActionTransfer, ActionSeize:
		return true
	}
	return false
}

// PauseView exposes the pause flags consulted before a pool action runs.
type PauseView interface {
	IsPaused(pool string, action Action) bool
}

// Guard returns ErrPaused when the action is halted for the pool.
func Guard(p PauseView, pool string, action Action) error {
	if p == nil || action == "" {
		return nil
	}
	if p.IsPaused(pool, action) {
		return fmt.Errorf("%w: %s %s", ErrPaused, action, pool)
	}
	return nil
}
