package tracker

import (
	"errors"
	"fmt"
)

// Precondition failures. Locking operations reject with these instead of
// retrying; the triggering user action is the retry mechanism.
var (
	// ErrNotAuthenticated is returned when no user identity is configured.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrOffline is returned when a locking operation requires a remote
	// round-trip and the remote store is unreachable. Taking the lock under
	// uncertain network conditions is treated as unsafe.
	ErrOffline = errors.New("remote store unreachable")

	// ErrNoConflict is returned when a takeover is requested but no other
	// device owns the timer.
	ErrNoConflict = errors.New("no running timer on another device")
)

// ConflictError reports that another device owns the running timer.
// Recoverable via TakeOver.
type ConflictError struct {
	DeviceName string
}

func (e *ConflictError) Error() string {
	name := e.DeviceName
	if name == "" {
		name = "another device"
	}
	return fmt.Sprintf("timer is already running on %s", name)
}

// RemoteWriteError reports that a local write succeeded but the paired
// remote write failed, leaving the stores divergent until the next sync
// pass reconciles them.
type RemoteWriteError struct {
	Op        string
	SessionID string
	Err       error
}

func (e *RemoteWriteError) Error() string {
	return fmt.Sprintf("%s: local state updated but remote write failed (session %s): %v", e.Op, e.SessionID, e.Err)
}

func (e *RemoteWriteError) Unwrap() error { return e.Err }
