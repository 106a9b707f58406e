package tracker

import "context"

// Identity supplies the authenticated user context. The core does not
// implement authentication; it only consumes an opaque user id from an
// external collaborator.
type Identity interface {
	// UserID returns the authenticated user id, or "" when unauthenticated.
	UserID() string
}

// StaticIdentity is an Identity backed by a fixed user id (e.g. from config).
type StaticIdentity string

func (s StaticIdentity) UserID() string { return string(s) }

// DeviceInfo identifies this device to the coordination protocol.
type DeviceInfo struct {
	ID        string // fingerprint-derived stable identifier
	Name      string // human-readable label, e.g. "Linux Device"
	UserAgent string
}

// OnlineFunc reports whether the remote backend is currently reachable.
// Used by the background runner to detect offline-to-online transitions.
type OnlineFunc func(ctx context.Context) bool
