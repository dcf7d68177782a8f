package domain

import "errors"

// Media acquisition errors are terminal for the current call attempt.
var (
	ErrMediaPermissionDenied = errors.New("media permission denied")
	ErrMediaDeviceNotFound   = errors.New("media device not found")
	ErrMediaUnsupported      = errors.New("media capture unsupported in this environment")
)

// Store and transport errors.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionExpired   = errors.New("session expired")
	ErrTransportFailed  = errors.New("peer transport failed")
	ErrStoreUnavailable = errors.New("remote store unavailable")
)

var (
	ErrCallActive   = errors.New("a call is already active")
	ErrCallNotFound = errors.New("call not found")
)

// IsMediaError reports whether err belongs to the media acquisition taxonomy.
func IsMediaError(err error) bool {
	return errors.Is(err, ErrMediaPermissionDenied) ||
		errors.Is(err, ErrMediaDeviceNotFound) ||
		errors.Is(err, ErrMediaUnsupported)
}
