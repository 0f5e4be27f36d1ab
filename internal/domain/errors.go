package domain

import (
	"context"
	"errors"
)

var (
	// ErrTimeout: no response within a deadline.
	ErrTimeout = errors.New("timeout")
	// ErrTransport: the control channel or a media session failed.
	ErrTransport = errors.New("transport failure")
	// ErrHandshake: the server rejected or garbled the join handshake.
	ErrHandshake = errors.New("handshake failed")
	// ErrResumeRejected: the server refused to rebind the session.
	ErrResumeRejected = errors.New("resume rejected")
	// ErrNegotiation: offer/answer/candidate could not be applied.
	ErrNegotiation = errors.New("negotiation failed")

	ErrNotConnected = errors.New("not connected")
	ErrDuplicate    = errors.New("duplicate")
	// ErrStaleUpdate: an update names an entity that is unknown or gone.
	// Logged and dropped, never surfaced.
	ErrStaleUpdate = errors.New("stale update")
	ErrClosed      = errors.New("closed")
)

// Retryable reports whether err belongs to a class the engine retries.
// Misuse errors and cancellation are final.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrTransport) ||
		errors.Is(err, ErrHandshake) ||
		errors.Is(err, ErrNegotiation) ||
		errors.Is(err, context.DeadlineExceeded)
}
