package session

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrUnauthorized signals that the current credential was rejected by the
// remote portal. The session has already re-authenticated by the time a
// caller observes it; the retry wrapper replays the original call.
var ErrUnauthorized = errors.New("unauthorized")

// RemoteError is an explicit business failure reported by the portal
// (non-success status or code). It is never retried.
type RemoteError struct {
	Code int
	Msg  string
}

func (e *RemoteError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("remote service error (code %d): %s", e.Code, e.Msg)
	}
	return "remote service error: " + e.Msg
}

// Retryable reports whether err is one of the two recoverable signals:
// a rejected credential or a transport-level timeout.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnauthorized) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
