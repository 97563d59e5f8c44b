package chatsync

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrTransportUnavailable means the streamed channel never reached the
	// open state. The engine degrades to REST-only operation: presence and
	// live delivery stop, history load and message send still function.
	ErrTransportUnavailable = errors.New("transport channel unavailable")

	// ErrStaleResponse marks a response that arrived after the context it
	// was issued for changed (the active conversation switched). Stale
	// responses are discarded, never applied.
	ErrStaleResponse = errors.New("stale response")

	// ErrNotLoggedIn is returned by operations that require an
	// authenticated session.
	ErrNotLoggedIn = errors.New("not logged in")
)

// RequestFailedError reports a backing-store call that returned non-success.
// It is surfaced to the initiating caller and never retried internally.
type RequestFailedError struct {
	Op     string
	Status int
	Body   string
}

func (e *RequestFailedError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: request failed with status %d: %s", e.Op, e.Status, e.Body)
	}
	return fmt.Sprintf("%s: request failed with status %d", e.Op, e.Status)
}

// IsRequestFailed reports whether err (or anything it wraps) is a
// backing-store failure.
func IsRequestFailed(err error) bool {
	var rf *RequestFailedError
	return errors.As(err, &rf)
}
