package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent error conditions in the replayship domain.
// These errors are returned by the public API and can be checked with errors.Is.
var (
	// ErrAlreadyInitialized is returned when Initialize() is called twice
	// without an intervening shutdown.
	ErrAlreadyInitialized = errors.New("replayship: already initialized")

	// ErrNotInitialized is returned when an operation requires Initialize() first.
	ErrNotInitialized = errors.New("replayship: not initialized")

	// ErrInvalidTransition is returned when a recorder state change is not allowed.
	ErrInvalidTransition = errors.New("replayship: invalid state transition")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("replayship: invalid configuration")

	// ErrNoSession is returned when session negotiation failed permanently
	// or an operation needs a live session.
	ErrNoSession = errors.New("replayship: no session")

	// ErrUnauthorized is returned when the backend rejects the bearer token.
	ErrUnauthorized = errors.New("replayship: unauthorized")

	// ErrTransient marks delivery failures the caller should requeue.
	ErrTransient = errors.New("replayship: transient delivery failure")

	// ErrMessageTooLarge is returned when a single message exceeds the batch cap.
	ErrMessageTooLarge = errors.New("replayship: message too large")

	// ErrNoLastToken is returned when late delivery has no persisted token.
	ErrNoLastToken = errors.New("replayship: no last token")

	// ErrNoProjectKey is returned when media upload has no project key.
	ErrNoProjectKey = errors.New("replayship: no project key")

	// ErrCaptureTimeout is returned when the renderer does not deliver a frame in time.
	ErrCaptureTimeout = errors.New("replayship: capture timeout")

	// ErrStartAborted is returned when recording stops before negotiation completes.
	ErrStartAborted = errors.New("replayship: start aborted")

	// ErrLocalCapture is returned by uploads skipped in write-to-file mode.
	ErrLocalCapture = errors.New("replayship: local capture mode")
)

// StatusError reports a non-2xx, non-401 HTTP response.
// It unwraps to ErrTransient so callers requeue.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Body)
}

// Unwrap lets errors.Is(err, ErrTransient) match.
func (e *StatusError) Unwrap() error {
	return ErrTransient
}
