package ports

import (
	"context"

	"github.com/bft-labs/replayship/internal/domain"
)

// Delivery transmits agent output to the ingestion service.
type Delivery interface {
	// Send compresses and posts a batch with the live session token.
	// Returns domain.ErrUnauthorized on 401, an error wrapping
	// domain.ErrTransient for retryable failures, and domain.ErrNoSession
	// when no session is live.
	Send(ctx context.Context, data []byte) error

	// SendLate posts previously persisted bytes using the last known token.
	SendLate(ctx context.Context, data []byte) error
}

// MediaSender uploads sealed frame archives.
type MediaSender interface {
	// SendMedia uploads one archive. Requires a live project key.
	SendMedia(ctx context.Context, data []byte, name string) error
}

// SessionClient negotiates and owns the recording session.
type SessionClient interface {
	// NegotiateSession starts a session, retrying with a fixed delay.
	// Concurrent callers share the cached result until Clear.
	NegotiateSession(ctx context.Context, req domain.SessionRequest) (*domain.Session, error)

	// Session returns a copy of the live session, or nil.
	Session() *domain.Session

	// Clear drops the cached session.
	Clear()
}
