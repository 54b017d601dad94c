package replayship

import (
	"time"

	"github.com/bft-labs/replayship/internal/app"
)

// State is the recorder state reported by Status.
type State int

const (
	// StateIdle means the tracker is not initialized.
	StateIdle State = iota
	// StateInitialized means the tracker is ready to record.
	StateInitialized
	// StateRecording means a recording is active or negotiating a session.
	StateRecording
	// StateStopping means producers are draining.
	StateStopping
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	return toAppState(s).String()
}

// StateChangeEvent is emitted on every recorder state transition.
type StateChangeEvent struct {
	Previous State
	Current  State
	Reason   string
}

// SendSuccessEvent is emitted after a batch is delivered.
type SendSuccessEvent struct {
	MessageCount int
	BytesSent    int
	Duration     time.Duration
}

// SendErrorEvent is emitted after a batch fails to deliver.
type SendErrorEvent struct {
	Error        error
	MessageCount int
	Retryable    bool
}

// EventHandler receives tracker events.
type EventHandler interface {
	OnStateChange(StateChangeEvent)
	OnSendSuccess(SendSuccessEvent)
	OnSendError(SendErrorEvent)
}

// BaseEventHandler implements EventHandler with no-ops. Embed it to
// implement only the callbacks you need.
type BaseEventHandler struct{}

func (BaseEventHandler) OnStateChange(StateChangeEvent) {}
func (BaseEventHandler) OnSendSuccess(SendSuccessEvent) {}
func (BaseEventHandler) OnSendError(SendErrorEvent)     {}

// eventEmitterWrapper adapts EventHandler to the internal emitter interfaces.
type eventEmitterWrapper struct {
	handler EventHandler
}

func (e *eventEmitterWrapper) OnStateChange(previous, current app.State, reason string) {
	if e.handler == nil {
		return
	}
	e.handler.OnStateChange(StateChangeEvent{
		Previous: convertState(previous),
		Current:  convertState(current),
		Reason:   reason,
	})
}

func (e *eventEmitterWrapper) OnSendSuccess(messageCount, bytesSent int, duration time.Duration) {
	if e.handler == nil {
		return
	}
	e.handler.OnSendSuccess(SendSuccessEvent{
		MessageCount: messageCount,
		BytesSent:    bytesSent,
		Duration:     duration,
	})
}

func (e *eventEmitterWrapper) OnSendError(err error, messageCount int, retryable bool) {
	if e.handler == nil {
		return
	}
	e.handler.OnSendError(SendErrorEvent{
		Error:        err,
		MessageCount: messageCount,
		Retryable:    retryable,
	})
}

func convertState(s app.State) State {
	switch s {
	case app.StateInitialized:
		return StateInitialized
	case app.StateRecording:
		return StateRecording
	case app.StateStopping:
		return StateStopping
	default:
		return StateIdle
	}
}

func toAppState(s State) app.State {
	switch s {
	case StateInitialized:
		return app.StateInitialized
	case StateRecording:
		return app.StateRecording
	case StateStopping:
		return app.StateStopping
	default:
		return app.StateIdle
	}
}
