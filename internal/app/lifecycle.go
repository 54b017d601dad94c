package app

import (
	"fmt"
	"sync"

	"github.com/bft-labs/replayship/internal/domain"
	"github.com/bft-labs/replayship/internal/ports"
)

// State represents the lifecycle state of the recorder.
type State int

const (
	StateIdle State = iota
	StateInitialized
	StateRecording
	StateStopping
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateInitialized:
		return "Initialized"
	case StateRecording:
		return "Recording"
	case StateStopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// validTransitions lists the allowed next states for each state.
// Recording may fall back to Initialized when negotiation fails.
var validTransitions = map[State][]State{
	StateIdle:        {StateInitialized},
	StateInitialized: {StateRecording, StateIdle},
	StateRecording:   {StateStopping, StateInitialized},
	StateStopping:    {StateInitialized},
}

// Lifecycle manages the state machine for the recorder.
type Lifecycle struct {
	mu           sync.RWMutex
	state        State
	logger       ports.Logger
	eventEmitter EventEmitter
}

// EventEmitter is called when lifecycle state changes.
type EventEmitter interface {
	OnStateChange(previous, current State, reason string)
}

// NewLifecycle creates a new lifecycle manager.
func NewLifecycle(logger ports.Logger, emitter EventEmitter) *Lifecycle {
	return &Lifecycle{
		state:        StateIdle,
		logger:       logger,
		eventEmitter: emitter,
	}
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// TransitionTo attempts to transition to a new state.
// Returns an error wrapping domain.ErrInvalidTransition if the transition is not valid.
func (l *Lifecycle) TransitionTo(newState State, reason string) error {
	l.mu.Lock()
	oldState := l.state
	if !allowed(oldState, newState) {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, oldState, newState)
	}
	l.state = newState
	l.mu.Unlock()

	l.emit(oldState, newState, reason)
	return nil
}

// TransitionFrom transitions to newState only if the current state is expected.
// The check and the change are atomic.
func (l *Lifecycle) TransitionFrom(expected, newState State, reason string) error {
	l.mu.Lock()
	oldState := l.state
	if oldState != expected || !allowed(oldState, newState) {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s (expected %s)", domain.ErrInvalidTransition, oldState, newState, expected)
	}
	l.state = newState
	l.mu.Unlock()

	l.emit(oldState, newState, reason)
	return nil
}

// emit notifies the emitter and logs, outside of the lock.
func (l *Lifecycle) emit(oldState, newState State, reason string) {
	if l.eventEmitter != nil {
		l.eventEmitter.OnStateChange(oldState, newState, reason)
	}

	l.logger.Info("state transition",
		ports.String("from", oldState.String()),
		ports.String("to", newState.String()),
		ports.String("reason", reason),
	)
}

// CanStart returns true if a recording can start.
func (l *Lifecycle) CanStart() bool {
	return l.State() == StateInitialized
}

// IsRecording returns true while recording.
func (l *Lifecycle) IsRecording() bool {
	return l.State() == StateRecording
}

func allowed(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
