package app

import (
	"context"
	"sync"
	"time"

	"github.com/bft-labs/replayship/internal/domain"
	"github.com/bft-labs/replayship/internal/ports"
)

// mockLogger implements ports.Logger for testing.
type mockLogger struct{}

func (mockLogger) Debug(msg string, fields ...ports.Field) {}
func (mockLogger) Info(msg string, fields ...ports.Field)  {}
func (mockLogger) Warn(msg string, fields ...ports.Field)  {}
func (mockLogger) Error(msg string, fields ...ports.Field) {}

// mockDelivery records sends and fails according to sendErr.
type mockDelivery struct {
	mu      sync.Mutex
	sends   [][]byte
	late    [][]byte
	calls   int
	lateN   int
	sendErr func(call int) error
	lateErr error
}

func (m *mockDelivery) Send(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.sendErr != nil {
		if err := m.sendErr(m.calls); err != nil {
			return err
		}
	}
	m.sends = append(m.sends, append([]byte(nil), data...))
	return nil
}

func (m *mockDelivery) SendLate(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lateN++
	if m.lateErr != nil {
		return m.lateErr
	}
	m.late = append(m.late, append([]byte(nil), data...))
	return nil
}

func (m *mockDelivery) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte{}, m.sends...)
}

func (m *mockDelivery) Late() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte{}, m.late...)
}

func (m *mockDelivery) LateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lateN
}

func (m *mockDelivery) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockDelivery) setSendErr(fn func(call int) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = fn
}

// memSpill is an in-memory ports.SpillStore.
type memSpill struct {
	mu   sync.Mutex
	data []byte
}

func (m *memSpill) Append(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append(m.data, data...)
	return nil
}

func (m *memSpill) ReadAll() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...), nil
}

func (m *memSpill) Remove() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	return nil
}

func (m *memSpill) Exists() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data) > 0
}

// mockSessionClient hands out a fixed session or fails.
type mockSessionClient struct {
	mu       sync.Mutex
	session  *domain.Session
	err      error
	attempts int
	cleared  int
	block    chan struct{}
}

func (m *mockSessionClient) NegotiateSession(ctx context.Context, req domain.SessionRequest) (*domain.Session, error) {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.err != nil {
		return nil, m.err
	}
	m.session = &domain.Session{ID: "sess-1", Token: "tok", ProjectKey: req.ProjectKey, StartedAt: time.UnixMilli(req.Timestamp)}
	s := *m.session
	return &s, nil
}

func (m *mockSessionClient) Session() *domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	s := *m.session
	return &s
}

func (m *mockSessionClient) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	m.cleared++
}

func (m *mockSessionClient) Cleared() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleared
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
