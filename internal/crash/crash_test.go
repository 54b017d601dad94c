package crash

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/replayship/internal/codec"
	"github.com/bft-labs/replayship/internal/domain"
	"github.com/bft-labs/replayship/pkg/log"
)

type mockDelivery struct {
	mu      sync.Mutex
	sent    [][]byte
	late    [][]byte
	sendErr error
	lateErr error
	// onLate runs before a late payload is accepted, with the lock released.
	onLate func()
}

func (m *mockDelivery) Send(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, data)
	return nil
}

func (m *mockDelivery) SendLate(_ context.Context, data []byte) error {
	if m.onLate != nil {
		m.onLate()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lateErr != nil {
		return m.lateErr
	}
	m.late = append(m.late, data)
	return nil
}

func (m *mockDelivery) setSendErr(err error) {
	m.mu.Lock()
	m.sendErr = err
	m.mu.Unlock()
}

func (m *mockDelivery) counts() (sent, late int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent), len(m.late)
}

func decodeCrash(t *testing.T, data []byte) codec.Crash {
	t.Helper()
	msgs, err := codec.DecodeAll(data)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, domain.KindCrash, msgs[0].Kind)

	ev, err := codec.DecodeEvent(msgs[0])
	require.NoError(t, err)
	c, ok := ev.(codec.Crash)
	require.True(t, ok)
	return c
}

func newTestCapture(t *testing.T, d *mockDelivery) *Capture {
	t.Helper()
	return NewCapture(Config{Dir: t.TempDir(), SendTimeout: time.Second}, d, log.NewNoopLogger())
}

func crashFileExists(c *Capture) bool {
	return c.pending.Exists()
}

func TestNewCrash(t *testing.T) {
	c := NewCrash(errors.New("boom"), []string{"a.go:1", "b.go:2"})
	assert.Equal(t, "*errors.errorString", c.Name)
	assert.Equal(t, "boom", c.Reason)
	assert.Equal(t, "a.go:1\nb.go:2", c.Stacktrace)

	c = NewCrash("plain", nil)
	assert.Equal(t, "string", c.Name)
	assert.Equal(t, "plain", c.Reason)

	c = NewCrash(42, nil)
	assert.Equal(t, "int", c.Name)
	assert.Equal(t, "42", c.Reason)
}

func TestHandleFault_DeliveredRemovesFile(t *testing.T) {
	d := &mockDelivery{}
	c := newTestCapture(t, d)

	c.HandleFault(errors.New("nil map"), []string{"main.run x.go:10"})

	sent, _ := d.counts()
	require.Equal(t, 1, sent)
	assert.False(t, crashFileExists(c))

	crash := decodeCrash(t, d.sent[0])
	assert.Equal(t, "nil map", crash.Reason)
	assert.Equal(t, "main.run x.go:10", crash.Stacktrace)
}

func TestHandleFault_FailureKeepsFile(t *testing.T) {
	d := &mockDelivery{sendErr: domain.ErrNoSession}
	c := newTestCapture(t, d)

	c.HandleFault("boom", nil)
	assert.True(t, crashFileExists(c))

	// delivered through late ingest on the next start
	d.sendErr = nil
	require.NoError(t, c.DeliverPending(context.Background()))
	_, late := d.counts()
	assert.Equal(t, 1, late)
	assert.False(t, crashFileExists(c))
	assert.Equal(t, "boom", decodeCrash(t, d.late[0]).Reason)
}

func TestDeliverPending_FailureKeepsFile(t *testing.T) {
	d := &mockDelivery{sendErr: errors.New("offline"), lateErr: domain.ErrNoLastToken}
	c := newTestCapture(t, d)

	c.HandleFault("boom", nil)
	err := c.DeliverPending(context.Background())
	assert.ErrorIs(t, err, domain.ErrNoLastToken)
	assert.True(t, crashFileExists(c))
}

func TestDeliverPending_NothingPending(t *testing.T) {
	d := &mockDelivery{}
	c := newTestCapture(t, d)

	require.NoError(t, c.DeliverPending(context.Background()))
	_, late := d.counts()
	assert.Zero(t, late)
}

func decodeCrashes(t *testing.T, data []byte) []codec.Crash {
	t.Helper()
	msgs, err := codec.DecodeAll(data)
	require.NoError(t, err)

	out := make([]codec.Crash, 0, len(msgs))
	for _, msg := range msgs {
		ev, err := codec.DecodeEvent(msg)
		require.NoError(t, err)
		c, ok := ev.(codec.Crash)
		require.True(t, ok)
		out = append(out, c)
	}
	return out
}

func TestHandleFault_DeliveryKeepsEarlierUndelivered(t *testing.T) {
	d := &mockDelivery{sendErr: errors.New("offline")}
	c := newTestCapture(t, d)

	c.HandleFault("first", nil)
	require.True(t, crashFileExists(c))

	d.setSendErr(nil)
	c.HandleFault("second", nil)

	sent, _ := d.counts()
	require.Equal(t, 1, sent)
	assert.Equal(t, "second", decodeCrash(t, d.sent[0]).Reason)

	data, err := c.pending.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "first", decodeCrash(t, data).Reason, "undelivered crash is kept")

	require.NoError(t, c.DeliverPending(context.Background()))
	assert.Equal(t, "first", decodeCrash(t, d.late[0]).Reason)
	assert.False(t, crashFileExists(c))
}

func TestDeliverPending_KeepsCrashAppendedDuringSend(t *testing.T) {
	d := &mockDelivery{sendErr: errors.New("offline")}
	c := newTestCapture(t, d)
	c.HandleFault("before", nil)

	d.onLate = func() {
		d.onLate = nil
		c.HandleFault("during", nil)
	}
	require.NoError(t, c.DeliverPending(context.Background()))

	assert.Equal(t, "before", decodeCrash(t, d.late[0]).Reason)
	data, err := c.pending.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "during", decodeCrash(t, data).Reason)
}

func TestSendLateError(t *testing.T) {
	d := &mockDelivery{sendErr: errors.New("offline")}
	c := newTestCapture(t, d)
	c.HandleFault("earlier", nil)
	require.True(t, crashFileExists(c))

	require.NoError(t, c.SendLateError(context.Background(), errors.New("caught")))
	assert.False(t, crashFileExists(c))

	crashes := decodeCrashes(t, d.late[0])
	require.Len(t, crashes, 2, "pending crash travels with the caught error")
	assert.Equal(t, "earlier", crashes[0].Reason)
	assert.Equal(t, "caught", crashes[1].Reason)
	assert.Contains(t, crashes[1].Stacktrace, "TestSendLateError")

	assert.NoError(t, c.SendLateError(context.Background(), nil))
}

func TestSendLateError_FailureKeepsPending(t *testing.T) {
	d := &mockDelivery{sendErr: errors.New("offline"), lateErr: errors.New("offline")}
	c := newTestCapture(t, d)
	c.HandleFault("earlier", nil)

	assert.Error(t, c.SendLateError(context.Background(), errors.New("caught")))
	data, err := c.pending.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "earlier", decodeCrash(t, data).Reason)
}

func TestRecover_DispatchesAndRepanics(t *testing.T) {
	d := &mockDelivery{}
	c := newTestCapture(t, d)
	require.NoError(t, c.Start(context.Background(), nil, domain.DefaultOptions()))
	defer c.Stop(context.Background())

	var recovered any
	func() {
		defer func() { recovered = recover() }()
		func() {
			defer Recover()
			panic("kaboom")
		}()
	}()

	assert.Equal(t, "kaboom", recovered, "panic value is preserved")
	sent, _ := d.counts()
	require.Equal(t, 1, sent)
	crash := decodeCrash(t, d.sent[0])
	assert.Equal(t, "kaboom", crash.Reason)
	assert.Contains(t, crash.Stacktrace, "TestRecover_DispatchesAndRepanics")
}

func TestInstall_ChainAndRestore(t *testing.T) {
	base := Installed()

	var order []string
	var mu sync.Mutex
	record := func(name string) Handler {
		return HandlerFunc(func(any, []string) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		})
	}

	restoreA := Install(record("a"))
	restoreB := Install(HandlerFunc(func(any, []string) { panic("handler failure") }))
	restoreC := Install(record("c"))
	assert.Equal(t, base+3, Installed())

	Dispatch("x", nil)
	assert.Equal(t, []string{"c", "a"}, order, "newest first, failing handler skipped")

	restoreB()
	restoreB()
	assert.Equal(t, base+2, Installed())

	restoreC()
	restoreA()
	assert.Equal(t, base, Installed())
}

func TestStartStop(t *testing.T) {
	d := &mockDelivery{}
	c := newTestCapture(t, d)
	base := Installed()

	require.NoError(t, c.Start(context.Background(), nil, domain.DefaultOptions()))
	require.NoError(t, c.Start(context.Background(), nil, domain.DefaultOptions()))
	assert.True(t, c.Active())
	assert.Equal(t, base+1, Installed())

	require.NoError(t, c.Stop(context.Background()))
	require.NoError(t, c.Stop(context.Background()))
	assert.False(t, c.Active())
	assert.Equal(t, base, Installed())
}

func TestInit_DeliversPending(t *testing.T) {
	d := &mockDelivery{sendErr: errors.New("offline")}
	c := newTestCapture(t, d)
	c.HandleFault("previous launch", nil)

	c.Init(context.Background())

	assert.Eventually(t, func() bool {
		_, late := d.counts()
		return late == 1 && !crashFileExists(c)
	}, time.Second, 5*time.Millisecond)
}

const runtimeOutput = `panic: runtime error: index out of range [5] with length 3

goroutine 1 [running]:
main.handler(...)
	/app/main.go:12
main.main()
	/app/main.go:20 +0x1d
exit status 2
`

func TestParseRuntimeOutput(t *testing.T) {
	crash, ok := ParseRuntimeOutput([]byte(runtimeOutput))
	require.True(t, ok)
	assert.Equal(t, "runtime.panic", crash.Name)
	assert.Equal(t, "runtime error: index out of range [5] with length 3", crash.Reason)

	lines := strings.Split(crash.Stacktrace, "\n")
	assert.Equal(t, "goroutine 1 [running]:", lines[0])
	assert.Contains(t, lines, "/app/main.go:20 +0x1d")

	crash, ok = ParseRuntimeOutput([]byte("fatal error: concurrent map writes\n"))
	require.True(t, ok)
	assert.Equal(t, "runtime.fatal_error", crash.Name)
	assert.Equal(t, "concurrent map writes", crash.Reason)

	_, ok = ParseRuntimeOutput([]byte("some unrelated output\n"))
	assert.False(t, ok)
}

func TestInit_CollectsRuntimeOutput(t *testing.T) {
	d := &mockDelivery{lateErr: errors.New("offline")}
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, RuntimeOutputFile), []byte(runtimeOutput), 0o600))

	c := NewCapture(Config{Dir: dir, RuntimeOutput: true}, d, log.NewNoopLogger())
	c.Init(context.Background())

	data, err := c.pending.ReadAll()
	require.NoError(t, err)
	crash := decodeCrash(t, data)
	assert.Equal(t, "runtime.panic", crash.Name)

	info, err := os.Stat(filepath.Join(dir, RuntimeOutputFile))
	require.NoError(t, err)
	assert.Zero(t, info.Size(), "runtime output is consumed")
}

func TestStart_RedirectsRuntimeOutput(t *testing.T) {
	dir := t.TempDir()
	c := NewCapture(Config{Dir: dir, RuntimeOutput: true}, &mockDelivery{}, log.NewNoopLogger())

	require.NoError(t, c.Start(context.Background(), nil, domain.DefaultOptions()))
	assert.FileExists(t, filepath.Join(dir, RuntimeOutputFile))
	require.NoError(t, c.Stop(context.Background()))
}
