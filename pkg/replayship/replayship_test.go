package replayship_test

import (
	"context"
	"errors"
	"image"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bft-labs/replayship/internal/codec"
	"github.com/bft-labs/replayship/internal/devserver"
	"github.com/bft-labs/replayship/internal/domain"
	"github.com/bft-labs/replayship/pkg/replayship"
)

// recordingHandler captures events for assertions.
type recordingHandler struct {
	replayship.BaseEventHandler

	mu     sync.Mutex
	states []replayship.State
	sent   int
}

func (h *recordingHandler) OnStateChange(ev replayship.StateChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, ev.Current)
}

func (h *recordingHandler) OnSendSuccess(ev replayship.SendSuccessEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent += ev.MessageCount
}

func (h *recordingHandler) Sent() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sent
}

// fakeLifecycle lets tests drive UI visibility.
type fakeLifecycle struct {
	mu sync.Mutex
	fn func(replayship.LifecycleEvent)
}

func (f *fakeLifecycle) Subscribe(fn func(replayship.LifecycleEvent)) func() {
	f.mu.Lock()
	f.fn = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.fn = nil
		f.mu.Unlock()
	}
}

func (f *fakeLifecycle) emit(ev replayship.LifecycleEvent) {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

type fixture struct {
	srv *devserver.Server
	cfg replayship.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := devserver.New(devserver.Config{}, nil)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	opts := replayship.DefaultOptions()
	opts.WiFiOnly = false
	return &fixture{
		srv: srv,
		cfg: replayship.Config{
			ProjectKey: "pk",
			ServiceURL: ts.URL,
			DataDir:    t.TempDir(),
			Options:    opts,
		},
	}
}

func (f *fixture) tracker(t *testing.T, opts ...replayship.Option) *replayship.Tracker {
	t.Helper()
	tr, err := replayship.New(f.cfg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := tr.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(func() { _ = tr.Shutdown(context.Background()) })
	return tr
}

func (f *fixture) kinds(sessionID string) map[domain.Kind]int {
	out := make(map[domain.Kind]int)
	for _, m := range f.srv.Store().Messages(sessionID) {
		out[m.Kind]++
	}
	return out
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     replayship.Config
		wantErr bool
	}{
		{"missing project key", replayship.Config{DataDir: t.TempDir(), Options: replayship.DefaultOptions()}, true},
		{"write to file without key", replayship.Config{DataDir: t.TempDir(), Options: replayship.Options{WriteToFile: true}}, false},
		{"bad scheme", replayship.Config{ProjectKey: "pk", ServiceURL: "ftp://x", DataDir: t.TempDir()}, true},
		{"bad quality", replayship.Config{ProjectKey: "pk", DataDir: t.TempDir(), Options: replayship.Options{Quality: "ultra"}}, true},
		{"defaults", replayship.Config{ProjectKey: "pk", DataDir: t.TempDir()}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := replayship.New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, replayship.ErrInvalidConfig) {
				t.Errorf("error %v is not ErrInvalidConfig", err)
			}
		})
	}
}

func TestConfig_SetDefaults(t *testing.T) {
	cfg := replayship.Config{ServiceURL: "https://example.com/ingest/"}
	cfg.SetDefaults()

	if cfg.ServiceURL != "https://example.com/ingest" {
		t.Errorf("ServiceURL = %q", cfg.ServiceURL)
	}
	if cfg.TrackerVersion != replayship.Version {
		t.Errorf("TrackerVersion = %q", cfg.TrackerVersion)
	}
	if cfg.HTTPTimeout != replayship.DefaultHTTPTimeout {
		t.Errorf("HTTPTimeout = %v", cfg.HTTPTimeout)
	}
	if cfg.Options.Quality != replayship.QualityStandard {
		t.Errorf("Quality = %q", cfg.Options.Quality)
	}
}

func TestTracker_InitializeTwice(t *testing.T) {
	f := newFixture(t)
	tr := f.tracker(t)

	if err := tr.Initialize(context.Background()); !errors.Is(err, replayship.ErrAlreadyInitialized) {
		t.Fatalf("second Initialize() error = %v", err)
	}
	if tr.Status() != replayship.StateInitialized {
		t.Errorf("Status() = %v", tr.Status())
	}
}

func TestTracker_StartBeforeInitialize(t *testing.T) {
	f := newFixture(t)
	tr, err := replayship.New(f.cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Start(context.Background(), nil); !errors.Is(err, replayship.ErrNotInitialized) {
		t.Fatalf("Start() error = %v", err)
	}
	if err := tr.Event("x", nil); !errors.Is(err, replayship.ErrNotRecording) {
		t.Errorf("Event() error = %v", err)
	}
}

func TestTracker_RecordsAndDelivers(t *testing.T) {
	f := newFixture(t)
	handler := &recordingHandler{}
	tr := f.tracker(t, replayship.WithEventHandler(handler))

	if err := tr.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	sid := tr.SessionID()
	if sid == "" {
		t.Fatal("no session id after Start")
	}

	calls := []error{
		tr.SetUserID("user-42"),
		tr.Metadata("plan", "pro"),
		tr.Event("checkout", map[string]int{"items": 3}),
		tr.Log("info", "hello"),
		tr.NetworkCall(replayship.NetworkCall{Method: "GET", URL: "https://x", Status: 200, Duration: 12 * time.Millisecond}),
		tr.Click("buy", 10, 20),
		tr.Performance("fps", 60),
	}
	for i, err := range calls {
		if err != nil {
			t.Fatalf("call %d error = %v", i, err)
		}
	}

	if err := tr.Stop(context.Background(), true); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if tr.SessionID() != "" {
		t.Error("session kept after Stop(closeSession)")
	}

	kinds := f.kinds(sid)
	for _, k := range []domain.Kind{domain.KindBatchMeta, domain.KindUserID, domain.KindMetadata, domain.KindEvent, domain.KindLog, domain.KindNetworkCall, domain.KindClickEvent, domain.KindPerformanceEvent} {
		if kinds[k] == 0 {
			t.Errorf("no %v message delivered (got %v)", k, kinds)
		}
	}
	if handler.Sent() < 7 {
		t.Errorf("OnSendSuccess counted %d messages", handler.Sent())
	}

	var custom codec.CustomEvent
	for _, m := range f.srv.Store().Messages(sid) {
		if m.Kind != domain.KindEvent {
			continue
		}
		ev, err := codec.DecodeEvent(m)
		if err != nil {
			t.Fatal(err)
		}
		custom = ev.(codec.CustomEvent)
	}
	if custom.Name != "checkout" || custom.Payload != `{"items":3}` {
		t.Errorf("custom event = %+v", custom)
	}
}

func TestTracker_LogsDisabled(t *testing.T) {
	f := newFixture(t)
	tr := f.tracker(t)

	off := false
	if err := tr.Start(context.Background(), &replayship.OptionsOverride{Logs: &off}); err != nil {
		t.Fatal(err)
	}
	sid := tr.SessionID()
	_ = tr.Log("info", "dropped")
	_ = tr.Event("kept", "")
	if err := tr.Stop(context.Background(), true); err != nil {
		t.Fatal(err)
	}

	kinds := f.kinds(sid)
	if kinds[domain.KindLog] != 0 {
		t.Errorf("log delivered with logs disabled")
	}
	if kinds[domain.KindEvent] != 1 {
		t.Errorf("custom events = %d, want 1", kinds[domain.KindEvent])
	}
}

func TestTracker_UnauthorizedStopsRecording(t *testing.T) {
	f := newFixture(t)
	tr := f.tracker(t)

	if err := tr.Start(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	f.srv.Store().Revoke(tr.SessionID())

	_ = tr.Event("rejected", "")
	_ = tr.Flush(context.Background())

	waitFor(t, func() bool { return tr.Status() == replayship.StateInitialized }, "recorder leaves Recording after 401")
	if tr.SessionID() != "" {
		t.Error("session kept after 401")
	}
}

func TestTracker_FramesUploaded(t *testing.T) {
	f := newFixture(t)
	f.cfg.Options.FPS = 10

	frame := image.NewRGBA(image.Rect(0, 0, 40, 80))
	for i := range frame.Pix {
		frame.Pix[i] = 0xff
	}
	renderer := replayship.RendererFunc(func(context.Context) (image.Image, error) {
		return frame, nil
	})
	tr := f.tracker(t, replayship.WithRenderer(renderer))
	tr.SanitizeRegion("card", image.Rect(0, 0, 20, 20))

	if err := tr.Start(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	sid := tr.SessionID()
	time.Sleep(700 * time.Millisecond)
	if err := tr.Stop(context.Background(), true); err != nil {
		t.Fatal(err)
	}

	archives := f.srv.Store().Archives()
	if len(archives) == 0 {
		t.Fatal("no archive uploaded")
	}
	if archives[0].SessionID != sid || archives[0].ProjectKey != "pk" {
		t.Errorf("archive = %+v", archives[0])
	}
}

func TestTracker_AutoRecording(t *testing.T) {
	f := newFixture(t)
	f.cfg.BackgroundGrace = 50 * time.Millisecond
	lc := &fakeLifecycle{}
	tr := f.tracker(t, replayship.WithLifecycleSource(lc))

	tr.EnableAutoRecording(true)
	lc.emit(replayship.UnitStarted)
	waitFor(t, func() bool { return tr.SessionID() != "" }, "auto start negotiates a session")

	lc.emit(replayship.UnitStopped)
	waitFor(t, func() bool { return tr.Status() == replayship.StateInitialized }, "background stop")
}

func TestTracker_WriteToFile(t *testing.T) {
	f := newFixture(t)
	f.cfg.ProjectKey = ""
	f.cfg.Options.WriteToFile = true
	tr := f.tracker(t)

	if err := tr.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	_ = tr.Event("local", "")
	if err := tr.Stop(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	if n := len(f.srv.Store().Sessions()); n != 0 {
		t.Errorf("backend saw %d sessions in write-to-file mode", n)
	}
}

func TestTracker_GoReportsPanic(t *testing.T) {
	f := newFixture(t)
	tr := f.tracker(t)
	if err := tr.Start(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	sid := tr.SessionID()

	recovered := make(chan any, 1)
	go func() {
		defer func() { recovered <- recover() }()
		defer replayship.Recover()
		panic("worker failed")
	}()
	if v := <-recovered; v != "worker failed" {
		t.Fatalf("recovered %v", v)
	}

	if got := f.kinds(sid)[domain.KindCrash]; got != 1 {
		t.Errorf("crash messages = %d, want 1", got)
	}
}

func TestStateString(t *testing.T) {
	tests := map[replayship.State]string{
		replayship.StateIdle:        "Idle",
		replayship.StateInitialized: "Initialized",
		replayship.StateRecording:   "Recording",
		replayship.StateStopping:    "Stopping",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", s, got, want)
		}
	}
}
