package replayship

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bft-labs/replayship/internal/adapters/fs"
	httpAdapter "github.com/bft-labs/replayship/internal/adapters/http"
	"github.com/bft-labs/replayship/internal/app"
	"github.com/bft-labs/replayship/internal/codec"
	"github.com/bft-labs/replayship/internal/crash"
	"github.com/bft-labs/replayship/internal/domain"
	"github.com/bft-labs/replayship/internal/frames"
	"github.com/bft-labs/replayship/internal/ports"
	"github.com/bft-labs/replayship/pkg/log"
)

// Errors returned by the Tracker. Check them with errors.Is.
var (
	ErrAlreadyInitialized = domain.ErrAlreadyInitialized
	ErrNotInitialized     = domain.ErrNotInitialized
	ErrInvalidConfig      = domain.ErrInvalidConfig
	ErrNoSession          = domain.ErrNoSession
	ErrMessageTooLarge    = domain.ErrMessageTooLarge
	ErrStartAborted       = domain.ErrStartAborted

	// ErrNotRecording is returned by the message methods outside a recording.
	ErrNotRecording = errors.New("replayship: not recording")
)

// Tracker records a host application's session and ships it to the backend.
// Use New to create one, Initialize once, then Start and Stop recordings.
type Tracker struct {
	config    Config
	opts      options
	logger    ports.Logger
	stateRepo *fs.StateFileRepository
	client    *httpAdapter.Client
	collector *app.Collector
	frames    *frames.Pipeline
	crash     *crash.Capture
	recorder  *app.Recorder
}

// New creates a Tracker in StateIdle. It returns an error if the
// configuration is invalid or the data directory cannot be created.
func New(cfg Config, opts ...Option) (*Tracker, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	o := defaultOptions(&http.Client{Timeout: cfg.HTTPTimeout})
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	emitter := &eventEmitterWrapper{handler: o.eventHandler}

	t := &Tracker{
		config:    cfg,
		opts:      o,
		logger:    logger,
		stateRepo: fs.NewStateFileRepository(cfg.DataDir),
	}

	t.client = httpAdapter.NewClient(httpAdapter.Config{
		BaseURL:     cfg.ServiceURL,
		WriteToFile: cfg.Options.WriteToFile,
		Local:       fs.NewSpillFile(filepath.Join(cfg.DataDir, fs.LocalCaptureFile)),
	}, t.stateRepo,
		httpAdapter.WithHTTPClient(o.httpClient),
		httpAdapter.WithLogger(log.With(logger, log.String("component", "delivery"))),
		httpAdapter.WithUnauthorizedHandler(func() { t.recorder.HandleUnauthorized() }),
	)

	t.collector = app.NewCollector(
		app.CollectorConfig{Debug: cfg.Options.Debug},
		t.client,
		fs.NewSpillFile(filepath.Join(cfg.DataDir, fs.LateMessagesFile)),
		log.With(logger, log.String("component", "collector")),
		emitter,
	)

	t.crash = crash.NewCapture(crash.Config{
		Dir:           cfg.DataDir,
		RuntimeOutput: cfg.RuntimeCrashes,
	}, t.client, log.With(logger, log.String("component", "crash")))

	deps := app.RecorderDeps{
		Sessions:     t.client,
		Collector:    t.collector,
		Crash:        t.crash,
		Lifecycle:    o.lifecycle,
		Connectivity: o.connectivity,
		Device:       o.device,
		State:        t.stateRepo,
		Logger:       logger,
		Emitter:      emitter,
	}
	if o.renderer != nil {
		t.frames = frames.NewPipeline(frames.Config{
			Dir:                  cfg.DataDir,
			KeepUploadedArchives: cfg.Options.KeepUploadedArchives,
			MaxArchiveBytes:      cfg.MaxArchiveBytes,
		}, o.renderer, t.client, log.With(logger, log.String("component", "frames")))
		deps.Frames = t.frames
	}

	t.recorder = app.NewRecorder(app.RecorderConfig{
		ProjectKey:      cfg.ProjectKey,
		TrackerVersion:  cfg.TrackerVersion,
		Options:         cfg.Options,
		BackgroundGrace: cfg.BackgroundGrace,
	}, deps)

	return t, nil
}

// Initialize prepares the tracker: it assigns the anonymous user id on
// first run, subscribes to the host sources and delivers data left by a
// previous process. Calling it twice without Shutdown returns
// ErrAlreadyInitialized.
func (t *Tracker) Initialize(ctx context.Context) error {
	if t.recorder.State() != app.StateIdle {
		return ErrAlreadyInitialized
	}
	st, err := t.stateRepo.Bootstrap(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap state: %w", err)
	}
	t.crash.Init(ctx)
	if err := t.recorder.Initialize(ctx); err != nil {
		return err
	}
	t.logger.Info("tracker initialized",
		log.String("user_uuid", st.UserUUID),
		log.String("service_url", t.config.ServiceURL),
	)
	return nil
}

// Start begins a recording and waits for session negotiation. It returns
// ErrNoSession if no session could be negotiated. Starting while already
// recording is a no-op.
func (t *Tracker) Start(ctx context.Context, override *OptionsOverride) error {
	done, err := t.StartAsync(ctx, override)
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartAsync begins a recording without waiting. The returned channel
// yields the outcome of session negotiation.
func (t *Tracker) StartAsync(ctx context.Context, override *OptionsOverride) (<-chan error, error) {
	return t.recorder.Start(ctx, override)
}

// Stop ends the current recording. Buffered messages are flushed and
// sealed frames uploaded. With closeSession the next Start negotiates a
// new session; otherwise it resumes the current one.
func (t *Tracker) Stop(ctx context.Context, closeSession bool) error {
	return t.recorder.Stop(ctx, closeSession)
}

// Shutdown stops recording and unsubscribes from the host sources.
func (t *Tracker) Shutdown(ctx context.Context) error {
	return t.recorder.Shutdown(ctx)
}

// EnableAutoRecording starts recording whenever a UI unit becomes visible
// and stops it after the app stays in the background.
func (t *Tracker) EnableAutoRecording(enable bool) {
	t.recorder.EnableAutoRecording(enable)
}

// UpdateOptions replaces the options used by the next Start.
func (t *Tracker) UpdateOptions(opts Options) error {
	return t.recorder.UpdateOptions(opts)
}

// Options returns the options of the current or next recording.
func (t *Tracker) Options() Options {
	return t.recorder.Options()
}

// Status returns the current recorder state.
// Safe to call concurrently from any goroutine.
func (t *Tracker) Status() State {
	return convertState(t.recorder.State())
}

// SessionID returns the id of the live session, or "" without one.
func (t *Tracker) SessionID() string {
	if sess := t.client.Session(); sess != nil {
		return sess.ID
	}
	return ""
}

// SetUserID attaches a host-defined user id to the session.
func (t *Tracker) SetUserID(id string) error {
	return t.submit(codec.UserID{ID: id})
}

// SetUserAnonymousID attaches an anonymous id to the session.
func (t *Tracker) SetUserAnonymousID(id string) error {
	return t.submit(codec.UserAnonymousID{ID: id})
}

// Metadata attaches a key-value pair to the session.
func (t *Tracker) Metadata(key, value string) error {
	return t.submit(codec.Metadata{Key: key, Value: value})
}

// Event emits a custom event. Strings and byte slices are sent as is;
// other payloads are encoded as JSON.
func (t *Tracker) Event(name string, payload any) error {
	var s string
	switch p := payload.(type) {
	case nil:
	case string:
		s = p
	case []byte:
		s = string(p)
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode event payload: %w", err)
		}
		s = string(b)
	}
	return t.submit(codec.CustomEvent{Name: name, Payload: s})
}

// Log records a host log line. It is dropped when the Logs option is off.
func (t *Tracker) Log(severity, content string) error {
	if !t.recorder.Options().Logs {
		return nil
	}
	return t.submit(codec.Log{Severity: severity, Content: content})
}

// NetworkCall describes one HTTP exchange made by the host.
type NetworkCall struct {
	Type     string
	Method   string
	URL      string
	Request  string
	Response string
	Status   int
	Duration time.Duration
}

// NetworkCall records an HTTP exchange made by the host.
func (t *Tracker) NetworkCall(c NetworkCall) error {
	typ := c.Type
	if typ == "" {
		typ = "xhr"
	}
	return t.submit(codec.NetworkCall{
		Type:     typ,
		Method:   c.Method,
		URL:      c.URL,
		Request:  c.Request,
		Response: c.Response,
		Status:   uint64(max(c.Status, 0)),
		Duration: uint64(max(c.Duration.Milliseconds(), 0)),
	})
}

// Click records a tap or click at (x, y).
func (t *Tracker) Click(label string, x, y int) error {
	return t.submit(codec.ClickEvent{Label: label, X: uint64(max(x, 0)), Y: uint64(max(y, 0))})
}

// Swipe records a swipe gesture.
func (t *Tracker) Swipe(label string, x, y int, direction string) error {
	return t.submit(codec.SwipeEvent{Label: label, X: uint64(max(x, 0)), Y: uint64(max(y, 0)), Direction: direction})
}

// Input records the value of an input field. Rapid edits are coalesced:
// only the last value within the debounce window is sent.
func (t *Tracker) Input(label, value string, masked bool) error {
	if !t.recording() {
		return ErrNotRecording
	}
	ev := codec.InputEvent{Label: label, Value: value, ValueMasked: masked}
	if masked {
		ev.Value = ""
	}
	return t.collector.SubmitDebounced(codec.Encode(ev, time.Now()))
}

// Performance records a named measurement.
func (t *Tracker) Performance(name string, value uint64) error {
	return t.submit(codec.PerformanceEvent{Name: name, Value: value})
}

// SanitizeRegion masks r, in renderer coordinates, in every captured frame.
func (t *Tracker) SanitizeRegion(id string, r image.Rectangle) {
	if t.frames != nil {
		t.frames.AddSanitizedRegion(id, r)
	}
}

// RemoveSanitizedRegion stops masking the region registered under id.
func (t *Tracker) RemoveSanitizedRegion(id string) {
	if t.frames != nil {
		t.frames.RemoveSanitizedRegion(id)
	}
}

// SendLateError reports a caught error as a crash through late ingest.
func (t *Tracker) SendLateError(ctx context.Context, err error) error {
	return t.crash.SendLateError(ctx, err)
}

// DeliverPending sends late messages and crashes persisted by earlier runs.
func (t *Tracker) DeliverPending(ctx context.Context) error {
	return errors.Join(
		t.collector.DeliverSpill(ctx),
		t.crash.DeliverPending(ctx),
	)
}

// Flush sends buffered messages now instead of waiting for the next tick.
func (t *Tracker) Flush(ctx context.Context) error {
	if !t.recording() {
		return ErrNotRecording
	}
	return t.collector.Flush(ctx)
}

func (t *Tracker) recording() bool {
	return t.recorder.State() == app.StateRecording
}

func (t *Tracker) submit(ev codec.Event) error {
	if !t.recording() {
		return ErrNotRecording
	}
	return t.collector.SubmitEvent(ev)
}

// Go runs fn in a new goroutine. A panic in fn is reported as a crash
// while crash capture is active, then propagates.
func Go(fn func()) {
	crash.Go(fn)
}

// Recover reports a panic as a crash and re-panics. Use it directly in a
// defer statement:
//
//	defer replayship.Recover()
var Recover = crash.Recover
