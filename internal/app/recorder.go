package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/replayship/internal/domain"
	"github.com/bft-labs/replayship/internal/ports"
)

// DefaultBackgroundGrace is the delay before a background transition stops recording.
const DefaultBackgroundGrace = 800 * time.Millisecond

// StopTimeout bounds the teardown triggered by lifecycle, connectivity and auth events.
const StopTimeout = 30 * time.Second

// Producer is a pipeline started after a session is negotiated.
type Producer interface {
	Start(ctx context.Context, sess *domain.Session, opts domain.Options) error
	Stop(ctx context.Context) error
}

// RecorderConfig contains configuration for the recorder.
type RecorderConfig struct {
	ProjectKey      string
	TrackerVersion  string
	Options         domain.Options
	BackgroundGrace time.Duration
}

// RecorderDeps are the collaborators of a Recorder. Frames, Crash and the
// host sources are optional.
type RecorderDeps struct {
	Sessions     ports.SessionClient
	Collector    *Collector
	Frames       Producer
	Crash        Producer
	Lifecycle    ports.LifecycleSource
	Connectivity ports.ConnectivitySource
	Device       ports.DeviceInfoProvider
	State        ports.StateRepository
	Logger       ports.Logger
	Emitter      EventEmitter
}

// Recorder orchestrates session start and stop and fans them out to the producers.
type Recorder struct {
	cfg       RecorderConfig
	deps      RecorderDeps
	lifecycle *Lifecycle
	gate      *ConnectivityGate
	logger    ports.Logger
	now       func() time.Time

	mu            sync.Mutex
	opts          domain.Options
	autoRecording bool
	activeUnits   int
	startGen      uint64
	bgGen         uint64
	bgTimer       *time.Timer
	cancel        context.CancelFunc
	unsubscribe   []func()

	// runMu serializes producer start with teardown.
	runMu sync.Mutex
}

// NewRecorder creates a recorder in the Idle state.
func NewRecorder(cfg RecorderConfig, deps RecorderDeps) *Recorder {
	if cfg.BackgroundGrace <= 0 {
		cfg.BackgroundGrace = DefaultBackgroundGrace
	}
	return &Recorder{
		cfg:       cfg,
		deps:      deps,
		lifecycle: NewLifecycle(deps.Logger, deps.Emitter),
		gate:      NewConnectivityGate(cfg.Options.WiFiOnly, deps.Logger),
		logger:    deps.Logger,
		now:       time.Now,
		opts:      cfg.Options,
	}
}

// State returns the current recorder state.
func (r *Recorder) State() State {
	return r.lifecycle.State()
}

// Options returns the options of the current or next recording.
func (r *Recorder) Options() domain.Options {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opts
}

// Initialize registers host observers and delivers data left by a previous process.
func (r *Recorder) Initialize(ctx context.Context) error {
	if err := r.lifecycle.TransitionFrom(StateIdle, StateInitialized, "initialize"); err != nil {
		return domain.ErrAlreadyInitialized
	}

	var unsub []func()
	if r.deps.Lifecycle != nil {
		if fn := r.deps.Lifecycle.Subscribe(r.onLifecycle); fn != nil {
			unsub = append(unsub, fn)
		}
	}
	if r.deps.Connectivity != nil {
		if fn := r.deps.Connectivity.Subscribe(r.onConnectivity); fn != nil {
			unsub = append(unsub, fn)
		}
	}
	r.mu.Lock()
	r.unsubscribe = unsub
	r.mu.Unlock()

	if r.deps.Collector != nil {
		go func() {
			if err := r.deps.Collector.DeliverSpill(ctx); err != nil {
				r.logger.Warn("late messages not delivered", ports.Err(err))
			}
		}()
	}
	return nil
}

// Start begins a recording. Negotiation runs asynchronously: the state is
// Recording at once, and producers start only once a session exists. The
// returned channel yields the outcome of negotiation.
//
// Start is a no-op while Recording or Stopping.
func (r *Recorder) Start(ctx context.Context, override *domain.OptionsOverride) (<-chan error, error) {
	result := make(chan error, 1)

	switch r.lifecycle.State() {
	case StateIdle:
		return nil, domain.ErrNotInitialized
	case StateRecording, StateStopping:
		result <- nil
		return result, nil
	}

	r.mu.Lock()
	opts := r.opts.Merge(override)
	r.mu.Unlock()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	if err := r.lifecycle.TransitionFrom(StateInitialized, StateRecording, "start"); err != nil {
		// Lost a race with another start or a shutdown.
		if r.lifecycle.State() == StateIdle {
			return nil, domain.ErrNotInitialized
		}
		result <- nil
		return result, nil
	}

	recCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.mu.Lock()
	r.opts = opts
	r.startGen++
	gen := r.startGen
	r.cancel = cancel
	r.mu.Unlock()
	r.gate.SetWiFiOnly(opts.WiFiOnly)

	req, err := r.sessionRequest(recCtx)
	if err != nil {
		r.logger.Warn("failed to build session request", ports.Err(err))
	}

	go func() {
		result <- r.begin(recCtx, gen, req, opts)
	}()
	return result, nil
}

func (r *Recorder) begin(ctx context.Context, gen uint64, req domain.SessionRequest, opts domain.Options) error {
	sess, err := r.deps.Sessions.NegotiateSession(ctx, req)
	if err != nil {
		r.mu.Lock()
		current := gen == r.startGen
		r.mu.Unlock()
		if current {
			_ = r.lifecycle.TransitionFrom(StateRecording, StateInitialized, "session negotiation failed")
		}
		r.logger.Error("no session, recording not started", ports.Err(err))
		if !errors.Is(err, domain.ErrNoSession) {
			err = fmt.Errorf("%w: %w", domain.ErrNoSession, err)
		}
		return err
	}

	r.runMu.Lock()
	defer r.runMu.Unlock()

	r.mu.Lock()
	current := gen == r.startGen
	r.mu.Unlock()
	if !current || r.lifecycle.State() != StateRecording {
		return domain.ErrStartAborted
	}

	if r.deps.Collector != nil {
		r.deps.Collector.Start(ctx)
	}
	if opts.Crashes && r.deps.Crash != nil {
		if err := r.deps.Crash.Start(ctx, sess, opts); err != nil {
			r.logger.Warn("crash capture not started", ports.Err(err))
		}
	}
	if opts.Screen && r.deps.Frames != nil {
		if err := r.deps.Frames.Start(ctx, sess, opts); err != nil {
			r.logger.Warn("frame capture not started", ports.Err(err))
		}
	}

	r.logger.Info("recording started",
		ports.String("session_id", sess.ID),
		ports.Bool("screen", opts.Screen),
		ports.Int("fps", opts.FPS),
	)
	return nil
}

// Stop ends the current recording. Producers are drained and, when
// closeSession is set, the session is discarded. Stop is a no-op unless
// Recording.
func (r *Recorder) Stop(ctx context.Context, closeSession bool) error {
	if err := r.lifecycle.TransitionFrom(StateRecording, StateStopping, "stop"); err != nil {
		return nil
	}

	r.mu.Lock()
	r.startGen++
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	r.runMu.Lock()
	var errs []error
	if r.deps.Frames != nil {
		if err := r.deps.Frames.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop frames: %w", err))
		}
	}
	if r.deps.Crash != nil {
		if err := r.deps.Crash.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop crash capture: %w", err))
		}
	}
	if r.deps.Collector != nil {
		if err := r.deps.Collector.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop collector: %w", err))
		}
	}
	if closeSession {
		r.deps.Sessions.Clear()
	}
	r.runMu.Unlock()

	if cancel != nil {
		cancel()
	}

	reason := "stop"
	if closeSession {
		reason = "stop, session closed"
	}
	if err := r.lifecycle.TransitionFrom(StateStopping, StateInitialized, reason); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Shutdown stops recording, unregisters host observers and returns to Idle.
func (r *Recorder) Shutdown(ctx context.Context) error {
	if r.lifecycle.State() == StateIdle {
		return nil
	}
	err := r.Stop(ctx, true)

	r.mu.Lock()
	unsub := r.unsubscribe
	r.unsubscribe = nil
	r.bgGen++
	if r.bgTimer != nil {
		r.bgTimer.Stop()
		r.bgTimer = nil
	}
	r.activeUnits = 0
	r.mu.Unlock()

	for _, fn := range unsub {
		fn()
	}

	if terr := r.lifecycle.TransitionFrom(StateInitialized, StateIdle, "shutdown"); terr != nil {
		return errors.Join(err, terr)
	}
	return err
}

// EnableAutoRecording toggles foreground-driven recording. Enabling while
// a unit is already visible starts recording at once.
func (r *Recorder) EnableAutoRecording(enable bool) {
	r.mu.Lock()
	r.autoRecording = enable
	visible := r.activeUnits > 0
	r.mu.Unlock()

	if enable && visible && r.lifecycle.CanStart() {
		r.autoStart()
	}
}

// AutoRecording reports whether auto-recording is enabled.
func (r *Recorder) AutoRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.autoRecording
}

// UpdateOptions replaces the options used by the next Start.
func (r *Recorder) UpdateOptions(opts domain.Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.opts = opts
	r.mu.Unlock()
	return nil
}

// HandleUnauthorized stops recording and closes the session. It returns at
// once; teardown runs in the background.
func (r *Recorder) HandleUnauthorized() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), StopTimeout)
		defer cancel()
		if err := r.Stop(ctx, true); err != nil {
			r.logger.Warn("stop after unauthorized failed", ports.Err(err))
		}
	}()
}

func (r *Recorder) onLifecycle(ev ports.LifecycleEvent) {
	switch ev {
	case ports.UnitStarted:
		r.mu.Lock()
		r.activeUnits++
		first := r.activeUnits == 1
		if first {
			// Cancel a pending background stop.
			r.bgGen++
			if r.bgTimer != nil {
				r.bgTimer.Stop()
				r.bgTimer = nil
			}
		}
		auto := r.autoRecording
		r.mu.Unlock()

		if first && auto && r.lifecycle.CanStart() {
			r.autoStart()
		}

	case ports.UnitStopped:
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.activeUnits == 0 {
			return
		}
		r.activeUnits--
		if r.activeUnits > 0 || !r.autoRecording {
			return
		}
		r.bgGen++
		gen := r.bgGen
		r.bgTimer = time.AfterFunc(r.cfg.BackgroundGrace, func() {
			r.mu.Lock()
			stillBackground := gen == r.bgGen && r.activeUnits == 0
			r.mu.Unlock()
			if !stillBackground || !r.lifecycle.IsRecording() {
				return
			}
			r.stopAsync("background")
		})
	}
}

func (r *Recorder) onConnectivity(c ports.Connectivity) {
	if r.gate.Observe(c) || !r.lifecycle.IsRecording() {
		return
	}
	go r.stopAsync("connectivity")
}

func (r *Recorder) autoStart() {
	done, err := r.Start(context.Background(), nil)
	if err != nil {
		r.logger.Warn("auto start failed", ports.Err(err))
		return
	}
	go func() {
		if err := <-done; err != nil {
			r.logger.Warn("auto start failed", ports.Err(err))
		}
	}()
}

// stopAsync stops with the session kept so a later start resumes it.
func (r *Recorder) stopAsync(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), StopTimeout)
	defer cancel()
	r.logger.Info("stopping recording", ports.String("reason", reason))
	if err := r.Stop(ctx, false); err != nil {
		r.logger.Warn("stop failed", ports.String("reason", reason), ports.Err(err))
	}
}

func (r *Recorder) sessionRequest(ctx context.Context) (domain.SessionRequest, error) {
	now := r.now()
	req := domain.SessionRequest{
		ProjectKey:     r.cfg.ProjectKey,
		TrackerVersion: r.cfg.TrackerVersion,
		RevID:          "N/A",
		Timestamp:      now.UnixMilli(),
		Timezone:       domain.FormatTimezone(now),
	}
	if r.deps.Device != nil {
		info := r.deps.Device.DeviceInfo()
		req.Platform = info.Platform
		req.Width = info.Width
		req.Height = info.Height
		req.UserOSVersion = info.OSVersion
		req.UserDevice = info.Device
		req.UserDeviceType = info.DeviceType
		req.DeviceMemory = info.MemoryMB
	}
	if r.deps.State == nil {
		return req, nil
	}
	st, err := r.deps.State.Load(ctx)
	if err != nil {
		return req, err
	}
	req.UserUUID = st.UserUUID
	return req, nil
}
