package crash

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/bft-labs/replayship/internal/adapters/fs"
	"github.com/bft-labs/replayship/internal/codec"
	"github.com/bft-labs/replayship/internal/domain"
	"github.com/bft-labs/replayship/internal/ports"
)

const (
	// CrashFile holds crash messages awaiting delivery.
	CrashFile = "ASCrash.dat"

	// RuntimeOutputFile receives the Go runtime's fatal error output.
	RuntimeOutputFile = "runtime-crash.log"

	// DefaultSendTimeout bounds the immediate delivery attempt of a fault.
	DefaultSendTimeout = 3 * time.Second
)

// Config contains configuration for crash capture.
type Config struct {
	// Dir holds the crash file and the runtime output file.
	Dir string

	// SendTimeout bounds immediate delivery of a captured fault.
	SendTimeout time.Duration

	// RuntimeOutput directs fatal runtime output to RuntimeOutputFile.
	RuntimeOutput bool
}

// Capture persists and delivers faults. Start installs the handler and
// Stop restores the chain.
type Capture struct {
	cfg      Config
	delivery ports.Delivery
	pending  *fs.SpillFile
	logger   ports.Logger
	now      func() time.Time

	mu      sync.Mutex
	active  bool
	restore func()
	output  bool

	// deliverMu serializes late deliveries so one snapshot is never sent
	// twice by concurrent callers.
	deliverMu sync.Mutex
}

// NewCapture creates crash capture for the given delivery path.
func NewCapture(cfg Config, delivery ports.Delivery, logger ports.Logger) *Capture {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	return &Capture{
		cfg:      cfg,
		delivery: delivery,
		pending:  fs.NewSpillFile(filepath.Join(cfg.Dir, CrashFile)),
		logger:   logger,
		now:      time.Now,
	}
}

// Init converts runtime crash output left by a previous process into a
// pending Crash and delivers pending crashes in the background. It is
// called once per process, before the first Start.
func (c *Capture) Init(ctx context.Context) {
	if c.cfg.RuntimeOutput {
		if err := c.collectRuntimeOutput(); err != nil {
			c.logger.Warn("failed to read previous runtime crash output", ports.Err(err))
		}
	}

	go func() {
		if err := c.DeliverPending(context.WithoutCancel(ctx)); err != nil {
			c.logger.Debug("pending crashes not delivered", ports.Err(err))
		}
	}()
}

// Start installs the fault handler and, when configured, directs fatal
// runtime output to RuntimeOutputFile.
func (c *Capture) Start(context.Context, *domain.Session, domain.Options) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active {
		return nil
	}

	if c.cfg.RuntimeOutput {
		if err := c.redirectRuntimeOutput(); err != nil {
			c.logger.Warn("runtime crash output not redirected", ports.Err(err))
		} else {
			c.output = true
		}
	}

	c.restore = Install(c)
	c.active = true

	c.logger.Debug("crash capture started")
	return nil
}

// Stop removes the fault handler. Crashes already persisted stay on disk.
func (c *Capture) Stop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return nil
	}
	c.restore()
	c.restore = nil
	c.active = false

	if c.output {
		if err := debug.SetCrashOutput(nil, debug.CrashOptions{}); err != nil {
			c.logger.Warn("failed to reset runtime crash output", ports.Err(err))
		}
		c.output = false
	}

	c.logger.Debug("crash capture stopped")
	return nil
}

// Active reports whether the handler is installed.
func (c *Capture) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// HandleFault persists a Crash message for v and tries to deliver it at
// once. Only this fault's bytes leave the crash file on success; earlier
// undelivered crashes stay for late delivery. Failures are logged and the
// fault itself proceeds unchanged.
func (c *Capture) HandleFault(v any, frames []string) {
	data := codec.Encode(NewCrash(v, frames), c.now())

	if err := c.pending.Append(data); err != nil {
		c.logger.Error("failed to persist crash", ports.Err(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SendTimeout)
	defer cancel()

	if err := c.delivery.Send(ctx, data); err != nil {
		c.logger.Warn("crash not delivered, saved for next launch", ports.Err(err))
		return
	}
	c.discard(data)
	c.logger.Info("crash delivered", ports.String("type", fmt.Sprintf("%T", v)))
}

// DeliverPending sends persisted crashes through late ingest. Crashes
// appended while the request is in flight stay in the file.
func (c *Capture) DeliverPending(ctx context.Context) error {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	data, err := c.pending.ReadAll()
	if err != nil {
		return fmt.Errorf("read crash file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := c.delivery.SendLate(ctx, data); err != nil {
		return err
	}
	c.logger.Info("pending crashes delivered", ports.Int("bytes", len(data)))
	c.discard(data)
	return nil
}

// SendLateError reports a caught error as a Crash through late ingest,
// together with any crashes still pending.
func (c *Capture) SendLateError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	crash := codec.Encode(NewCrash(err, callers(3)), c.now())

	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	pending, readErr := c.pending.ReadAll()
	if readErr != nil {
		c.logger.Warn("failed to read crash file", ports.Err(readErr))
		pending = nil
	}
	payload := append(append(make([]byte, 0, len(pending)+len(crash)), pending...), crash...)
	if sendErr := c.delivery.SendLate(ctx, payload); sendErr != nil {
		return sendErr
	}
	c.discard(pending)
	return nil
}

// discard removes delivered bytes from the crash file. When they are no
// longer present as one run (a concurrent delivery already removed part of
// them), the file is left as is and its content is sent again later.
func (c *Capture) discard(data []byte) {
	if len(data) == 0 {
		return
	}
	if _, err := c.pending.Discard(data); err != nil {
		c.logger.Warn("failed to remove delivered crash", ports.Err(err))
	}
}

// NewCrash builds the Crash message for a fault value.
func NewCrash(v any, frames []string) codec.Crash {
	var reason string
	switch x := v.(type) {
	case error:
		reason = x.Error()
	case string:
		reason = x
	default:
		reason = fmt.Sprint(v)
	}
	return codec.Crash{
		Name:       fmt.Sprintf("%T", v),
		Reason:     reason,
		Stacktrace: strings.Join(frames, "\n"),
	}
}

func (c *Capture) runtimeOutputPath() string {
	return filepath.Join(c.cfg.Dir, RuntimeOutputFile)
}

// collectRuntimeOutput converts output left by a runtime crash of a
// previous process into a pending Crash message.
func (c *Capture) collectRuntimeOutput() error {
	path := c.runtimeOutputPath()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	crash, ok := ParseRuntimeOutput(raw)
	if ok {
		var ts time.Time
		if info, err := os.Stat(path); err == nil {
			ts = info.ModTime()
		} else {
			ts = c.now()
		}
		if err := c.pending.Append(codec.Encode(crash, ts)); err != nil {
			return fmt.Errorf("persist runtime crash: %w", err)
		}
		c.logger.Info("recovered runtime crash from previous launch", ports.String("reason", crash.Reason))
	}
	return os.Truncate(path, 0)
}

func (c *Capture) redirectRuntimeOutput() error {
	if err := os.MkdirAll(c.cfg.Dir, 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(c.runtimeOutputPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	// SetCrashOutput duplicates the descriptor.
	return debug.SetCrashOutput(f, debug.CrashOptions{})
}

// ParseRuntimeOutput extracts a Crash from Go runtime crash output. The
// header line ("panic: ..." or "fatal error: ...") gives the name and
// reason; the goroutine dump that follows becomes the stack trace.
func ParseRuntimeOutput(raw []byte) (codec.Crash, bool) {
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var (
		crash  codec.Crash
		found  bool
		frames []string
	)
	for sc.Scan() {
		line := sc.Text()
		if !found {
			for _, prefix := range []string{"panic: ", "fatal error: "} {
				if strings.HasPrefix(line, prefix) {
					crash.Name = "runtime." + strings.ReplaceAll(strings.TrimSuffix(prefix, ": "), " ", "_")
					crash.Reason = strings.TrimSpace(strings.TrimPrefix(line, prefix))
					found = true
					break
				}
			}
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		frames = append(frames, strings.TrimSpace(line))
	}
	if !found {
		return codec.Crash{}, false
	}
	crash.Stacktrace = strings.Join(frames, "\n")
	return crash, true
}
