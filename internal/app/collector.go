package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bft-labs/replayship/internal/codec"
	"github.com/bft-labs/replayship/internal/domain"
	"github.com/bft-labs/replayship/internal/ports"
)

// Collector defaults.
const (
	DefaultMaxBatchBytes  = 500_000
	DefaultFlushInterval  = 5 * time.Second
	DefaultDebounceWindow = 2 * time.Second
	DefaultSendTimeout    = 30 * time.Second
)

// eagerFlushRatio is the share of MaxBatchBytes that triggers an out-of-band flush.
const eagerFlushRatio = 0.8

// DefaultQueueBatches is the default buffer bound, in batches.
const DefaultQueueBatches = 10

// CollectorConfig contains configuration for the message collector.
type CollectorConfig struct {
	// MaxBatchBytes is the hard cap for one batch and for one message.
	MaxBatchBytes int

	// MaxQueueBytes bounds the whole buffer. Past it the oldest messages
	// are dropped. Defaults to DefaultQueueBatches * MaxBatchBytes.
	MaxQueueBytes int

	// FlushInterval is the periodic flush period.
	FlushInterval time.Duration

	// DebounceWindow is the quiet period for SubmitDebounced.
	DebounceWindow time.Duration

	// SendTimeout bounds each delivery call.
	SendTimeout time.Duration

	// Debug enables per-message debug logging.
	Debug bool
}

// SetDefaults fills zero values with defaults.
func (c *CollectorConfig) SetDefaults() {
	if c.MaxBatchBytes <= 0 {
		c.MaxBatchBytes = DefaultMaxBatchBytes
	}
	if c.MaxQueueBytes < c.MaxBatchBytes {
		c.MaxQueueBytes = DefaultQueueBatches * c.MaxBatchBytes
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = DefaultDebounceWindow
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
}

// SendEventEmitter is called on send success or failure.
type SendEventEmitter interface {
	OnSendSuccess(messageCount, bytesSent int, duration time.Duration)
	OnSendError(err error, messageCount int, retryable bool)
}

// Collector buffers serialized messages and flushes them as indexed batches.
//
// The buffer lock is held only for queue mutation. Sends happen outside it,
// and a failed batch is pushed back onto the front of the queue.
type Collector struct {
	cfg      CollectorConfig
	delivery ports.Delivery
	spill    ports.SpillStore
	logger   ports.Logger
	emitter  SendEventEmitter
	now      func() time.Time

	mu          sync.Mutex
	queue       [][]byte
	queuedBytes int
	nextIndex   uint64
	running     bool
	draining    bool
	cancel      context.CancelFunc
	done        chan struct{}

	debounceGen     uint64
	debounceTimer   *time.Timer
	debouncePending []byte

	// spillMu serializes spill file writes with late delivery.
	spillMu      sync.Mutex
	spillBackoff *backoff
	spillRetryAt time.Time

	flushCh chan struct{}
}

// NewCollector creates a collector. spill receives batches that cannot be
// delivered during the final drain.
func NewCollector(
	cfg CollectorConfig,
	delivery ports.Delivery,
	spill ports.SpillStore,
	logger ports.Logger,
	emitter SendEventEmitter,
) *Collector {
	cfg.SetDefaults()
	return &Collector{
		cfg:          cfg,
		delivery:     delivery,
		spill:        spill,
		logger:       logger,
		emitter:      emitter,
		now:          time.Now,
		spillBackoff: newBackoff(DefaultBackoffInitial, DefaultBackoffMax),
		flushCh:      make(chan struct{}, 1),
	}
}

// Submit appends a serialized message to the buffer.
// Messages larger than MaxBatchBytes are rejected with domain.ErrMessageTooLarge.
func (c *Collector) Submit(msg []byte) error {
	if len(msg) > c.cfg.MaxBatchBytes {
		c.logger.Warn("dropping oversized message",
			ports.Int("bytes", len(msg)),
			ports.Int("max_bytes", c.cfg.MaxBatchBytes),
		)
		return domain.ErrMessageTooLarge
	}

	c.mu.Lock()
	c.queue = append(c.queue, msg)
	c.queuedBytes += len(msg)
	dropped := c.trimLocked()
	eager := c.running && !c.draining && c.overThreshold()
	c.mu.Unlock()

	c.logDropped(dropped)

	if eager {
		c.signalFlush()
	}
	return nil
}

// SubmitEvent encodes ev with the current time and submits it.
func (c *Collector) SubmitEvent(ev codec.Event) error {
	if c.cfg.Debug && ev.Kind() != domain.KindLog && ev.Kind() != domain.KindNetworkCall {
		c.logger.Debug("submit event", ports.String("kind", ev.Kind().String()))
	}
	return c.Submit(codec.Encode(ev, c.now()))
}

// SubmitDebounced schedules msg for submission after the debounce window.
// A later call within the window replaces it.
func (c *Collector) SubmitDebounced(msg []byte) error {
	if len(msg) > c.cfg.MaxBatchBytes {
		return domain.ErrMessageTooLarge
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.debounceGen++
	gen := c.debounceGen
	c.debouncePending = msg
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
	}
	c.debounceTimer = time.AfterFunc(c.cfg.DebounceWindow, func() {
		c.mu.Lock()
		if gen != c.debounceGen || c.debouncePending == nil {
			c.mu.Unlock()
			return
		}
		pending := c.debouncePending
		c.debouncePending = nil
		c.mu.Unlock()

		_ = c.Submit(pending)
	})
	return nil
}

// Start launches the periodic flush loop. A pending spill file is delivered first.
func (c *Collector) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	if c.spill != nil && c.spill.Exists() {
		c.draining = true
		c.spillRetryAt = time.Time{}
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.running = true
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go c.run(loopCtx, done)
}

func (c *Collector) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	c.retrySpill(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.retrySpill(ctx)
			c.flushPending(ctx)
		case <-c.flushCh:
			c.flushPending(ctx)
		}
	}
}

// flushPending flushes until the buffer is below the eager threshold or a send fails.
func (c *Collector) flushPending(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.Flush(ctx); err != nil {
			return
		}
		c.mu.Lock()
		more := len(c.queue) > 0 && c.overThreshold()
		c.mu.Unlock()
		if !more {
			return
		}
	}
}

// Flush sends one batch built from the head of the buffer.
// On failure the batch's messages return to the front of the buffer.
func (c *Collector) Flush(ctx context.Context) error {
	b := c.take()
	if b == nil {
		return nil
	}
	data := c.encode(b)

	start := time.Now()
	err := c.send(ctx, data)
	if err != nil {
		c.requeue(b)
		retryable := errors.Is(err, domain.ErrTransient) || errors.Is(err, domain.ErrNoSession)
		c.logger.Warn("batch send failed",
			ports.Uint64("index", b.Index),
			ports.Int("messages", b.Size()),
			ports.Bool("retryable", retryable),
			ports.Err(err),
		)
		if c.emitter != nil {
			c.emitter.OnSendError(err, b.Size(), retryable)
		}
		return err
	}

	duration := time.Since(start)
	c.logger.Debug("batch sent",
		ports.Uint64("index", b.Index),
		ports.Int("messages", b.Size()),
		ports.Int("bytes", len(data)),
		ports.Duration("duration", duration),
	)
	if c.emitter != nil {
		c.emitter.OnSendSuccess(b.Size(), len(data), duration)
	}
	return nil
}

// Stop cancels the flush loop and drains the buffer synchronously.
// Batches that cannot be delivered are written to the spill file, and the
// collector stays in draining mode until that file is delivered.
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.draining = true
	cancel, done := c.cancel, c.done
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
		c.debounceTimer = nil
	}
	c.debounceGen++
	if c.debouncePending != nil {
		c.queue = append(c.queue, c.debouncePending)
		c.queuedBytes += len(c.debouncePending)
		c.debouncePending = nil
	}
	dropped := c.trimLocked()
	c.mu.Unlock()

	c.logDropped(dropped)

	cancel()
	<-done

	err := c.drain(ctx)
	if err == nil && (c.spill == nil || !c.spill.Exists()) {
		c.mu.Lock()
		c.draining = false
		c.mu.Unlock()
	}
	return err
}

func (c *Collector) drain(ctx context.Context) error {
	for {
		b := c.take()
		if b == nil {
			return nil
		}
		data := c.encode(b)
		err := c.send(ctx, data)
		if err == nil {
			if c.emitter != nil {
				c.emitter.OnSendSuccess(b.Size(), len(data), 0)
			}
			continue
		}

		c.logger.Warn("final flush failed, spilling buffer",
			ports.Uint64("index", b.Index),
			ports.Err(err),
		)
		return c.spillFrom(b, data)
	}
}

// spillFrom writes the failed batch and every remaining buffered message to the spill file.
func (c *Collector) spillFrom(b *domain.Batch, data []byte) error {
	if c.spill == nil {
		c.requeue(b)
		return errors.New("no spill store configured")
	}

	c.spillMu.Lock()
	defer c.spillMu.Unlock()

	spilled := 0
	for b != nil {
		if err := c.spill.Append(data); err != nil {
			c.requeue(b)
			c.logger.Error("failed to write spill file", ports.Err(err))
			return err
		}
		spilled += b.Size()
		b = c.take()
		if b != nil {
			data = c.encode(b)
		}
	}
	c.logger.Info("buffer spilled for late delivery", ports.Int("messages", spilled))
	return nil
}

// DeliverSpill sends the spill file through late delivery and removes it on success.
func (c *Collector) DeliverSpill(ctx context.Context) error {
	if c.spill == nil {
		return nil
	}

	c.spillMu.Lock()
	defer c.spillMu.Unlock()

	data, err := c.spill.ReadAll()
	if err != nil {
		return err
	}
	if len(data) > 0 {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.SendTimeout)
		err = c.delivery.SendLate(sendCtx, data)
		cancel()
		if err != nil {
			return err
		}
		if err := c.spill.Remove(); err != nil {
			return err
		}
		c.logger.Info("late messages delivered", ports.Int("bytes", len(data)))
	}

	c.mu.Lock()
	c.draining = false
	c.spillBackoff.Reset()
	c.mu.Unlock()
	return nil
}

func (c *Collector) retrySpill(ctx context.Context) {
	c.mu.Lock()
	due := c.draining && !c.now().Before(c.spillRetryAt)
	c.mu.Unlock()
	if !due {
		return
	}

	err := c.DeliverSpill(ctx)
	if err == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if errors.Is(err, domain.ErrNoLastToken) || errors.Is(err, domain.ErrUnauthorized) {
		// Nothing can deliver it this run; keep it for the next process.
		c.draining = false
		c.logger.Warn("late messages kept for next launch", ports.Err(err))
		return
	}
	delay := c.spillBackoff.Next()
	c.spillRetryAt = c.now().Add(delay)
	c.logger.Warn("late delivery failed",
		ports.Duration("retry_in", delay),
		ports.Err(err),
	)
}

func (c *Collector) send(ctx context.Context, data []byte) error {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.SendTimeout)
	defer cancel()
	return c.delivery.Send(sendCtx, data)
}

// take dequeues messages from the head while they fit in one batch and
// assigns the batch index.
func (c *Collector) take() *domain.Batch {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 {
		return nil
	}

	b := domain.NewBatch(c.nextIndex)
	n := 0
	for n < len(c.queue) && b.TotalBytes+len(c.queue[n]) <= c.cfg.MaxBatchBytes {
		b.Add(c.queue[n])
		n++
	}

	rest := make([][]byte, len(c.queue)-n)
	copy(rest, c.queue[n:])
	c.queue = rest
	c.queuedBytes -= b.TotalBytes
	c.nextIndex += uint64(n)
	return b
}

func (c *Collector) requeue(b *domain.Batch) {
	c.mu.Lock()
	q := make([][]byte, 0, len(b.Messages)+len(c.queue))
	q = append(q, b.Messages...)
	q = append(q, c.queue...)
	c.queue = q
	c.queuedBytes += b.TotalBytes
	dropped := c.trimLocked()
	c.mu.Unlock()

	c.logDropped(dropped)
}

// trimLocked drops messages from the head until the buffer fits
// MaxQueueBytes and returns how many were dropped. c.mu must be held.
func (c *Collector) trimLocked() int {
	n, freed := 0, 0
	for n < len(c.queue) && c.queuedBytes-freed > c.cfg.MaxQueueBytes {
		freed += len(c.queue[n])
		n++
	}
	if n == 0 {
		return 0
	}
	rest := make([][]byte, len(c.queue)-n)
	copy(rest, c.queue[n:])
	c.queue = rest
	c.queuedBytes -= freed
	return n
}

func (c *Collector) logDropped(n int) {
	if n == 0 {
		return
	}
	c.logger.Warn("buffer full, dropped oldest messages",
		ports.Int("dropped", n),
		ports.Int("max_queue_bytes", c.cfg.MaxQueueBytes),
	)
}

func (c *Collector) encode(b *domain.Batch) []byte {
	data := codec.Encode(codec.BatchMeta{FirstIndex: b.Index}, c.now())
	buf := make([]byte, 0, len(data)+b.TotalBytes)
	buf = append(buf, data...)
	for _, m := range b.Messages {
		buf = append(buf, m...)
	}
	return buf
}

func (c *Collector) overThreshold() bool {
	return float64(c.queuedBytes) >= eagerFlushRatio*float64(c.cfg.MaxBatchBytes)
}

func (c *Collector) signalFlush() {
	select {
	case c.flushCh <- struct{}{}:
	default:
	}
}

// Queued returns the number of buffered messages and their total size.
func (c *Collector) Queued() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue), c.queuedBytes
}

// NextIndex returns the index the next batch will carry.
func (c *Collector) NextIndex() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextIndex
}

// Draining reports whether a final drain left undelivered data behind.
func (c *Collector) Draining() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draining
}

// Running reports whether the flush loop is active.
func (c *Collector) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
