package frames

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bft-labs/replayship/internal/domain"
	"github.com/bft-labs/replayship/internal/ports"
)

// Folder names under Config.Dir.
const (
	ScreenshotsDir = "screenshots"
	ArchivesDir    = "archives"
)

// DefaultUploadConcurrency bounds parallel archive uploads in one sweep.
const DefaultUploadConcurrency = 2

// Config contains configuration for the frame pipeline.
type Config struct {
	// Dir is the root holding the screenshot and archive folders.
	Dir string

	// ChunkSize is the frame count that triggers a seal.
	ChunkSize int

	// RenderTimeout bounds one render request.
	RenderTimeout time.Duration

	// UploadConcurrency bounds parallel uploads.
	UploadConcurrency int

	// KeepUploadedArchives keeps archives after a successful upload.
	KeepUploadedArchives bool

	// MaxArchiveBytes is the archive folder size above which the oldest
	// archives are dropped, down to three quarters of it. Negative
	// disables retention.
	MaxArchiveBytes int64
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.RenderTimeout <= 0 {
		c.RenderTimeout = DefaultRenderTimeout
	}
	if c.UploadConcurrency <= 0 {
		c.UploadConcurrency = DefaultUploadConcurrency
	}
	if c.MaxArchiveBytes == 0 {
		c.MaxArchiveBytes = DefaultArchiveHighWatermark
	}
}

// lowWatermark is the size retention prunes down to.
func (c Config) lowWatermark() int64 {
	if c.MaxArchiveBytes == DefaultArchiveHighWatermark {
		return DefaultArchiveLowWatermark
	}
	return c.MaxArchiveBytes / 4 * 3
}

// Pipeline captures frames, seals archives and uploads them.
type Pipeline struct {
	cfg       Config
	renderer  ports.Renderer
	media     ports.MediaSender
	logger    ports.Logger
	sanitizer *Sanitizer
	now       func() time.Time

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	sess     domain.Session
	settings CaptureSettings
	keep     bool
	lastTs   int64

	// sealMu guards the screenshot folder between the loop and Stop.
	sealMu sync.Mutex

	// uploadMu allows one sweep at a time.
	uploadMu sync.Mutex
	uploads  sync.WaitGroup
}

// NewPipeline creates a frame pipeline.
func NewPipeline(cfg Config, renderer ports.Renderer, media ports.MediaSender, logger ports.Logger) *Pipeline {
	cfg.SetDefaults()
	return &Pipeline{
		cfg:       cfg,
		renderer:  renderer,
		media:     media,
		logger:    logger,
		sanitizer: NewSanitizer(),
		now:       time.Now,
	}
}

// AddSanitizedRegion masks r in every captured frame.
func (p *Pipeline) AddSanitizedRegion(id string, r image.Rectangle) {
	p.sanitizer.Add(id, r)
}

// RemoveSanitizedRegion stops masking the region with the given id.
func (p *Pipeline) RemoveSanitizedRegion(id string) {
	p.sanitizer.Remove(id)
}

// Start launches the capture loop for sess. Frames left by a previous
// recording are discarded; archives are kept for upload.
func (p *Pipeline) Start(ctx context.Context, sess *domain.Session, opts domain.Options) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	if p.renderer == nil {
		return errors.New("no renderer configured")
	}
	if err := p.prepare(sess, opts); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.running = true
	p.cancel = cancel
	p.done = done

	p.logger.Info("frame capture started",
		ports.Duration("interval", p.settings.Interval),
		ports.Int("quality", p.settings.JPEGQuality),
		ports.Int("width", p.settings.TargetWidth),
	)
	go p.run(loopCtx, done, p.settings.Interval)
	return nil
}

// prepare resets per-recording state. Called with p.mu held.
func (p *Pipeline) prepare(sess *domain.Session, opts domain.Options) error {
	if sess == nil {
		return domain.ErrNoSession
	}
	p.sess = *sess
	p.settings = SettingsFor(opts.FPS, opts.Quality)
	p.keep = p.cfg.KeepUploadedArchives || opts.KeepUploadedArchives
	p.lastTs = 0

	shots := p.screenshotsDir()
	if err := os.RemoveAll(shots); err != nil {
		p.logger.Warn("failed to clean screenshot folder", ports.Err(err))
	}
	if err := os.MkdirAll(shots, 0o700); err != nil {
		return fmt.Errorf("create screenshot folder: %w", err)
	}
	if err := os.MkdirAll(p.archivesDir(), 0o700); err != nil {
		return fmt.Errorf("create archive folder: %w", err)
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context, done chan struct{}, interval time.Duration) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.captureOnce(ctx); err != nil {
				p.logger.Debug("frame skipped", ports.Err(err))
			}
		}
	}
}

// captureOnce renders, stores and possibly seals one frame.
func (p *Pipeline) captureOnce(ctx context.Context) error {
	img, err := p.render(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	settings := p.settings
	p.mu.Unlock()

	data, err := encodeJPEG(scale(p.sanitizer.Apply(img), settings.TargetWidth), settings.JPEGQuality)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	p.sealMu.Lock()
	defer p.sealMu.Unlock()

	if _, err := p.writeFrame(data); err != nil {
		return err
	}

	frames, err := listFrames(p.screenshotsDir())
	if err != nil {
		return fmt.Errorf("list frames: %w", err)
	}
	if len(frames) >= p.cfg.ChunkSize {
		if err := p.seal(frames[:p.cfg.ChunkSize]); err != nil {
			return err
		}
		p.uploadAsync(ctx)
	}
	return nil
}

// render asks the host for a frame, giving up after RenderTimeout.
func (p *Pipeline) render(ctx context.Context) (image.Image, error) {
	rctx, cancel := context.WithTimeout(ctx, p.cfg.RenderTimeout)
	defer cancel()

	type result struct {
		img image.Image
		err error
	}
	ch := make(chan result, 1)
	go func() {
		img, err := p.renderer.Render(rctx)
		ch <- result{img, err}
	}()

	select {
	case <-rctx.Done():
		return nil, domain.ErrCaptureTimeout
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("render: %w", r.err)
		}
		if r.img == nil || r.img.Bounds().Empty() {
			return nil, errors.New("render: empty frame")
		}
		return r.img, nil
	}
}

// writeFrame stores data under a unique timestamp-derived name.
func (p *Pipeline) writeFrame(data []byte) (string, error) {
	p.mu.Lock()
	ts := max(p.now().UnixMilli(), p.lastTs+1)
	p.lastTs = ts
	p.mu.Unlock()

	path := filepath.Join(p.screenshotsDir(), domain.FrameFileName(time.UnixMilli(ts)))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write frame: %w", err)
	}
	return path, nil
}

// seal archives frames and deletes them. Called with sealMu held.
func (p *Pipeline) seal(frames []domain.FrameRecord) error {
	if len(frames) == 0 {
		return nil
	}

	p.mu.Lock()
	sess := p.sess
	p.mu.Unlock()

	last := frames[len(frames)-1]
	path := filepath.Join(p.archivesDir(), domain.ArchiveFileName(sess.ID, last.CapturedAt))
	if err := writeArchive(path, sess.StartedAt.UnixMilli(), frames); err != nil {
		p.logger.Error("failed to seal archive", ports.Err(err))
		return fmt.Errorf("seal archive: %w", err)
	}

	for _, f := range frames {
		if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
			p.logger.Warn("failed to remove sealed frame", ports.String("path", f.Path), ports.Err(err))
		}
	}
	p.logger.Debug("archive sealed",
		ports.String("archive", filepath.Base(path)),
		ports.Int("frames", len(frames)),
	)
	return nil
}

func (p *Pipeline) uploadAsync(ctx context.Context) {
	p.uploads.Add(1)
	go func() {
		defer p.uploads.Done()
		_ = p.UploadAll(context.WithoutCancel(ctx))
	}()
}

// UploadAll uploads every archive on disk. Failed uploads stay on disk.
// Returns the number of archives uploaded.
func (p *Pipeline) UploadAll(ctx context.Context) int {
	p.uploadMu.Lock()
	defer p.uploadMu.Unlock()

	p.mu.Lock()
	projectKey := p.sess.ProjectKey
	keep := p.keep
	p.mu.Unlock()

	archives, err := listArchives(p.archivesDir())
	if err != nil {
		p.logger.Warn("failed to list archives", ports.Err(err))
		return 0
	}
	if len(archives) == 0 {
		return 0
	}
	if projectKey == "" {
		p.logger.Warn("archive upload skipped, no project key", ports.Int("archives", len(archives)))
		p.enforceRetention()
		return 0
	}

	var mu sync.Mutex
	uploaded := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.UploadConcurrency)
	for _, path := range archives {
		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				p.logger.Warn("failed to read archive", ports.String("archive", path), ports.Err(err))
				return nil
			}
			if err := p.media.SendMedia(gctx, data, filepath.Base(path)); err != nil {
				p.logger.Warn("archive upload failed",
					ports.String("archive", filepath.Base(path)),
					ports.Err(err),
				)
				return nil
			}
			if !keep {
				if err := os.Remove(path); err != nil {
					p.logger.Warn("failed to remove uploaded archive", ports.Err(err))
				}
			}
			mu.Lock()
			uploaded++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	p.enforceRetention()

	p.logger.Debug("archive sweep finished",
		ports.Int("archives", len(archives)),
		ports.Int("uploaded", uploaded),
	)
	return uploaded
}

func (p *Pipeline) enforceRetention() {
	archives, err := listArchives(p.archivesDir())
	if err != nil || len(archives) == 0 {
		return
	}
	pruneArchives(archives, p.cfg.MaxArchiveBytes, p.cfg.lowWatermark(), p.logger)
}

// Stop cancels the capture loop, seals the remaining frames and runs a
// final upload sweep.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done

	p.sealMu.Lock()
	frames, err := listFrames(p.screenshotsDir())
	if err == nil {
		err = p.seal(frames)
	}
	p.sealMu.Unlock()

	p.uploads.Wait()
	p.UploadAll(ctx)

	p.logger.Info("frame capture stopped")
	return err
}

// Running reports whether the capture loop is active.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Pipeline) screenshotsDir() string {
	return filepath.Join(p.cfg.Dir, ScreenshotsDir)
}

func (p *Pipeline) archivesDir() string {
	return filepath.Join(p.cfg.Dir, ArchivesDir)
}
