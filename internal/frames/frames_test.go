package frames

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/replayship/internal/domain"
	"github.com/bft-labs/replayship/internal/ports"
	"github.com/bft-labs/replayship/pkg/log"
)

type mockMedia struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (m *mockMedia) SendMedia(_ context.Context, data []byte, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.names = append(m.names, name)
	return nil
}

func (m *mockMedia) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.names...)
}

func solid(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func staticRenderer(img image.Image) ports.Renderer {
	return ports.RendererFunc(func(context.Context) (image.Image, error) {
		return img, nil
	})
}

var testStart = time.UnixMilli(1_700_000_000_000)

func newTestPipeline(t *testing.T, cfg Config, r ports.Renderer, media *mockMedia, projectKey string) *Pipeline {
	t.Helper()
	cfg.Dir = t.TempDir()
	p := NewPipeline(cfg, r, media, log.NewNoopLogger())
	p.now = func() time.Time { return testStart.Add(time.Second) }

	sess := &domain.Session{ID: "sess-1", ProjectKey: projectKey, StartedAt: testStart}
	p.mu.Lock()
	err := p.prepare(sess, domain.DefaultOptions())
	p.mu.Unlock()
	require.NoError(t, err)
	return p
}

func TestSettingsFor(t *testing.T) {
	tests := []struct {
		name     string
		fps      int
		quality  domain.Quality
		interval time.Duration
		jpeg     int
		width    int
	}{
		{"one fps standard", 1, domain.QualityStandard, time.Second, 30, 720},
		{"zero fps clamps to one", 0, domain.QualityLow, time.Second, 1, 144},
		{"ten fps floors at minimum", 10, domain.QualityHigh, 250 * time.Millisecond, 60, 1080},
		{"two fps", 2, domain.QualityStandard, 500 * time.Millisecond, 30, 720},
		{"unknown quality", 1, domain.Quality("ultra"), time.Second, 30, 720},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := SettingsFor(tt.fps, tt.quality)
			assert.Equal(t, tt.interval, s.Interval)
			assert.Equal(t, tt.jpeg, s.JPEGQuality)
			assert.Equal(t, tt.width, s.TargetWidth)
		})
	}
}

func TestScale_PreservesAspect(t *testing.T) {
	out := scale(solid(200, 100, color.Black), 144)
	assert.Equal(t, 144, out.Bounds().Dx())
	assert.Equal(t, 72, out.Bounds().Dy())
}

func TestSanitizer_MasksRegion(t *testing.T) {
	s := NewSanitizer()
	s.Add("card", image.Rect(10, 10, 50, 50))

	src := solid(64, 64, color.Black)
	out, ok := s.Apply(src).(*image.RGBA)
	require.True(t, ok)

	assert.Equal(t, maskStripe, out.RGBAAt(10, 10), "stripe origin")
	assert.Equal(t, maskBackground, out.RGBAAt(22, 10))
	assert.Equal(t, color.RGBA{A: 0xff}, out.RGBAAt(5, 5), "outside region untouched")

	// source is not modified
	r, g, b, _ := src.At(22, 10).RGBA()
	assert.Zero(t, r+g+b)
}

func TestSanitizer_NoRegions(t *testing.T) {
	s := NewSanitizer()
	src := solid(8, 8, color.Black)
	assert.Same(t, src, s.Apply(src))

	s.Add("a", image.Rect(100, 100, 120, 120))
	assert.Same(t, src, s.Apply(src), "non-intersecting region")

	s.Add("b", image.Rect(0, 0, 2, 2))
	s.Remove("b")
	assert.Len(t, s.Regions(), 1)
}

func TestPipeline_SealsAtChunkSize(t *testing.T) {
	media := &mockMedia{}
	p := newTestPipeline(t, Config{}, staticRenderer(solid(100, 200, color.White)), media, "")

	for i := 0; i < DefaultChunkSize-1; i++ {
		require.NoError(t, p.captureOnce(context.Background()))
	}
	archives, err := listArchives(p.archivesDir())
	require.NoError(t, err)
	assert.Empty(t, archives)

	require.NoError(t, p.captureOnce(context.Background()))
	p.uploads.Wait()

	archives, err = listArchives(p.archivesDir())
	require.NoError(t, err)
	require.Len(t, archives, 1)

	frames, err := listFrames(p.screenshotsDir())
	require.NoError(t, err)
	assert.Empty(t, frames)

	first := testStart.Add(time.Second).UnixMilli()
	last := first + DefaultChunkSize - 1
	assert.Equal(t, domain.ArchiveFileName("sess-1", last), filepath.Base(archives[0]))

	data, err := os.ReadFile(archives[0])
	require.NoError(t, err)
	entries, err := ReadArchive(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, entries, DefaultChunkSize)
	for i, e := range entries {
		assert.Equal(t, domain.ArchiveEntryName(testStart.UnixMilli(), first+int64(i)), e.Name)
	}

	img, err := jpeg.Decode(bytes.NewReader(entries[0].Data))
	require.NoError(t, err)
	assert.Equal(t, 720, img.Bounds().Dx())
	assert.Equal(t, 1440, img.Bounds().Dy())

	// no project key: archive stays, nothing uploaded
	assert.Empty(t, media.Names())
}

func TestPipeline_UploadSweep(t *testing.T) {
	media := &mockMedia{err: errors.New("offline")}
	p := newTestPipeline(t, Config{ChunkSize: 2}, staticRenderer(solid(10, 10, color.White)), media, "key")

	for i := 0; i < 4; i++ {
		require.NoError(t, p.captureOnce(context.Background()))
	}
	p.uploads.Wait()

	archives, err := listArchives(p.archivesDir())
	require.NoError(t, err)
	assert.Len(t, archives, 2, "failed uploads stay on disk")

	media.mu.Lock()
	media.err = nil
	media.mu.Unlock()

	assert.Equal(t, 2, p.UploadAll(context.Background()))
	assert.Len(t, media.Names(), 2)

	archives, err = listArchives(p.archivesDir())
	require.NoError(t, err)
	assert.Empty(t, archives)
}

func TestPipeline_KeepUploadedArchives(t *testing.T) {
	media := &mockMedia{}
	p := newTestPipeline(t, Config{ChunkSize: 1, KeepUploadedArchives: true},
		staticRenderer(solid(10, 10, color.White)), media, "key")

	require.NoError(t, p.captureOnce(context.Background()))
	p.uploads.Wait()

	assert.Len(t, media.Names(), 1)
	archives, err := listArchives(p.archivesDir())
	require.NoError(t, err)
	assert.Len(t, archives, 1)
}

func TestPipeline_RenderTimeoutSkipsFrame(t *testing.T) {
	blocking := ports.RendererFunc(func(ctx context.Context) (image.Image, error) {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return solid(4, 4, color.White), nil
	})
	p := newTestPipeline(t, Config{RenderTimeout: 20 * time.Millisecond}, blocking, &mockMedia{}, "key")

	err := p.captureOnce(context.Background())
	assert.ErrorIs(t, err, domain.ErrCaptureTimeout)

	frames, err := listFrames(p.screenshotsDir())
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestPipeline_StopSealsRemainder(t *testing.T) {
	media := &mockMedia{}
	dir := t.TempDir()
	p := NewPipeline(Config{Dir: dir}, staticRenderer(solid(10, 10, color.White)), media, log.NewNoopLogger())

	// leftovers from a previous run
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ScreenshotsDir), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ScreenshotsDir, "1.jpeg"), []byte("old"), 0o600))

	sess := &domain.Session{ID: "s", ProjectKey: "key", StartedAt: time.Now()}
	require.NoError(t, p.Start(context.Background(), sess, domain.DefaultOptions()))
	assert.True(t, p.Running())

	for i := 0; i < 3; i++ {
		require.NoError(t, p.captureOnce(context.Background()))
	}

	require.NoError(t, p.Stop(context.Background()))
	assert.False(t, p.Running())

	names := media.Names()
	require.Len(t, names, 1)

	// stale frame was discarded on start
	frames, err := listFrames(p.screenshotsDir())
	require.NoError(t, err)
	assert.Empty(t, frames)

	require.NoError(t, p.Stop(context.Background()), "second stop is a no-op")
}

func TestPipeline_StartStopWithoutFrames(t *testing.T) {
	media := &mockMedia{}
	p := NewPipeline(Config{Dir: t.TempDir()}, staticRenderer(solid(2, 2, color.White)), media, log.NewNoopLogger())

	sess := &domain.Session{ID: "s", ProjectKey: "key", StartedAt: time.Now()}
	require.NoError(t, p.Start(context.Background(), sess, domain.DefaultOptions()))
	require.NoError(t, p.Start(context.Background(), sess, domain.DefaultOptions()), "start while running")
	require.NoError(t, p.Stop(context.Background()))

	assert.Empty(t, media.Names())
}

func TestPipeline_StartRequiresSession(t *testing.T) {
	p := NewPipeline(Config{Dir: t.TempDir()}, staticRenderer(solid(2, 2, color.White)), &mockMedia{}, log.NewNoopLogger())
	assert.ErrorIs(t, p.Start(context.Background(), nil, domain.DefaultOptions()), domain.ErrNoSession)
	assert.False(t, p.Running())
}

func TestPruneArchives_OldestFirst(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)

	var paths []string
	for i, name := range []string{"c.tar.gz", "a.tar.gz", "b.tar.gz"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, make([]byte, 100), 0o600))
		mod := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(path, mod, mod))
		paths = append(paths, path)
	}

	assert.Zero(t, pruneArchives(paths, 300, 200, log.NewNoopLogger()), "at the watermark")

	freed := pruneArchives(paths, 250, 150, log.NewNoopLogger())
	assert.Equal(t, int64(200), freed)
	assert.NoFileExists(t, filepath.Join(dir, "c.tar.gz"), "oldest removed first")
	assert.NoFileExists(t, filepath.Join(dir, "a.tar.gz"))
	assert.FileExists(t, filepath.Join(dir, "b.tar.gz"))
}

func TestPipeline_RetentionBoundsArchiveFolder(t *testing.T) {
	media := &mockMedia{err: errors.New("offline")}
	p := newTestPipeline(t, Config{ChunkSize: 1, MaxArchiveBytes: 1}, staticRenderer(solid(10, 10, color.White)), media, "key")

	for i := 0; i < 3; i++ {
		require.NoError(t, p.captureOnce(context.Background()))
		p.uploads.Wait()
	}

	archives, err := listArchives(p.archivesDir())
	require.NoError(t, err)
	assert.Empty(t, archives, "every archive exceeds a one byte budget")
}

func TestConfig_RetentionDefaults(t *testing.T) {
	var c Config
	c.SetDefaults()
	assert.Equal(t, DefaultArchiveHighWatermark, c.MaxArchiveBytes)
	assert.Equal(t, DefaultArchiveLowWatermark, c.lowWatermark())

	c = Config{MaxArchiveBytes: 400}
	c.SetDefaults()
	assert.Equal(t, int64(300), c.lowWatermark())
}
