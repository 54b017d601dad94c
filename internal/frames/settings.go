package frames

import (
	"time"

	"github.com/bft-labs/replayship/internal/domain"
)

// Capture defaults.
const (
	DefaultChunkSize     = 10
	DefaultRenderTimeout = 1200 * time.Millisecond
	MinCaptureInterval   = 250 * time.Millisecond
)

// CaptureSettings are the effective capture parameters of a recording.
type CaptureSettings struct {
	Interval    time.Duration
	JPEGQuality int
	TargetWidth int
}

// SettingsFor derives capture settings from a frame rate and quality.
// fps is clamped to [1,60] and the interval never drops below MinCaptureInterval.
func SettingsFor(fps int, quality domain.Quality) CaptureSettings {
	fps = min(max(fps, 1), 60)
	interval := max(time.Second/time.Duration(fps), MinCaptureInterval)

	s := CaptureSettings{Interval: interval}
	switch quality {
	case domain.QualityLow:
		s.JPEGQuality, s.TargetWidth = 1, 144
	case domain.QualityHigh:
		s.JPEGQuality, s.TargetWidth = 60, 1080
	default:
		s.JPEGQuality, s.TargetWidth = 30, 720
	}
	return s
}
