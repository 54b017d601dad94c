package domain

import (
	"fmt"
	"strings"
)

// Quality selects the frame compression and target width.
type Quality string

const (
	QualityLow      Quality = "low"
	QualityStandard Quality = "standard"
	QualityHigh     Quality = "high"
)

// ParseQuality parses a quality name case-insensitively.
func ParseQuality(s string) (Quality, error) {
	switch q := Quality(strings.ToLower(strings.TrimSpace(s))); q {
	case QualityLow, QualityStandard, QualityHigh:
		return q, nil
	default:
		return "", fmt.Errorf("%w: unknown quality %q", ErrInvalidConfig, s)
	}
}

// Options controls what a recording captures.
type Options struct {
	// Screen enables frame capture
	Screen bool `toml:"screen" json:"screen"`

	// Logs enables Log messages from the host
	Logs bool `toml:"logs" json:"logs"`

	// Crashes enables crash capture
	Crashes bool `toml:"crashes" json:"crashes"`

	// FPS is the target capture rate, clamped to [1,60]
	FPS int `toml:"fps" json:"fps"`

	// Quality selects frame compression and resolution
	Quality Quality `toml:"quality" json:"quality"`

	// WiFiOnly stops recording when only cellular is available
	WiFiOnly bool `toml:"wifi_only" json:"wifiOnly"`

	// Debug enables verbose logging
	Debug bool `toml:"debug" json:"debug"`

	// WriteToFile appends batches to a local file instead of posting them
	WriteToFile bool `toml:"write_to_file" json:"writeToFile"`

	// KeepUploadedArchives keeps frame archives on disk after upload
	KeepUploadedArchives bool `toml:"keep_uploaded_archives" json:"keepUploadedArchives"`
}

// DefaultOptions returns the recording defaults.
func DefaultOptions() Options {
	return Options{
		Screen:   true,
		Logs:     true,
		Crashes:  true,
		FPS:      1,
		Quality:  QualityStandard,
		WiFiOnly: true,
	}
}

// Validate checks option values.
func (o Options) Validate() error {
	if o.FPS < 0 {
		return fmt.Errorf("%w: fps must not be negative", ErrInvalidConfig)
	}
	if _, err := ParseQuality(string(o.Quality)); err != nil {
		return err
	}
	return nil
}

// OptionsOverride carries per-start changes. Nil fields keep the current value.
type OptionsOverride struct {
	Screen   *bool
	Logs     *bool
	Crashes  *bool
	FPS      *int
	Quality  *Quality
	WiFiOnly *bool
	Debug    *bool
}

// Merge returns o with the non-nil fields of ov applied.
func (o Options) Merge(ov *OptionsOverride) Options {
	if ov == nil {
		return o
	}
	if ov.Screen != nil {
		o.Screen = *ov.Screen
	}
	if ov.Logs != nil {
		o.Logs = *ov.Logs
	}
	if ov.Crashes != nil {
		o.Crashes = *ov.Crashes
	}
	if ov.FPS != nil {
		o.FPS = *ov.FPS
	}
	if ov.Quality != nil {
		o.Quality = *ov.Quality
	}
	if ov.WiFiOnly != nil {
		o.WiFiOnly = *ov.WiFiOnly
	}
	if ov.Debug != nil {
		o.Debug = *ov.Debug
	}
	return o
}
