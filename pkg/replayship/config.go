package replayship

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bft-labs/replayship/internal/app"
	"github.com/bft-labs/replayship/internal/domain"
)

// DefaultServiceURL is the ingestion service used when Config.ServiceURL is empty.
const DefaultServiceURL = "https://api.openreplay.com/ingest"

// DefaultHTTPTimeout bounds each request of the default HTTP client.
const DefaultHTTPTimeout = 30 * time.Second

// Config holds everything needed to create a Tracker.
type Config struct {
	// ProjectKey identifies the project on the backend. Required unless
	// Options.WriteToFile is set.
	ProjectKey string

	// ServiceURL is the ingestion service root.
	// Default: DefaultServiceURL
	ServiceURL string

	// DataDir holds persisted state, spill files, crash files and frames.
	// Default: $HOME/.replayship/data
	DataDir string

	// Options are the recording defaults. Start may override them.
	Options Options

	// HTTPTimeout applies to the default HTTP client only.
	// Default: 30s
	HTTPTimeout time.Duration

	// BackgroundGrace is the delay between the last visible UI unit going
	// away and auto-recording stopping.
	// Default: 800ms
	BackgroundGrace time.Duration

	// MaxArchiveBytes bounds the frame archive folder; the oldest archives
	// are dropped beyond it. Negative disables the bound.
	// Default: 256 MiB
	MaxArchiveBytes int64

	// RuntimeCrashes directs fatal Go runtime output to the data directory so
	// crashes outside guarded goroutines are reported on the next launch.
	RuntimeCrashes bool

	// TrackerVersion is reported during session negotiation.
	// Default: Version
	TrackerVersion string
}

// DefaultConfig returns a Config with default recording options.
func DefaultConfig() Config {
	cfg := Config{Options: DefaultOptions()}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills zero values with defaults. Options are left alone;
// start from DefaultOptions to get the recording defaults.
func (c *Config) SetDefaults() {
	if c.ServiceURL == "" {
		c.ServiceURL = DefaultServiceURL
	}
	c.ServiceURL = strings.TrimRight(c.ServiceURL, "/")
	if c.DataDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.DataDir = filepath.Join(home, ".replayship", "data")
		}
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.BackgroundGrace <= 0 {
		c.BackgroundGrace = app.DefaultBackgroundGrace
	}
	if c.TrackerVersion == "" {
		c.TrackerVersion = Version
	}
	if c.Options.Quality == "" {
		c.Options.Quality = QualityStandard
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.ProjectKey == "" && !c.Options.WriteToFile {
		return fmt.Errorf("%w: project key is required", domain.ErrInvalidConfig)
	}
	if c.DataDir == "" {
		return fmt.Errorf("%w: data directory is required", domain.ErrInvalidConfig)
	}
	if !strings.HasPrefix(c.ServiceURL, "http://") && !strings.HasPrefix(c.ServiceURL, "https://") {
		return fmt.Errorf("%w: service url %q must be http or https", domain.ErrInvalidConfig, c.ServiceURL)
	}
	return c.Options.Validate()
}
