package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bft-labs/replayship/internal/domain"
)

// DefaultServiceURL is the default ingestion endpoint.
const DefaultServiceURL = "https://api.openreplay.com/ingest"

// Config holds CLI configuration for replayship.
type Config struct {
	ProjectKey string
	ServiceURL string
	DataDir    string
	FramesDir  string

	HTTPTimeout time.Duration

	FPS     int
	Quality string

	Screen               bool
	Logs                 bool
	Crashes              bool
	WiFiOnly             bool
	Debug                bool
	WriteToFile          bool
	KeepUploadedArchives bool
	AutoRecord           bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	opts := domain.DefaultOptions()
	return Config{
		ProjectKey:  os.Getenv("REPLAYSHIP_PROJECT_KEY"),
		ServiceURL:  DefaultServiceURL,
		DataDir:     "", // Derived from $HOME during Validate
		HTTPTimeout: 30 * time.Second,
		FPS:         opts.FPS,
		Quality:     string(opts.Quality),
		Screen:      opts.Screen,
		Logs:        opts.Logs,
		Crashes:     opts.Crashes,
		WiFiOnly:    false, // CLI hosts are usually wired
		AutoRecord:  true,
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.ProjectKey == "" && !c.WriteToFile {
		return fmt.Errorf("project-key is required (or --write-to-file)")
	}

	if c.DataDir == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("data-dir is required: %w", err)
		}
		c.DataDir = filepath.Join(h, ".replayship", "data")
	}

	if c.ServiceURL == "" {
		c.ServiceURL = DefaultServiceURL
	}
	c.ServiceURL = strings.TrimRight(c.ServiceURL, "/")

	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.FPS < 1 || c.FPS > 60 {
		return fmt.Errorf("fps must be between 1 and 60")
	}
	q, err := domain.ParseQuality(c.Quality)
	if err != nil {
		return err
	}
	c.Quality = string(q)

	return nil
}

// Options returns the recording options described by c.
func (c Config) Options() domain.Options {
	return domain.Options{
		Screen:               c.Screen,
		Logs:                 c.Logs,
		Crashes:              c.Crashes,
		FPS:                  c.FPS,
		Quality:              domain.Quality(c.Quality),
		WiFiOnly:             c.WiFiOnly,
		Debug:                c.Debug,
		WriteToFile:          c.WriteToFile,
		KeepUploadedArchives: c.KeepUploadedArchives,
	}
}

// configSetter applies configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses an environment value as a positive int.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setBoolFromString parses an environment value. "true" and "1" are true,
// "false" and "0" are false; anything else is an error.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = b
	return nil
}
