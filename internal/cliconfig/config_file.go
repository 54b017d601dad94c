package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config with TOML-friendly types. Booleans are pointers
// so an absent key leaves the current value alone.
type FileConfig struct {
	ProjectKey           string `toml:"project_key"`
	ServiceURL           string `toml:"service_url"`
	DataDir              string `toml:"data_dir"`
	FramesDir            string `toml:"frames_dir"`
	HTTPTimeout          string `toml:"http_timeout"`
	FPS                  int    `toml:"fps"`
	Quality              string `toml:"quality"`
	Screen               *bool  `toml:"screen"`
	Logs                 *bool  `toml:"logs"`
	Crashes              *bool  `toml:"crashes"`
	WiFiOnly             *bool  `toml:"wifi_only"`
	Debug                *bool  `toml:"debug"`
	WriteToFile          *bool  `toml:"write_to_file"`
	KeepUploadedArchives *bool  `toml:"keep_uploaded_archives"`
	AutoRecord           *bool  `toml:"auto_record"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns ~/.replayship/config.toml, or "" if the home
// directory is unknown.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".replayship", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("project-key", fc.ProjectKey, &cfg.ProjectKey)
	s.setString("service-url", fc.ServiceURL, &cfg.ServiceURL)
	s.setString("data-dir", fc.DataDir, &cfg.DataDir)
	s.setString("frames-dir", fc.FramesDir, &cfg.FramesDir)
	s.setString("quality", fc.Quality, &cfg.Quality)

	if err := s.setDuration("timeout", fc.HTTPTimeout, &cfg.HTTPTimeout); err != nil {
		return err
	}

	s.setInt("fps", fc.FPS, &cfg.FPS)

	s.setBool("screen", fc.Screen, &cfg.Screen)
	s.setBool("logs", fc.Logs, &cfg.Logs)
	s.setBool("crashes", fc.Crashes, &cfg.Crashes)
	s.setBool("wifi-only", fc.WiFiOnly, &cfg.WiFiOnly)
	s.setBool("debug", fc.Debug, &cfg.Debug)
	s.setBool("write-to-file", fc.WriteToFile, &cfg.WriteToFile)
	s.setBool("keep-archives", fc.KeepUploadedArchives, &cfg.KeepUploadedArchives)
	s.setBool("auto-record", fc.AutoRecord, &cfg.AutoRecord)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
