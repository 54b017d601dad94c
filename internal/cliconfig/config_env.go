package cliconfig

import "os"

// envPrefix prefixes every environment variable read by ApplyEnvConfig.
const envPrefix = "REPLAYSHIP_"

// ApplyEnvConfig applies configuration from environment variables (REPLAYSHIP_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)
	env := func(name string) string { return os.Getenv(envPrefix + name) }

	s.setString("project-key", env("PROJECT_KEY"), &cfg.ProjectKey)
	s.setString("service-url", env("SERVICE_URL"), &cfg.ServiceURL)
	s.setString("data-dir", env("DATA_DIR"), &cfg.DataDir)
	s.setString("frames-dir", env("FRAMES_DIR"), &cfg.FramesDir)
	s.setString("quality", env("QUALITY"), &cfg.Quality)

	if err := s.setDuration("timeout", env("HTTP_TIMEOUT"), &cfg.HTTPTimeout); err != nil {
		return err
	}
	if err := s.setIntFromString("fps", env("FPS"), &cfg.FPS); err != nil {
		return err
	}

	bools := []struct {
		flag string
		name string
		dst  *bool
	}{
		{"screen", "SCREEN", &cfg.Screen},
		{"logs", "LOGS", &cfg.Logs},
		{"crashes", "CRASHES", &cfg.Crashes},
		{"wifi-only", "WIFI_ONLY", &cfg.WiFiOnly},
		{"debug", "DEBUG", &cfg.Debug},
		{"write-to-file", "WRITE_TO_FILE", &cfg.WriteToFile},
		{"keep-archives", "KEEP_ARCHIVES", &cfg.KeepUploadedArchives},
		{"auto-record", "AUTO_RECORD", &cfg.AutoRecord},
	}
	for _, b := range bools {
		if err := s.setBoolFromString(b.flag, env(b.name), b.dst); err != nil {
			return err
		}
	}

	return nil
}
