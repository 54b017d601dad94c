package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/replayship/internal/cliconfig"
)

const helpBanner = `
 ┏━┓┏━╸┏━┓╻  ┏━┓╻ ╻┏━┓╻ ╻╻┏━┓
 ┣┳┛┣╸ ┣━┛┃  ┣━┫┗┳┛┗━┓┣━┫┃┣━┛
 ╹┗╸┗━╸╹  ┗━╸╹ ╹ ╹ ┗━┛╹ ╹╹╹
`

const helpDescription = `
Record a process session and ship it to your replay backend.

Highlights:
  - Streams stdin lines as session logs, batched and gzip-compressed.
  - Captures frames from a directory of rendered images, sealed into archives.
  - Spills undelivered batches and crashes to disk and sends them on the next run.
  - Configure via file, env (REPLAYSHIP_*), or flags; the file is hot-reloaded.
`

var longHelp = strings.TrimSpace(helpBanner) + "\n\n" + strings.TrimSpace(helpDescription)

var exampleUsage = strings.TrimSpace(`
  ./server 2>&1 | replayship record --project-key <key>
  replayship record --frames-dir /tmp/shots --fps 2 --quality high < app.log
  replayship late
  replayship inspect ~/.replayship/data/lateMessages.dat
  replayship collector --addr :9090 --dir /tmp/sessions
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	log := cliconfig.Logger()

	root := &cobra.Command{
		Use:           "replayship",
		Short:         "Record a process session and ship it to your replay backend",
		Long:          longHelp,
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.replayship/config.toml)")
	pf.StringVar(&cfg.ProjectKey, "project-key", cfg.ProjectKey, "project key")
	pf.StringVar(&cfg.ServiceURL, "service-url", cfg.ServiceURL, fmt.Sprintf("ingestion service URL (defaults to %s)", cliconfig.DefaultServiceURL))
	pf.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for state, spill files and frames (default: $HOME/.replayship/data)")
	pf.DurationVar(&cfg.HTTPTimeout, "timeout", cfg.HTTPTimeout, "HTTP timeout")
	pf.BoolVar(&cfg.Debug, "debug", cfg.Debug, "verbose logging")
	pf.BoolVar(&cfg.WriteToFile, "write-to-file", cfg.WriteToFile, "append batches to a local file instead of posting them")

	loader := &configLoader{cfg: &cfg, path: &cfgPath}
	root.AddCommand(
		newRecordCmd(loader),
		newLateCmd(loader),
		newInspectCmd(),
		newCollectorCmd(),
	)

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("replayship")
		os.Exit(1)
	}
}

// configLoader resolves the CLI configuration: flags win over the
// environment, which wins over the config file.
type configLoader struct {
	cfg  *cliconfig.Config
	path *string
}

// loadedConfig is the result of configLoader.load.
type loadedConfig struct {
	cliconfig.Config

	// File is the config file in use, or "" when none exists.
	File string

	// Base is the configuration before the file was applied.
	Base cliconfig.Config

	// Changed lists the flags set on the command line.
	Changed map[string]bool
}

func (l *configLoader) load(cmd *cobra.Command) (loadedConfig, error) {
	out := loadedConfig{Base: *l.cfg, Changed: map[string]bool{}}
	cmd.Flags().Visit(func(f *pflag.Flag) { out.Changed[f.Name] = true })

	cfg := *l.cfg
	cfgFile := *l.path
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}
	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return out, fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(&cfg, fc, out.Changed); err != nil {
			return out, err
		}
		out.File = cfgFile
	}

	if err := cliconfig.ApplyEnvConfig(&cfg, out.Changed); err != nil {
		return out, err
	}
	if err := cfg.Validate(); err != nil {
		return out, err
	}
	cliconfig.SetDebug(cfg.Debug)

	logCfg := cfg
	if logCfg.ProjectKey != "" {
		logCfg.ProjectKey = "*****"
	}
	log := cliconfig.Logger()
	log.Debug().Interface("config", logCfg).Msg("configuration")

	out.Config = cfg
	return out, nil
}
