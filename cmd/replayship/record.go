package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bft-labs/replayship/internal/cliconfig"
	"github.com/bft-labs/replayship/pkg/log"
	"github.com/bft-labs/replayship/pkg/replayship"
)

// stopTimeout bounds the final drain after stdin closes or a signal arrives.
const stopTimeout = 30 * time.Second

func newRecordCmd(loader *configLoader) *cobra.Command {
	cfg := loader.cfg

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record stdin lines as session logs until EOF or a signal",
		RunE: func(cmd *cobra.Command, args []string) error {
			lc, err := loader.load(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRecord(ctx, lc, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.FramesDir, "frames-dir", cfg.FramesDir, "directory whose newest image is captured as the current frame")
	f.IntVar(&cfg.FPS, "fps", cfg.FPS, "frame capture rate (1-60)")
	f.StringVar(&cfg.Quality, "quality", cfg.Quality, "frame quality: low, standard or high")
	f.BoolVar(&cfg.Screen, "screen", cfg.Screen, "capture frames")
	f.BoolVar(&cfg.Logs, "logs", cfg.Logs, "record stdin lines as logs")
	f.BoolVar(&cfg.Crashes, "crashes", cfg.Crashes, "capture crashes")
	f.BoolVar(&cfg.WiFiOnly, "wifi-only", cfg.WiFiOnly, "record only on wifi (no effect without a connectivity source)")
	f.BoolVar(&cfg.KeepUploadedArchives, "keep-archives", cfg.KeepUploadedArchives, "keep frame archives after upload")
	f.BoolVar(&cfg.AutoRecord, "auto-record", cfg.AutoRecord, "start when input becomes active and stop after it closes")
	return cmd
}

func runRecord(ctx context.Context, lc loadedConfig, in io.Reader, out io.Writer) error {
	zl := cliconfig.Logger()
	logger := log.NewZerologAdapterWithLogger(zl)

	visibility := &processLifecycle{}
	opts := []replayship.Option{
		replayship.WithLogger(logger),
		replayship.WithLifecycleSource(visibility),
	}
	if lc.FramesDir != "" {
		opts = append(opts, replayship.WithRenderer(newDirRenderer(lc.FramesDir)))
	}

	tr, err := replayship.New(libConfig(lc.Config), opts...)
	if err != nil {
		return fmt.Errorf("create tracker: %w", err)
	}
	if err := tr.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	if lc.File != "" {
		w := cliconfig.NewWatcher(lc.File, lc.Base, lc.Changed, func(c cliconfig.Config) {
			cliconfig.SetDebug(c.Debug)
			if err := tr.UpdateOptions(c.Options()); err != nil {
				zl.Warn().Err(err).Msg("reloaded options rejected")
				return
			}
			tr.EnableAutoRecording(c.AutoRecord)
		}, zl)
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				zl.Warn().Err(err).Msg("config watcher stopped")
			}
		}()
	}

	if lc.AutoRecord {
		tr.EnableAutoRecording(true)
		visibility.Emit(replayship.UnitStarted)
	} else if err := tr.Start(ctx, nil); err != nil {
		return fmt.Errorf("start recording: %w", err)
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		readErr <- scanLines(in, lines)
	}()

	count := 0
loop:
	for {
		select {
		case <-ctx.Done():
			zl.Info().Msg("received signal, stopping...")
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			count++
			err := tr.Log(severityOf(line), line)
			if err != nil && !errors.Is(err, replayship.ErrNotRecording) {
				zl.Warn().Err(err).Msg("log line dropped")
			}
		}
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	if err := tr.Stop(stopCtx, true); err != nil {
		zl.Warn().Err(err).Msg("stop recording")
	}
	if err := tr.Shutdown(stopCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	select {
	case err := <-readErr:
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
	default:
	}
	fmt.Fprintf(out, "recorded %d lines\n", count)
	return nil
}

// scanLines sends every line of r on lines and closes it at EOF.
func scanLines(r io.Reader, lines chan<- string) error {
	defer close(lines)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		lines <- sc.Text()
	}
	return sc.Err()
}

// severityOf guesses the level of a log line from common markers.
func severityOf(line string) string {
	upper := strings.ToUpper(line)
	switch {
	case strings.Contains(upper, "PANIC"), strings.Contains(upper, "FATAL"), strings.Contains(upper, "ERROR"), strings.Contains(upper, "ERR "):
		return "error"
	case strings.Contains(upper, "WARN"):
		return "warning"
	case strings.Contains(upper, "DEBUG"), strings.Contains(upper, "DBG "):
		return "debug"
	default:
		return "info"
	}
}

func libConfig(c cliconfig.Config) replayship.Config {
	return replayship.Config{
		ProjectKey:     c.ProjectKey,
		ServiceURL:     c.ServiceURL,
		DataDir:        c.DataDir,
		Options:        c.Options(),
		HTTPTimeout:    c.HTTPTimeout,
		RuntimeCrashes: c.Crashes,
	}
}

// processLifecycle models the recorded process as a single UI unit.
type processLifecycle struct {
	fn func(replayship.LifecycleEvent)
}

func (p *processLifecycle) Subscribe(fn func(replayship.LifecycleEvent)) func() {
	p.fn = fn
	return func() { p.fn = nil }
}

// Emit delivers ev to the subscriber, if any.
func (p *processLifecycle) Emit(ev replayship.LifecycleEvent) {
	if p.fn != nil {
		p.fn(ev)
	}
}
