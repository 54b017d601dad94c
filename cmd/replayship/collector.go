package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bft-labs/replayship/internal/cliconfig"
	"github.com/bft-labs/replayship/internal/devserver"
	"github.com/bft-labs/replayship/pkg/log"
)

func newCollectorCmd() *cobra.Command {
	var (
		addr string
		cfg  devserver.Config
	)

	cmd := &cobra.Command{
		Use:   "collector",
		Short: "Run a local collector implementing the ingestion endpoints",
		Long: "Run a development backend that accepts sessions, batches, late data and " +
			"frame archives, and optionally stores them on disk. Point --service-url at it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			zl := cliconfig.Logger()
			srv := &http.Server{
				Addr:              addr,
				Handler:           devserver.New(cfg, log.NewZerologAdapterWithLogger(zl)),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				zl.Info().Str("addr", addr).Str("dir", cfg.Dir).Msg("collector listening")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&addr, "addr", ":9090", "listen address")
	f.StringVar(&cfg.Dir, "dir", "", "directory for received payloads and archives (memory only when empty)")
	f.IntVar(&cfg.FPS, "fps", 1, "fps returned to new sessions")
	f.StringVar(&cfg.Quality, "quality", "standard", "quality returned to new sessions")
	return cmd
}
