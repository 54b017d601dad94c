package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bft-labs/replayship/internal/cliconfig"
	"github.com/bft-labs/replayship/pkg/log"
	"github.com/bft-labs/replayship/pkg/replayship"
)

func newLateCmd(loader *configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "late",
		Short: "Deliver late messages and crashes left by earlier runs",
		Long: "Send the late-message spill file and pending crash reports in the data " +
			"directory through late ingest, using the token of the most recent session.",
		RunE: func(cmd *cobra.Command, args []string) error {
			lc, err := loader.load(cmd)
			if err != nil {
				return err
			}
			logger := log.NewZerologAdapterWithLogger(cliconfig.Logger())
			tr, err := replayship.New(libConfig(lc.Config), replayship.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("create tracker: %w", err)
			}
			if err := tr.DeliverPending(cmd.Context()); err != nil {
				return fmt.Errorf("late delivery: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "pending data delivered")
			return nil
		},
	}
}
