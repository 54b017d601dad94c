package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/cobra"

	"github.com/bft-labs/replayship/internal/codec"
	"github.com/bft-labs/replayship/internal/frames"
)

var gzipMagic = []byte{0x1f, 0x8b}

func newInspectCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Decode a batch, spill file, crash file or frame archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return inspect(cmd.OutOrStdout(), data, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON object per message")
	return cmd
}

func inspect(w io.Writer, data []byte, asJSON bool) error {
	if bytes.HasPrefix(data, gzipMagic) {
		if entries, err := frames.ReadArchive(bytes.NewReader(data)); err == nil && len(entries) > 0 {
			return printArchive(w, entries, asJSON)
		}
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("gzip: %w", err)
		}
		defer zr.Close()
		if data, err = io.ReadAll(zr); err != nil {
			return fmt.Errorf("gzip: %w", err)
		}
	}

	msgs, err := codec.DecodeAll(data)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	for _, m := range msgs {
		ev, err := codec.DecodeEvent(m)
		if err != nil {
			return fmt.Errorf("decode %s: %w", m.Kind, err)
		}
		ts := time.UnixMilli(int64(m.Timestamp)).UTC()
		if asJSON {
			if err := enc.Encode(struct {
				Kind      string      `json:"kind"`
				Timestamp time.Time   `json:"timestamp"`
				Event     codec.Event `json:"event"`
			}{m.Kind.String(), ts, ev}); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintf(w, "%s %-16s %+v\n", ts.Format(time.RFC3339Nano), m.Kind, ev)
	}
	if !asJSON {
		fmt.Fprintf(w, "%d messages\n", len(msgs))
	}
	return nil
}

func printArchive(w io.Writer, entries []frames.ArchiveEntry, asJSON bool) error {
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if asJSON {
			if err := enc.Encode(struct {
				Name  string `json:"name"`
				Bytes int    `json:"bytes"`
			}{e.Name, len(e.Data)}); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintf(w, "%-40s %8d bytes\n", e.Name, len(e.Data))
	}
	if !asJSON {
		fmt.Fprintf(w, "%d frames\n", len(entries))
	}
	return nil
}
