package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/theimaginaryfoundation/wa-digest/digest/eventlog"
)

const importBatchSize = 500

func writeJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show event store statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.Count(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"events_total": n,
				"backend":      store.Backend(),
				"path":         store.Location(),
			})
		},
	}
}

func newTailCmd(a *app) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the last stored events, one JSON object per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			last, err := store.Tail(cmd.Context(), n)
			if err != nil {
				return err
			}
			for _, rec := range last {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), string(rec)); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 10, "Number of events")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Copy a JSONL event log into the configured store, keeping ts_server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if from == "" {
				return errors.New("missing --from")
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if same, _ := samePath(from, store.Location()); same {
				return fmt.Errorf("import: source and destination are the same file: %s", from)
			}

			ctx := cmd.Context()
			src := eventlog.NewJSONLStore(from, a.logger)
			imported := 0
			batch := make([]json.RawMessage, 0, importBatchSize)
			flush := func() error {
				if len(batch) == 0 {
					return nil
				}
				n, err := store.AppendRecords(ctx, batch)
				imported += n
				batch = batch[:0]
				return err
			}
			err = src.ScanRaw(ctx, func(rec json.RawMessage) error {
				if _, err := eventlog.DecodeRecord(rec); err != nil {
					return nil
				}
				batch = append(batch, rec)
				if len(batch) == importBatchSize {
					return flush()
				}
				return nil
			})
			if err == nil {
				err = flush()
			}
			if err != nil {
				return fmt.Errorf("import: after %d events: %w", imported, err)
			}

			a.logger.Info("import finished", "from", from, "to", store.Location(), "backend", store.Backend(), "events", imported)
			return writeJSON(cmd.OutOrStdout(), map[string]any{"imported": imported})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "JSONL event log to import")
	return cmd
}

func samePath(a, b string) (bool, error) {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}
	return absA == absB, nil
}
