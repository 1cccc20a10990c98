package cmd

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/brensch/zipstage/internal/db"
	"github.com/brensch/zipstage/internal/orchestrator"
	"github.com/brensch/zipstage/internal/storage"
)

var (
	stateLimit       int
	stateFilterEvent string
	statePending     bool
)

var stateCmd = &cobra.Command{
	Use:   "state [logical-type | archive-key]",
	Short: "View the ledger event history for archives",
	Long: `Queries the DuckDB ledger and displays the event history of archives.
An optional argument filters by logical type; if it names an archive key
instead, the latest event for that archive is shown.
Use --pending to list archives in the bucket that have never completed extraction.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()
		conn, err := requireDB()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		if statePending {
			store, err := storage.Open(ctx, cfg.StorageOptions())
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			catalog, err := orchestrator.ListCatalog(ctx, store, cfg.Bucket, batchSources(cfg), logger)
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(catalog))
			for _, d := range catalog {
				keys = append(keys, d.Key)
			}
			done, err := db.GetCompletionStatusBatch(ctx, conn, keys, db.EventExtractEnd)
			if err != nil {
				return err
			}
			var pending []string
			for _, k := range keys {
				if !done[k] {
					pending = append(pending, k)
				}
			}
			sort.Strings(pending)
			fmt.Printf("%d of %d listed archives have never completed extraction.\n", len(pending), len(keys))
			for _, k := range pending {
				fmt.Println("  " + k)
			}
			return nil
		}

		typeFilter := ""
		if len(args) > 0 {
			typeFilter = args[0]
			isType := false
			for _, t := range cfg.Types {
				if t.Name == typeFilter {
					isType = true
					break
				}
			}
			if !isType {
				event, ts, msg, found, err := db.GetLatestArchiveEvent(ctx, conn, args[0])
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("%q is neither a configured logical type nor a recorded archive key", args[0])
				}
				fmt.Printf("%s\n  latest event: %s at %s\n", args[0], event, ts.Format(time.RFC3339))
				if msg != "" {
					fmt.Printf("  message: %s\n", msg)
				}
				return nil
			}
		}

		logger.Debug("Querying ledger event log.", "type_filter", typeFilter, "event_filter", stateFilterEvent, "limit", stateLimit)
		if err := db.DisplayEventHistory(ctx, conn, os.Stdout, typeFilter, stateFilterEvent, stateLimit); err != nil {
			logger.Error("Failed to display state history.", "error", err)
			return err
		}
		return nil
	},
}

func init() {
	stateCmd.Flags().IntVarP(&stateLimit, "limit", "n", 50, "Limit the number of log records displayed")
	stateCmd.Flags().StringVarP(&stateFilterEvent, "event", "e", "", "Filter records by event type (e.g. extract_end, error, upload_error)")
	stateCmd.Flags().BoolVar(&statePending, "pending", false, "List archives in the bucket that never completed extraction")
}
