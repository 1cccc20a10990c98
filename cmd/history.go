package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/brensch/zipstage/internal/db"
)

var (
	historyLimit     int
	historyCompleted bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the totals of past extraction batches",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := requireDB()
		if err != nil {
			return err
		}
		if historyCompleted {
			keys, err := db.GetCompletedArchiveKeys(cmd.Context(), conn, getLogger())
			if err != nil {
				return err
			}
			cmd.Printf("%d archives have completed extraction at least once.\n", len(keys))
		}
		return db.DisplaySummaryHistory(cmd.Context(), conn, os.Stdout, historyLimit)
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show")
	historyCmd.Flags().BoolVar(&historyCompleted, "completed", false, "Also count archives that ever completed extraction")
}
