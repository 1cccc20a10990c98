package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/brensch/zipstage/internal/inspector"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Aggregate the parquet batch reports per logical type using DuckDB",
	Long: `Reads every parquet summary report in the report directory with DuckDB's
read_parquet and prints per logical type totals across all runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		dir := getConfig().Report.ParquetDir
		if dir == "" {
			return fmt.Errorf("no parquet report directory configured (set report.parquet_dir or --parquet-dir)")
		}
		if _, err := inspector.Inspect(cmd.Context(), dir, os.Stdout, logger); err != nil {
			logger.Error("Inspection completed with errors.", "error", err)
			return fmt.Errorf("inspection failed: %w", err)
		}
		return nil
	},
}

func init() {
	inspectCmd.Flags().String("parquet-dir", "", "Directory holding parquet summary reports")
}
