package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/brensch/zipstage/internal/app"
	"github.com/brensch/zipstage/internal/config"
	"github.com/brensch/zipstage/internal/metrics"
	"github.com/brensch/zipstage/internal/orchestrator"
	"github.com/brensch/zipstage/internal/report"
	"github.com/brensch/zipstage/internal/storage"
)

const tuiLogFile = "zipstage-run.log"

var (
	skipUpload  bool
	useTUI      bool
	metricsAddr string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Upload local archives, then extract every listed archive",
	Long: `Performs the complete pipeline:
1. Uploads archives from each logical type's local directory, plus the configured
   extra files, into the bucket (skipped with --skip-upload).
2. Lists every archive under each logical type's archive prefix.
3. Processes the archives one at a time: download, snapshot the destination
   prefix, and write every entry not already present using a bounded pool.
4. Emits the batch summary to the configured report sinks.

Only a listing failure fails the run; per-archive and per-entry failures are
reported in the summary. Ctrl+C stops the batch after in-flight chunks finish.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		logger := getLogger()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if useTUI && (logOutput == "" || logOutput == "stderr" || logOutput == "stdout") {
			l, err := newLogger(logLevel, logFormat, tuiLogFile)
			if err != nil {
				return err
			}
			logger = l
			fmt.Fprintf(os.Stderr, "Logging to %s while the progress view is shown.\n", tuiLogFile)
		}

		store, err := storage.Open(ctx, cfg.StorageOptions())
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		rec, err := recorder(logger)
		if err != nil {
			return err
		}

		if !skipUpload {
			if err := stage(ctx, store, cfg, rec, logger); err != nil {
				return err
			}
		}

		collector := metrics.New()
		if metricsAddr != "" {
			srv, err := collector.Serve(ctx, metricsAddr, logger)
			if err != nil {
				return err
			}
			defer srv.Close()
		}

		var tableOut io.Writer = os.Stdout
		var tableBuf bytes.Buffer
		if useTUI {
			tableOut = &tableBuf
		}
		sinks, err := reportSinks(cfg, store, tableOut)
		if err != nil {
			return err
		}

		p := &orchestrator.Pipeline{
			Store:       store,
			Bucket:      cfg.Bucket,
			ChunkSize:   cfg.Extraction.ChunkSize,
			Workers:     cfg.Extraction.ChunkWorkers,
			Destination: destinations(cfg),
			Recorder:    rec,
			Observer:    collector,
			Reporter:    &report.Multi{Sinks: sinks, Logger: logger},
			Logger:      logger,
		}
		sources := batchSources(cfg)

		var summary orchestrator.BatchSummary
		if useTUI {
			summary, err = runWithTUI(ctx, p, sources)
			os.Stdout.Write(tableBuf.Bytes())
		} else {
			summary, err = p.RunBatch(ctx, sources)
		}
		if err != nil {
			return fmt.Errorf("run batch: %w", err)
		}
		if summary.Totals.FailedArchives > 0 || summary.Totals.Errors > 0 {
			logger.Warn("Batch completed with contained failures.",
				slog.Int("failed_archives", summary.Totals.FailedArchives), slog.Int("entry_errors", summary.Totals.Errors))
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&skipUpload, "skip-upload", false, "Skip uploading local archives before extraction")
	runCmd.Flags().BoolVar(&useTUI, "tui", false, "Show an interactive progress view")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run (e.g. :9090)")
	runCmd.Flags().Int("chunk-size", config.DefaultChunkSize, "Entries per chunk")
	runCmd.Flags().Int("chunk-workers", config.DefaultChunkWorkers, "Concurrent chunk workers per archive")
	runCmd.Flags().String("year", config.DefaultYear, "Year used in the destination layout and extra file keys")
	runCmd.Flags().String("month", config.DefaultMonth, "Month used in the destination layout and extra file keys")
	runCmd.Flags().String("parquet-dir", "", "Write a parquet summary report per run into this directory")
}

func runWithTUI(ctx context.Context, p *orchestrator.Pipeline, sources []orchestrator.Source) (orchestrator.BatchSummary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := app.New("zipstage", func() (orchestrator.BatchSummary, error) {
		return p.RunBatch(ctx, sources)
	}, cancel)
	program := tea.NewProgram(model)
	p.OnProgress = app.Forward(program)

	if _, err := program.Run(); err != nil {
		return orchestrator.BatchSummary{}, fmt.Errorf("progress view: %w", err)
	}
	if model.State == app.Exiting && model.Summary == nil {
		return orchestrator.BatchSummary{}, context.Canceled
	}
	if model.Summary == nil {
		return orchestrator.BatchSummary{}, model.Err
	}
	return *model.Summary, model.Err
}

// batchSources lists one catalog source per configured logical type.
func batchSources(cfg *config.Config) []orchestrator.Source {
	sources := make([]orchestrator.Source, 0, len(cfg.Types))
	for _, t := range cfg.Types {
		sources = append(sources, orchestrator.Source{LogicalType: t.Name, Prefix: t.ArchivePrefix})
	}
	return sources
}

// destinations resolves each logical type to its destination prefix.
func destinations(cfg *config.Config) func(string) string {
	byName := make(map[string]string, len(cfg.Types))
	for _, t := range cfg.Types {
		byName[t.Name] = cfg.DestinationPrefix(t)
	}
	return func(logicalType string) string {
		if d, ok := byName[logicalType]; ok {
			return d
		}
		return cfg.DestinationPrefix(config.LogicalType{Name: logicalType})
	}
}

func reportSinks(cfg *config.Config, store storage.Store, tableOut io.Writer) ([]report.Sink, error) {
	var sinks []report.Sink
	if cfg.Report.Table {
		sinks = append(sinks, &report.Table{W: tableOut})
	}
	if cfg.Report.Object {
		sinks = append(sinks, &report.Object{Store: store, Bucket: cfg.Bucket, Prefix: cfg.Report.Prefix})
	}
	if cfg.Report.ParquetDir != "" {
		sinks = append(sinks, &report.Parquet{Dir: cfg.Report.ParquetDir})
	}
	if cfg.Report.Ledger {
		conn, err := getDB()
		if err != nil {
			return nil, err
		}
		if conn != nil {
			sinks = append(sinks, &report.Ledger{DB: conn})
		}
	}
	return sinks, nil
}
