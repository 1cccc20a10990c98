package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/brensch/zipstage/internal/config"
	"github.com/brensch/zipstage/internal/orchestrator"
	"github.com/brensch/zipstage/internal/storage"
	"github.com/brensch/zipstage/internal/uploader"
)

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload local archives and extra files into the bucket",
	Long: `Uploads every archive file found in each logical type's local directory to the
type's archive prefix, then uploads the configured extra files. Missing
directories and files are warnings; a failed upload is logged and recorded in
the ledger without stopping the others.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		logger := getLogger()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := storage.Open(ctx, cfg.StorageOptions())
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		rec, err := recorder(logger)
		if err != nil {
			return err
		}
		return stage(ctx, store, cfg, rec, logger)
	},
}

func init() {
	uploadCmd.Flags().String("year", config.DefaultYear, "Year substituted into extra file keys")
	uploadCmd.Flags().String("month", config.DefaultMonth, "Month substituted into extra file keys")
}

// stage uploads local archives and extra files. Individual upload failures are
// contained; only cancellation is returned.
func stage(ctx context.Context, store storage.Store, cfg *config.Config, rec orchestrator.Recorder, logger *slog.Logger) error {
	u := &uploader.Uploader{Store: store, Bucket: cfg.Bucket, Recorder: rec, Logger: logger}

	targets := make([]uploader.Target, 0, len(cfg.Types))
	for _, t := range cfg.Types {
		targets = append(targets, uploader.Target{LogicalType: t.Name, LocalDir: t.LocalDir, Prefix: t.ArchivePrefix})
	}
	archives, err := u.UploadArchives(ctx, targets)
	if err != nil {
		return fmt.Errorf("upload archives: %w", err)
	}

	files := make([]uploader.File, 0, len(cfg.ExtraFiles))
	for _, f := range cfg.ExtraFiles {
		files = append(files, uploader.File{LocalPath: f.LocalPath, Key: cfg.ExpandKey(f.Key)})
	}
	extras, err := u.UploadFiles(ctx, files)
	if err != nil {
		return fmt.Errorf("upload extra files: %w", err)
	}

	logger.Info("Upload finished.",
		slog.Int("archives_uploaded", archives.Uploaded),
		slog.Int("archives_failed", archives.Failed),
		slog.Int("files_uploaded", extras.Uploaded),
		slog.Int("files_failed", extras.Failed),
		slog.Int("missing", archives.Missing+extras.Missing),
		slog.String("bytes", humanize.Bytes(uint64(archives.Bytes+extras.Bytes))))
	return nil
}
