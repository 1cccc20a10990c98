package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/brensch/zipstage/internal/db"
)

// DownloadArchive fetches the full archive payload into memory.
// It records download events to the ledger.
func (p *Pipeline) DownloadArchive(ctx context.Context, runID string, desc ArchiveDescriptor, logger *slog.Logger) ([]byte, error) {
	l := logger.With(slog.Int64("listed_bytes", desc.Size))
	l.Info("Starting archive download.")

	startTime := time.Now()
	p.record(ctx, runID, desc, db.EventDownloadStart, "", nil)

	data, err := p.Store.Get(ctx, p.Bucket, desc.Key)
	downloadDuration := time.Since(startTime)
	if err != nil {
		msg := fmt.Sprintf("download failed: %v", err)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			l.Warn("Download cancelled.", "error", err)
			msg = fmt.Sprintf("download cancelled: %v", err)
		} else {
			l.Warn("Download failed.", "error", err)
		}
		p.record(ctx, runID, desc, db.EventError, msg, &downloadDuration)
		return nil, fmt.Errorf("download %s: %w", desc.Key, err)
	}

	l.Info("Download complete.",
		slog.String("size", humanize.Bytes(uint64(len(data)))),
		slog.Duration("duration", downloadDuration.Round(time.Millisecond)))
	p.record(ctx, runID, desc, db.EventDownloadEnd, "", &downloadDuration)
	return data, nil
}
