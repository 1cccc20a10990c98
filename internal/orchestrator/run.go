package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// RunBatch lists the catalog and processes its archives strictly one after another.
// A catalog failure is returned as *CatalogError before any archive is touched; no
// single archive failure stops the loop. ctx is checked between archives: on
// cancellation the summary of what was processed is still emitted and the
// context error is returned alongside it.
func (p *Pipeline) RunBatch(ctx context.Context, sources []Source) (BatchSummary, error) {
	logger := p.logger()
	summary := BatchSummary{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
	logger = logger.With(slog.String("run_id", summary.RunID))
	logger.Info("Starting extraction batch.")

	catalog, err := ListCatalog(ctx, p.Store, p.Bucket, sources, logger)
	if err != nil {
		p.progress(Progress{Stage: StageBatchDone, Err: err})
		return summary, err
	}
	p.progress(Progress{Stage: StageCatalog, Total: len(catalog)})
	if len(catalog) == 0 {
		logger.Info("No archives found at all. Nothing to process.")
	}

	for i, desc := range catalog {
		if ctx.Err() != nil {
			logger.Warn("Batch cancelled between archives.", slog.Int("processed", i), slog.Int("total", len(catalog)))
			summary.Cancelled = true
			break
		}
		logger.Info("Processing archive.", slog.String("archive_key", desc.Key), slog.String("logical_type", desc.LogicalType),
			slog.Int("archive_num", i+1), slog.Int("total_archives", len(catalog)))
		p.progress(Progress{Stage: StageDownloading, ArchiveKey: desc.Key, LogicalType: desc.LogicalType, Index: i, Total: len(catalog)})

		res := p.ProcessArchive(ctx, summary.RunID, desc)
		summary.Results = append(summary.Results, res)
		summary.Totals.Add(res)
		if p.Observer != nil {
			p.Observer.ObserveArchive(res)
		}

		stage := StageComplete
		switch {
		case res.Cancelled:
			stage = StageCancelled
			summary.Cancelled = true
		case res.Failed():
			stage = StageFailed
		}
		p.progress(Progress{Stage: stage, ArchiveKey: desc.Key, LogicalType: desc.LogicalType, Index: i, Total: len(catalog),
			Done: res.TotalEntries, Entries: res.TotalEntries, Result: &res, Err: res.Err})
		if res.Cancelled {
			break
		}
	}
	summary.FinishedAt = time.Now().UTC()

	logSummary(logger, summary)
	if p.Reporter != nil {
		// Sinks run even when the batch was cancelled.
		if err := p.Reporter.Emit(context.WithoutCancel(ctx), summary); err != nil {
			logger.Error("Failed to emit summary report.", "error", err)
		}
	}

	var runErr error
	if summary.Cancelled {
		runErr = ctx.Err()
		if runErr == nil {
			runErr = context.Canceled
		}
	}
	p.progress(Progress{Stage: StageBatchDone, Total: len(catalog), Err: runErr})
	return summary, runErr
}

func logSummary(logger *slog.Logger, s BatchSummary) {
	logger.Info("=== FINAL SUMMARY ===")
	for _, r := range s.Results {
		attrs := []any{
			slog.String("archive_key", r.ArchiveKey),
			slog.String("logical_type", r.LogicalType),
			slog.Int("total", r.TotalEntries),
			slog.Int("extracted", r.ExtractedCount),
			slog.Int("skipped", r.SkippedCount),
			slog.Int("errors", r.ErrorCount),
		}
		if r.PendingCount > 0 {
			attrs = append(attrs, slog.Int("pending", r.PendingCount))
		}
		if r.Failed() {
			logger.Warn("Archive failed.", append(attrs, slog.String("failure", r.Failure))...)
			continue
		}
		logger.Info("Archive summary.", attrs...)
	}
	logger.Info("Extraction batch finished.",
		slog.Int("archives", s.Totals.Archives),
		slog.Int("failed_archives", s.Totals.FailedArchives),
		slog.Int("total_entries", s.Totals.TotalEntries),
		slog.Int("extracted", s.Totals.Extracted),
		slog.Int("skipped", s.Totals.Skipped),
		slog.Int("errors", s.Totals.Errors),
		slog.Int("pending", s.Totals.Pending),
		slog.Bool("cancelled", s.Cancelled),
		slog.Duration("duration", s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond)))
}
