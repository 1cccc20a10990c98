package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/brensch/zipstage/internal/archive"
	"github.com/brensch/zipstage/internal/db"
	"github.com/brensch/zipstage/internal/storage"
)

// Defaults used when a Pipeline leaves the corresponding field unset.
const (
	DefaultChunkSize = 10000
)

// Pipeline extracts archives from Store into per-type destination prefixes.
// Only Store, Bucket and Destination are required.
type Pipeline struct {
	Store       storage.Store
	Bucket      string
	ChunkSize   int
	Workers     int
	Destination func(logicalType string) string

	Recorder Recorder
	Observer Observer
	Reporter Reporter
	// OnProgress is called from worker goroutines as well as the controlling
	// goroutine, so it must be safe for concurrent use.
	OnProgress func(Progress)
	Logger     *slog.Logger
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func (p *Pipeline) workers() int {
	if p.Workers <= 0 {
		return runtime.NumCPU()
	}
	return p.Workers
}

func (p *Pipeline) chunkSize() int {
	if p.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return p.ChunkSize
}

func (p *Pipeline) record(ctx context.Context, runID string, desc ArchiveDescriptor, event, msg string, d *time.Duration) {
	if p.Recorder == nil {
		return
	}
	p.Recorder.Record(ctx, db.ArchiveEvent{
		RunID:       runID,
		ArchiveKey:  desc.Key,
		LogicalType: desc.LogicalType,
		Event:       event,
		Message:     msg,
		Duration:    d,
	})
}

func (p *Pipeline) progress(ev Progress) {
	if p.OnProgress != nil {
		p.OnProgress(ev)
	}
}

// ProcessArchive downloads one archive, snapshots its destination, plans chunks and
// runs them on the worker pool. Acquisition failures are contained: the result has
// zero counts and Err set. The result always satisfies
// TotalEntries == ExtractedCount + SkippedCount + ErrorCount + PendingCount,
// where SkippedCount holds only entries already present at the destination and
// PendingCount holds entries a cancellation left unattempted.
func (p *Pipeline) ProcessArchive(ctx context.Context, runID string, desc ArchiveDescriptor) ArchiveResult {
	start := time.Now()
	l := p.logger().With(slog.String("archive_key", desc.Key), slog.String("logical_type", desc.LogicalType))
	res := ArchiveResult{ArchiveKey: desc.Key, LogicalType: desc.LogicalType}

	payload, err := p.DownloadArchive(ctx, runID, desc, l)
	if err != nil {
		return p.acquisitionFailed(ctx, runID, desc, res, "download", err, start, l)
	}
	res.Bytes = int64(len(payload))

	arc, err := archive.Open(desc.Key, payload)
	if err != nil {
		p.record(ctx, runID, desc, db.EventError, fmt.Sprintf("invalid archive: %v", err), nil)
		return p.acquisitionFailed(ctx, runID, desc, res, "open", err, start, l)
	}

	dest := p.Destination(desc.LogicalType)
	index, err := BuildExistingIndex(ctx, p.Store, p.Bucket, dest)
	if err != nil {
		p.record(ctx, runID, desc, db.EventError, fmt.Sprintf("index listing failed: %v", err), nil)
		return p.acquisitionFailed(ctx, runID, desc, res, "index", err, start, l)
	}

	entries := arc.Entries()
	res.TotalEntries = len(entries)
	if len(entries) == 0 {
		l.Warn("Archive is empty or no files found inside.")
	}
	first, dups := firstOccurrences(entries)
	res.DuplicateCount = dups
	chunks := PlanChunks(len(entries), p.chunkSize())
	l.Info("Planned archive extraction.",
		slog.Int("entries", len(entries)),
		slog.Int("already_extracted", len(index)),
		slog.Int("chunks", len(chunks)),
		slog.Int("duplicate_names", dups),
		slog.String("destination", dest))

	p.record(ctx, runID, desc, db.EventExtractStart, fmt.Sprintf("%d entries in %d chunks", len(entries), len(chunks)), nil)
	p.progress(Progress{Stage: StageExtracting, ArchiveKey: desc.Key, LogicalType: desc.LogicalType, Entries: len(entries)})
	var done atomic.Int64
	onChunk := func(n int) {
		p.progress(Progress{
			Stage:       StageChunkDone,
			ArchiveKey:  desc.Key,
			LogicalType: desc.LogicalType,
			Done:        int(done.Add(int64(n))),
			Entries:     len(entries),
		})
	}

	job := chunkJob{archive: arc, index: index, first: first, prefix: dest}
	results, cancelled := p.runChunks(ctx, job, chunks, onChunk)

	// Aggregation happens only after the pool has drained.
	var deferred []int
	for _, r := range results {
		res.ExtractedCount += r.Extracted
		res.SkippedCount += r.Skipped
		res.EntryErrors = append(res.EntryErrors, r.Errors...)
		deferred = append(deferred, r.Deferred...)
	}

	// Repeated names are written in archive order so the last occurrence wins.
	if len(deferred) > 0 && !cancelled {
		if ctx.Err() != nil {
			cancelled = true
		} else {
			extracted, errs := p.writeDeferred(context.WithoutCancel(ctx), arc, dest, deferred)
			res.ExtractedCount += extracted
			res.EntryErrors = append(res.EntryErrors, errs...)
		}
	}

	res.ErrorCount = len(res.EntryErrors)
	res.PendingCount = res.TotalEntries - res.ExtractedCount - res.SkippedCount - res.ErrorCount
	res.Cancelled = cancelled
	res.Duration = time.Since(start)

	for _, e := range res.EntryErrors {
		l.Warn("Entry write failed.", slog.Int("index", e.Index), slog.String("entry", e.Name), "error", e.Err)
	}
	msg := fmt.Sprintf("extracted %d/%d new files, skipped %d, errors %d", res.ExtractedCount, res.TotalEntries, res.SkippedCount, res.ErrorCount)
	if cancelled {
		msg += fmt.Sprintf(", pending %d", res.PendingCount)
		l.Warn("Archive extraction cancelled.", slog.Int("extracted", res.ExtractedCount), slog.Int("pending", res.PendingCount), slog.Int("total", res.TotalEntries))
		p.record(ctx, runID, desc, db.EventCancelled, msg, &res.Duration)
	} else {
		l.Info(fmt.Sprintf("Completed archive: %s.", msg), slog.Duration("duration", res.Duration.Round(time.Millisecond)))
		p.record(ctx, runID, desc, db.EventExtractEnd, msg, &res.Duration)
	}
	return res
}

func (p *Pipeline) writeDeferred(ctx context.Context, arc *archive.Archive, dest string, deferred []int) (int, []EntryError) {
	entries := arc.Entries()
	view, err := arc.View()
	var errs []EntryError
	extracted := 0
	for _, i := range deferred {
		e := entries[i]
		if err != nil {
			errs = append(errs, EntryError{Index: i, Name: e.Name, Err: err})
			continue
		}
		if werr := p.writeEntry(ctx, view, dest, e); werr != nil {
			errs = append(errs, EntryError{Index: i, Name: e.Name, Err: werr})
			continue
		}
		extracted++
	}
	return extracted, errs
}

func (p *Pipeline) acquisitionFailed(ctx context.Context, runID string, desc ArchiveDescriptor, res ArchiveResult, stage string, err error, start time.Time, l *slog.Logger) ArchiveResult {
	res.Duration = time.Since(start)
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		res.Bytes = 0
		res.Cancelled = true
		p.record(ctx, runID, desc, db.EventCancelled, fmt.Sprintf("%s cancelled", stage), &res.Duration)
		return res
	}
	acqErr := &AcquisitionError{Key: desc.Key, Stage: stage, Err: err}
	l.Warn("Archive acquisition failed, continuing with next archive.", slog.String("stage", stage), "error", err)
	return ArchiveResult{
		ArchiveKey:  desc.Key,
		LogicalType: desc.LogicalType,
		Duration:    res.Duration,
		Failure:     acqErr.Error(),
		Err:         acqErr,
	}
}
