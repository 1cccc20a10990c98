package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/brensch/zipstage/internal/db"
)

// Source is one catalog prefix and the logical type of the archives under it.
type Source struct {
	LogicalType string
	Prefix      string
}

// ArchiveDescriptor identifies one archive object eligible for processing.
type ArchiveDescriptor struct {
	Key         string
	LogicalType string
	Size        int64
}

// EntryError records one entry that could not be written.
type EntryError struct {
	Index int
	Name  string
	Err   error
}

func (e EntryError) Error() string {
	return fmt.Sprintf("entry %d (%s): %v", e.Index, e.Name, e.Err)
}

// ChunkResult is what one chunk task hands back. Each task owns its result.
type ChunkResult struct {
	Extracted int
	Skipped   int // entries already present at the destination
	Errors    []EntryError
	// Deferred lists entries whose name repeats an earlier entry of the archive.
	// They are written after the pool drains, in archive order.
	Deferred []int
}

// ArchiveResult is the outcome of processing one archive.
type ArchiveResult struct {
	ArchiveKey     string        `json:"archive_key"`
	LogicalType    string        `json:"logical_type"`
	TotalEntries   int           `json:"total_entries"`
	ExtractedCount int           `json:"extracted_count"`
	SkippedCount   int           `json:"skipped_count"`
	ErrorCount     int           `json:"error_count"`
	PendingCount   int           `json:"pending_count"`
	DuplicateCount int           `json:"duplicate_count"`
	Bytes          int64         `json:"archive_bytes"`
	Duration       time.Duration `json:"duration_ns"`
	Cancelled      bool          `json:"cancelled,omitempty"`
	Failure        string        `json:"failure,omitempty"`

	EntryErrors []EntryError `json:"-"`
	Err         error        `json:"-"`
}

// Failed reports whether the archive could not be acquired.
func (r ArchiveResult) Failed() bool {
	return r.Err != nil
}

// BatchSummary is the outcome of one run.
type BatchSummary struct {
	RunID      string          `json:"run_id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Results    []ArchiveResult `json:"archives"`
	Totals     Totals          `json:"totals"`
	Cancelled  bool            `json:"cancelled,omitempty"`
}

// Totals aggregates every ArchiveResult of a run.
type Totals struct {
	Archives       int   `json:"archives"`
	FailedArchives int   `json:"failed_archives"`
	TotalEntries   int   `json:"total_entries"`
	Extracted      int   `json:"extracted"`
	Skipped        int   `json:"skipped"`
	Errors         int   `json:"errors"`
	Pending        int   `json:"pending"`
	Duplicates     int   `json:"duplicates"`
	Bytes          int64 `json:"archive_bytes"`
}

// Add folds r into the totals.
func (t *Totals) Add(r ArchiveResult) {
	t.Archives++
	if r.Failed() {
		t.FailedArchives++
	}
	t.TotalEntries += r.TotalEntries
	t.Extracted += r.ExtractedCount
	t.Skipped += r.SkippedCount
	t.Errors += r.ErrorCount
	t.Pending += r.PendingCount
	t.Duplicates += r.DuplicateCount
	t.Bytes += r.Bytes
}

// Recorder receives pipeline events. Implementations must not fail the run.
type Recorder interface {
	Record(ctx context.Context, ev db.ArchiveEvent)
}

// Observer is told about every finished archive.
type Observer interface {
	ObserveArchive(r ArchiveResult)
}

// Reporter receives the summary once per run.
type Reporter interface {
	Emit(ctx context.Context, s BatchSummary) error
}

// ProgressStage names a point in an archive's lifecycle.
type ProgressStage string

const (
	StageCatalog     ProgressStage = "catalog"
	StageDownloading ProgressStage = "downloading"
	StageExtracting  ProgressStage = "extracting"
	StageChunkDone   ProgressStage = "chunk_done"
	StageComplete    ProgressStage = "complete"
	StageFailed      ProgressStage = "failed"
	StageCancelled   ProgressStage = "cancelled"
	StageBatchDone   ProgressStage = "batch_done"
)

// Progress is a lifecycle notification for interactive displays.
type Progress struct {
	Stage       ProgressStage
	ArchiveKey  string
	LogicalType string
	Index       int // position of the archive in the catalog
	Total       int // catalog size
	Done        int // entries handled so far in this archive
	Entries     int // entries in this archive
	Result      *ArchiveResult
	Err         error
}
