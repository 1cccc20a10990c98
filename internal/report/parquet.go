package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/brensch/zipstage/internal/orchestrator"
)

// SummaryRecord is the parquet row layout of one archive result.
type SummaryRecord struct {
	RunID          string `parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	StartedAtMs    int64  `parquet:"name=started_at_ms, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	ArchiveKey     string `parquet:"name=archive_key, type=BYTE_ARRAY, convertedtype=UTF8"`
	LogicalType    string `parquet:"name=logical_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	TotalEntries   int64  `parquet:"name=total_entries, type=INT64"`
	ExtractedCount int64  `parquet:"name=extracted_count, type=INT64"`
	SkippedCount   int64  `parquet:"name=skipped_count, type=INT64"`
	ErrorCount     int64  `parquet:"name=error_count, type=INT64"`
	DuplicateCount int64  `parquet:"name=duplicate_count, type=INT64"`
	ArchiveBytes   int64  `parquet:"name=archive_bytes, type=INT64"`
	DurationMs     int64  `parquet:"name=duration_ms, type=INT64"`
	Cancelled      bool   `parquet:"name=cancelled, type=BOOLEAN"`
	Failure        string `parquet:"name=failure, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// Parquet writes one parquet file per run into Dir.
type Parquet struct {
	Dir string
}

func (p *Parquet) Name() string { return "parquet" }

// Path is the file the summary of the given run is written to.
func (p *Parquet) Path(s orchestrator.BatchSummary) string {
	return filepath.Join(p.Dir, fmt.Sprintf("extract_summary_%s_%s.parquet", s.StartedAt.UTC().Format("20060102T150405Z"), s.RunID))
}

func (p *Parquet) Emit(_ context.Context, s orchestrator.BatchSummary) (err error) {
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return fmt.Errorf("create parquet dir %s: %w", p.Dir, err)
	}
	path := p.Path(s)
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("create parquet file %s: %w", path, err)
	}
	defer func() {
		if closeErr := fw.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close parquet file %s: %w", path, closeErr)
		}
	}()

	pw, err := writer.NewParquetWriter(fw, new(SummaryRecord), 1)
	if err != nil {
		return fmt.Errorf("create parquet writer %s: %w", path, err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, r := range s.Results {
		rec := SummaryRecord{
			RunID:          s.RunID,
			StartedAtMs:    s.StartedAt.UnixMilli(),
			ArchiveKey:     r.ArchiveKey,
			LogicalType:    r.LogicalType,
			TotalEntries:   int64(r.TotalEntries),
			ExtractedCount: int64(r.ExtractedCount),
			SkippedCount:   int64(r.SkippedCount),
			ErrorCount:     int64(r.ErrorCount),
			DuplicateCount: int64(r.DuplicateCount),
			ArchiveBytes:   r.Bytes,
			DurationMs:     r.Duration.Milliseconds(),
			Cancelled:      r.Cancelled,
			Failure:        r.Failure,
		}
		if err := pw.Write(rec); err != nil {
			return fmt.Errorf("write parquet row for %s: %w", r.ArchiveKey, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finalize parquet file %s: %w", path, err)
	}
	return nil
}
