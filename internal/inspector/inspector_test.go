package inspector

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/zipstage/internal/orchestrator"
	"github.com/brensch/zipstage/internal/report"
)

func summary(runID string, started time.Time, results ...orchestrator.ArchiveResult) orchestrator.BatchSummary {
	s := orchestrator.BatchSummary{RunID: runID, StartedAt: started, FinishedAt: started.Add(time.Minute), Results: results}
	for _, r := range results {
		s.Totals.Add(r)
	}
	return s
}

func TestReportRunID(t *testing.T) {
	t.Parallel()

	id, err := reportRunID("extract_summary_20240115T103000Z_0f6c2b9e-1111.parquet")
	require.NoError(t, err)
	assert.Equal(t, "0f6c2b9e-1111", id)

	_, err = reportRunID("other.parquet")
	assert.Error(t, err)
}

func TestInspect_AggregatesPerLogicalType(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	sink := &report.Parquet{Dir: dir}
	day := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	require.NoError(t, sink.Emit(ctx, summary("run-1", day,
		orchestrator.ArchiveResult{ArchiveKey: "a.zip", LogicalType: "100k", TotalEntries: 3, ExtractedCount: 3, Bytes: 100},
		orchestrator.ArchiveResult{ArchiveKey: "b.zip", LogicalType: "30k", TotalEntries: 2, ExtractedCount: 1, ErrorCount: 1, Bytes: 50},
	)))
	require.NoError(t, sink.Emit(ctx, summary("run-2", day.Add(time.Hour),
		orchestrator.ArchiveResult{ArchiveKey: "a.zip", LogicalType: "100k", TotalEntries: 3, SkippedCount: 3, Bytes: 100},
		orchestrator.ArchiveResult{ArchiveKey: "c.zip", LogicalType: "100k", Failure: "download c.zip: boom", Err: errors.New("boom")},
	)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stray.parquet"), []byte("x"), 0o644))

	var buf bytes.Buffer
	rep, err := Inspect(ctx, dir, &buf, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err, "stray file name is reported")
	require.Len(t, rep.Files, 2)
	assert.Contains(t, rep.Columns, "archive_key")
	require.Len(t, rep.Types, 2)

	k100 := rep.Types[0]
	assert.Equal(t, "100k", k100.LogicalType)
	assert.Equal(t, int64(2), k100.Runs)
	assert.Equal(t, int64(3), k100.Archives)
	assert.Equal(t, int64(1), k100.FailedArchives)
	assert.Equal(t, int64(6), k100.TotalEntries)
	assert.Equal(t, int64(3), k100.Extracted)
	assert.Equal(t, int64(3), k100.Skipped)
	assert.Equal(t, int64(200), k100.Bytes)

	k30 := rep.Types[1]
	assert.Equal(t, "30k", k30.LogicalType)
	assert.Equal(t, int64(1), k30.Errors)

	assert.Contains(t, buf.String(), "100k")
	assert.Contains(t, buf.String(), "Logical Type")
}

func TestInspect_EmptyDir(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	rep, err := Inspect(context.Background(), t.TempDir(), &buf, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.Empty(t, rep.Files)
	assert.Contains(t, buf.String(), "No extraction reports found")
}
