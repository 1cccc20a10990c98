package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
)

const summaryTableSQL = `
CREATE TABLE IF NOT EXISTS extract_summary (
    run_id          VARCHAR NOT NULL,
    run_started     TIMESTAMP NOT NULL,
    archive_key     VARCHAR NOT NULL,
    logical_type    VARCHAR NOT NULL,
    total_entries   BIGINT NOT NULL,
    extracted       BIGINT NOT NULL,
    skipped         BIGINT NOT NULL,
    errors          BIGINT NOT NULL,
    pending         BIGINT NOT NULL DEFAULT 0,
    duplicates      BIGINT NOT NULL,
    archive_bytes   BIGINT NOT NULL,
    duration_ms     BIGINT NOT NULL,
    cancelled       BOOLEAN NOT NULL,
    failure         VARCHAR
);
ALTER TABLE extract_summary ADD COLUMN IF NOT EXISTS pending BIGINT DEFAULT 0;
CREATE INDEX IF NOT EXISTS idx_extract_summary_run ON extract_summary (run_id);
`

// SummaryRow is one archive's outcome within a run.
type SummaryRow struct {
	ArchiveKey   string
	LogicalType  string
	TotalEntries int
	Extracted    int
	Skipped      int
	Errors       int
	Pending      int // left unattempted by a cancellation
	Duplicates   int
	Bytes        int64
	Duration     time.Duration
	Cancelled    bool
	Failure      string
}

// RecordSummary stores the per-archive rows of one run in a single transaction.
func RecordSummary(ctx context.Context, db *sql.DB, runID string, started time.Time, rows []SummaryRow) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin summary tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO extract_summary (run_id, run_started, archive_key, logical_type, total_entries, extracted,
            skipped, errors, pending, duplicates, archive_bytes, duration_ms, cancelled, failure)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
    `)
	if err != nil {
		return fmt.Errorf("prepare summary insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		_, err := stmt.ExecContext(ctx, runID, started.UTC(), r.ArchiveKey, r.LogicalType, r.TotalEntries, r.Extracted,
			r.Skipped, r.Errors, r.Pending, r.Duplicates, r.Bytes, r.Duration.Milliseconds(), r.Cancelled,
			sql.NullString{String: r.Failure, Valid: r.Failure != ""})
		if err != nil {
			return fmt.Errorf("insert summary row for %s: %w", r.ArchiveKey, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit summary tx: %w", err)
	}
	return nil
}

// GetCompletedArchiveKeys returns every archive key that has ever reached extract_end.
func GetCompletedArchiveKeys(ctx context.Context, db *sql.DB, logger *slog.Logger) (map[string]bool, error) {
	logger.Debug("Querying database for completed archive keys...")
	completed := make(map[string]bool)

	rows, err := db.QueryContext(ctx, `SELECT DISTINCT archive_key FROM extract_event_log WHERE event = ?;`, EventExtractEnd)
	if err != nil {
		return nil, fmt.Errorf("query completed archives: %w", err)
	}
	defer rows.Close()

	var scanErrors error
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			scanErrors = errors.Join(scanErrors, fmt.Errorf("scan completed archive key: %w", err))
			continue
		}
		completed[key] = true
	}
	if err := rows.Err(); err != nil {
		return completed, errors.Join(scanErrors, fmt.Errorf("iterate completed archives: %w", err))
	}
	logger.Debug("Found completed archive keys in DB.", slog.Int("count", len(completed)))
	return completed, scanErrors
}

// DisplaySummaryHistory renders the totals of the most recent runs to w.
func DisplaySummaryHistory(ctx context.Context, db *sql.DB, w io.Writer, limit int) error {
	rows, err := db.QueryContext(ctx, `
        SELECT run_id, MIN(run_started) AS started, COUNT(*) AS archives,
            SUM(total_entries)::BIGINT, SUM(extracted)::BIGINT, SUM(skipped)::BIGINT, SUM(errors)::BIGINT,
            SUM(archive_bytes)::BIGINT, SUM(CASE WHEN failure IS NOT NULL THEN 1 ELSE 0 END)::BIGINT, BOOL_OR(cancelled)
        FROM extract_summary
        GROUP BY run_id
        ORDER BY started DESC
        LIMIT ?;
    `, limit)
	if err != nil {
		return fmt.Errorf("query summary history: %w", err)
	}
	defer rows.Close()

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle(fmt.Sprintf("Extraction Runs (Limit %d)", limit))
	tw.AppendHeader(table.Row{"Run", "Started (UTC)", "Archives", "Entries", "Extracted", "Skipped", "Errors", "Bytes", "Failed", "Cancelled"})
	for rows.Next() {
		var runID string
		var started time.Time
		var archives, total, extracted, skipped, errCount, bytes, failed int64
		var cancelled bool
		if err := rows.Scan(&runID, &started, &archives, &total, &extracted, &skipped, &errCount, &bytes, &failed, &cancelled); err != nil {
			return fmt.Errorf("scan summary history row: %w", err)
		}
		tw.AppendRow(table.Row{shortRunID(runID), started.Format(time.RFC3339), archives, total, extracted, skipped, errCount,
			humanize.Bytes(uint64(bytes)), failed, cancelled})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate summary history: %w", err)
	}
	tw.Render()
	return nil
}
