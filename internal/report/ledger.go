package report

import (
	"context"
	"database/sql"

	"github.com/brensch/zipstage/internal/db"
	"github.com/brensch/zipstage/internal/orchestrator"
)

// Ledger stores the per-archive rows in the DuckDB summary table.
type Ledger struct {
	DB *sql.DB
}

func (l *Ledger) Name() string { return "ledger" }

func (l *Ledger) Emit(ctx context.Context, s orchestrator.BatchSummary) error {
	rows := make([]db.SummaryRow, 0, len(s.Results))
	for _, r := range s.Results {
		rows = append(rows, db.SummaryRow{
			ArchiveKey:   r.ArchiveKey,
			LogicalType:  r.LogicalType,
			TotalEntries: r.TotalEntries,
			Extracted:    r.ExtractedCount,
			Skipped:      r.SkippedCount,
			Errors:       r.ErrorCount,
			Pending:      r.PendingCount,
			Duplicates:   r.DuplicateCount,
			Bytes:        r.Bytes,
			Duration:     r.Duration,
			Cancelled:    r.Cancelled,
			Failure:      r.Failure,
		})
	}
	return db.RecordSummary(ctx, l.DB, s.RunID, s.StartedAt, rows)
}
