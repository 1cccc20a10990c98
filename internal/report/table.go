package report

import (
	"context"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/brensch/zipstage/internal/orchestrator"
)

// Table renders the summary as a text table.
type Table struct {
	W io.Writer
}

func (t *Table) Name() string { return "table" }

func (t *Table) Emit(_ context.Context, s orchestrator.BatchSummary) error {
	tw := table.NewWriter()
	tw.SetOutputMirror(t.W)
	tw.SetTitle("Extraction Summary " + s.RunID)
	tw.AppendHeader(table.Row{"Archive", "Type", "Total", "Extracted", "Skipped", "Errors", "Pending", "Size", "Status"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
	})
	for _, r := range s.Results {
		tw.AppendRow(table.Row{r.ArchiveKey, r.LogicalType, r.TotalEntries, r.ExtractedCount, r.SkippedCount, r.ErrorCount, r.PendingCount,
			humanize.Bytes(uint64(r.Bytes)), status(r)})
	}
	tw.AppendFooter(table.Row{
		humanize.Comma(int64(s.Totals.Archives)) + " archives", "",
		s.Totals.TotalEntries, s.Totals.Extracted, s.Totals.Skipped, s.Totals.Errors, s.Totals.Pending,
		humanize.Bytes(uint64(s.Totals.Bytes)), batchStatus(s),
	})
	tw.Render()
	return nil
}

func status(r orchestrator.ArchiveResult) string {
	switch {
	case r.Failed():
		return "failed"
	case r.Cancelled:
		return "cancelled"
	case r.ErrorCount > 0:
		return "partial"
	default:
		return "ok"
	}
}

func batchStatus(s orchestrator.BatchSummary) string {
	if s.Cancelled {
		return "cancelled"
	}
	if s.Totals.FailedArchives > 0 {
		return humanize.Comma(int64(s.Totals.FailedArchives)) + " failed"
	}
	return "ok"
}
