// Package inspector aggregates the parquet batch reports written by the
// parquet report sink, using DuckDB's read_parquet.
package inspector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	_ "github.com/marcboeker/go-duckdb"
)

// TypeSummary aggregates every report row of one logical type.
type TypeSummary struct {
	LogicalType    string
	Runs           int64
	Archives       int64
	FailedArchives int64
	TotalEntries   int64
	Extracted      int64
	Skipped        int64
	Errors         int64
	Bytes          int64
	FirstRun       sql.NullTime
	LastRun        sql.NullTime
}

// Report is the outcome of one inspection.
type Report struct {
	Files   []string
	Schema  string
	Columns []string
	Types   []TypeSummary
}

var reportNameRegex = regexp.MustCompile(`^extract_summary_(\d{8}T\d{6}Z)_(.+)\.parquet$`)

// reportRunID extracts the run ID from a report file name.
func reportRunID(filename string) (string, error) {
	matches := reportNameRegex.FindStringSubmatch(filename)
	if len(matches) == 3 {
		return matches[2], nil
	}
	return "", fmt.Errorf("filename '%s' does not match expected report pattern (extract_summary_<YYYYMMDDTHHMMSSZ>_<run id>.parquet)", filename)
}

// Inspect summarises every report file in dir per logical type and prints the
// result to w. Files with unexpected names are skipped and reported in the
// returned error alongside any query failure.
func Inspect(ctx context.Context, dir string, w io.Writer, logger *slog.Logger) (Report, error) {
	var rep Report
	logger.Info("Starting parquet report inspection.", slog.String("dir", dir))

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return rep, fmt.Errorf("failed to open duckdb: %w", err)
	}
	defer db.Close()

	conn, err := db.Conn(ctx)
	if err != nil {
		return rep, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	logger.Debug("Loading parquet extension.")
	if _, err := conn.ExecContext(ctx, `INSTALL parquet; LOAD parquet;`); err != nil {
		logger.Warn("Failed install/load parquet extension.", "error", err)
	}

	parquetFiles, err := filepath.Glob(filepath.Join(dir, "*.parquet"))
	if err != nil {
		return rep, fmt.Errorf("failed glob parquet files in %s: %w", dir, err)
	}

	var nameErrors error
	for _, fp := range parquetFiles {
		if _, err := reportRunID(filepath.Base(fp)); err != nil {
			logger.Warn("Skipping file due to unexpected name format.", slog.String("file", filepath.Base(fp)), "error", err)
			nameErrors = errors.Join(nameErrors, err)
			continue
		}
		rep.Files = append(rep.Files, fp)
	}
	sort.Strings(rep.Files)
	if len(rep.Files) == 0 {
		logger.Info("No report files found.", slog.String("dir", dir))
		fmt.Fprintf(w, "No extraction reports found in %s.\n", dir)
		return rep, nameErrors
	}
	logger.Info("Found report files to summarize.", slog.Int("count", len(rep.Files)))

	source := readParquetSource(rep.Files)
	rep.Schema, rep.Columns, err = schemaAndColumns(ctx, conn, rep.Files[0])
	if err != nil {
		logger.Error("Failed getting report schema.", "error", err)
		return rep, errors.Join(nameErrors, err)
	}

	rep.Types, err = typeSummaries(ctx, conn, source)
	if err != nil {
		logger.Error("Failed getting report statistics.", "error", err)
		return rep, errors.Join(nameErrors, err)
	}

	render(w, rep)
	logger.Info("Parquet report inspection finished.", slog.Int("logical_types", len(rep.Types)))
	return rep, nameErrors
}

func readParquetSource(files []string) string {
	quoted := make([]string, 0, len(files))
	for _, p := range files {
		dp := strings.ReplaceAll(p, `\`, `/`)
		quoted = append(quoted, fmt.Sprintf("'%s'", strings.ReplaceAll(dp, "'", "''")))
	}
	return fmt.Sprintf("read_parquet([%s])", strings.Join(quoted, ", "))
}

func typeSummaries(ctx context.Context, conn *sql.Conn, source string) ([]TypeSummary, error) {
	query := fmt.Sprintf(`
		SELECT
			logical_type,
			COUNT(DISTINCT run_id),
			COUNT(*),
			COUNT(*) FILTER (WHERE failure <> ''),
			SUM(total_entries)::BIGINT,
			SUM(extracted_count)::BIGINT,
			SUM(skipped_count)::BIGINT,
			SUM(error_count)::BIGINT,
			SUM(archive_bytes)::BIGINT,
			MIN(started_at_ms),
			MAX(started_at_ms)
		FROM %s
		GROUP BY logical_type
		ORDER BY logical_type;`, source)

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query report statistics: %w", err)
	}
	defer rows.Close()

	var out []TypeSummary
	for rows.Next() {
		var s TypeSummary
		if err := rows.Scan(&s.LogicalType, &s.Runs, &s.Archives, &s.FailedArchives, &s.TotalEntries,
			&s.Extracted, &s.Skipped, &s.Errors, &s.Bytes, &s.FirstRun, &s.LastRun); err != nil {
			return nil, fmt.Errorf("scan report statistics: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func schemaAndColumns(ctx context.Context, conn *sql.Conn, filePath string) (string, []string, error) {
	escaped := strings.ReplaceAll(strings.ReplaceAll(filePath, `\`, `/`), "'", "''")
	rows, err := conn.QueryContext(ctx, fmt.Sprintf("DESCRIBE SELECT * FROM read_parquet('%s');", escaped))
	if err != nil {
		return "", nil, fmt.Errorf("query schema for %s: %w", filePath, err)
	}
	defer rows.Close()

	var b strings.Builder
	var columns []string
	for rows.Next() {
		var colName, colType, nullVal, keyVal, defaultVal, extraVal sql.NullString
		if err := rows.Scan(&colName, &colType, &nullVal, &keyVal, &defaultVal, &extraVal); err != nil {
			return "", nil, fmt.Errorf("scan schema row for %s: %w", filePath, err)
		}
		fmt.Fprintf(&b, "  %-20s %s\n", colName.String, colType.String)
		if colName.Valid {
			columns = append(columns, colName.String)
		}
	}
	if err := rows.Err(); err != nil {
		return "", nil, fmt.Errorf("iterate schema rows for %s: %w", filePath, err)
	}
	return strings.TrimRight(b.String(), "\n"), columns, nil
}

func formatRunTime(t sql.NullTime) string {
	if !t.Valid {
		return "N/A"
	}
	return t.Time.UTC().Format(time.RFC3339)
}

func render(w io.Writer, rep Report) {
	fmt.Fprintf(w, "\n--- Extraction Reports (%d files) ---\n", len(rep.Files))
	fmt.Fprintf(w, "\n  Report Schema:\n%s\n\n", rep.Schema)

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Logical Type", "Runs", "Archives", "Failed", "Entries", "Extracted", "Skipped", "Errors", "Archive Bytes", "First Run (UTC)", "Last Run (UTC)"})
	for _, s := range rep.Types {
		tw.AppendRow(table.Row{s.LogicalType, s.Runs, s.Archives, s.FailedArchives, s.TotalEntries, s.Extracted, s.Skipped, s.Errors,
			humanize.Bytes(uint64(s.Bytes)), formatRunTime(s.FirstRun), formatRunTime(s.LastRun)})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
	})
	tw.Render()
}
