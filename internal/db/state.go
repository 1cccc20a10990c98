package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	_ "github.com/marcboeker/go-duckdb" // Driver
)

// Constants for event types
const (
	EventDownloadStart = "download_start"
	EventDownloadEnd   = "download_end"
	EventExtractStart  = "extract_start"
	EventExtractEnd    = "extract_end"
	EventError         = "error"
	EventCancelled     = "cancelled"
	EventUploadEnd     = "upload_end"
	EventUploadError   = "upload_error"
)

// Schema SQL
const schemaSequenceSQL = `CREATE SEQUENCE IF NOT EXISTS extract_event_log_id_seq;`
const schemaTableSQL = `
CREATE TABLE IF NOT EXISTS extract_event_log (
    log_id          BIGINT PRIMARY KEY DEFAULT nextval('extract_event_log_id_seq'),
    run_id          VARCHAR,
    archive_key     VARCHAR NOT NULL,      -- object key of the archive, or local path for uploads
    logical_type    VARCHAR,
    event           VARCHAR NOT NULL,
    event_timestamp TIMESTAMP NOT NULL,
    message         VARCHAR,
    duration_ms     BIGINT
);
CREATE INDEX IF NOT EXISTS idx_extract_event_log_key ON extract_event_log (archive_key);
CREATE INDEX IF NOT EXISTS idx_extract_event_log_event_time ON extract_event_log (event, event_timestamp);
`

// Open opens (creating if needed) the DuckDB ledger at path and initializes its schema.
// An empty path opens an in-memory database.
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb database (%s): %w", path, err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping duckdb database (%s): %w", path, err)
	}
	if err := InitializeSchema(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return conn, nil
}

// InitializeSchema creates the sequence and tables in the correct order.
func InitializeSchema(db *sql.DB) error {
	// 1. Create Sequence First
	_, err := db.Exec(schemaSequenceSQL)
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("failed to execute sequence setup: %w", err)
	}
	// 2. Create Table and Indices
	_, err = db.Exec(schemaTableSQL)
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("failed to execute table/index setup: %w", err)
	}
	// 3. Summary table
	_, err = db.Exec(summaryTableSQL)
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("failed to execute summary table setup: %w", err)
	}
	return nil
}

// ArchiveEvent is one row of the event log.
type ArchiveEvent struct {
	RunID       string
	ArchiveKey  string
	LogicalType string
	Event       string
	Message     string
	Duration    *time.Duration
}

// LogArchiveEvent inserts a new event record into the log.
func LogArchiveEvent(ctx context.Context, db *sql.DB, ev ArchiveEvent) error {
	query := `
        INSERT INTO extract_event_log (run_id, archive_key, logical_type, event, event_timestamp, message, duration_ms)
        VALUES (?, ?, ?, ?, ?, ?, ?);
    `
	var durationMs sql.NullInt64
	if ev.Duration != nil {
		durationMs = sql.NullInt64{Int64: ev.Duration.Milliseconds(), Valid: true}
	}

	_, err := db.ExecContext(ctx, query,
		sql.NullString{String: ev.RunID, Valid: ev.RunID != ""},
		ev.ArchiveKey,
		sql.NullString{String: ev.LogicalType, Valid: ev.LogicalType != ""},
		ev.Event,
		time.Now().UTC(),
		sql.NullString{String: ev.Message, Valid: ev.Message != ""},
		durationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to log event '%s' for '%s': %w", ev.Event, ev.ArchiveKey, err)
	}
	return nil
}

// Ledger records pipeline events into DuckDB. Write failures are logged and
// swallowed so the ledger can never fail a run.
type Ledger struct {
	DB     *sql.DB
	Logger *slog.Logger
}

// Record writes ev, logging any failure.
func (l *Ledger) Record(ctx context.Context, ev ArchiveEvent) {
	if l == nil || l.DB == nil {
		return
	}
	// Events of a cancelled run are still worth keeping.
	if err := LogArchiveEvent(context.WithoutCancel(ctx), l.DB, ev); err != nil && l.Logger != nil {
		l.Logger.Warn("Failed to record ledger event.", "error", err)
	}
}

// GetLatestArchiveEvent retrieves the most recent event record for an archive.
func GetLatestArchiveEvent(ctx context.Context, db *sql.DB, archiveKey string) (event string, timestamp time.Time, message string, found bool, err error) {
	query := `
        SELECT event, event_timestamp, message
        FROM extract_event_log
        WHERE archive_key = ?
        ORDER BY event_timestamp DESC, log_id DESC
        LIMIT 1;
    `
	var msg sql.NullString
	row := db.QueryRowContext(ctx, query, archiveKey)
	err = row.Scan(&event, &timestamp, &msg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", time.Time{}, "", false, nil
		}
		return "", time.Time{}, "", false, fmt.Errorf("failed query latest event for '%s': %w", archiveKey, err)
	}
	return event, timestamp, msg.String, true, nil
}

// GetCompletionStatusBatch checks a list of archive keys for a completion event
// using a temporary table. The result maps each key that has the event to true.
func GetCompletionStatusBatch(ctx context.Context, db *sql.DB, keys []string, completionEvent string) (map[string]bool, error) {
	completed := make(map[string]bool)
	if len(keys) == 0 {
		return completed, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction for batch check: %w", err)
	}
	defer tx.Rollback() // Rollback is safe even after commit

	tempTableName := fmt.Sprintf("temp_keys_to_check_%d", time.Now().UnixNano())
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`CREATE TEMP TABLE %s (archive_key TEXT PRIMARY KEY);`, tempTableName))
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return nil, fmt.Errorf("failed to create temp table %s: %w", tempTableName, err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s (archive_key) VALUES (?) ON CONFLICT DO NOTHING`, tempTableName))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare insert statement for temp table %s: %w", tempTableName, err)
	}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			stmt.Close()
			return nil, err
		}
		if _, err := stmt.ExecContext(ctx, key); err != nil {
			stmt.Close()
			return nil, fmt.Errorf("failed to insert key '%s' into temp table %s: %w", key, tempTableName, err)
		}
	}
	if err = stmt.Close(); err != nil {
		return nil, fmt.Errorf("failed to close insert statement for %s: %w", tempTableName, err)
	}

	query := fmt.Sprintf(`
        SELECT DISTINCT el.archive_key
        FROM extract_event_log el
        JOIN %s tk ON el.archive_key = tk.archive_key
        WHERE el.event = ?;
    `, tempTableName)
	rows, err := tx.QueryContext(ctx, query, completionEvent)
	if err != nil {
		return nil, fmt.Errorf("failed batch query status joining temp table %s (event=%s): %w", tempTableName, completionEvent, err)
	}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed scanning batch status row: %w", err)
		}
		completed[key] = true
	}
	if err = rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating batch status results: %w", err)
	}
	rows.Close()

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction for batch check: %w", err)
	}
	return completed, nil
}

// DisplayEventHistory queries the event log and renders it as a table to w.
func DisplayEventHistory(ctx context.Context, db *sql.DB, w io.Writer, typeFilter, eventFilter string, limit int) error {
	query := `
        SELECT run_id, archive_key, logical_type, event, event_timestamp, message, duration_ms
        FROM extract_event_log
    `
	conditions := []string{}
	args := []any{}
	argCounter := 1

	if typeFilter != "" {
		conditions = append(conditions, fmt.Sprintf("logical_type = $%d", argCounter))
		args = append(args, typeFilter)
		argCounter++
	}
	if eventFilter != "" {
		conditions = append(conditions, fmt.Sprintf("event = $%d", argCounter))
		args = append(args, eventFilter)
		argCounter++
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY event_timestamp DESC, log_id DESC LIMIT $%d", argCounter)
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query event log: %w \n Query: %s \n Args: %v", err, query, args)
	}
	defer rows.Close()

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle(fmt.Sprintf("Event Log History (Limit %d)", limit))
	tw.AppendHeader(table.Row{"Run", "Archive", "Type", "Event", "Timestamp (UTC)", "Duration ms", "Message"})

	count := 0
	for rows.Next() {
		var archiveKey, event string
		var timestamp time.Time
		var runID, logicalType, message sql.NullString
		var durationMs sql.NullInt64
		if err := rows.Scan(&runID, &archiveKey, &logicalType, &event, &timestamp, &message, &durationMs); err != nil {
			return fmt.Errorf("failed to scan event log row: %w", err)
		}
		durationStr := ""
		if durationMs.Valid {
			durationStr = fmt.Sprintf("%d", durationMs.Int64)
		}
		tw.AppendRow(table.Row{shortRunID(runID.String), archiveKey, logicalType.String, event, timestamp.Format(time.RFC3339), durationStr, message.String})
		count++
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("error iterating event log rows: %w", err)
	}
	tw.AppendFooter(table.Row{"", fmt.Sprintf("%d records", count)})
	tw.Render()
	return nil
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
