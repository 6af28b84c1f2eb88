// Package audit keeps a queryable log of finished workflow runs in SQLite.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/quantumflow/nevra/internal/models"
)

// Entry is one finished workflow run
type Entry struct {
	ID                int64
	Timestamp         time.Time
	RequestID         string
	UserID            string
	SessionID         string
	Mode              models.Mode
	Intent            models.Intent
	FinalState        models.WorkflowState
	ExecutionAttempts int
	RevisionAttempts  int
	TotalAttempts     int
	QualityScore      *float64
	Duration          time.Duration
	Error             string
}

// Filter narrows a Query. Zero fields match everything.
type Filter struct {
	UserID     string
	SessionID  string
	FinalState models.WorkflowState
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
	Offset     int
}

// Stats aggregates runs over a time window
type Stats struct {
	TotalRuns       int
	FailedRuns      int
	ErrorRate       float64
	AverageQuality  float64
	AverageDuration time.Duration
}

// Logger records workflow runs
type Logger interface {
	Log(ctx context.Context, entry *Entry) error
}

// NewEntry condenses a workflow result into an audit entry
func NewEntry(wc *models.WorkflowContext, result *models.WorkflowResult) *Entry {
	md := result.Metadata
	entry := &Entry{
		Timestamp:         time.Now(),
		RequestID:         md.RequestID,
		Mode:              wc.Mode,
		UserID:            wc.UserID,
		SessionID:         wc.SessionID,
		Intent:            md.Intent,
		FinalState:        md.FinalState,
		ExecutionAttempts: md.ExecutionAttempts,
		RevisionAttempts:  md.RevisionAttempts,
		TotalAttempts:     md.TotalAttempts,
		QualityScore:      md.QualityScore,
		Duration:          md.Duration,
		Error:             result.Error,
	}
	if entry.RequestID == "" {
		entry.RequestID = wc.RequestID
	}
	return entry
}

// SQLiteLog implements Logger using SQLite
type SQLiteLog struct {
	db *sql.DB
}

// NewSQLiteLog creates the run log on db. The caller owns db.
func NewSQLiteLog(db *sql.DB) (*SQLiteLog, error) {
	l := &SQLiteLog{db: db}

	// Initialize schema
	if err := l.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return l, nil
}

// initSchema creates the run log table
func (l *SQLiteLog) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS workflow_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		request_id TEXT NOT NULL,
		user_id TEXT,
		session_id TEXT,
		mode TEXT,
		intent TEXT,
		final_state TEXT NOT NULL,
		execution_attempts INTEGER,
		revision_attempts INTEGER,
		total_attempts INTEGER,
		quality_score REAL,
		duration_ms INTEGER,
		error TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_timestamp ON workflow_runs(timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_user_id ON workflow_runs(user_id);
	`

	_, err := l.db.Exec(schema)
	return err
}

// Log records a workflow run
func (l *SQLiteLog) Log(ctx context.Context, entry *Entry) error {
	query := `
		INSERT INTO workflow_runs (
			timestamp, request_id, user_id, session_id, mode, intent, final_state,
			execution_attempts, revision_attempts, total_attempts, quality_score, duration_ms, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var quality sql.NullFloat64
	if entry.QualityScore != nil {
		quality = sql.NullFloat64{Float64: *entry.QualityScore, Valid: true}
	}
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := l.db.ExecContext(ctx, query,
		ts.UTC(),
		entry.RequestID,
		entry.UserID,
		entry.SessionID,
		string(entry.Mode),
		string(entry.Intent),
		string(entry.FinalState),
		entry.ExecutionAttempts,
		entry.RevisionAttempts,
		entry.TotalAttempts,
		quality,
		entry.Duration.Milliseconds(),
		entry.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to write run log: %w", err)
	}
	return nil
}

// Query retrieves runs matching filter, newest first
func (l *SQLiteLog) Query(ctx context.Context, filter Filter) ([]*Entry, error) {
	query := `SELECT id, timestamp, request_id, user_id, session_id, mode, intent, final_state,
		execution_attempts, revision_attempts, total_attempts, quality_score, duration_ms, error
		FROM workflow_runs WHERE 1=1`
	args := []interface{}{}

	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}

	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}

	if filter.FinalState != "" {
		query += " AND final_state = ?"
		args = append(args, string(filter.FinalState))
	}

	if !filter.StartTime.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.StartTime.UTC())
	}

	if !filter.EndTime.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndTime.UTC())
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query run log: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var (
			entry      Entry
			mode       string
			intent     string
			state      string
			quality    sql.NullFloat64
			durationMs int64
		)

		err := rows.Scan(
			&entry.ID,
			&entry.Timestamp,
			&entry.RequestID,
			&entry.UserID,
			&entry.SessionID,
			&mode,
			&intent,
			&state,
			&entry.ExecutionAttempts,
			&entry.RevisionAttempts,
			&entry.TotalAttempts,
			&quality,
			&durationMs,
			&entry.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run log row: %w", err)
		}

		entry.Mode = models.Mode(mode)
		entry.Intent = models.Intent(intent)
		entry.FinalState = models.WorkflowState(state)
		if quality.Valid {
			q := quality.Float64
			entry.QualityScore = &q
		}
		entry.Duration = time.Duration(durationMs) * time.Millisecond
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

// GetStats aggregates runs since the given time. An empty userID covers
// all users.
func (l *SQLiteLog) GetStats(ctx context.Context, userID string, since time.Time) (*Stats, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN final_state = ? THEN 1 ELSE 0 END), 0) AS failed,
			AVG(quality_score) AS avg_quality,
			AVG(duration_ms) AS avg_duration_ms
		FROM workflow_runs
		WHERE timestamp >= ?
	`
	args := []interface{}{string(models.StateError), since.UTC()}
	if userID != "" {
		query += " AND user_id = ?"
		args = append(args, userID)
	}

	var (
		stats       Stats
		avgQuality  sql.NullFloat64
		avgDuration sql.NullFloat64
	)
	err := l.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.TotalRuns,
		&stats.FailedRuns,
		&avgQuality,
		&avgDuration,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate run log: %w", err)
	}

	if avgQuality.Valid {
		stats.AverageQuality = avgQuality.Float64
	}
	if avgDuration.Valid {
		stats.AverageDuration = time.Duration(avgDuration.Float64) * time.Millisecond
	}
	if stats.TotalRuns > 0 {
		stats.ErrorRate = float64(stats.FailedRuns) / float64(stats.TotalRuns)
	}

	return &stats, nil
}
