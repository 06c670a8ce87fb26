package store

import (
	"context"
	"fmt"
	"time"
)

const (
	defaultAuditLimit = 20
	maxAuditLimit     = 500
)

// AuditEntry is one recorded question/answer exchange.
type AuditEntry struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id,omitempty"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Record appends an exchange to the audit log and returns its row id.
func (db *DB) Record(ctx context.Context, e AuditEntry) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	res, err := db.sql.ExecContext(ctx,
		`INSERT INTO ask_log (session_id, user_id, question, answer, success, error, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.UserID, e.Question, e.Answer, e.Success, e.Error, e.DurationMs,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("recording exchange: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit entries, newest first. A non-empty sessionID
// restricts the result to one session.
func (db *DB) Recent(ctx context.Context, sessionID string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}

	query := `SELECT id, session_id, user_id, question, answer, success, error, duration_ms, created_at
		 FROM ask_log`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	entries := []AuditEntry{}
	for rows.Next() {
		var e AuditEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.UserID, &e.Question, &e.Answer,
			&e.Success, &e.Error, &e.DurationMs, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			e.CreatedAt = t
		} else {
			db.log.Warn().Err(err).Int64("id", e.ID).Msg("unparsable audit timestamp")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries recorded before cutoff and returns how many went.
func (db *DB) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.sql.ExecContext(ctx,
		`DELETE FROM ask_log WHERE created_at < ?`, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("pruning audit log: %w", err)
	}
	return res.RowsAffected()
}
