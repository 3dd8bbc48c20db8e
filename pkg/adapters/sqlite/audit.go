package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/convengine/pkg/domain"
)

// AuditWriter persists audit events to the audit_events table. It satisfies
// audit.Writer.
type AuditWriter struct {
	db *DB
}

// Audit returns the audit writer view of d.
func (d *DB) Audit() *AuditWriter {
	return &AuditWriter{db: d}
}

const insertAudit = `INSERT INTO audit_events (conversation_id, stage, payload, created_at) VALUES (?, ?, ?, ?)`

// Insert writes one event.
func (w *AuditWriter) Insert(ctx context.Context, e domain.AuditEvent) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal audit payload: %w", err)
	}
	if _, err := w.db.db.ExecContext(ctx, insertAudit, e.ConversationID, e.Stage, string(payload), formatTime(e.CreatedAt)); err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// InsertBatch writes events in a single transaction.
func (w *AuditWriter) InsertBatch(ctx context.Context, events []domain.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := w.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertAudit)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal audit payload: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, e.ConversationID, e.Stage, string(payload), formatTime(e.CreatedAt)); err != nil {
			return fmt.Errorf("failed to insert audit event: %w", err)
		}
	}
	return tx.Commit()
}

// AuditQuery filters Query results. Zero fields do not filter.
type AuditQuery struct {
	ConversationID string
	Stage          string
	Limit          int
}

// Query returns matching events oldest first.
func (w *AuditWriter) Query(ctx context.Context, q AuditQuery) ([]domain.AuditEvent, error) {
	var (
		where []string
		args  []any
	)
	if q.ConversationID != "" {
		where = append(where, "conversation_id = ?")
		args = append(args, q.ConversationID)
	}
	if q.Stage != "" {
		where = append(where, "stage = ?")
		args = append(args, strings.ToUpper(q.Stage))
	}

	query := `SELECT conversation_id, stage, payload, created_at FROM audit_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := w.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []domain.AuditEvent
	for rows.Next() {
		var (
			e                  domain.AuditEvent
			payload, createdAt string
		)
		if err := rows.Scan(&e.ConversationID, &e.Stage, &payload, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit payload: %w", err)
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse audit timestamp: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
