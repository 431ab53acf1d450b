package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditEntry is one append-only audit record.
type AuditEntry struct {
	ID        string    `db:"id" json:"id"`
	EventType string    `db:"event_type" json:"event_type"`
	Subject   string    `db:"subject" json:"subject"`
	Detail    string    `db:"detail" json:"detail,omitempty"`
	Actor     string    `db:"actor" json:"actor,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AppendAudit writes one audit record.
func (s *DB) AppendAudit(ctx context.Context, eventType, subject, detail, actor string) error {
	query := s.rebind(`
		INSERT INTO audit_logs (id, event_type, subject, detail, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, uuid.NewString(), eventType, subject, detail, actor, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("append audit %s: %w", eventType, err)
	}
	return nil
}

// RecentAudit returns the newest limit audit records.
func (s *DB) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []AuditEntry
	query := s.rebind(`
		SELECT id, event_type, subject, detail, actor, created_at
		FROM audit_logs ORDER BY created_at DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &entries, query, limit); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return entries, nil
}
