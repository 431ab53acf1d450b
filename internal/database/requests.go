package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/synapkit/synapd/pkg/permission"
)

// Request statuses. Transitions are monotonic: pending → approved|denied.
const (
	RequestPending  = "pending"
	RequestApproved = "approved"
	RequestDenied   = "denied"
)

// PermissionRequest is a persisted human-approvable escalation.
type PermissionRequest struct {
	ID         string                `db:"id" json:"id"`
	PluginID   string                `db:"plugin_id" json:"plugin_id"`
	Permission permission.Permission `db:"permission" json:"permission"`
	Status     string                `db:"status" json:"status"`
	ActorID    *string               `db:"actor_id" json:"actor_id,omitempty"`
	CreatedAt  time.Time             `db:"created_at" json:"created_at"`
	DecidedAt  *time.Time            `db:"decided_at" json:"decided_at,omitempty"`
}

// ErrRequestNotFound is returned for unknown request ids.
var ErrRequestNotFound = errors.New("permission request not found")

// InsertPermissionRequest persists a new pending request.
func (s *DB) InsertPermissionRequest(ctx context.Context, req PermissionRequest) error {
	query := s.rebind(`
		INSERT INTO permission_requests (id, plugin_id, permission, status, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, req.ID, req.PluginID, string(req.Permission), req.Status, req.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert permission request %s: %w", req.ID, err)
	}
	return nil
}

// PermissionRequestByID reads one request.
func (s *DB) PermissionRequestByID(ctx context.Context, id string) (PermissionRequest, error) {
	var req PermissionRequest
	query := s.rebind(`
		SELECT id, plugin_id, permission, status, actor_id, created_at, decided_at
		FROM permission_requests WHERE id = ?`)
	err := s.db.GetContext(ctx, &req, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return PermissionRequest{}, ErrRequestNotFound
	}
	if err != nil {
		return PermissionRequest{}, fmt.Errorf("read permission request %s: %w", id, err)
	}
	return req, nil
}

// PendingPermissionRequests lists requests awaiting a decision, oldest
// first, for the approval UI.
func (s *DB) PendingPermissionRequests(ctx context.Context) ([]PermissionRequest, error) {
	var reqs []PermissionRequest
	query := s.rebind(`
		SELECT id, plugin_id, permission, status, actor_id, created_at, decided_at
		FROM permission_requests WHERE status = ? ORDER BY created_at ASC`)
	if err := s.db.SelectContext(ctx, &reqs, query, RequestPending); err != nil {
		return nil, fmt.Errorf("list pending permission requests: %w", err)
	}
	return reqs, nil
}

// DecidePermissionRequest moves a pending request to a terminal status.
// Only pending rows transition; deciding an already-decided request affects
// zero rows and reports decided=false, which makes repeat submissions safe.
func (s *DB) DecidePermissionRequest(ctx context.Context, id, status, actorID string, decidedAt time.Time) (bool, error) {
	query := s.rebind(`
		UPDATE permission_requests SET status = ?, actor_id = ?, decided_at = ?
		WHERE id = ? AND status = ?`)
	res, err := s.db.ExecContext(ctx, query, status, actorID, decidedAt, id, RequestPending)
	if err != nil {
		return false, fmt.Errorf("decide permission request %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
