// Package permissions implements the human-in-the-loop permission request
// flow: plugins ask for an un-granted permission at runtime, a pending
// record is persisted and announced, and an authenticated administrator
// approves or denies it. Approval drives the plugin manager's grant path.
package permissions

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/synapkit/synapd/internal/database"
	"github.com/synapkit/synapd/pkg/event"
	"github.com/synapkit/synapd/pkg/permission"
)

// ErrAlreadyDecided is returned when deciding a request that has reached a
// terminal state. Transitions are monotonic; repeat submissions are safe.
var ErrAlreadyDecided = errors.New("permission request already decided")

// ErrNotFound mirrors the store's unknown-request error.
var ErrNotFound = database.ErrRequestNotFound

// Store is the persistence surface of the request flow.
type Store interface {
	InsertPermissionRequest(ctx context.Context, req database.PermissionRequest) error
	PermissionRequestByID(ctx context.Context, id string) (database.PermissionRequest, error)
	PendingPermissionRequests(ctx context.Context) ([]database.PermissionRequest, error)
	DecidePermissionRequest(ctx context.Context, id, status, actorID string, decidedAt time.Time) (bool, error)
	AppendAudit(ctx context.Context, eventType, subject, detail, actor string) error
}

// Granter is the manager's grant path, invoked on approval.
type Granter interface {
	GrantPermission(ctx context.Context, pluginID string, perm permission.Permission) error
}

// Service owns the request lifecycle.
type Service struct {
	store   Store
	granter Granter
	submit  func(event.Envelope) error
}

// NewService wires the flow. submit may be nil in tests.
func NewService(store Store, granter Granter, submit func(event.Envelope) error) *Service {
	return &Service{store: store, granter: granter, submit: submit}
}

// Request persists a pending record and announces it with a
// SystemNotification naming the request id.
func (s *Service) Request(ctx context.Context, pluginID string, perm permission.Permission) (database.PermissionRequest, error) {
	if !perm.Valid() {
		return database.PermissionRequest{}, fmt.Errorf("unknown permission %q", perm)
	}

	req := database.PermissionRequest{
		ID:         uuid.NewString(),
		PluginID:   pluginID,
		Permission: perm,
		Status:     database.RequestPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.InsertPermissionRequest(ctx, req); err != nil {
		return database.PermissionRequest{}, err
	}

	s.publish(event.System(event.SystemNotification{
		Text: fmt.Sprintf("plugin %s requests %s (request %s)", pluginID, perm, req.ID),
	}))
	return req, nil
}

// ListPending returns requests awaiting a decision, oldest first.
func (s *Service) ListPending(ctx context.Context) ([]database.PermissionRequest, error) {
	return s.store.PendingPermissionRequests(ctx)
}

// Approve transitions a pending request to approved and invokes the grant
// path. actorID is the already-authenticated administrator identity.
func (s *Service) Approve(ctx context.Context, requestID, actorID string) error {
	req, err := s.decide(ctx, requestID, database.RequestApproved, actorID)
	if err != nil {
		return err
	}

	if s.granter != nil {
		if err := s.granter.GrantPermission(ctx, req.PluginID, req.Permission); err != nil {
			return fmt.Errorf("grant after approval: %w", err)
		}
	}
	return nil
}

// Deny transitions a pending request to denied.
func (s *Service) Deny(ctx context.Context, requestID, actorID string) error {
	_, err := s.decide(ctx, requestID, database.RequestDenied, actorID)
	return err
}

func (s *Service) decide(ctx context.Context, requestID, status, actorID string) (database.PermissionRequest, error) {
	req, err := s.store.PermissionRequestByID(ctx, requestID)
	if err != nil {
		return database.PermissionRequest{}, err
	}

	decided, err := s.store.DecidePermissionRequest(ctx, requestID, status, actorID, time.Now().UTC())
	if err != nil {
		return database.PermissionRequest{}, err
	}
	if !decided {
		// Terminal states persist; repeating the same decision is not an
		// error for the caller, a conflicting one is.
		if req.Status == status {
			return req, nil
		}
		return database.PermissionRequest{}, fmt.Errorf("request %s is %s: %w", requestID, req.Status, ErrAlreadyDecided)
	}

	auditType := "PERMISSION_REQUEST_APPROVED"
	if status == database.RequestDenied {
		auditType = "PERMISSION_REQUEST_DENIED"
	}
	if err := s.store.AppendAudit(ctx, auditType, requestID,
		fmt.Sprintf("%s for plugin %s", req.Permission, req.PluginID), actorID); err != nil {
		log.Printf("audit write for request %s failed: %v", requestID, err)
	}
	return req, nil
}

func (s *Service) publish(env event.Envelope) {
	if s.submit == nil {
		return
	}
	if err := s.submit(env); err != nil {
		log.Printf("publish permission notification failed: %v", err)
	}
}
