// Package approval tracks human sign-off requests and resolves them. An
// approval that gates a workflow execution hands the decision to an
// ExecutionResumer inside the resolving transaction.
package approval

import (
	"context"
	"slices"
	"time"

	"workflow-service/internal/apperr"
	"workflow-service/internal/audit"
	"workflow-service/internal/model"
	"workflow-service/internal/repository"
	"workflow-service/internal/session"
	"workflow-service/prometheus"

	"go.uber.org/zap"
)

// Followup runs after the resolving transaction has committed
type Followup func(ctx context.Context)

// ExecutionResumer continues or terminates the execution gated by a decided
// approval. It runs inside the resolving transaction.
type ExecutionResumer interface {
	Resume(ctx context.Context, tx *repository.Store, actorID uint, a *model.Approval) (Followup, error)
}

// OpenInput describes a new approval
type OpenInput struct {
	TenantID     uint
	EntityType   string
	EntityID     uint
	ExecutionID  *uint
	Title        string
	RequestedBy  uint
	AssigneeID   *uint
	AssigneeRole string
}

// Open creates a PENDING approval and its APPROVAL_REQUESTED audit entry
// through tx.
func Open(ctx context.Context, tx *repository.Store, w *audit.Writer, in OpenInput) (*model.Approval, error) {
	if in.AssigneeID == nil && in.AssigneeRole == "" {
		return nil, apperr.Validation("approval requires an assignee or an assignee role")
	}
	if in.EntityType == "" || in.EntityID == 0 {
		return nil, apperr.Validation("approval requires an entity")
	}

	a := &model.Approval{
		TenantID:     in.TenantID,
		EntityType:   in.EntityType,
		EntityID:     in.EntityID,
		ExecutionID:  in.ExecutionID,
		Title:        in.Title,
		RequestedBy:  in.RequestedBy,
		AssigneeID:   in.AssigneeID,
		AssigneeRole: in.AssigneeRole,
	}
	if err := tx.CreateApproval(ctx, a); err != nil {
		return nil, err
	}

	after := map[string]any{
		"title":       a.Title,
		"entity_type": a.EntityType,
		"entity_id":   a.EntityID,
		"status":      a.Status,
	}
	if a.ExecutionID != nil {
		after["execution_id"] = *a.ExecutionID
	}
	if a.AssigneeID != nil {
		after["assignee_id"] = *a.AssigneeID
	}
	if a.AssigneeRole != "" {
		after["assignee_role"] = a.AssigneeRole
	}
	err := w.Record(ctx, tx, audit.Entry{
		TenantID:   a.TenantID,
		ActorID:    a.RequestedBy,
		ActionType: model.AuditApprovalRequested,
		EntityType: model.EntityApproval,
		EntityID:   a.ID,
		After:      after,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// RequestInput is a direct approval request for a lead or document
type RequestInput struct {
	EntityType   string `json:"entity_type"`
	EntityID     uint   `json:"entity_id"`
	Title        string `json:"title"`
	AssigneeID   *uint  `json:"assignee_id,omitempty"`
	AssigneeRole string `json:"assignee_role,omitempty"`
}

// Handler lists and resolves approvals
type Handler struct {
	store   *repository.Store
	audit   *audit.Writer
	resumer ExecutionResumer
	log     *zap.Logger
}

// NewHandler creates a Handler. resumer may be nil when no workflow engine is
// wired, in which case gated executions are left untouched.
func NewHandler(store *repository.Store, w *audit.Writer, resumer ExecutionResumer, log *zap.Logger) *Handler {
	return &Handler{store: store, audit: w, resumer: resumer, log: log.Named("approval")}
}

// GetPendingApprovals returns the PENDING approvals of the session tenant
// assigned to the caller or to one of the caller's roles, oldest first.
func (h *Handler) GetPendingApprovals(ctx context.Context, sess *session.Session) ([]model.Approval, error) {
	if err := session.Require(sess, ""); err != nil {
		return nil, err
	}
	roles, err := rolesOf(ctx, h.store, sess)
	if err != nil {
		return nil, err
	}
	return h.store.ListPendingApprovals(ctx, sess.TenantID, sess.UserID, roles)
}

// Get returns one approval of the session tenant
func (h *Handler) Get(ctx context.Context, sess *session.Session, id uint) (*model.Approval, error) {
	if err := session.Require(sess, ""); err != nil {
		return nil, err
	}
	return h.store.GetApproval(ctx, sess.TenantID, id)
}

// Request opens an approval that is not attached to a workflow execution
func (h *Handler) Request(ctx context.Context, sess *session.Session, in RequestInput) (*model.Approval, error) {
	if err := session.Require(sess, session.PermApprovalsCreate); err != nil {
		return nil, err
	}

	var created *model.Approval
	err := h.store.Transaction(ctx, func(tx *repository.Store) error {
		if _, err := tx.EntitySnapshot(ctx, sess.TenantID, in.EntityType, in.EntityID); err != nil {
			return err
		}
		a, err := Open(ctx, tx, h.audit, OpenInput{
			TenantID:     sess.TenantID,
			EntityType:   in.EntityType,
			EntityID:     in.EntityID,
			Title:        in.Title,
			RequestedBy:  sess.UserID,
			AssigneeID:   in.AssigneeID,
			AssigneeRole: in.AssigneeRole,
		})
		created = a
		return err
	})
	if err != nil {
		return nil, err
	}

	h.log.Info("Approval requested",
		zap.Uint("approval_id", created.ID),
		zap.Uint("tenant_id", created.TenantID),
		zap.String("entity_type", created.EntityType),
		zap.Uint("entity_id", created.EntityID))
	return created, nil
}

// Resolve records a decision on a PENDING approval. The decision, the gated
// execution's transition and the audit entry commit together or not at all.
func (h *Handler) Resolve(ctx context.Context, sess *session.Session, id uint, decision model.ApprovalStatus, reason string) (*model.Approval, error) {
	if err := session.Require(sess, ""); err != nil {
		return nil, err
	}
	if decision != model.ApprovalApproved && decision != model.ApprovalRejected {
		return nil, apperr.Validation("decision must be APPROVED or REJECTED")
	}

	var (
		resolved *model.Approval
		followup Followup
	)
	err := h.store.Transaction(ctx, func(tx *repository.Store) error {
		a, err := tx.GetApproval(ctx, sess.TenantID, id)
		if err != nil {
			return err
		}
		if a.Status != model.ApprovalPending {
			return apperr.InvalidState("approval %d is already %s", a.ID, a.Status)
		}
		if err := authorize(ctx, tx, sess, a); err != nil {
			return err
		}

		now := time.Now()
		won, err := tx.DecideApproval(ctx, sess.TenantID, a.ID, decision, sess.UserID, reason, now)
		if err != nil {
			return err
		}
		if !won {
			return apperr.InvalidState("approval %d was resolved concurrently", a.ID)
		}

		actor := sess.UserID
		a.Status = decision
		a.DecidedBy = &actor
		a.DecidedAt = &now
		a.Reason = reason

		if h.resumer != nil && a.ExecutionID != nil {
			followup, err = h.resumer.Resume(ctx, tx, sess.UserID, a)
			if err != nil {
				return err
			}
		}

		actionType := model.AuditApprovalApproved
		if decision == model.ApprovalRejected {
			actionType = model.AuditApprovalRejected
		}
		err = h.audit.Record(ctx, tx, audit.Entry{
			TenantID:   a.TenantID,
			ActorID:    sess.UserID,
			ActionType: actionType,
			EntityType: model.EntityApproval,
			EntityID:   a.ID,
			Before:     map[string]any{"status": model.ApprovalPending},
			After: map[string]any{
				"status":      a.Status,
				"reason":      a.Reason,
				"entity_type": a.EntityType,
				"entity_id":   a.EntityID,
			},
		})
		if err != nil {
			return err
		}
		resolved = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	prometheus.RecordApprovalDecision(string(decision))
	h.log.Info("Approval resolved",
		zap.Uint("approval_id", resolved.ID),
		zap.Uint("tenant_id", resolved.TenantID),
		zap.String("decision", string(decision)),
		zap.Uint("actor_id", sess.UserID))

	if followup != nil {
		followup(ctx)
	}
	return resolved, nil
}

// authorize allows the direct assignee, any holder of the assignee role and
// approval administrators.
func authorize(ctx context.Context, tx *repository.Store, sess *session.Session, a *model.Approval) error {
	if sess.Has(session.PermApprovalsAdmin) {
		return nil
	}
	if a.AssigneeID != nil && *a.AssigneeID == sess.UserID {
		return nil
	}
	if a.AssigneeRole != "" {
		roles, err := rolesOf(ctx, tx, sess)
		if err != nil {
			return err
		}
		if slices.Contains(roles, a.AssigneeRole) {
			return nil
		}
	}
	return apperr.PermissionDenied("user %d may not resolve approval %d", sess.UserID, a.ID)
}

// rolesOf merges the session role with the caller's tenant memberships
func rolesOf(ctx context.Context, store *repository.Store, sess *session.Session) ([]string, error) {
	roles, err := store.RolesForUser(ctx, sess.TenantID, sess.UserID)
	if err != nil {
		return nil, err
	}
	if sess.Role != "" && !slices.Contains(roles, sess.Role) {
		roles = append(roles, sess.Role)
	}
	return roles, nil
}
