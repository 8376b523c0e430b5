// Package audit appends immutable, tenant-scoped audit entries. There is no
// update or delete path.
package audit

import (
	"context"

	"workflow-service/internal/apperr"
	"workflow-service/internal/model"
	"workflow-service/internal/repository"
	"workflow-service/internal/session"
	"workflow-service/prometheus"

	"go.uber.org/zap"
)

// Entry describes a state-changing action
type Entry struct {
	TenantID   uint
	ActorID    uint
	ActionType string
	EntityType string
	EntityID   uint
	Before     map[string]any
	After      map[string]any
}

func (e Entry) model() *model.AuditLog {
	return &model.AuditLog{
		TenantID:   e.TenantID,
		ActorID:    e.ActorID,
		ActionType: e.ActionType,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Before:     e.Before,
		After:      e.After,
	}
}

func (e Entry) validate() error {
	if e.TenantID == 0 {
		return apperr.Validation("audit entry requires a tenant")
	}
	if e.ActionType == "" || e.EntityType == "" {
		return apperr.Validation("audit entry requires action and entity type")
	}
	return nil
}

// Writer appends audit entries
type Writer struct {
	store *repository.Store
	log   *zap.Logger
}

// NewWriter creates a Writer whose best-effort appends go through store
func NewWriter(store *repository.Store, log *zap.Logger) *Writer {
	return &Writer{store: store, log: log.Named("audit")}
}

// Record writes entry through tx, which is normally the transaction of the
// state change being audited. The error is returned so the caller decides
// whether the change may commit without its audit entry.
func (w *Writer) Record(ctx context.Context, tx *repository.Store, entry Entry) error {
	if err := entry.validate(); err != nil {
		return err
	}
	if err := tx.CreateAuditLog(ctx, entry.model()); err != nil {
		prometheus.RecordAuditFailure()
		return err
	}
	return nil
}

// Append writes entry outside of any caller transaction. A failure is
// logged and counted but never surfaced.
func (w *Writer) Append(ctx context.Context, entry Entry) {
	if err := entry.validate(); err != nil {
		w.log.Error("Dropping invalid audit entry", zap.String("action_type", entry.ActionType), zap.Error(err))
		prometheus.RecordAuditFailure()
		return
	}
	if err := w.store.CreateAuditLog(ctx, entry.model()); err != nil {
		w.log.Error("Failed to write audit entry",
			zap.String("action_type", entry.ActionType),
			zap.String("entity_type", entry.EntityType),
			zap.Uint("entity_id", entry.EntityID),
			zap.Error(err))
		prometheus.RecordAuditFailure()
	}
}

// List returns the audit history of the session tenant
func (w *Writer) List(ctx context.Context, sess *session.Session, filter repository.AuditFilter) ([]model.AuditLog, error) {
	if err := session.Require(sess, session.PermAuditRead); err != nil {
		return nil, err
	}
	return w.store.ListAuditLogs(ctx, sess.TenantID, filter)
}
