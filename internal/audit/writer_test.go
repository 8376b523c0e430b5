package audit_test

import (
	"context"
	"testing"

	"workflow-service/internal/apperr"
	"workflow-service/internal/audit"
	"workflow-service/internal/model"
	"workflow-service/internal/repository"
	"workflow-service/internal/session"
	"workflow-service/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newWriter(t *testing.T) (*audit.Writer, *repository.Store, *gorm.DB) {
	db := testutil.NewDB(t)
	store := repository.New(db)
	return audit.NewWriter(store, zap.NewNop()), store, db
}

func TestRecordCommitsWithCallerTransaction(t *testing.T) {
	ctx := context.Background()
	w, store, _ := newWriter(t)

	entry := audit.Entry{TenantID: 1, ActorID: 2, ActionType: model.AuditLeadUpdated, EntityType: model.EntityLead, EntityID: 3,
		Before: map[string]any{"status": "NEW"}, After: map[string]any{"status": "WON"}}

	err := store.Transaction(ctx, func(tx *repository.Store) error {
		require.NoError(t, w.Record(ctx, tx, entry))
		return apperr.Validation("abort")
	})
	require.Error(t, err)

	owner := &session.Session{UserID: 2, TenantID: 1, Role: "owner"}
	logs, err := w.List(ctx, owner, repository.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, logs, "rolled back with the caller")

	require.NoError(t, store.Transaction(ctx, func(tx *repository.Store) error {
		return w.Record(ctx, tx, entry)
	}))
	logs, err = w.List(ctx, owner, repository.AuditFilter{EntityType: model.EntityLead, EntityID: 3})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "WON", logs[0].After["status"])
	assert.Equal(t, "NEW", logs[0].Before["status"])
}

func TestRecordRejectsEntryWithoutTenant(t *testing.T) {
	ctx := context.Background()
	w, store, _ := newWriter(t)

	err := w.Record(ctx, store, audit.Entry{ActionType: model.AuditLeadCreated, EntityType: model.EntityLead})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestAppendSwallowsFailures(t *testing.T) {
	ctx := context.Background()
	w, _, db := newWriter(t)

	require.NoError(t, db.Migrator().DropTable(&model.AuditLog{}))

	assert.NotPanics(t, func() {
		w.Append(ctx, audit.Entry{TenantID: 1, ActionType: model.AuditLeadCreated, EntityType: model.EntityLead, EntityID: 1})
	})
}

func TestListIsTenantScopedAndGuarded(t *testing.T) {
	ctx := context.Background()
	w, _, _ := newWriter(t)

	w.Append(ctx, audit.Entry{TenantID: 1, ActionType: model.AuditLeadCreated, EntityType: model.EntityLead, EntityID: 1})
	w.Append(ctx, audit.Entry{TenantID: 2, ActionType: model.AuditLeadCreated, EntityType: model.EntityLead, EntityID: 2})

	reader := &session.Session{UserID: 9, TenantID: 2, Permissions: []string{session.PermAuditRead}}
	logs, err := w.List(ctx, reader, repository.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, uint(2), logs[0].EntityID)

	_, err = w.List(ctx, &session.Session{UserID: 9, TenantID: 2}, repository.AuditFilter{})
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	_, err = w.List(ctx, nil, repository.AuditFilter{})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}
