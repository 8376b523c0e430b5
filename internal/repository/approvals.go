package repository

import (
	"context"
	"time"

	"workflow-service/internal/model"
	"workflow-service/prometheus"
)

// CreateApproval inserts a pending approval
func (s *Store) CreateApproval(ctx context.Context, a *model.Approval) error {
	defer prometheus.TrackDBOperation("insert")(time.Now())
	a.Status = model.ApprovalPending
	return s.ctx(ctx).Create(a).Error
}

// GetApproval returns an approval of the tenant
func (s *Store) GetApproval(ctx context.Context, tenantID, id uint) (*model.Approval, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())
	var a model.Approval
	if err := s.ctx(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).First(&a).Error; err != nil {
		return nil, notFound(err, "approval %d", id)
	}
	return &a, nil
}

// ListPendingApprovals returns pending approvals of the tenant assigned to the
// user directly or to one of roles, oldest first.
func (s *Store) ListPendingApprovals(ctx context.Context, tenantID, userID uint, roles []string) ([]model.Approval, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())
	query := s.ctx(ctx).Where("tenant_id = ? AND status = ?", tenantID, model.ApprovalPending)
	if len(roles) > 0 {
		query = query.Where("assignee_id = ? OR assignee_role IN ?", userID, roles)
	} else {
		query = query.Where("assignee_id = ?", userID)
	}

	var approvals []model.Approval
	err := query.Order("created_at ASC, id ASC").Find(&approvals).Error
	return approvals, err
}

// DecideApproval records a decision only if the approval is still pending and
// reports whether this call won.
func (s *Store) DecideApproval(ctx context.Context, tenantID, id uint, status model.ApprovalStatus, actorID uint, reason string, at time.Time) (bool, error) {
	defer prometheus.TrackDBOperation("update")(time.Now())
	res := s.ctx(ctx).Model(&model.Approval{}).
		Where("tenant_id = ? AND id = ? AND status = ?", tenantID, id, model.ApprovalPending).
		Updates(map[string]any{
			"status":     status,
			"decided_by": actorID,
			"decided_at": at,
			"reason":     reason,
			"updated_at": at,
		})
	return res.RowsAffected == 1, res.Error
}

// RolesForUser returns the active roles the user holds in the tenant
func (s *Store) RolesForUser(ctx context.Context, tenantID, userID uint) ([]string, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())
	var roles []string
	err := s.ctx(ctx).Model(&model.TenantMember{}).
		Where("tenant_id = ? AND user_id = ? AND active = ?", tenantID, userID, true).
		Pluck("role", &roles).Error
	return roles, err
}

// AddMember grants a role in a tenant
func (s *Store) AddMember(ctx context.Context, m *model.TenantMember) error {
	defer prometheus.TrackDBOperation("insert")(time.Now())
	return s.ctx(ctx).Create(m).Error
}
