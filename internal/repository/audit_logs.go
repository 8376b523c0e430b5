package repository

import (
	"context"
	"time"

	"workflow-service/internal/model"
	"workflow-service/prometheus"
)

// AuditFilter narrows an audit log listing. Zero values match everything.
type AuditFilter struct {
	EntityType string
	EntityID   uint
	ActionType string
	Limit      int
	Offset     int
}

// CreateAuditLog appends an audit entry
func (s *Store) CreateAuditLog(ctx context.Context, entry *model.AuditLog) error {
	defer prometheus.TrackDBOperation("insert")(time.Now())
	return s.ctx(ctx).Create(entry).Error
}

// ListAuditLogs returns audit entries of the tenant, newest first
func (s *Store) ListAuditLogs(ctx context.Context, tenantID uint, filter AuditFilter) ([]model.AuditLog, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())
	query := s.ctx(ctx).Where("tenant_id = ?", tenantID)
	if filter.EntityType != "" {
		query = query.Where("entity_type = ?", filter.EntityType)
	}
	if filter.EntityID != 0 {
		query = query.Where("entity_id = ?", filter.EntityID)
	}
	if filter.ActionType != "" {
		query = query.Where("action_type = ?", filter.ActionType)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var entries []model.AuditLog
	err := query.Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(filter.Offset).
		Find(&entries).Error
	return entries, err
}
