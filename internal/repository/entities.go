package repository

import (
	"context"
	"strings"
	"time"

	"workflow-service/internal/apperr"
	"workflow-service/internal/model"
	"workflow-service/prometheus"

	"gorm.io/gorm"
)

// CreateLead inserts a lead
func (s *Store) CreateLead(ctx context.Context, lead *model.Lead) error {
	defer prometheus.TrackDBOperation("insert")(time.Now())
	if lead.Status == "" {
		lead.Status = model.LeadStatusNew
	}
	return s.ctx(ctx).Create(lead).Error
}

// GetLead returns a lead of the tenant
func (s *Store) GetLead(ctx context.Context, tenantID, id uint) (*model.Lead, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())
	var lead model.Lead
	if err := s.ctx(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).First(&lead).Error; err != nil {
		return nil, notFound(err, "lead %d", id)
	}
	return &lead, nil
}

// Lead list bounds
const (
	DefaultLeadLimit = 50
	MaxLeadLimit     = 200
)

// LeadFilter narrows and pages ListLeads. Search matches client name, email
// and company case-insensitively.
type LeadFilter struct {
	Status string
	Search string
	Page   int
	Limit  int
}

// Bounds returns the 1-based page and the page size after defaults and caps
func (f LeadFilter) Bounds() (page, limit int) {
	page, limit = f.Page, f.Limit
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultLeadLimit
	}
	if limit > MaxLeadLimit {
		limit = MaxLeadLimit
	}
	return page, limit
}

func (f LeadFilter) scope(tenantID uint) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		db = db.Where("tenant_id = ?", tenantID)
		if f.Status != "" {
			db = db.Where("status = ?", f.Status)
		}
		if search := strings.TrimSpace(f.Search); search != "" {
			pattern := "%" + strings.ToLower(search) + "%"
			db = db.Where("(LOWER(client_name) LIKE ? OR LOWER(email) LIKE ? OR LOWER(company) LIKE ?)",
				pattern, pattern, pattern)
		}
		return db
	}
}

// ListLeads returns one page of the tenant's leads, newest first, and the
// number of leads matching the filter.
func (s *Store) ListLeads(ctx context.Context, tenantID uint, filter LeadFilter) ([]model.Lead, int64, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())
	page, limit := filter.Bounds()

	var total int64
	if err := s.ctx(ctx).Model(&model.Lead{}).Scopes(filter.scope(tenantID)).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var leads []model.Lead
	err := s.ctx(ctx).Scopes(filter.scope(tenantID)).
		Order("created_at DESC, id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&leads).Error
	return leads, total, err
}

// DeleteLead soft-deletes a lead of the tenant
func (s *Store) DeleteLead(ctx context.Context, tenantID, id uint) error {
	defer prometheus.TrackDBOperation("delete")(time.Now())
	res := s.ctx(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).Delete(&model.Lead{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("lead %d", id)
	}
	return nil
}

// CreateDocument inserts a document
func (s *Store) CreateDocument(ctx context.Context, doc *model.Document) error {
	defer prometheus.TrackDBOperation("insert")(time.Now())
	if doc.Status == "" {
		doc.Status = "DRAFT"
	}
	return s.ctx(ctx).Create(doc).Error
}

// GetDocument returns a document of the tenant
func (s *Store) GetDocument(ctx context.Context, tenantID, id uint) (*model.Document, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())
	var doc model.Document
	if err := s.ctx(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).First(&doc).Error; err != nil {
		return nil, notFound(err, "document %d", id)
	}
	return &doc, nil
}

// EntitySnapshot loads the current field view of a workflow-triggering entity
func (s *Store) EntitySnapshot(ctx context.Context, tenantID uint, entityType string, id uint) (map[string]any, error) {
	switch entityType {
	case model.EntityLead:
		lead, err := s.GetLead(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		return lead.Snapshot(), nil
	case model.EntityDocument:
		doc, err := s.GetDocument(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		return doc.Snapshot(), nil
	}
	return nil, apperr.Validation("unsupported entity type %q", entityType)
}

// UpdateEntityFields writes columns of a lead or document. Only fields listed
// in model.UpdatableFields are accepted.
func (s *Store) UpdateEntityFields(ctx context.Context, tenantID uint, entityType string, id uint, fields map[string]any) error {
	defer prometheus.TrackDBOperation("update")(time.Now())
	var target any
	switch entityType {
	case model.EntityLead:
		target = &model.Lead{}
	case model.EntityDocument:
		target = &model.Document{}
	default:
		return apperr.Validation("unsupported entity type %q", entityType)
	}

	updates := make(map[string]any, len(fields)+1)
	for field, value := range fields {
		if !model.CanUpdateField(entityType, field) {
			return apperr.Validation("field %q of %s cannot be updated", field, entityType)
		}
		updates[field] = value
	}
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now()

	res := s.ctx(ctx).Model(target).Where("tenant_id = ? AND id = ?", tenantID, id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("%s %d", entityType, id)
	}
	return nil
}
