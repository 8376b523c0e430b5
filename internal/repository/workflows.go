package repository

import (
	"context"
	"time"

	"workflow-service/internal/apperr"
	"workflow-service/internal/model"
	"workflow-service/prometheus"
)

// CreateWorkflow inserts a workflow definition
func (s *Store) CreateWorkflow(ctx context.Context, w *model.Workflow) error {
	defer prometheus.TrackDBOperation("insert")(time.Now())
	return s.ctx(ctx).Create(w).Error
}

// UpdateWorkflowDefinition rewrites the editable parts of a workflow. The
// active flag is left untouched; it only changes through SetWorkflowActive.
func (s *Store) UpdateWorkflowDefinition(ctx context.Context, w *model.Workflow) error {
	defer prometheus.TrackDBOperation("update")(time.Now())
	res := s.ctx(ctx).Model(w).
		Where("tenant_id = ?", w.TenantID).
		Select("name", "description", "trigger_type", "conditions", "actions").
		Updates(w)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("workflow %d", w.ID)
	}
	return nil
}

// GetWorkflow returns a workflow of the tenant
func (s *Store) GetWorkflow(ctx context.Context, tenantID, id uint) (*model.Workflow, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())
	var w model.Workflow
	if err := s.ctx(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).First(&w).Error; err != nil {
		return nil, notFound(err, "workflow %d", id)
	}
	return &w, nil
}

// ListWorkflows returns every workflow of the tenant in creation order
func (s *Store) ListWorkflows(ctx context.Context, tenantID uint) ([]model.Workflow, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())
	var workflows []model.Workflow
	err := s.ctx(ctx).Where("tenant_id = ?", tenantID).
		Order("created_at ASC, id ASC").
		Find(&workflows).Error
	return workflows, err
}

// ListActiveWorkflows returns active workflows for a trigger in ascending
// creation order, which is the order they execute in.
func (s *Store) ListActiveWorkflows(ctx context.Context, tenantID uint, triggerType string) ([]model.Workflow, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())
	var workflows []model.Workflow
	err := s.ctx(ctx).
		Where("tenant_id = ? AND trigger_type = ? AND is_active = ?", tenantID, triggerType, true).
		Order("created_at ASC, id ASC").
		Find(&workflows).Error
	return workflows, err
}

// SetWorkflowActive flips is_active only when it differs from active and
// reports whether a row changed.
func (s *Store) SetWorkflowActive(ctx context.Context, tenantID, id uint, active bool) (bool, error) {
	defer prometheus.TrackDBOperation("update")(time.Now())
	res := s.ctx(ctx).Model(&model.Workflow{}).
		Where("tenant_id = ? AND id = ? AND is_active = ?", tenantID, id, !active).
		Updates(map[string]any{"is_active": active, "updated_at": time.Now()})
	return res.RowsAffected > 0, res.Error
}

// CreateExecution inserts an execution record
func (s *Store) CreateExecution(ctx context.Context, e *model.WorkflowExecution) error {
	defer prometheus.TrackDBOperation("insert")(time.Now())
	return s.ctx(ctx).Create(e).Error
}

// GetExecution returns an execution of the tenant
func (s *Store) GetExecution(ctx context.Context, tenantID, id uint) (*model.WorkflowExecution, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())
	var e model.WorkflowExecution
	if err := s.ctx(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).First(&e).Error; err != nil {
		return nil, notFound(err, "workflow execution %d", id)
	}
	return &e, nil
}

// SaveExecutionState persists the mutable fields of an execution, provided
// its stored status is still from. A lost race yields InvalidStateError.
func (s *Store) SaveExecutionState(ctx context.Context, e *model.WorkflowExecution, from model.ExecutionStatus) error {
	defer prometheus.TrackDBOperation("update")(time.Now())
	res := s.ctx(ctx).Model(e).
		Where("tenant_id = ? AND status = ?", e.TenantID, from).
		Select("status", "next_step", "approval_id", "snapshot", "error", "finished_at").
		Updates(e)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.InvalidState("workflow execution %d is no longer %s", e.ID, from)
	}
	return nil
}

// ListExecutions returns the executions of a workflow, newest first
func (s *Store) ListExecutions(ctx context.Context, tenantID, workflowID uint) ([]model.WorkflowExecution, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())
	var executions []model.WorkflowExecution
	err := s.ctx(ctx).Where("tenant_id = ? AND workflow_id = ?", tenantID, workflowID).
		Order("started_at DESC, id DESC").
		Find(&executions).Error
	return executions, err
}

// HasWaitingExecution reports whether the workflow is already suspended on
// an approval for the entity.
func (s *Store) HasWaitingExecution(ctx context.Context, tenantID, workflowID uint, entityType string, entityID uint) (bool, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())
	var count int64
	err := s.ctx(ctx).Model(&model.WorkflowExecution{}).
		Where("tenant_id = ? AND workflow_id = ? AND entity_type = ? AND entity_id = ? AND status = ?",
			tenantID, workflowID, entityType, entityID, model.ExecutionWaitingApproval).
		Count(&count).Error
	return count > 0, err
}
