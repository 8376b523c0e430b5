package workflow

import (
	"context"
	"strings"

	"workflow-service/internal/apperr"
	"workflow-service/internal/audit"
	"workflow-service/internal/model"
	"workflow-service/internal/repository"
	"workflow-service/internal/session"

	"go.uber.org/zap"
)

// Definition is the editable part of a workflow
type Definition struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	TriggerType string           `json:"trigger_type"`
	Conditions  model.Conditions `json:"conditions"`
	Actions     model.ActionList `json:"actions"`
}

// triggerEvents lists the events the CRM emits per entity type
var triggerEvents = map[string][]string{
	model.EntityLead:     {model.EventCreated, model.EventUpdated, model.EventStatusChanged, model.EventDeleted},
	model.EntityDocument: {model.EventCreated, model.EventUpdated, model.EventStatusChanged},
}

// triggerEntity returns the entity type a trigger fires on, or "" when the
// trigger is not one the CRM emits.
func triggerEntity(trigger string) string {
	for entity, events := range triggerEvents {
		for _, event := range events {
			if trigger == model.TriggerType(entity, event) {
				return entity
			}
		}
	}
	return ""
}

// Validate checks the trigger, the conditions and every action
func (d Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return apperr.Validation("name is required")
	}
	entity := triggerEntity(d.TriggerType)
	if entity == "" {
		return apperr.Validation("unsupported trigger type %q", d.TriggerType)
	}
	if err := d.Conditions.Validate(); err != nil {
		return apperr.Validation("%v", err)
	}
	deleted := d.TriggerType == model.TriggerType(entity, model.EventDeleted)
	if len(d.Actions) == 0 {
		return apperr.Validation("at least one action is required")
	}
	for i, action := range d.Actions {
		if action == nil {
			return apperr.Validation("action %d is empty", i)
		}
		if err := action.Validate(); err != nil {
			return apperr.Validation("action %d: %v", i, err)
		}
		if deleted && (action.Kind() == model.ActionUpdateField || action.Kind() == model.ActionCreateApproval) {
			return apperr.Validation("action %d: %s cannot run on a deleted %s", i, action.Kind(), entity)
		}
		if u, ok := action.(model.UpdateFieldAction); ok && !model.CanUpdateField(entity, u.Field) {
			return apperr.Validation("action %d: field %q of %s cannot be updated", i, u.Field, entity)
		}
		if e, ok := action.(model.SendEmailAction); ok {
			if _, err := parseEmail(e); err != nil {
				return apperr.Validation("action %d: invalid email template: %v", i, err)
			}
		}
	}
	return nil
}

func definitionView(w *model.Workflow) map[string]any {
	return map[string]any{
		"name":         w.Name,
		"trigger_type": w.TriggerType,
		"conditions":   len(w.Conditions),
		"actions":      len(w.Actions),
		"is_active":    w.IsActive,
	}
}

// CreateWorkflow stores a new, inactive workflow
func (e *Engine) CreateWorkflow(ctx context.Context, sess *session.Session, d Definition) (*model.Workflow, error) {
	if err := session.Require(sess, session.PermWorkflowsManage); err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}

	wf := &model.Workflow{
		TenantID:    sess.TenantID,
		Name:        d.Name,
		Description: d.Description,
		TriggerType: d.TriggerType,
		Conditions:  d.Conditions,
		Actions:     d.Actions,
		CreatedBy:   sess.UserID,
	}
	err := e.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.CreateWorkflow(ctx, wf); err != nil {
			return err
		}
		return e.audit.Record(ctx, tx, audit.Entry{
			TenantID:   wf.TenantID,
			ActorID:    sess.UserID,
			ActionType: model.AuditWorkflowCreated,
			EntityType: model.EntityWorkflow,
			EntityID:   wf.ID,
			After:      definitionView(wf),
		})
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("Workflow created",
		zap.Uint("workflow_id", wf.ID),
		zap.Uint("tenant_id", wf.TenantID),
		zap.String("trigger", wf.TriggerType))
	return wf, nil
}

// UpdateWorkflow replaces the definition of a workflow. Executions waiting on
// an approval resume against the updated action list.
func (e *Engine) UpdateWorkflow(ctx context.Context, sess *session.Session, id uint, d Definition) (*model.Workflow, error) {
	if err := session.Require(sess, session.PermWorkflowsManage); err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}

	var wf *model.Workflow
	err := e.store.Transaction(ctx, func(tx *repository.Store) error {
		current, err := tx.GetWorkflow(ctx, sess.TenantID, id)
		if err != nil {
			return err
		}
		before := definitionView(current)

		current.Name = d.Name
		current.Description = d.Description
		current.TriggerType = d.TriggerType
		current.Conditions = d.Conditions
		current.Actions = d.Actions
		if err := tx.UpdateWorkflowDefinition(ctx, current); err != nil {
			return err
		}
		wf = current
		return e.audit.Record(ctx, tx, audit.Entry{
			TenantID:   current.TenantID,
			ActorID:    sess.UserID,
			ActionType: model.AuditWorkflowUpdated,
			EntityType: model.EntityWorkflow,
			EntityID:   current.ID,
			Before:     before,
			After:      definitionView(current),
		})
	})
	if err != nil {
		return nil, err
	}
	return wf, nil
}

// GetWorkflow returns a workflow of the session tenant
func (e *Engine) GetWorkflow(ctx context.Context, sess *session.Session, id uint) (*model.Workflow, error) {
	if err := session.Require(sess, ""); err != nil {
		return nil, err
	}
	return e.store.GetWorkflow(ctx, sess.TenantID, id)
}

// ListWorkflows returns the workflows of the session tenant
func (e *Engine) ListWorkflows(ctx context.Context, sess *session.Session) ([]model.Workflow, error) {
	if err := session.Require(sess, ""); err != nil {
		return nil, err
	}
	return e.store.ListWorkflows(ctx, sess.TenantID)
}

// ListExecutions returns the execution trail of a workflow
func (e *Engine) ListExecutions(ctx context.Context, sess *session.Session, workflowID uint) ([]model.WorkflowExecution, error) {
	if err := session.Require(sess, ""); err != nil {
		return nil, err
	}
	if _, err := e.store.GetWorkflow(ctx, sess.TenantID, workflowID); err != nil {
		return nil, err
	}
	return e.store.ListExecutions(ctx, sess.TenantID, workflowID)
}

// GetExecution returns one execution of the session tenant
func (e *Engine) GetExecution(ctx context.Context, sess *session.Session, id uint) (*model.WorkflowExecution, error) {
	if err := session.Require(sess, ""); err != nil {
		return nil, err
	}
	return e.store.GetExecution(ctx, sess.TenantID, id)
}

// Activate makes a workflow eligible for evaluation
func (e *Engine) Activate(ctx context.Context, sess *session.Session, id uint) (*model.Workflow, error) {
	return e.setActive(ctx, sess, id, true)
}

// Deactivate stops a workflow from being evaluated. Executions already
// waiting on an approval are not affected.
func (e *Engine) Deactivate(ctx context.Context, sess *session.Session, id uint) (*model.Workflow, error) {
	return e.setActive(ctx, sess, id, false)
}

// setActive is a no-op without an audit entry when the workflow is already
// in the requested state.
func (e *Engine) setActive(ctx context.Context, sess *session.Session, id uint, active bool) (*model.Workflow, error) {
	if err := session.Require(sess, session.PermWorkflowsManage); err != nil {
		return nil, err
	}

	var wf *model.Workflow
	err := e.store.Transaction(ctx, func(tx *repository.Store) error {
		current, err := tx.GetWorkflow(ctx, sess.TenantID, id)
		if err != nil {
			return err
		}
		wf = current

		changed, err := tx.SetWorkflowActive(ctx, sess.TenantID, id, active)
		if err != nil || !changed {
			return err
		}
		wf.IsActive = active

		actionType := model.AuditWorkflowActivated
		if !active {
			actionType = model.AuditWorkflowDeactivated
		}
		return e.audit.Record(ctx, tx, audit.Entry{
			TenantID:   wf.TenantID,
			ActorID:    sess.UserID,
			ActionType: actionType,
			EntityType: model.EntityWorkflow,
			EntityID:   wf.ID,
			Before:     map[string]any{"is_active": !active},
			After:      map[string]any{"is_active": active},
		})
	})
	if err != nil {
		return nil, err
	}
	return wf, nil
}
