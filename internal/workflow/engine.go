// Package workflow matches entity events against tenant workflows and runs
// their actions. Each matched workflow runs in its own transaction and
// leaves an execution record behind, whatever the outcome.
package workflow

import (
	"context"
	"fmt"
	"maps"
	"time"

	"workflow-service/internal/apperr"
	"workflow-service/internal/approval"
	"workflow-service/internal/audit"
	"workflow-service/internal/model"
	"workflow-service/internal/notification"
	"workflow-service/internal/repository"
	"workflow-service/internal/session"
	"workflow-service/prometheus"

	"go.uber.org/zap"
)

// Event is a state change of a lead or document
type Event struct {
	EntityType string
	EntityID   uint
	EventType  string
	// Snapshot is the entity view conditions and templates see. When nil the
	// engine loads the current entity.
	Snapshot map[string]any
}

// TriggerType returns the trigger the event fires, e.g. LEAD_CREATED
func (e Event) TriggerType() string {
	return model.TriggerType(e.EntityType, e.EventType)
}

// Mailer queues email inside a transaction and delivers it after commit
type Mailer interface {
	Enqueue(ctx context.Context, tx *repository.Store, tenantID uint, to, subject, html string) (*model.EmailQueueItem, error)
	Deliver(ctx context.Context, id uint) notification.SendResult
}

// Engine evaluates and runs workflows
type Engine struct {
	store  *repository.Store
	audit  *audit.Writer
	mailer Mailer
	log    *zap.Logger
}

// NewEngine creates an Engine
func NewEngine(store *repository.Store, w *audit.Writer, mailer Mailer, log *zap.Logger) *Engine {
	return &Engine{store: store, audit: w, mailer: mailer, log: log.Named("workflow")}
}

// Evaluate runs every active workflow of the session tenant whose trigger
// matches the event and whose conditions hold, in ascending creation order.
// A workflow that fails is recorded as FAILED and does not affect the
// others. The returned executions are those started by this call.
func (e *Engine) Evaluate(ctx context.Context, sess *session.Session, ev Event) ([]model.WorkflowExecution, error) {
	if err := session.Require(sess, ""); err != nil {
		return nil, err
	}
	if ev.EntityType == "" || ev.EntityID == 0 || ev.EventType == "" {
		return nil, apperr.Validation("event requires entity type, entity id and event type")
	}

	trigger := ev.TriggerType()
	defer prometheus.TrackEvaluation(trigger)(time.Now())

	if ev.Snapshot == nil {
		snapshot, err := e.store.EntitySnapshot(ctx, sess.TenantID, ev.EntityType, ev.EntityID)
		if err != nil {
			return nil, err
		}
		ev.Snapshot = snapshot
	}

	workflows, err := e.store.ListActiveWorkflows(ctx, sess.TenantID, trigger)
	if err != nil {
		return nil, err
	}

	log := e.log.With(
		zap.Uint("tenant_id", sess.TenantID),
		zap.String("trigger", trigger),
		zap.Uint("entity_id", ev.EntityID))

	var executions []model.WorkflowExecution
	for i := range workflows {
		wf := &workflows[i]
		if !Match(wf.Conditions, ev.Snapshot) {
			continue
		}

		exec, err := e.start(ctx, sess, wf, ev)
		if err != nil {
			log.Error("Workflow could not run", zap.Uint("workflow_id", wf.ID), zap.Error(err))
			continue
		}
		if exec == nil {
			log.Debug("Workflow already waiting on approval for entity", zap.Uint("workflow_id", wf.ID))
			continue
		}
		executions = append(executions, *exec)
	}
	return executions, nil
}

// start creates the execution and runs the first action segment in one
// transaction. It returns nil when an earlier execution of the same workflow
// is still waiting on an approval for the entity.
func (e *Engine) start(ctx context.Context, sess *session.Session, wf *model.Workflow, ev Event) (*model.WorkflowExecution, error) {
	var (
		exec   *model.WorkflowExecution
		outbox []uint
	)
	err := e.store.Transaction(ctx, func(tx *repository.Store) error {
		key := fmt.Sprintf("workflow:%d:%s:%d", wf.ID, ev.EntityType, ev.EntityID)
		if err := tx.LockKey(ctx, key); err != nil {
			return err
		}
		waiting, err := tx.HasWaitingExecution(ctx, sess.TenantID, wf.ID, ev.EntityType, ev.EntityID)
		if err != nil || waiting {
			return err
		}

		exec = &model.WorkflowExecution{
			TenantID:    sess.TenantID,
			WorkflowID:  wf.ID,
			TriggerType: wf.TriggerType,
			EntityType:  ev.EntityType,
			EntityID:    ev.EntityID,
			Status:      model.ExecutionRunning,
			Snapshot:    maps.Clone(ev.Snapshot),
			StartedAt:   time.Now(),
		}
		if err := tx.CreateExecution(ctx, exec); err != nil {
			return err
		}

		outbox, err = e.run(ctx, tx, sess.UserID, wf, exec)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.deliver(ctx, outbox)
	return exec, nil
}

// Resume continues the execution gated by a decided approval. APPROVED runs
// the remaining actions; REJECTED fails the execution. It implements
// approval.ExecutionResumer.
func (e *Engine) Resume(ctx context.Context, tx *repository.Store, actorID uint, a *model.Approval) (approval.Followup, error) {
	if a.ExecutionID == nil {
		return nil, nil
	}
	exec, err := tx.GetExecution(ctx, a.TenantID, *a.ExecutionID)
	if err != nil {
		return nil, err
	}
	if exec.Status != model.ExecutionWaitingApproval || exec.ApprovalID == nil || *exec.ApprovalID != a.ID {
		return nil, apperr.InvalidState("execution %d is not waiting on approval %d", exec.ID, a.ID)
	}

	switch a.Status {
	case model.ApprovalRejected:
		err := e.finish(ctx, tx, actorID, exec, triggerFail, fmt.Sprintf("approval %d rejected", a.ID))
		return nil, err
	case model.ApprovalApproved:
		wf, err := tx.GetWorkflow(ctx, a.TenantID, exec.WorkflowID)
		if err != nil {
			return nil, err
		}
		outbox, err := e.run(ctx, tx, actorID, wf, exec)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) { e.deliver(ctx, outbox) }, nil
	}
	return nil, apperr.InvalidState("approval %d is still %s", a.ID, a.Status)
}

// effect is what a single action leaves for the runner to act on
type effect struct {
	email *uint
	gate  *model.Approval
}

// run executes actions from exec.NextStep until the list ends or an approval
// gate is opened. The actions run in a savepoint: when one fails, the writes
// of the whole segment are rolled back and the execution is marked FAILED.
// It returns the ids of emails to deliver once tx commits.
func (e *Engine) run(ctx context.Context, tx *repository.Store, actorID uint, wf *model.Workflow, exec *model.WorkflowExecution) ([]uint, error) {
	snapshot := maps.Clone(exec.Snapshot)
	if snapshot == nil {
		snapshot = map[string]any{}
	}

	var (
		outbox []uint
		gate   *model.Approval
	)
	step := exec.NextStep
	segErr := tx.Transaction(ctx, func(seg *repository.Store) error {
		for ; step < len(wf.Actions); step++ {
			action := wf.Actions[step]
			out, err := e.apply(ctx, seg, actorID, exec, snapshot, action)
			if err != nil {
				return apperr.FatalWorkflow(err, "action %d (%s) failed", step, action.Kind())
			}
			if out.email != nil {
				outbox = append(outbox, *out.email)
			}
			if out.gate != nil {
				gate = out.gate
				step++
				return nil
			}
		}
		return nil
	})

	exec.NextStep = step
	switch {
	case segErr != nil:
		e.log.Warn("Workflow action failed",
			zap.Uint("workflow_id", wf.ID),
			zap.Uint("execution_id", exec.ID),
			zap.Error(segErr))
		return nil, e.finish(ctx, tx, actorID, exec, triggerFail, segErr.Error())
	case gate != nil:
		exec.Snapshot = snapshot
		exec.ApprovalID = &gate.ID
		if err := e.finish(ctx, tx, actorID, exec, triggerSuspend, ""); err != nil {
			return nil, err
		}
		return outbox, nil
	default:
		exec.Snapshot = snapshot
		if err := e.finish(ctx, tx, actorID, exec, triggerComplete, ""); err != nil {
			return nil, err
		}
		return outbox, nil
	}
}

// finish applies a lifecycle transition, persists it guarded by the previous
// status and appends the matching audit entry.
func (e *Engine) finish(ctx context.Context, tx *repository.Store, actorID uint, exec *model.WorkflowExecution, trigger, reason string) error {
	from := exec.Status
	if err := transition(ctx, exec, trigger); err != nil {
		return err
	}
	if exec.Status.Terminal() {
		now := time.Now()
		exec.FinishedAt = &now
	}
	exec.Error = reason
	if err := tx.SaveExecutionState(ctx, exec, from); err != nil {
		return err
	}

	actionType := model.AuditWorkflowCompleted
	switch exec.Status {
	case model.ExecutionFailed:
		actionType = model.AuditWorkflowFailed
	case model.ExecutionWaitingApproval:
		actionType = model.AuditWorkflowWaitingApproval
	}
	after := map[string]any{
		"execution_id": exec.ID,
		"status":       exec.Status,
		"entity_type":  exec.EntityType,
		"entity_id":    exec.EntityID,
		"next_step":    exec.NextStep,
	}
	if exec.ApprovalID != nil {
		after["approval_id"] = *exec.ApprovalID
	}
	if reason != "" {
		after["error"] = reason
	}
	err := e.audit.Record(ctx, tx, audit.Entry{
		TenantID:   exec.TenantID,
		ActorID:    actorID,
		ActionType: actionType,
		EntityType: model.EntityWorkflow,
		EntityID:   exec.WorkflowID,
		Before:     map[string]any{"status": from},
		After:      after,
	})
	if err != nil {
		return err
	}

	prometheus.RecordExecution(exec.TriggerType, string(exec.Status))
	return nil
}

// apply performs one action through seg. UPDATE_FIELD also updates the
// in-memory snapshot so later actions observe the new value; it does not
// trigger another evaluation.
func (e *Engine) apply(ctx context.Context, seg *repository.Store, actorID uint, exec *model.WorkflowExecution, snapshot map[string]any, action model.Action) (effect, error) {
	switch a := action.(type) {
	case model.UpdateFieldAction:
		err := seg.UpdateEntityFields(ctx, exec.TenantID, exec.EntityType, exec.EntityID, map[string]any{a.Field: a.Value})
		if err != nil {
			return effect{}, err
		}
		snapshot[a.Field] = a.Value
		return effect{}, nil

	case model.SendEmailAction:
		msg, err := renderEmail(a, snapshot)
		if err != nil {
			return effect{}, fmt.Errorf("render email: %w", err)
		}
		item, err := e.mailer.Enqueue(ctx, seg, exec.TenantID, msg.To, msg.Subject, msg.HTML)
		if err != nil {
			return effect{}, err
		}
		return effect{email: &item.ID}, nil

	case model.CreateApprovalAction:
		executionID := exec.ID
		gate, err := approval.Open(ctx, seg, e.audit, approval.OpenInput{
			TenantID:     exec.TenantID,
			EntityType:   exec.EntityType,
			EntityID:     exec.EntityID,
			ExecutionID:  &executionID,
			Title:        a.Title,
			RequestedBy:  actorID,
			AssigneeID:   a.AssigneeID,
			AssigneeRole: a.AssigneeRole,
		})
		if err != nil {
			return effect{}, err
		}
		return effect{gate: gate}, nil

	case model.LogAuditAction:
		err := e.audit.Record(ctx, seg, audit.Entry{
			TenantID:   exec.TenantID,
			ActorID:    actorID,
			ActionType: a.ActionType,
			EntityType: exec.EntityType,
			EntityID:   exec.EntityID,
			After: map[string]any{
				"note":         a.Note,
				"workflow_id":  exec.WorkflowID,
				"execution_id": exec.ID,
			},
		})
		return effect{}, err
	}
	return effect{}, fmt.Errorf("unsupported action %T", action)
}

// deliver sends emails queued by committed executions. Failures stay in the
// queue for the retry job.
func (e *Engine) deliver(ctx context.Context, ids []uint) {
	for _, id := range ids {
		if result := e.mailer.Deliver(ctx, id); !result.Success {
			e.log.Warn("Workflow email not delivered", zap.Uint("email_id", id), zap.String("error", result.Error))
		}
	}
}
