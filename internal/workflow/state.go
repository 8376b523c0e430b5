package workflow

import (
	"context"

	"workflow-service/internal/apperr"
	"workflow-service/internal/model"

	"github.com/qmuntal/stateless"
)

const (
	triggerComplete = "complete"
	triggerFail     = "fail"
	triggerSuspend  = "suspend"
)

// executionMachine binds the execution lifecycle to exec.Status:
//
//	RUNNING          -> COMPLETED | FAILED | WAITING_APPROVAL
//	WAITING_APPROVAL -> COMPLETED | FAILED | WAITING_APPROVAL (next gate)
//
// COMPLETED and FAILED accept no trigger.
func executionMachine(exec *model.WorkflowExecution) *stateless.StateMachine {
	sm := stateless.NewStateMachineWithExternalStorage(
		func(_ context.Context) (stateless.State, error) {
			return exec.Status, nil
		},
		func(_ context.Context, state stateless.State) error {
			exec.Status = state.(model.ExecutionStatus)
			return nil
		},
		stateless.FiringImmediate,
	)

	sm.Configure(model.ExecutionRunning).
		Permit(triggerComplete, model.ExecutionCompleted).
		Permit(triggerFail, model.ExecutionFailed).
		Permit(triggerSuspend, model.ExecutionWaitingApproval)

	sm.Configure(model.ExecutionWaitingApproval).
		Permit(triggerComplete, model.ExecutionCompleted).
		Permit(triggerFail, model.ExecutionFailed).
		PermitReentry(triggerSuspend)

	sm.Configure(model.ExecutionCompleted)
	sm.Configure(model.ExecutionFailed)

	return sm
}

func transition(ctx context.Context, exec *model.WorkflowExecution, trigger string) error {
	from := exec.Status
	if err := executionMachine(exec).FireCtx(ctx, trigger); err != nil {
		return apperr.InvalidState("execution %d cannot %s from %s", exec.ID, trigger, from)
	}
	return nil
}
