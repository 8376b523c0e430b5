package notification

import (
	"context"

	"workflow-service/internal/apperr"
	"workflow-service/internal/model"

	"github.com/qmuntal/stateless"
)

const (
	triggerDelivered = "delivered"
	triggerRejected  = "rejected"
)

// emailMachine binds the delivery lifecycle to a queue item:
// PENDING -> SENT | FAILED, FAILED -> SENT | FAILED. SENT is final.
func emailMachine(item *model.EmailQueueItem) *stateless.StateMachine {
	sm := stateless.NewStateMachineWithExternalStorage(
		func(_ context.Context) (stateless.State, error) {
			return item.Status, nil
		},
		func(_ context.Context, state stateless.State) error {
			item.Status = state.(model.EmailStatus)
			return nil
		},
		stateless.FiringImmediate,
	)

	sm.Configure(model.EmailPending).
		Permit(triggerDelivered, model.EmailSent).
		Permit(triggerRejected, model.EmailFailed)

	sm.Configure(model.EmailFailed).
		Permit(triggerDelivered, model.EmailSent).
		PermitReentry(triggerRejected)

	sm.Configure(model.EmailSent)

	return sm
}

// MarkSent moves item to SENT
func MarkSent(ctx context.Context, item *model.EmailQueueItem) error {
	return fire(ctx, item, triggerDelivered)
}

// MarkFailed moves item to FAILED
func MarkFailed(ctx context.Context, item *model.EmailQueueItem) error {
	return fire(ctx, item, triggerRejected)
}

func fire(ctx context.Context, item *model.EmailQueueItem, trigger string) error {
	from := item.Status
	if err := emailMachine(item).FireCtx(ctx, trigger); err != nil {
		return apperr.InvalidState("email %d cannot go from %s on %s: %v", item.ID, from, trigger, err)
	}
	return nil
}

// CanDeliver reports whether a delivery attempt is allowed from the item state
func CanDeliver(item *model.EmailQueueItem) bool {
	ok, err := emailMachine(item).CanFire(triggerDelivered)
	return err == nil && ok
}

