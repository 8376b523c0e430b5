// Package notification persists transactional email and delivers it through
// a pluggable transport. Every message is written to the queue before the
// first attempt, so a failed delivery can be retried later.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"workflow-service/internal/apperr"
	"workflow-service/internal/model"
	"workflow-service/internal/repository"
	"workflow-service/pkg/config"
	"workflow-service/prometheus"

	"github.com/sethvargo/go-retry"
	"github.com/wneessen/go-mail"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SendResult is the outcome of one delivery attempt. Code classifies Error
// when the item could not be queued or its outcome could not be recorded.
type SendResult struct {
	Success   bool        `json:"success"`
	MessageID string      `json:"message_id,omitempty"`
	Error     string      `json:"error,omitempty"`
	Code      apperr.Kind `json:"code,omitempty"`
	ItemID    uint        `json:"item_id,omitempty"`
}

// finishRetries bounds the extra attempts at recording a delivery outcome
const finishRetries = 3

// RetryReport summarizes a RetryFailedEmails run
type RetryReport struct {
	Selected int          `json:"selected"`
	Sent     int          `json:"sent"`
	Failed   int          `json:"failed"`
	Results  []SendResult `json:"results"`
}

// Dispatcher queues and delivers email
type Dispatcher struct {
	store     *repository.Store
	transport Transport
	from      string
	cfg       config.EmailConfig
	log       *zap.Logger
}

// NewDispatcher creates a Dispatcher
func NewDispatcher(store *repository.Store, transport Transport, from string, cfg config.EmailConfig, log *zap.Logger) *Dispatcher {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBatchSize < 1 {
		cfg.RetryBatchSize = 10
	}
	if cfg.RetryConcurrency < 1 {
		cfg.RetryConcurrency = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return &Dispatcher{
		store:     store,
		transport: transport,
		from:      from,
		cfg:       cfg,
		log:       log.Named("notification"),
	}
}

// lease is how long a claim protects an item from other workers. It outlives
// the transport timeout so a slow attempt is never overlapped.
func (d *Dispatcher) lease() time.Duration {
	return 3*d.cfg.SendTimeout + time.Minute
}

// Send queues an email and delivers it immediately. Problems are reported in
// the result and never returned as an error.
func (d *Dispatcher) Send(ctx context.Context, tenantID uint, to, subject, html string) SendResult {
	item, err := d.Enqueue(ctx, d.store, tenantID, to, subject, html)
	if err != nil {
		return SendResult{Error: err.Error(), Code: apperr.KindOf(err)}
	}
	return d.deliver(ctx, item)
}

// Enqueue validates and persists a PENDING item through tx without sending
// it. Callers deliver the item with Deliver once tx has committed.
func (d *Dispatcher) Enqueue(ctx context.Context, tx *repository.Store, tenantID uint, to, subject, html string) (*model.EmailQueueItem, error) {
	to = strings.TrimSpace(to)
	if err := validateRecipient(to); err != nil {
		return nil, err
	}
	if strings.TrimSpace(subject) == "" {
		return nil, apperr.Validation("subject is required")
	}

	item := &model.EmailQueueItem{
		TenantID: tenantID,
		To:       to,
		Subject:  subject,
		Body:     html,
	}
	if err := tx.CreateEmail(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to queue email: %w", err)
	}
	return item, nil
}

// Deliver attempts delivery of a queued item. A SENT item is reported as
// successful without contacting the transport again.
func (d *Dispatcher) Deliver(ctx context.Context, id uint) SendResult {
	item, err := d.store.GetEmail(ctx, id)
	if err != nil {
		return SendResult{ItemID: id, Error: err.Error(), Code: apperr.KindOf(err)}
	}
	return d.deliver(ctx, item)
}

func (d *Dispatcher) deliver(ctx context.Context, item *model.EmailQueueItem) SendResult {
	result := SendResult{ItemID: item.ID}
	log := d.log.With(zap.Uint("email_id", item.ID), zap.Uint("tenant_id", item.TenantID))

	if !CanDeliver(item) {
		result.Success = item.Status == model.EmailSent
		result.MessageID = item.MessageID
		return result
	}
	if item.Attempts >= d.cfg.MaxAttempts {
		result.Error = fmt.Sprintf("attempt limit of %d reached", d.cfg.MaxAttempts)
		return result
	}

	claimed, err := d.store.ClaimEmail(ctx, item, d.lease())
	if err != nil {
		log.Error("Failed to claim email", zap.Error(err))
		result.Code = apperr.KindInternal
		result.Error = err.Error()
		return result
	}
	if !claimed {
		current, err := d.store.GetEmail(ctx, item.ID)
		if err == nil && current.Status == model.EmailSent {
			result.Success = true
			result.MessageID = current.MessageID
			return result
		}
		result.Error = "email is being delivered by another worker"
		return result
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	messageID, sendErr := d.transport.Send(sendCtx, Message{
		From:    d.from,
		To:      item.To,
		Subject: item.Subject,
		HTML:    item.Body,
	})
	cancel()

	if sendErr == nil {
		err = MarkSent(ctx, item)
		now := time.Now()
		item.SentAt = &now
		item.MessageID = messageID
		item.LastError = ""
	} else {
		if errors.Is(sendErr, context.DeadlineExceeded) {
			sendErr = fmt.Errorf("delivery timed out after %s", d.cfg.SendTimeout)
		}
		sendErr = apperr.TransientDelivery(sendErr)
		err = MarkFailed(ctx, item)
		item.LastError = sendErr.Error()
	}
	if err != nil {
		log.Error("Illegal email transition", zap.Error(err))
		result.Error = err.Error()
		return result
	}

	if err := d.recordOutcome(ctx, item); err != nil {
		log.Error("Failed to record delivery outcome",
			zap.Bool("delivered", sendErr == nil),
			zap.String("message_id", messageID),
			zap.Error(err))
		// the claim keeps other workers off the item until the lease expires
		result.MessageID = messageID
		result.Code = apperr.KindInternal
		result.Error = fmt.Sprintf("delivery outcome not recorded: %v", err)
		return result
	}

	if sendErr != nil {
		log.Warn("Email delivery failed", zap.Int("attempts", item.Attempts), zap.Error(sendErr))
		prometheus.RecordEmailDelivery("failed")
		result.Error = sendErr.Error()
		return result
	}

	log.Info("Email sent", zap.String("message_id", messageID), zap.Int("attempts", item.Attempts))
	prometheus.RecordEmailDelivery("sent")
	result.Success = true
	result.MessageID = messageID
	return result
}

// recordOutcome persists the attempt, retrying with a short backoff. The
// outcome is written even when the caller has gone away.
func (d *Dispatcher) recordOutcome(ctx context.Context, item *model.EmailQueueItem) error {
	ctx = context.WithoutCancel(ctx)
	backoff := retry.WithMaxRetries(finishRetries, retry.NewExponential(50*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := d.store.FinishEmail(ctx, item); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

// RetryFailedEmails retries a batch of FAILED items that are below the attempt
// cap. Items are retried independently; one failure never stops the batch.
func (d *Dispatcher) RetryFailedEmails(ctx context.Context) RetryReport {
	var report RetryReport

	items, err := d.store.ListRetryableEmails(ctx, d.cfg.MaxAttempts, d.cfg.RetryBatchSize, d.lease())
	if err != nil {
		d.log.Error("Failed to load retryable emails", zap.Error(err))
		return report
	}
	prometheus.EmailRetryBatchSize.Observe(float64(len(items)))
	report.Selected = len(items)
	report.Results = make([]SendResult, len(items))

	var g errgroup.Group
	g.SetLimit(d.cfg.RetryConcurrency)
	for i := range items {
		g.Go(func() error {
			report.Results[i] = d.deliver(ctx, &items[i])
			return nil
		})
	}
	_ = g.Wait()

	var failures error
	for _, r := range report.Results {
		if r.Success {
			report.Sent++
			continue
		}
		report.Failed++
		failures = multierr.Append(failures, fmt.Errorf("email %d: %s", r.ItemID, r.Error))
	}

	if failures != nil {
		d.log.Warn("Email retry finished with failures",
			zap.Int("selected", report.Selected),
			zap.Int("failed", report.Failed),
			zap.Error(failures))
	} else if report.Selected > 0 {
		d.log.Info("Email retry finished", zap.Int("sent", report.Sent))
	}
	return report
}

func validateRecipient(to string) error {
	if to == "" {
		return apperr.Validation("recipient is required")
	}
	if err := mail.NewMsg().To(to); err != nil {
		return apperr.Validation("invalid recipient %q", to)
	}
	return nil
}
