package repository

import (
	"context"
	"time"

	"workflow-service/internal/model"
	"workflow-service/prometheus"

	"gorm.io/gorm"
)

// CreateEmail persists a PENDING queue item
func (s *Store) CreateEmail(ctx context.Context, item *model.EmailQueueItem) error {
	defer prometheus.TrackDBOperation("insert")(time.Now())
	item.Status = model.EmailPending
	item.Attempts = 0
	return s.ctx(ctx).Create(item).Error
}

// GetEmail loads a queue item by id. Delivery workers are not tenant bound,
// so the lookup is by primary key only.
func (s *Store) GetEmail(ctx context.Context, id uint) (*model.EmailQueueItem, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())
	var item model.EmailQueueItem
	if err := s.ctx(ctx).First(&item, id).Error; err != nil {
		return nil, notFound(err, "email %d", id)
	}
	return &item, nil
}

// ClaimEmail reserves an item for one delivery attempt. The claim succeeds
// only when the row still has the observed status and attempt count and no
// other worker holds an unexpired lease, so concurrent retriers never send
// the same item twice. The attempt counter is incremented by the claim.
func (s *Store) ClaimEmail(ctx context.Context, item *model.EmailQueueItem, lease time.Duration) (bool, error) {
	defer prometheus.TrackDBOperation("update")(time.Now())
	now := time.Now()
	res := s.ctx(ctx).Model(&model.EmailQueueItem{}).
		Where("id = ? AND status = ? AND attempts = ?", item.ID, item.Status, item.Attempts).
		Where("claimed_at IS NULL OR claimed_at < ?", now.Add(-lease)).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"claimed_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	item.Attempts++
	item.ClaimedAt = &now
	return true, nil
}

// FinishEmail stores the outcome of a claimed attempt and releases the lease
func (s *Store) FinishEmail(ctx context.Context, item *model.EmailQueueItem) error {
	defer prometheus.TrackDBOperation("update")(time.Now())
	item.ClaimedAt = nil
	return s.ctx(ctx).Model(item).
		Where("attempts = ?", item.Attempts).
		Select("status", "last_error", "message_id", "sent_at", "claimed_at").
		Updates(item).Error
}

// ListRetryableEmails returns FAILED items below the attempt cap that are not
// currently claimed, least recently touched first.
func (s *Store) ListRetryableEmails(ctx context.Context, maxAttempts, limit int, lease time.Duration) ([]model.EmailQueueItem, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())
	var items []model.EmailQueueItem
	err := s.ctx(ctx).
		Where("status = ? AND attempts < ?", model.EmailFailed, maxAttempts).
		Where("claimed_at IS NULL OR claimed_at < ?", time.Now().Add(-lease)).
		Order("updated_at ASC, id ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}
