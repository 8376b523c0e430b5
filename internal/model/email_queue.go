package model

import "time"

// EmailStatus is the delivery state of a queued email
type EmailStatus string

const (
	EmailPending EmailStatus = "PENDING"
	EmailSent    EmailStatus = "SENT"
	EmailFailed  EmailStatus = "FAILED"
)

// EmailQueueItem is a transactional email persisted before delivery
type EmailQueueItem struct {
	ID        uint        `json:"id" gorm:"primaryKey"`
	TenantID  uint        `json:"tenant_id" gorm:"index"`
	To        string      `json:"to" gorm:"column:recipient;type:varchar(255);not null"`
	Subject   string      `json:"subject" gorm:"type:varchar(500);not null"`
	Body      string      `json:"body" gorm:"type:text"`
	Status    EmailStatus `json:"status" gorm:"type:varchar(20);index:idx_email_retry,priority:1;not null;default:'PENDING'"`
	Attempts  int         `json:"attempts" gorm:"index:idx_email_retry,priority:2;not null;default:0"`
	LastError string      `json:"last_error,omitempty" gorm:"type:text"`
	MessageID string      `json:"message_id,omitempty" gorm:"type:varchar(255)"`
	SentAt    *time.Time  `json:"sent_at,omitempty"`
	ClaimedAt *time.Time  `json:"-"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}
