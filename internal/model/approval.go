package model

import "time"

// ApprovalStatus is the decision state of an approval
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// Approval is a request for human sign-off on an entity. ExecutionID is set
// when the approval gates a workflow execution.
type Approval struct {
	ID           uint           `json:"id" gorm:"primaryKey"`
	TenantID     uint           `json:"tenant_id" gorm:"index:idx_approval_pending,priority:1;not null"`
	EntityType   string         `json:"entity_type" gorm:"type:varchar(50);not null"`
	EntityID     uint           `json:"entity_id" gorm:"not null"`
	ExecutionID  *uint          `json:"execution_id,omitempty" gorm:"index"`
	Title        string         `json:"title" gorm:"type:varchar(255)"`
	RequestedBy  uint           `json:"requested_by" gorm:"not null"`
	AssigneeID   *uint          `json:"assignee_id,omitempty" gorm:"index"`
	AssigneeRole string         `json:"assignee_role,omitempty" gorm:"type:varchar(50);index"`
	Status       ApprovalStatus `json:"status" gorm:"type:varchar(20);index:idx_approval_pending,priority:2;not null;default:'PENDING'"`
	DecidedBy    *uint          `json:"decided_by,omitempty"`
	DecidedAt    *time.Time     `json:"decided_at,omitempty"`
	Reason       string         `json:"reason,omitempty" gorm:"type:text"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
