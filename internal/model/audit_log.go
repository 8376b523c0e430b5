package model

import "time"

// Audit action types written by the core
const (
	AuditWorkflowCreated         = "WORKFLOW_CREATED"
	AuditWorkflowUpdated         = "WORKFLOW_UPDATED"
	AuditWorkflowActivated       = "WORKFLOW_ACTIVATED"
	AuditWorkflowDeactivated     = "WORKFLOW_DEACTIVATED"
	AuditWorkflowCompleted       = "WORKFLOW_COMPLETED"
	AuditWorkflowFailed          = "WORKFLOW_FAILED"
	AuditWorkflowWaitingApproval = "WORKFLOW_WAITING_APPROVAL"
	AuditApprovalRequested       = "APPROVAL_REQUESTED"
	AuditApprovalApproved        = "APPROVAL_APPROVED"
	AuditApprovalRejected        = "APPROVAL_REJECTED"
	AuditLeadCreated             = "LEAD_CREATED"
	AuditLeadUpdated             = "LEAD_UPDATED"
	AuditLeadDeleted             = "LEAD_DELETED"
	AuditDocumentCreated         = "DOCUMENT_CREATED"
	AuditDocumentUpdated         = "DOCUMENT_UPDATED"
)

// AuditLog is an immutable record of a state-changing action
type AuditLog struct {
	ID         uint           `json:"id" gorm:"primaryKey"`
	TenantID   uint           `json:"tenant_id" gorm:"index:idx_audit_entity,priority:1;not null"`
	ActionType string         `json:"action_type" gorm:"type:varchar(100);index;not null"`
	EntityType string         `json:"entity_type" gorm:"type:varchar(50);index:idx_audit_entity,priority:2;not null"`
	EntityID   uint           `json:"entity_id" gorm:"index:idx_audit_entity,priority:3;not null"`
	ActorID    uint           `json:"actor_id" gorm:"index"`
	Before     map[string]any `json:"before,omitempty" gorm:"type:jsonb;serializer:json"`
	After      map[string]any `json:"after,omitempty" gorm:"type:jsonb;serializer:json"`
	CreatedAt  time.Time      `json:"created_at" gorm:"autoCreateTime;index"`
}
