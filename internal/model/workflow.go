package model

import (
	"time"
)

// Entity types that can trigger workflows
const (
	EntityLead     = "LEAD"
	EntityDocument = "DOCUMENT"
	EntityWorkflow = "WORKFLOW"
	EntityApproval = "APPROVAL"
	EntityEmail    = "EMAIL"
)

// Entity events
const (
	EventCreated       = "CREATED"
	EventUpdated       = "UPDATED"
	EventStatusChanged = "STATUS_CHANGED"
	EventDeleted       = "DELETED"
)

// TriggerType joins an entity type and an event, e.g. LEAD_STATUS_CHANGED
func TriggerType(entityType, event string) string {
	return entityType + "_" + event
}

// Workflow is a tenant-scoped automation rule. Workflows are never deleted,
// only deactivated, so execution history always points at a definition.
type Workflow struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	TenantID    uint       `json:"tenant_id" gorm:"index:idx_workflow_trigger,priority:1;not null"`
	Name        string     `json:"name" gorm:"type:varchar(255);not null"`
	Description string     `json:"description" gorm:"type:text"`
	TriggerType string     `json:"trigger_type" gorm:"type:varchar(100);index:idx_workflow_trigger,priority:2;not null"`
	Conditions  Conditions `json:"conditions" gorm:"type:jsonb;serializer:json"`
	Actions     ActionList `json:"actions" gorm:"type:jsonb;serializer:json"`
	IsActive    bool       `json:"is_active" gorm:"default:false;index"`
	CreatedBy   uint       `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ExecutionStatus is the lifecycle state of a WorkflowExecution
type ExecutionStatus string

const (
	ExecutionRunning         ExecutionStatus = "RUNNING"
	ExecutionCompleted       ExecutionStatus = "COMPLETED"
	ExecutionFailed          ExecutionStatus = "FAILED"
	ExecutionWaitingApproval ExecutionStatus = "WAITING_APPROVAL"
)

// Terminal reports whether no further transition is allowed
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed
}

// WorkflowExecution records one triggered run of a workflow
type WorkflowExecution struct {
	ID          uint            `json:"id" gorm:"primaryKey"`
	TenantID    uint            `json:"tenant_id" gorm:"index;not null"`
	WorkflowID  uint            `json:"workflow_id" gorm:"index;not null"`
	TriggerType string          `json:"trigger_type" gorm:"type:varchar(100);not null"`
	EntityType  string          `json:"entity_type" gorm:"type:varchar(50);index:idx_execution_entity,priority:1;not null"`
	EntityID    uint            `json:"entity_id" gorm:"index:idx_execution_entity,priority:2;not null"`
	Status      ExecutionStatus `json:"status" gorm:"type:varchar(30);index;not null"`
	NextStep    int             `json:"next_step" gorm:"not null;default:0"`
	ApprovalID  *uint           `json:"approval_id,omitempty"`
	Snapshot    map[string]any  `json:"snapshot,omitempty" gorm:"type:jsonb;serializer:json"`
	Error       string          `json:"error,omitempty" gorm:"type:text"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
