package model

import "time"

// TenantMember associates a user with a tenant and a role within it.
// Approvals assigned to a role are visible to every active member holding it.
type TenantMember struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    uint      `json:"user_id" gorm:"uniqueIndex:idx_member_role,priority:2;not null"`
	TenantID  uint      `json:"tenant_id" gorm:"uniqueIndex:idx_member_role,priority:1;not null"`
	Role      string    `json:"role" gorm:"type:varchar(50);uniqueIndex:idx_member_role,priority:3;not null;default:'member'"`
	Active    bool      `json:"active" gorm:"default:true"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// All returns every model managed by migrations
func All() []any {
	return []any{
		&Workflow{},
		&WorkflowExecution{},
		&Approval{},
		&AuditLog{},
		&EmailQueueItem{},
		&Lead{},
		&Document{},
		&TenantMember{},
	}
}
