package model

import (
	"time"

	"gorm.io/gorm"
)

// Lead statuses used by the sales funnel
const (
	LeadStatusNew       = "NEW"
	LeadStatusContacted = "CONTACTED"
	LeadStatusVerified  = "VERIFIED"
	LeadStatusWon       = "WON"
	LeadStatusLost      = "LOST"
)

// Lead is a sales funnel prospect
type Lead struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	TenantID     uint      `json:"tenant_id" gorm:"index;not null"`
	ClientName   string    `json:"client_name" gorm:"type:varchar(255);not null"`
	Email        string    `json:"email" gorm:"type:varchar(255)"`
	MobileNumber string    `json:"mobile_number" gorm:"type:varchar(50)"`
	Company      string    `json:"company" gorm:"type:varchar(255)"`
	Source       string    `json:"source" gorm:"type:varchar(100)"`
	Status       string    `json:"status" gorm:"type:varchar(50);not null;default:'NEW'"`
	Amount       float64   `json:"amount" gorm:"default:0"`
	Notes        string    `json:"notes" gorm:"type:text"`
	CreatedBy    uint      `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// deleted leads stay for the audit trail but are invisible to every query
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// Snapshot returns the field view conditions and templates are evaluated against
func (l *Lead) Snapshot() map[string]any {
	return map[string]any{
		"id":            l.ID,
		"client_name":   l.ClientName,
		"email":         l.Email,
		"mobile_number": l.MobileNumber,
		"company":       l.Company,
		"source":        l.Source,
		"status":        l.Status,
		"amount":        l.Amount,
		"notes":         l.Notes,
	}
}

// Document is a sales document (quote, contract) attached to a lead
type Document struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	TenantID  uint      `json:"tenant_id" gorm:"index;not null"`
	LeadID    *uint     `json:"lead_id,omitempty" gorm:"index"`
	Title     string    `json:"title" gorm:"type:varchar(255);not null"`
	Kind      string    `json:"kind" gorm:"type:varchar(50)"`
	Status    string    `json:"status" gorm:"type:varchar(50);not null;default:'DRAFT'"`
	Amount    float64   `json:"amount" gorm:"default:0"`
	CreatedBy uint      `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot returns the field view conditions and templates are evaluated against
func (d *Document) Snapshot() map[string]any {
	s := map[string]any{
		"id":     d.ID,
		"title":  d.Title,
		"kind":   d.Kind,
		"status": d.Status,
		"amount": d.Amount,
	}
	if d.LeadID != nil {
		s["lead_id"] = *d.LeadID
	}
	return s
}

// UpdatableFields lists the columns UPDATE_FIELD may write, per entity type
var UpdatableFields = map[string]map[string]bool{
	EntityLead: {
		"status": true, "source": true, "notes": true, "company": true, "amount": true,
	},
	EntityDocument: {
		"status": true, "title": true, "kind": true, "amount": true,
	},
}

// CanUpdateField reports whether UPDATE_FIELD may write field on entityType
func CanUpdateField(entityType, field string) bool {
	return UpdatableFields[entityType][field]
}
