// Package crm mutates leads and documents and emits the workflow events
// those mutations trigger. Events are evaluated after the mutation commits.
package crm

import (
	"context"
	"strings"

	"workflow-service/internal/apperr"
	"workflow-service/internal/audit"
	"workflow-service/internal/model"
	"workflow-service/internal/repository"
	"workflow-service/internal/session"
	"workflow-service/internal/workflow"
	"workflow-service/pkg/logger"

	"go.uber.org/zap"
)

// Evaluator runs the workflows matching an event
type Evaluator interface {
	Evaluate(ctx context.Context, sess *session.Session, ev workflow.Event) ([]model.WorkflowExecution, error)
}

// Service manages leads and documents
type Service struct {
	store  *repository.Store
	audit  *audit.Writer
	engine Evaluator
}

// NewService creates a Service
func NewService(store *repository.Store, w *audit.Writer, engine Evaluator) *Service {
	return &Service{store: store, audit: w, engine: engine}
}

// LeadInput creates a lead
type LeadInput struct {
	ClientName   string  `json:"client_name"`
	Email        string  `json:"email"`
	MobileNumber string  `json:"mobile_number"`
	Company      string  `json:"company"`
	Source       string  `json:"source"`
	Status       string  `json:"status"`
	Amount       float64 `json:"amount"`
	Notes        string  `json:"notes"`
}

// LeadPatch updates selected lead fields; nil fields are left unchanged
type LeadPatch struct {
	Status  *string  `json:"status"`
	Source  *string  `json:"source"`
	Notes   *string  `json:"notes"`
	Company *string  `json:"company"`
	Amount  *float64 `json:"amount"`
}

func (p LeadPatch) fields() map[string]any {
	fields := map[string]any{}
	if p.Status != nil {
		fields["status"] = *p.Status
	}
	if p.Source != nil {
		fields["source"] = *p.Source
	}
	if p.Notes != nil {
		fields["notes"] = *p.Notes
	}
	if p.Company != nil {
		fields["company"] = *p.Company
	}
	if p.Amount != nil {
		fields["amount"] = *p.Amount
	}
	return fields
}

// DocumentInput creates a document
type DocumentInput struct {
	LeadID *uint   `json:"lead_id,omitempty"`
	Title  string  `json:"title"`
	Kind   string  `json:"kind"`
	Status string  `json:"status"`
	Amount float64 `json:"amount"`
}

// DocumentPatch updates selected document fields
type DocumentPatch struct {
	Status *string  `json:"status"`
	Title  *string  `json:"title"`
	Kind   *string  `json:"kind"`
	Amount *float64 `json:"amount"`
}

func (p DocumentPatch) fields() map[string]any {
	fields := map[string]any{}
	if p.Status != nil {
		fields["status"] = *p.Status
	}
	if p.Title != nil {
		fields["title"] = *p.Title
	}
	if p.Kind != nil {
		fields["kind"] = *p.Kind
	}
	if p.Amount != nil {
		fields["amount"] = *p.Amount
	}
	return fields
}

// CreateLead stores a lead and evaluates LEAD_CREATED
func (s *Service) CreateLead(ctx context.Context, sess *session.Session, in LeadInput) (*model.Lead, []model.WorkflowExecution, error) {
	if err := session.Require(sess, ""); err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(in.ClientName) == "" {
		return nil, nil, apperr.Validation("client_name is required")
	}

	lead := &model.Lead{
		TenantID:     sess.TenantID,
		ClientName:   in.ClientName,
		Email:        in.Email,
		MobileNumber: in.MobileNumber,
		Company:      in.Company,
		Source:       in.Source,
		Status:       in.Status,
		Amount:       in.Amount,
		Notes:        in.Notes,
		CreatedBy:    sess.UserID,
	}
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.CreateLead(ctx, lead); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, audit.Entry{
			TenantID:   lead.TenantID,
			ActorID:    sess.UserID,
			ActionType: model.AuditLeadCreated,
			EntityType: model.EntityLead,
			EntityID:   lead.ID,
			After:      lead.Snapshot(),
		})
	})
	if err != nil {
		return nil, nil, err
	}

	executions := s.emit(ctx, sess, model.EntityLead, lead.ID, nil, []string{model.EventCreated})
	return s.reloadLead(ctx, sess, lead), executions, nil
}

// UpdateLead applies patch and evaluates LEAD_UPDATED, followed by
// LEAD_STATUS_CHANGED when the status changed.
func (s *Service) UpdateLead(ctx context.Context, sess *session.Session, id uint, patch LeadPatch) (*model.Lead, []model.WorkflowExecution, error) {
	if err := session.Require(sess, ""); err != nil {
		return nil, nil, err
	}

	var before, after map[string]any
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		current, err := tx.GetLead(ctx, sess.TenantID, id)
		if err != nil {
			return err
		}
		before = current.Snapshot()
		if err := tx.UpdateEntityFields(ctx, sess.TenantID, model.EntityLead, id, patch.fields()); err != nil {
			return err
		}
		updated, err := tx.GetLead(ctx, sess.TenantID, id)
		if err != nil {
			return err
		}
		after = updated.Snapshot()
		return s.audit.Record(ctx, tx, audit.Entry{
			TenantID:   sess.TenantID,
			ActorID:    sess.UserID,
			ActionType: model.AuditLeadUpdated,
			EntityType: model.EntityLead,
			EntityID:   id,
			Before:     before,
			After:      after,
		})
	})
	if err != nil {
		return nil, nil, err
	}

	executions := s.emit(ctx, sess, model.EntityLead, id, nil, changeEvents(before, after))
	lead, err := s.store.GetLead(ctx, sess.TenantID, id)
	if err != nil {
		return nil, nil, err
	}
	return lead, executions, nil
}

// GetLead returns a lead of the session tenant
func (s *Service) GetLead(ctx context.Context, sess *session.Session, id uint) (*model.Lead, error) {
	if err := session.Require(sess, ""); err != nil {
		return nil, err
	}
	return s.store.GetLead(ctx, sess.TenantID, id)
}

// ListLeads returns one page of the session tenant's leads matching filter,
// with the total number of matches.
func (s *Service) ListLeads(ctx context.Context, sess *session.Session, filter repository.LeadFilter) ([]model.Lead, int64, error) {
	if err := session.Require(sess, ""); err != nil {
		return nil, 0, err
	}
	return s.store.ListLeads(ctx, sess.TenantID, filter)
}

// DeleteLead soft-deletes a lead and evaluates LEAD_DELETED against the last
// snapshot of the lead, since it can no longer be loaded.
func (s *Service) DeleteLead(ctx context.Context, sess *session.Session, id uint) ([]model.WorkflowExecution, error) {
	if err := session.Require(sess, ""); err != nil {
		return nil, err
	}

	var before map[string]any
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		lead, err := tx.GetLead(ctx, sess.TenantID, id)
		if err != nil {
			return err
		}
		before = lead.Snapshot()
		if err := tx.DeleteLead(ctx, sess.TenantID, id); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, audit.Entry{
			TenantID:   sess.TenantID,
			ActorID:    sess.UserID,
			ActionType: model.AuditLeadDeleted,
			EntityType: model.EntityLead,
			EntityID:   id,
			Before:     before,
		})
	})
	if err != nil {
		return nil, err
	}

	return s.emit(ctx, sess, model.EntityLead, id, before, []string{model.EventDeleted}), nil
}

// CreateDocument stores a document and evaluates DOCUMENT_CREATED
func (s *Service) CreateDocument(ctx context.Context, sess *session.Session, in DocumentInput) (*model.Document, []model.WorkflowExecution, error) {
	if err := session.Require(sess, ""); err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, nil, apperr.Validation("title is required")
	}

	doc := &model.Document{
		TenantID:  sess.TenantID,
		LeadID:    in.LeadID,
		Title:     in.Title,
		Kind:      in.Kind,
		Status:    in.Status,
		Amount:    in.Amount,
		CreatedBy: sess.UserID,
	}
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		if doc.LeadID != nil {
			if _, err := tx.GetLead(ctx, sess.TenantID, *doc.LeadID); err != nil {
				return err
			}
		}
		if err := tx.CreateDocument(ctx, doc); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, audit.Entry{
			TenantID:   doc.TenantID,
			ActorID:    sess.UserID,
			ActionType: model.AuditDocumentCreated,
			EntityType: model.EntityDocument,
			EntityID:   doc.ID,
			After:      doc.Snapshot(),
		})
	})
	if err != nil {
		return nil, nil, err
	}

	executions := s.emit(ctx, sess, model.EntityDocument, doc.ID, nil, []string{model.EventCreated})
	current, err := s.store.GetDocument(ctx, sess.TenantID, doc.ID)
	if err != nil {
		return doc, executions, nil
	}
	return current, executions, nil
}

// UpdateDocument applies patch and evaluates DOCUMENT_UPDATED, followed by
// DOCUMENT_STATUS_CHANGED when the status changed.
func (s *Service) UpdateDocument(ctx context.Context, sess *session.Session, id uint, patch DocumentPatch) (*model.Document, []model.WorkflowExecution, error) {
	if err := session.Require(sess, ""); err != nil {
		return nil, nil, err
	}

	var before, after map[string]any
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		current, err := tx.GetDocument(ctx, sess.TenantID, id)
		if err != nil {
			return err
		}
		before = current.Snapshot()
		if err := tx.UpdateEntityFields(ctx, sess.TenantID, model.EntityDocument, id, patch.fields()); err != nil {
			return err
		}
		updated, err := tx.GetDocument(ctx, sess.TenantID, id)
		if err != nil {
			return err
		}
		after = updated.Snapshot()
		return s.audit.Record(ctx, tx, audit.Entry{
			TenantID:   sess.TenantID,
			ActorID:    sess.UserID,
			ActionType: model.AuditDocumentUpdated,
			EntityType: model.EntityDocument,
			EntityID:   id,
			Before:     before,
			After:      after,
		})
	})
	if err != nil {
		return nil, nil, err
	}

	executions := s.emit(ctx, sess, model.EntityDocument, id, nil, changeEvents(before, after))
	doc, err := s.store.GetDocument(ctx, sess.TenantID, id)
	if err != nil {
		return nil, nil, err
	}
	return doc, executions, nil
}

// GetDocument returns a document of the session tenant
func (s *Service) GetDocument(ctx context.Context, sess *session.Session, id uint) (*model.Document, error) {
	if err := session.Require(sess, ""); err != nil {
		return nil, err
	}
	return s.store.GetDocument(ctx, sess.TenantID, id)
}

func changeEvents(before, after map[string]any) []string {
	events := []string{model.EventUpdated}
	if before["status"] != after["status"] {
		events = append(events, model.EventStatusChanged)
	}
	return events
}

// emit evaluates each event against snapshot, or against the current entity
// when snapshot is nil. The mutation has already committed, so evaluation
// problems are logged and not returned.
func (s *Service) emit(ctx context.Context, sess *session.Session, entityType string, id uint, snapshot map[string]any, events []string) []model.WorkflowExecution {
	// the request logger carries request, user and tenant ids
	log := logger.FromContext(ctx).Named("crm")
	var all []model.WorkflowExecution
	for _, event := range events {
		executions, err := s.engine.Evaluate(ctx, sess, workflow.Event{
			EntityType: entityType,
			EntityID:   id,
			EventType:  event,
			Snapshot:   snapshot,
		})
		if err != nil {
			log.Error("Workflow evaluation failed",
				zap.String("entity_type", entityType),
				zap.Uint("entity_id", id),
				zap.String("event", event),
				zap.Error(err))
			continue
		}
		all = append(all, executions...)
	}
	return all
}

func (s *Service) reloadLead(ctx context.Context, sess *session.Session, lead *model.Lead) *model.Lead {
	current, err := s.store.GetLead(ctx, sess.TenantID, lead.ID)
	if err != nil {
		return lead
	}
	return current
}
