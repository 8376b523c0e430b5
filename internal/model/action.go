package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ActionKind identifies an action variant
type ActionKind string

const (
	ActionUpdateField    ActionKind = "UPDATE_FIELD"
	ActionSendEmail      ActionKind = "SEND_EMAIL"
	ActionCreateApproval ActionKind = "CREATE_APPROVAL"
	ActionLogAudit       ActionKind = "LOG_AUDIT"
)

// Action is one step of a workflow. The set of implementations is closed:
// UpdateFieldAction, SendEmailAction, CreateApprovalAction and LogAuditAction.
type Action interface {
	Kind() ActionKind
	Validate() error
}

// UpdateFieldAction sets a field on the triggering entity
type UpdateFieldAction struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// SendEmailAction queues an email. To, Subject and Body are text/template
// strings rendered against the entity snapshot.
type SendEmailAction struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// CreateApprovalAction opens an approval gate and suspends the execution
type CreateApprovalAction struct {
	Title        string `json:"title"`
	AssigneeID   *uint  `json:"assignee_id,omitempty"`
	AssigneeRole string `json:"assignee_role,omitempty"`
}

// LogAuditAction appends a custom audit entry for the entity
type LogAuditAction struct {
	ActionType string `json:"action_type"`
	Note       string `json:"note,omitempty"`
}

func (UpdateFieldAction) Kind() ActionKind    { return ActionUpdateField }
func (SendEmailAction) Kind() ActionKind      { return ActionSendEmail }
func (CreateApprovalAction) Kind() ActionKind { return ActionCreateApproval }
func (LogAuditAction) Kind() ActionKind       { return ActionLogAudit }

func (a UpdateFieldAction) Validate() error {
	if a.Field == "" {
		return errors.New("UPDATE_FIELD requires field")
	}
	return nil
}

func (a SendEmailAction) Validate() error {
	if a.To == "" || a.Subject == "" {
		return errors.New("SEND_EMAIL requires to and subject")
	}
	return nil
}

func (a CreateApprovalAction) Validate() error {
	if a.AssigneeID == nil && a.AssigneeRole == "" {
		return errors.New("CREATE_APPROVAL requires assignee_id or assignee_role")
	}
	return nil
}

func (a LogAuditAction) Validate() error {
	if a.ActionType == "" {
		return errors.New("LOG_AUDIT requires action_type")
	}
	return nil
}

// ActionList is the ordered action list of a workflow. It is stored and
// transported as a JSON array of objects discriminated by "type".
type ActionList []Action

type actionHeader struct {
	Type ActionKind `json:"type"`
}

// MarshalJSON writes each action flattened with its "type" discriminator
func (l ActionList) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(l))
	for i, a := range l {
		var (
			raw []byte
			err error
		)
		switch v := a.(type) {
		case UpdateFieldAction:
			raw, err = json.Marshal(struct {
				actionHeader
				UpdateFieldAction
			}{actionHeader{v.Kind()}, v})
		case SendEmailAction:
			raw, err = json.Marshal(struct {
				actionHeader
				SendEmailAction
			}{actionHeader{v.Kind()}, v})
		case CreateApprovalAction:
			raw, err = json.Marshal(struct {
				actionHeader
				CreateApprovalAction
			}{actionHeader{v.Kind()}, v})
		case LogAuditAction:
			raw, err = json.Marshal(struct {
				actionHeader
				LogAuditAction
			}{actionHeader{v.Kind()}, v})
		default:
			return nil, fmt.Errorf("action %d: unsupported action %T", i, a)
		}
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		out = append(out, raw)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the array, rejecting unknown action types
func (l *ActionList) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	list := make(ActionList, 0, len(raws))
	for i, raw := range raws {
		a, err := decodeAction(raw)
		if err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
		list = append(list, a)
	}
	*l = list
	return nil
}

func decodeAction(raw json.RawMessage) (Action, error) {
	var h actionHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, err
	}
	switch h.Type {
	case ActionUpdateField:
		var a UpdateFieldAction
		err := json.Unmarshal(raw, &a)
		return a, err
	case ActionSendEmail:
		var a SendEmailAction
		err := json.Unmarshal(raw, &a)
		return a, err
	case ActionCreateApproval:
		var a CreateApprovalAction
		err := json.Unmarshal(raw, &a)
		return a, err
	case ActionLogAudit:
		var a LogAuditAction
		err := json.Unmarshal(raw, &a)
		return a, err
	case "":
		return nil, errors.New("missing action type")
	}
	return nil, fmt.Errorf("unknown action type %q", h.Type)
}
