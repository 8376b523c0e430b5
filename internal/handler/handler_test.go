package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"workflow-service/internal/approval"
	"workflow-service/internal/audit"
	"workflow-service/internal/crm"
	"workflow-service/internal/handler"
	"workflow-service/internal/middleware"
	"workflow-service/internal/model"
	"workflow-service/internal/notification"
	"workflow-service/internal/repository"
	"workflow-service/internal/session"
	"workflow-service/internal/testutil"
	"workflow-service/internal/workflow"
	"workflow-service/pkg/config"
	"workflow-service/pkg/jwtutil"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) Send(ctx context.Context, msg notification.Message) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

type server struct {
	echo      *echo.Echo
	jwt       *jwtutil.JWTUtil
	store     *repository.Store
	transport *mockTransport
}

func newServer(t *testing.T) *server {
	t.Helper()
	db := testutil.NewDB(t)
	store := repository.New(db)
	log := zap.NewNop()
	writer := audit.NewWriter(store, log)
	transport := new(mockTransport)
	dispatcher := notification.NewDispatcher(store, transport, "crm@example.com", config.EmailConfig{
		SendTimeout:      time.Second,
		MaxAttempts:      3,
		RetryBatchSize:   10,
		RetryConcurrency: 2,
	}, log)
	engine := workflow.NewEngine(store, writer, dispatcher, log)
	approvals := approval.NewHandler(store, writer, engine, log)
	crmService := crm.NewService(store, writer, engine)

	jwt := jwtutil.NewJWTUtil(&jwtutil.JWTConfig{SigningKey: "test-signing-key", ExpirationHours: 1})

	e := echo.New()
	h := handler.New(db, engine, approvals, dispatcher, writer, crmService)
	e.GET("/health", h.HealthCheck)
	h.Register(e.Group("/api/v1", middleware.AuthMiddleware(jwt)))

	return &server{echo: e, jwt: jwt, store: store, transport: transport}
}

func (s *server) token(t *testing.T, userID uint, role string, perms ...string) string {
	t.Helper()
	tenantID := uint(1)
	token, err := s.jwt.GenerateToken(fmt.Sprintf("user%d@acme.test", userID), userID, &tenantID, "Acme", role, perms)
	require.NoError(t, err)
	return token
}

func (s *server) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode[map[string]map[string]any](t, rec)
	code, _ := body["error"]["code"].(string)
	return code
}

func TestHealthCheck(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "healthy", body["status"])
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/workflows", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, rec))

	rec = s.do(t, http.MethodGet, "/api/v1/workflows", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWorkflowRunsOnLeadCreation(t *testing.T) {
	s := newServer(t)
	owner := s.token(t, 1, "owner")

	rec := s.do(t, http.MethodPost, "/api/v1/workflows", owner, map[string]any{
		"name":         "Verify small leads",
		"trigger_type": "LEAD_CREATED",
		"conditions":   []map[string]any{{"field": "amount", "operator": "lt", "value": 1000}},
		"actions":      []map[string]any{{"type": "UPDATE_FIELD", "field": "status", "value": "VERIFIED"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	wf := decode[model.Workflow](t, rec)
	assert.False(t, wf.IsActive)

	rec = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/workflows/%d/activate", wf.ID), owner, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[model.Workflow](t, rec).IsActive)

	rec = s.do(t, http.MethodPost, "/api/v1/leads", owner, map[string]any{
		"client_name": "Acme",
		"email":       "buyer@acme.test",
		"amount":      500,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[struct {
		Lead       model.Lead                `json:"lead"`
		Executions []model.WorkflowExecution `json:"executions"`
	}](t, rec)
	require.Len(t, created.Executions, 1)
	assert.Equal(t, model.ExecutionCompleted, created.Executions[0].Status)

	rec = s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/leads/%d", created.Lead.ID), owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.LeadStatusVerified, decode[model.Lead](t, rec).Status)

	rec = s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/workflows/%d/executions", wf.ID), owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.WorkflowExecution](t, rec), 1)

	rec = s.do(t, http.MethodGet, "/api/v1/audit-logs?action_type=WORKFLOW_COMPLETED", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	logs := decode[[]model.AuditLog](t, rec)
	require.Len(t, logs, 1)
	assert.Equal(t, model.EntityWorkflow, logs[0].EntityType)
	assert.Equal(t, wf.ID, logs[0].EntityID)
}

func TestWorkflowManagementRequiresPermission(t *testing.T) {
	s := newServer(t)
	rep := s.token(t, 3, "sales")

	rec := s.do(t, http.MethodPost, "/api/v1/workflows", rep, map[string]any{
		"name":         "Not allowed",
		"trigger_type": "LEAD_CREATED",
		"actions":      []map[string]any{{"type": "LOG_AUDIT", "action_type": "NOTE"}},
	})

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "PERMISSION_DENIED", errorCode(t, rec))
}

func TestInvalidWorkflowDefinition(t *testing.T) {
	s := newServer(t)
	manager := s.token(t, 2, "manager", session.PermWorkflowsManage)

	tests := []struct {
		name string
		body map[string]any
	}{
		{
			name: "unknown action type",
			body: map[string]any{
				"name":         "Bad action",
				"trigger_type": "LEAD_CREATED",
				"actions":      []map[string]any{{"type": "DELETE_EVERYTHING"}},
			},
		},
		{
			name: "missing name",
			body: map[string]any{
				"trigger_type": "LEAD_CREATED",
				"actions":      []map[string]any{{"type": "LOG_AUDIT", "action_type": "NOTE"}},
			},
		},
		{
			name: "unknown trigger",
			body: map[string]any{
				"name":         "Bad trigger",
				"trigger_type": "INVOICE_PAID",
				"actions":      []map[string]any{{"type": "LOG_AUDIT", "action_type": "NOTE"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v1/workflows", manager, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, "VALIDATION", errorCode(t, rec))
		})
	}
}

func TestLookupErrors(t *testing.T) {
	s := newServer(t)
	owner := s.token(t, 1, "owner")

	rec := s.do(t, http.MethodGet, "/api/v1/workflows/999", owner, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, rec))

	rec = s.do(t, http.MethodGet, "/api/v1/workflows/abc", owner, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/audit-logs?entity_id=x", owner, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLeadFromAnotherTenantIsHidden(t *testing.T) {
	s := newServer(t)
	owner := s.token(t, 1, "owner")

	foreign := &model.Lead{TenantID: 2, ClientName: "Other"}
	require.NoError(t, s.store.CreateLead(context.Background(), foreign))

	rec := s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/leads/%d", foreign.ID), owner, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApprovalGateResumesOverHTTP(t *testing.T) {
	s := newServer(t)
	owner := s.token(t, 1, "owner")
	manager := s.token(t, 2, "manager")
	rep := s.token(t, 3, "sales")

	rec := s.do(t, http.MethodPost, "/api/v1/workflows", owner, map[string]any{
		"name":         "Manager sign-off",
		"trigger_type": "LEAD_CREATED",
		"actions": []map[string]any{
			{"type": "CREATE_APPROVAL", "title": "Review lead", "assignee_role": "manager"},
			{"type": "UPDATE_FIELD", "field": "status", "value": "WON"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	wf := decode[model.Workflow](t, rec)
	rec = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/workflows/%d/activate", wf.ID), owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/leads", rep, map[string]any{"client_name": "Acme", "amount": 9000})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[struct {
		Lead       model.Lead                `json:"lead"`
		Executions []model.WorkflowExecution `json:"executions"`
	}](t, rec)
	require.Len(t, created.Executions, 1)
	exec := created.Executions[0]
	assert.Equal(t, model.ExecutionWaitingApproval, exec.Status)

	rec = s.do(t, http.MethodGet, "/api/v1/approvals/pending", rep, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]model.Approval](t, rec))

	rec = s.do(t, http.MethodGet, "/api/v1/approvals/pending", manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decode[[]model.Approval](t, rec)
	require.Len(t, pending, 1)

	path := fmt.Sprintf("/api/v1/approvals/%d/resolve", pending[0].ID)
	rec = s.do(t, http.MethodPost, path, rep, map[string]any{"decision": "APPROVED"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, path, manager, map[string]any{"decision": "APPROVED"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, model.ApprovalApproved, decode[model.Approval](t, rec).Status)

	rec = s.do(t, http.MethodPost, path, manager, map[string]any{"decision": "REJECTED"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_STATE", errorCode(t, rec))

	rec = s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/executions/%d", exec.ID), owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.ExecutionCompleted, decode[model.WorkflowExecution](t, rec).Status)

	rec = s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/leads/%d", created.Lead.ID), owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.LeadStatusWon, decode[model.Lead](t, rec).Status)
}

func TestDirectApprovalRequest(t *testing.T) {
	s := newServer(t)
	owner := s.token(t, 1, "owner")

	lead := &model.Lead{TenantID: 1, ClientName: "Acme"}
	require.NoError(t, s.store.CreateLead(context.Background(), lead))

	rec := s.do(t, http.MethodPost, "/api/v1/approvals", owner, map[string]any{
		"entity_type":   model.EntityLead,
		"entity_id":     lead.ID,
		"title":         "Discount approval",
		"assignee_role": "manager",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	a := decode[model.Approval](t, rec)
	assert.Equal(t, model.ApprovalPending, a.Status)

	rec = s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/approvals/%d", a.ID), owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Discount approval", decode[model.Approval](t, rec).Title)
}

func TestSendEmail(t *testing.T) {
	s := newServer(t)
	sender := s.token(t, 4, "marketing", session.PermEmailsSend)

	t.Run("delivered", func(t *testing.T) {
		s.transport.On("Send", mock.Anything, mock.MatchedBy(func(msg notification.Message) bool {
			return msg.To == "ok@acme.test"
		})).Return("msg-1", nil).Once()

		rec := s.do(t, http.MethodPost, "/api/v1/emails/send", sender, map[string]any{
			"to": "ok@acme.test", "subject": "Hello", "html": "<p>Hi</p>",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		result := decode[notification.SendResult](t, rec)
		assert.True(t, result.Success)
		assert.Equal(t, "msg-1", result.MessageID)
	})

	t.Run("queued after transport failure", func(t *testing.T) {
		s.transport.On("Send", mock.Anything, mock.MatchedBy(func(msg notification.Message) bool {
			return msg.To == "down@acme.test"
		})).Return("", errors.New("connection refused")).Once()

		rec := s.do(t, http.MethodPost, "/api/v1/emails/send", sender, map[string]any{
			"to": "down@acme.test", "subject": "Hello", "html": "<p>Hi</p>",
		})
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
		result := decode[notification.SendResult](t, rec)
		assert.False(t, result.Success)
		assert.NotZero(t, result.ItemID)
	})

	t.Run("invalid recipient", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/v1/emails/send", sender, map[string]any{
			"to": "not an address", "subject": "Hello",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("queue failure is internal", func(t *testing.T) {
		other := newServer(t)
		require.NoError(t, other.store.DB().Migrator().DropTable(&model.EmailQueueItem{}))

		rec := other.do(t, http.MethodPost, "/api/v1/emails/send", other.token(t, 4, "marketing", session.PermEmailsSend), map[string]any{
			"to": "ok@acme.test", "subject": "Hello",
		})
		assert.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())
		assert.Equal(t, "INTERNAL", errorCode(t, rec))
		assert.NotContains(t, rec.Body.String(), "email_queue")
	})

	t.Run("permission required", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/v1/emails/send", s.token(t, 3, "sales"), map[string]any{
			"to": "ok@acme.test", "subject": "Hello",
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	s.transport.AssertExpectations(t)
}

func TestRetryEmailsReportsCounts(t *testing.T) {
	s := newServer(t)
	sender := s.token(t, 4, "marketing", session.PermEmailsSend)

	rec := s.do(t, http.MethodPost, "/api/v1/emails/retry", sender, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]int](t, rec)
	assert.Equal(t, 0, body["selected"])
	assert.NotContains(t, rec.Body.String(), "results")
}

func TestListLeadsFiltersAndPages(t *testing.T) {
	s := newServer(t)
	owner := s.token(t, 1, "owner")
	ctx := context.Background()

	for _, lead := range []*model.Lead{
		{TenantID: 1, ClientName: "Acme", Status: model.LeadStatusNew},
		{TenantID: 1, ClientName: "Globex", Status: model.LeadStatusContacted},
		{TenantID: 1, ClientName: "Initech", Status: model.LeadStatusContacted, Email: "bill@initech.test"},
		{TenantID: 2, ClientName: "Umbrella", Status: model.LeadStatusContacted},
	} {
		require.NoError(t, s.store.CreateLead(ctx, lead))
	}

	type page struct {
		Leads []model.Lead `json:"leads"`
		Total int64        `json:"total"`
		Page  int          `json:"page"`
		Limit int          `json:"limit"`
	}

	rec := s.do(t, http.MethodGet, "/api/v1/leads", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	all := decode[page](t, rec)
	assert.Equal(t, int64(3), all.Total)
	assert.Len(t, all.Leads, 3)
	assert.Equal(t, 1, all.Page)
	assert.Equal(t, repository.DefaultLeadLimit, all.Limit)

	rec = s.do(t, http.MethodGet, "/api/v1/leads?status=CONTACTED&limit=1&page=2", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	contacted := decode[page](t, rec)
	assert.Equal(t, int64(2), contacted.Total)
	require.Len(t, contacted.Leads, 1)
	assert.Equal(t, "Globex", contacted.Leads[0].ClientName)
	assert.Equal(t, 2, contacted.Page)

	rec = s.do(t, http.MethodGet, "/api/v1/leads?search=INITECH", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	found := decode[page](t, rec)
	require.Len(t, found.Leads, 1)
	assert.Equal(t, "Initech", found.Leads[0].ClientName)

	for _, query := range []string{"page=0", "page=x", "limit=-1"} {
		rec = s.do(t, http.MethodGet, "/api/v1/leads?"+query, owner, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestDeleteLeadRunsDeletedWorkflows(t *testing.T) {
	s := newServer(t)
	owner := s.token(t, 1, "owner")

	rec := s.do(t, http.MethodPost, "/api/v1/workflows", owner, map[string]any{
		"name":         "Reopen on delete",
		"trigger_type": "LEAD_DELETED",
		"actions":      []map[string]any{{"type": "UPDATE_FIELD", "field": "status", "value": "NEW"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/v1/workflows", owner, map[string]any{
		"name":         "Note large deletions",
		"trigger_type": "LEAD_DELETED",
		"conditions":   []map[string]any{{"field": "amount", "operator": "gte", "value": 1000}},
		"actions":      []map[string]any{{"type": "LOG_AUDIT", "action_type": "LARGE_LEAD_DELETED"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	wf := decode[model.Workflow](t, rec)
	rec = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/workflows/%d/activate", wf.ID), owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	lead := &model.Lead{TenantID: 1, ClientName: "Acme", Amount: 5000}
	require.NoError(t, s.store.CreateLead(context.Background(), lead))
	path := fmt.Sprintf("/api/v1/leads/%d", lead.ID)

	rec = s.do(t, http.MethodDelete, path, owner, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	deleted := decode[struct {
		Deleted    bool                      `json:"deleted"`
		Executions []model.WorkflowExecution `json:"executions"`
	}](t, rec)
	assert.True(t, deleted.Deleted)
	require.Len(t, deleted.Executions, 1)
	assert.Equal(t, model.ExecutionCompleted, deleted.Executions[0].Status)

	rec = s.do(t, http.MethodGet, path, owner, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodDelete, path, owner, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	for _, actionType := range []string{model.AuditLeadDeleted, "LARGE_LEAD_DELETED"} {
		rec = s.do(t, http.MethodGet, "/api/v1/audit-logs?action_type="+actionType, owner, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		logs := decode[[]model.AuditLog](t, rec)
		require.Len(t, logs, 1, actionType)
		assert.Equal(t, lead.ID, logs[0].EntityID)
	}
}
