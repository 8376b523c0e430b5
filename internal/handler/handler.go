package handler

import (
	"errors"
	"net/http"
	"strconv"

	"workflow-service/internal/apperr"
	"workflow-service/internal/approval"
	"workflow-service/internal/audit"
	"workflow-service/internal/crm"
	"workflow-service/internal/notification"
	"workflow-service/internal/workflow"
	"workflow-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handler holds the components behind the HTTP API
type Handler struct {
	db        *gorm.DB
	engine    *workflow.Engine
	approvals *approval.Handler
	emails    *notification.Dispatcher
	audit     *audit.Writer
	crm       *crm.Service
}

// New creates a Handler
func New(db *gorm.DB, engine *workflow.Engine, approvals *approval.Handler, emails *notification.Dispatcher, w *audit.Writer, crmService *crm.Service) *Handler {
	return &Handler{
		db:        db,
		engine:    engine,
		approvals: approvals,
		emails:    emails,
		audit:     w,
		crm:       crmService,
	}
}

// Register mounts the tenant API on g, which must already carry the auth
// middleware.
func (h *Handler) Register(g *echo.Group) {
	workflows := g.Group("/workflows")
	workflows.GET("", h.ListWorkflows)
	workflows.POST("", h.CreateWorkflow)
	workflows.GET("/:id", h.GetWorkflow)
	workflows.PUT("/:id", h.UpdateWorkflow)
	workflows.POST("/:id/activate", h.ActivateWorkflow)
	workflows.POST("/:id/deactivate", h.DeactivateWorkflow)
	workflows.GET("/:id/executions", h.ListExecutions)
	g.GET("/executions/:id", h.GetExecution)

	leads := g.Group("/leads")
	leads.GET("", h.ListLeads)
	leads.POST("", h.CreateLead)
	leads.GET("/:id", h.GetLead)
	leads.PATCH("/:id", h.UpdateLead)
	leads.DELETE("/:id", h.DeleteLead)

	documents := g.Group("/documents")
	documents.POST("", h.CreateDocument)
	documents.GET("/:id", h.GetDocument)
	documents.PATCH("/:id", h.UpdateDocument)

	approvals := g.Group("/approvals")
	approvals.GET("/pending", h.GetPendingApprovals)
	approvals.POST("", h.RequestApproval)
	approvals.GET("/:id", h.GetApproval)
	approvals.POST("/:id/resolve", h.ResolveApproval)

	emails := g.Group("/emails")
	emails.POST("/send", h.SendEmail)
	emails.POST("/retry", h.RetryEmails)

	g.GET("/audit-logs", h.ListAuditLogs)
}

// errorBody builds the error envelope shared by every endpoint
func errorBody(code, message string) echo.Map {
	return echo.Map{"error": echo.Map{"code": code, "message": message}}
}

// respondError translates an application error into its HTTP response.
// Unclassified errors are logged and hidden behind a generic message.
func respondError(c echo.Context, err error) error {
	log := logger.FromEcho(c)
	kind := apperr.KindOf(err)

	message := err.Error()
	var appErr *apperr.Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		message = appErr.Message
	}

	if kind == apperr.KindInternal {
		log.Error("Request failed", zap.String("path", c.Path()), zap.Error(err))
		message = "internal error"
	} else {
		log.Warn("Request rejected", zap.String("path", c.Path()), zap.String("code", string(kind)), zap.Error(err))
	}
	return c.JSON(apperr.HTTPStatus(err), errorBody(string(kind), message))
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, errorBody(string(apperr.KindValidation), message))
}

// pathID parses the :id path parameter
func pathID(c echo.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, apperr.Validation("invalid id %q", c.Param("id"))
	}
	return uint(id), nil
}
