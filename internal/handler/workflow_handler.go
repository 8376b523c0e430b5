package handler

import (
	"net/http"

	"workflow-service/internal/session"
	"workflow-service/internal/workflow"
	"workflow-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ListWorkflows returns the workflows of the caller's tenant
func (h *Handler) ListWorkflows(c echo.Context) error {
	workflows, err := h.engine.ListWorkflows(c.Request().Context(), session.FromEcho(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, workflows)
}

// CreateWorkflow stores a new inactive workflow
func (h *Handler) CreateWorkflow(c echo.Context) error {
	log := logger.FromEcho(c)

	var req workflow.Definition
	if err := c.Bind(&req); err != nil {
		log.Warn("Failed to parse workflow request", zap.Error(err))
		return badRequest(c, "invalid workflow definition")
	}

	wf, err := h.engine.CreateWorkflow(c.Request().Context(), session.FromEcho(c), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, wf)
}

// GetWorkflow returns one workflow
func (h *Handler) GetWorkflow(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return respondError(c, err)
	}
	wf, err := h.engine.GetWorkflow(c.Request().Context(), session.FromEcho(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, wf)
}

// UpdateWorkflow replaces a workflow definition
func (h *Handler) UpdateWorkflow(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return respondError(c, err)
	}

	var req workflow.Definition
	if err := c.Bind(&req); err != nil {
		logger.FromEcho(c).Warn("Failed to parse workflow request", zap.Error(err))
		return badRequest(c, "invalid workflow definition")
	}

	wf, err := h.engine.UpdateWorkflow(c.Request().Context(), session.FromEcho(c), id, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, wf)
}

// ActivateWorkflow enables a workflow
func (h *Handler) ActivateWorkflow(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return respondError(c, err)
	}
	wf, err := h.engine.Activate(c.Request().Context(), session.FromEcho(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, wf)
}

// DeactivateWorkflow disables a workflow
func (h *Handler) DeactivateWorkflow(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return respondError(c, err)
	}
	wf, err := h.engine.Deactivate(c.Request().Context(), session.FromEcho(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, wf)
}

// ListExecutions returns the execution trail of a workflow
func (h *Handler) ListExecutions(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return respondError(c, err)
	}
	executions, err := h.engine.ListExecutions(c.Request().Context(), session.FromEcho(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, executions)
}

// GetExecution returns one execution
func (h *Handler) GetExecution(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return respondError(c, err)
	}
	exec, err := h.engine.GetExecution(c.Request().Context(), session.FromEcho(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, exec)
}
