package handler

import (
	"net/http"
	"strconv"

	"workflow-service/internal/crm"
	"workflow-service/internal/repository"
	"workflow-service/internal/session"
	"workflow-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// CreateLead creates a lead and runs LEAD_CREATED workflows
func (h *Handler) CreateLead(c echo.Context) error {
	log := logger.FromEcho(c)

	var req crm.LeadInput
	if err := c.Bind(&req); err != nil {
		log.Warn("Failed to parse lead request", zap.Error(err))
		return badRequest(c, "invalid request")
	}

	lead, executions, err := h.crm.CreateLead(c.Request().Context(), session.FromEcho(c), req)
	if err != nil {
		return respondError(c, err)
	}

	log.Info("Lead created", zap.Uint("lead_id", lead.ID), zap.Int("executions", len(executions)))
	return c.JSON(http.StatusCreated, echo.Map{
		"lead":       lead,
		"executions": executions,
	})
}

// ListLeads returns one page of the caller's leads. status filters exactly,
// search matches client name, email or company.
func (h *Handler) ListLeads(c echo.Context) error {
	filter := repository.LeadFilter{
		Status: c.QueryParam("status"),
		Search: c.QueryParam("search"),
	}
	if v := c.QueryParam("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			return badRequest(c, "invalid page")
		}
		filter.Page = page
	}
	if v := c.QueryParam("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return badRequest(c, "invalid limit")
		}
		filter.Limit = limit
	}

	leads, total, err := h.crm.ListLeads(c.Request().Context(), session.FromEcho(c), filter)
	if err != nil {
		return respondError(c, err)
	}
	page, limit := filter.Bounds()
	return c.JSON(http.StatusOK, echo.Map{
		"leads": leads,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

// GetLead returns one lead
func (h *Handler) GetLead(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return respondError(c, err)
	}
	lead, err := h.crm.GetLead(c.Request().Context(), session.FromEcho(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, lead)
}

// UpdateLead patches a lead and runs the matching workflows
func (h *Handler) UpdateLead(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return respondError(c, err)
	}

	var req crm.LeadPatch
	if err := c.Bind(&req); err != nil {
		logger.FromEcho(c).Warn("Failed to parse lead update", zap.Error(err))
		return badRequest(c, "invalid request")
	}

	lead, executions, err := h.crm.UpdateLead(c.Request().Context(), session.FromEcho(c), id, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"lead":       lead,
		"executions": executions,
	})
}

// DeleteLead removes a lead and runs LEAD_DELETED workflows
func (h *Handler) DeleteLead(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return respondError(c, err)
	}

	executions, err := h.crm.DeleteLead(c.Request().Context(), session.FromEcho(c), id)
	if err != nil {
		return respondError(c, err)
	}

	logger.FromEcho(c).Info("Lead deleted", zap.Uint("lead_id", id), zap.Int("executions", len(executions)))
	return c.JSON(http.StatusOK, echo.Map{
		"deleted":    true,
		"executions": executions,
	})
}

// CreateDocument creates a document and runs DOCUMENT_CREATED workflows
func (h *Handler) CreateDocument(c echo.Context) error {
	var req crm.DocumentInput
	if err := c.Bind(&req); err != nil {
		logger.FromEcho(c).Warn("Failed to parse document request", zap.Error(err))
		return badRequest(c, "invalid request")
	}

	doc, executions, err := h.crm.CreateDocument(c.Request().Context(), session.FromEcho(c), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"document":   doc,
		"executions": executions,
	})
}

// GetDocument returns one document
func (h *Handler) GetDocument(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return respondError(c, err)
	}
	doc, err := h.crm.GetDocument(c.Request().Context(), session.FromEcho(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, doc)
}

// UpdateDocument patches a document and runs the matching workflows
func (h *Handler) UpdateDocument(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return respondError(c, err)
	}

	var req crm.DocumentPatch
	if err := c.Bind(&req); err != nil {
		logger.FromEcho(c).Warn("Failed to parse document update", zap.Error(err))
		return badRequest(c, "invalid request")
	}

	doc, executions, err := h.crm.UpdateDocument(c.Request().Context(), session.FromEcho(c), id, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"document":   doc,
		"executions": executions,
	})
}
