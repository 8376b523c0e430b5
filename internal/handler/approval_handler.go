package handler

import (
	"net/http"

	"workflow-service/internal/approval"
	"workflow-service/internal/model"
	"workflow-service/internal/session"
	"workflow-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ResolveRequest is the body of an approval decision
type ResolveRequest struct {
	Decision model.ApprovalStatus `json:"decision"`
	Reason   string               `json:"reason"`
}

// GetPendingApprovals lists the approvals waiting on the caller
func (h *Handler) GetPendingApprovals(c echo.Context) error {
	approvals, err := h.approvals.GetPendingApprovals(c.Request().Context(), session.FromEcho(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, approvals)
}

// GetApproval returns one approval
func (h *Handler) GetApproval(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return respondError(c, err)
	}
	a, err := h.approvals.Get(c.Request().Context(), session.FromEcho(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

// RequestApproval opens a direct approval for a lead or document
func (h *Handler) RequestApproval(c echo.Context) error {
	var req approval.RequestInput
	if err := c.Bind(&req); err != nil {
		logger.FromEcho(c).Warn("Failed to parse approval request", zap.Error(err))
		return badRequest(c, "invalid request")
	}

	a, err := h.approvals.Request(c.Request().Context(), session.FromEcho(c), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, a)
}

// ResolveApproval approves or rejects a pending approval
func (h *Handler) ResolveApproval(c echo.Context) error {
	log := logger.FromEcho(c)

	id, err := pathID(c)
	if err != nil {
		return respondError(c, err)
	}

	var req ResolveRequest
	if err := c.Bind(&req); err != nil {
		log.Warn("Failed to parse approval decision", zap.Error(err))
		return badRequest(c, "invalid request")
	}

	a, err := h.approvals.Resolve(c.Request().Context(), session.FromEcho(c), id, req.Decision, req.Reason)
	if err != nil {
		return respondError(c, err)
	}

	log.Info("Approval resolved", zap.Uint("approval_id", a.ID), zap.String("decision", string(a.Status)))
	return c.JSON(http.StatusOK, a)
}
