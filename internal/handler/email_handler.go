package handler

import (
	"net/http"
	"strconv"

	"workflow-service/internal/apperr"
	"workflow-service/internal/repository"
	"workflow-service/internal/session"
	"workflow-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// SendEmailRequest is the body of a transactional email
type SendEmailRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// SendEmail queues and delivers an email. A message that was queued but not
// delivered is answered with 202 since the retry job will pick it up. Invalid
// input is a 400; a queue or bookkeeping failure is a 500.
func (h *Handler) SendEmail(c echo.Context) error {
	log := logger.FromEcho(c)
	sess := session.FromEcho(c)
	if err := session.Require(sess, session.PermEmailsSend); err != nil {
		return respondError(c, err)
	}

	var req SendEmailRequest
	if err := c.Bind(&req); err != nil {
		log.Warn("Failed to parse email request", zap.Error(err))
		return badRequest(c, "invalid request")
	}

	result := h.emails.Send(c.Request().Context(), sess.TenantID, req.To, req.Subject, req.HTML)
	switch {
	case result.Success:
		return c.JSON(http.StatusOK, result)
	case result.Code == apperr.KindValidation:
		return badRequest(c, result.Error)
	case result.Code != "":
		log.Error("Email could not be handled",
			zap.Uint("email_id", result.ItemID),
			zap.String("code", string(result.Code)),
			zap.String("error", result.Error))
		return c.JSON(http.StatusInternalServerError, errorBody(string(apperr.KindInternal), "internal error"))
	}
	return c.JSON(http.StatusAccepted, result)
}

// RetryEmails runs one retry pass over failed emails
func (h *Handler) RetryEmails(c echo.Context) error {
	if err := session.Require(session.FromEcho(c), session.PermEmailsSend); err != nil {
		return respondError(c, err)
	}

	report := h.emails.RetryFailedEmails(c.Request().Context())
	return c.JSON(http.StatusOK, echo.Map{
		"selected": report.Selected,
		"sent":     report.Sent,
		"failed":   report.Failed,
	})
}

// ListAuditLogs returns the audit history of the caller's tenant
func (h *Handler) ListAuditLogs(c echo.Context) error {
	filter := repository.AuditFilter{
		EntityType: c.QueryParam("entity_type"),
		ActionType: c.QueryParam("action_type"),
	}
	if v := c.QueryParam("entity_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return badRequest(c, "invalid entity_id")
		}
		filter.EntityID = uint(id)
	}
	if v := c.QueryParam("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return badRequest(c, "invalid limit")
		}
		filter.Limit = limit
	}
	if v := c.QueryParam("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return badRequest(c, "invalid offset")
		}
		filter.Offset = offset
	}

	logs, err := h.audit.List(c.Request().Context(), session.FromEcho(c), filter)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, logs)
}
