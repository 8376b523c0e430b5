// Package session carries the authenticated caller through the core components.
package session

import (
	"context"
	"slices"

	"workflow-service/internal/apperr"

	"github.com/labstack/echo/v4"
)

// Permissions understood by the core
const (
	PermWorkflowsManage = "workflows:manage"
	PermApprovalsAdmin  = "approvals:admin"
	PermApprovalsCreate = "approvals:create"
	PermEmailsSend      = "emails:send"
	PermAuditRead       = "audit:read"
)

// Session is the authenticated caller of an operation
type Session struct {
	UserID      uint
	TenantID    uint
	Email       string
	Role        string
	Permissions []string
}

type contextKey string

const sessionKey contextKey = "session"

// echoKey is the echo.Context key the auth middleware stores the session under
const echoKey = "session"

// Has reports whether the session holds a permission. The tenant owner role
// implicitly holds every permission.
func (s *Session) Has(permission string) bool {
	if s == nil {
		return false
	}
	if s.Role == "owner" {
		return true
	}
	return slices.Contains(s.Permissions, permission)
}

// Require returns Unauthorized for a missing session and PermissionDenied
// when the permission is absent. An empty permission only checks presence.
func Require(s *Session, permission string) error {
	if s == nil || s.UserID == 0 || s.TenantID == 0 {
		return apperr.Unauthorized("authenticated session required")
	}
	if permission != "" && !s.Has(permission) {
		return apperr.PermissionDenied("missing permission %q", permission)
	}
	return nil
}

// WithContext stores the session in ctx
func WithContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// FromContext returns the session stored in ctx or nil
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey).(*Session)
	return s
}

// SetEcho stores the session on the echo context and on the request context
func SetEcho(c echo.Context, s *Session) {
	c.Set(echoKey, s)
	c.SetRequest(c.Request().WithContext(WithContext(c.Request().Context(), s)))
}

// FromEcho returns the session set by the auth middleware or nil
func FromEcho(c echo.Context) *Session {
	s, _ := c.Get(echoKey).(*Session)
	return s
}
