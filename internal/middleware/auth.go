package middleware

import (
	"net/http"
	"strings"

	"workflow-service/internal/session"
	"workflow-service/pkg/jwtutil"
	"workflow-service/pkg/logger"
	"workflow-service/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func unauthorized(c echo.Context, message string) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{
		"error": echo.Map{"code": "UNAUTHORIZED", "message": message},
	})
}

// AuthMiddleware validates the bearer token and stores the caller's session.
// Tokens without a tenant are rejected because every API route is tenant
// scoped.
func AuthMiddleware(jwtUtil *jwtutil.JWTUtil) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromEcho(c)

			// Get the Authorization header
			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				log.Warn("Missing Authorization header")
				prometheus.RecordAuthError("missing_token")
				return unauthorized(c, "missing authorization token")
			}

			// Check if it's a Bearer token
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				log.Warn("Invalid Authorization header format")
				prometheus.RecordAuthError("invalid_auth_format")
				return unauthorized(c, "invalid authorization format, expected Bearer token")
			}

			// Validate the token
			claims, err := jwtUtil.ValidateToken(parts[1])
			if err != nil {
				log.Warn("Invalid JWT token", zap.Error(err))
				prometheus.RecordAuthError("invalid_token")
				return unauthorized(c, "invalid or expired token")
			}

			if claims.TenantID == nil || *claims.TenantID == 0 {
				log.Warn("Token has no tenant context", zap.Uint("user_id", claims.UserID))
				prometheus.RecordAuthError("missing_tenant")
				return unauthorized(c, "tenant context required, select a tenant first")
			}

			sess := &session.Session{
				UserID:      claims.UserID,
				TenantID:    *claims.TenantID,
				Email:       claims.Email,
				Role:        claims.Role,
				Permissions: claims.Permissions,
			}
			session.SetEcho(c, sess)

			reqLog := log.With(zap.Uint("user_id", sess.UserID), zap.Uint("tenant_id", sess.TenantID))
			c.Set("logger", reqLog)
			c.SetRequest(c.Request().WithContext(logger.WithContext(c.Request().Context(), reqLog)))

			log.Debug("Request authenticated with tenant context",
				zap.Uint("tenant_id", sess.TenantID),
				zap.String("tenant_name", claims.TenantName),
				zap.String("role", sess.Role))

			return next(c)
		}
	}
}
