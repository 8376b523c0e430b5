package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"workflow-service/internal/session"
	"workflow-service/pkg/jwtutil"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJWT() *jwtutil.JWTUtil {
	return jwtutil.NewJWTUtil(&jwtutil.JWTConfig{SigningKey: "middleware-test-key", ExpirationHours: 1})
}

func serve(t *testing.T, mw echo.MiddlewareFunc, authorization string) (*httptest.ResponseRecorder, *session.Session) {
	t.Helper()
	e := echo.New()
	var got *session.Session
	e.GET("/", func(c echo.Context) error {
		got = session.FromEcho(c)
		return c.NoContent(http.StatusNoContent)
	}, mw)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authorization != "" {
		req.Header.Set(echo.HeaderAuthorization, authorization)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec, got
}

func TestAuthMiddlewareRejects(t *testing.T) {
	jwt := newJWT()

	noTenant, err := jwt.GenerateToken("a@acme.test", 1, nil, "", "owner", nil)
	require.NoError(t, err)

	tenantID := uint(1)
	foreign, err := jwtutil.NewJWTUtil(&jwtutil.JWTConfig{SigningKey: "other-key", ExpirationHours: 1}).
		GenerateToken("a@acme.test", 1, &tenantID, "Acme", "owner", nil)
	require.NoError(t, err)

	tests := []struct {
		name          string
		authorization string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"malformed token", "Bearer abc.def"},
		{"foreign signature", "Bearer " + foreign},
		{"no tenant", "Bearer " + noTenant},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, sess := serve(t, AuthMiddleware(jwt), tt.authorization)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), `"UNAUTHORIZED"`)
			assert.Nil(t, sess)
		})
	}
}

func TestAuthMiddlewareStoresSession(t *testing.T) {
	jwt := newJWT()
	tenantID := uint(7)
	token, err := jwt.GenerateToken("rep@acme.test", 42, &tenantID, "Acme", "sales", []string{session.PermApprovalsCreate})
	require.NoError(t, err)

	rec, sess := serve(t, AuthMiddleware(jwt), "Bearer "+token)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, sess)
	assert.Equal(t, uint(42), sess.UserID)
	assert.Equal(t, uint(7), sess.TenantID)
	assert.Equal(t, "sales", sess.Role)
	assert.True(t, sess.Has(session.PermApprovalsCreate))
	assert.False(t, sess.Has(session.PermWorkflowsManage))
}

func TestRequestIDMiddleware(t *testing.T) {
	e := echo.New()
	e.GET("/", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}, RequestIDMiddleware)

	t.Run("generates an id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	})

	t.Run("keeps the caller's id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(echo.HeaderXRequestID, "req-123")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, "req-123", rec.Header().Get(echo.HeaderXRequestID))
	})
}
