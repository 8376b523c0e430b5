package session

import (
	"context"
	"testing"

	"workflow-service/internal/apperr"

	"github.com/stretchr/testify/assert"
)

func TestRequire(t *testing.T) {
	assert.ErrorIs(t, Require(nil, ""), apperr.ErrUnauthorized)
	assert.ErrorIs(t, Require(&Session{UserID: 1}, ""), apperr.ErrUnauthorized)

	member := &Session{UserID: 1, TenantID: 2, Role: "member", Permissions: []string{PermEmailsSend}}
	assert.NoError(t, Require(member, ""))
	assert.NoError(t, Require(member, PermEmailsSend))
	assert.ErrorIs(t, Require(member, PermWorkflowsManage), apperr.ErrPermissionDenied)

	owner := &Session{UserID: 1, TenantID: 2, Role: "owner"}
	assert.NoError(t, Require(owner, PermWorkflowsManage))
}

func TestContextRoundTrip(t *testing.T) {
	s := &Session{UserID: 3, TenantID: 4}
	ctx := WithContext(context.Background(), s)

	assert.Same(t, s, FromContext(ctx))
	assert.Nil(t, FromContext(context.Background()))
}
