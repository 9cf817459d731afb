package reqctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReqCtx_RoundTrips(t *testing.T) {
	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithTenantID(ctx, "tenant-a")
	ctx = WithUserID(ctx, "user-1")
	ctx = WithRoles(ctx, []string{"admin", "reviewer"})

	id, ok := RequestID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "req-1", id)

	tenant, ok := TenantID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "tenant-a", tenant)

	user, ok := UserID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "user-1", user)

	assert.True(t, HasRole(ctx, "admin"))
	assert.False(t, HasRole(ctx, "superuser"))
}

func TestReqCtx_EmptyContextHasNoValues(t *testing.T) {
	ctx := context.Background()
	_, ok := RequestID(ctx)
	assert.False(t, ok)
	assert.False(t, HasRole(ctx, "admin"))
}
