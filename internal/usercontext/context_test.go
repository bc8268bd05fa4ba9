package usercontext

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserIDFromContext(t *testing.T) {
	_, ok := UserIDFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithUserID(context.Background(), "  u-1 ")
	userID, ok := UserIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "u-1", userID)

	_, ok = UserIDFromContext(WithUserID(context.Background(), "   "))
	assert.False(t, ok)
}

func TestIsAdmin(t *testing.T) {
	assert.False(t, IsAdmin(context.Background()))
	assert.True(t, IsAdmin(WithAdmin(context.Background(), true)))
}
