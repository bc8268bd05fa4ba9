package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/smallbiznis/featuregate/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewSkipsWhenNotRequired(t *testing.T) {
	assert.Nil(t, New(nil, config.Config{}, zap.NewNop()))
}

func TestNewConnects(t *testing.T) {
	mr := miniredis.RunT(t)
	client := New(nil, config.Config{
		Redis: config.RedisConfig{Enabled: true, Addr: mr.Addr()},
	}, zap.NewNop())
	require.NotNil(t, client)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}
