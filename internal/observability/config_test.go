package observability

import (
	"testing"

	"github.com/smallbiznis/featuregate/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("OTEL_SAMPLING_RATIO", "7")

	cfg := LoadConfig(config.Config{AppName: "", Environment: "production"})
	assert.Equal(t, "featuregate", cfg.ServiceName)
	assert.False(t, cfg.OtelEnabled)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 0.1, cfg.OtelSamplingRatio)
	assert.False(t, cfg.Debug())
}

func TestConfigDebug(t *testing.T) {
	assert.True(t, Config{LogLevel: "DEBUG"}.Debug())
	assert.True(t, Config{Environment: "local"}.Debug())
	assert.False(t, Config{LogLevel: "warn", Environment: "staging"}.Debug())
}
