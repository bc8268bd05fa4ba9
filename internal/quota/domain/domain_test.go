package domain

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	featuredomain "github.com/smallbiznis/featuregate/internal/feature/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodBoundaries(t *testing.T) {
	at := time.Date(2025, 12, 31, 23, 59, 59, 0, time.FixedZone("UTC-5", -5*3600))
	p := PeriodOf(at)
	assert.Equal(t, Period("2026-01"), p)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), p.ResetsAt())

	parsed, err := ParsePeriod("2025-02")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), parsed.Start())

	_, err = ParsePeriod("2025-13")
	assert.Error(t, err)
	assert.True(t, Period("garbage").ResetsAt().IsZero())
}

func TestNormalizeMetadata(t *testing.T) {
	md, err := NormalizeMetadata(nil)
	require.NoError(t, err)
	assert.Nil(t, md)

	md, err = NormalizeMetadata(map[string]any{
		" video_url ": "https://youtu.be/x",
		"count":       float64(3),
		"ratio":       0.5,
		"hd":          true,
		"note":        nil,
		"n":           json.Number("12"),
	})
	require.NoError(t, err)
	assert.Equal(t, "https://youtu.be/x", md["video_url"])
	assert.Equal(t, int64(3), md["count"])
	assert.Equal(t, 0.5, md["ratio"])
	assert.Equal(t, int64(12), md["n"])

	rejects := []map[string]any{
		{"nested": map[string]any{"a": 1}},
		{"list": []any{1, 2}},
		{"": "empty key"},
		{strings.Repeat("k", MaxMetadataKeyLength+1): 1},
		{"long": strings.Repeat("v", MaxMetadataStringLength+1)},
		{"nan": math.NaN()},
		{"a": 1, " a ": 2},
	}
	for _, raw := range rejects {
		_, err := NormalizeMetadata(raw)
		assert.ErrorIs(t, err, ErrInvalidMetadata, "%v", raw)
	}

	tooMany := map[string]any{}
	for i := 0; i <= MaxMetadataKeys; i++ {
		tooMany[strings.Repeat("k", i+1)] = i
	}
	_, err = NormalizeMetadata(tooMany)
	assert.ErrorIs(t, err, ErrInvalidMetadata)
}

func TestOutcomeUnknownMatchesStoreUnavailable(t *testing.T) {
	assert.True(t, errors.Is(ErrOutcomeUnknown, ErrStoreUnavailable))
	assert.False(t, errors.Is(ErrStoreUnavailable, ErrOutcomeUnknown))
}

func TestSnapshot(t *testing.T) {
	usage := Snapshot(featuredomain.EffectiveLimit{FeatureKey: "video_analysis", LimitValue: 0}, 7, "2025-03")
	assert.True(t, usage.IsUnlimited)
	assert.Equal(t, int64(7), usage.CurrentUsage)
	assert.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), usage.ResetsAt)
}
