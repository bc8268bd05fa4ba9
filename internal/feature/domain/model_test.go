package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	feature := Feature{Key: "video_analysis", DefaultValue: 10, Active: true}

	limit := Resolve(feature, nil)
	assert.Equal(t, int64(10), limit.LimitValue)
	assert.False(t, limit.IsUnlimited())
	assert.False(t, limit.Overridden)

	limit = Resolve(feature, &LimitOverride{LimitValue: 3})
	assert.Equal(t, int64(3), limit.LimitValue)
	assert.True(t, limit.Overridden)

	limit = Resolve(Feature{Key: "free", DefaultValue: 0, Active: true}, nil)
	assert.True(t, limit.IsUnlimited())

	limit = Resolve(feature, &LimitOverride{LimitValue: 10, Unlimited: true})
	assert.True(t, limit.IsUnlimited())
}

func TestNormalizeKey(t *testing.T) {
	key, err := NormalizeKey("  Thumbnail_Download ")
	assert.NoError(t, err)
	assert.Equal(t, "thumbnail_download", key)

	for _, raw := range []string{"", "-leading", "has space", "emoji🙂", strings.Repeat("a", MaxKeyLength+1)} {
		_, err := NormalizeKey(raw)
		assert.ErrorIs(t, err, ErrInvalidKey, raw)
	}
}

func TestKeyFromName(t *testing.T) {
	assert.Equal(t, "video-analysis", KeyFromName("  Video Analysis "))
	assert.Equal(t, "", KeyFromName("!!!"))

	long := KeyFromName(strings.Repeat("ab ", 40))
	assert.LessOrEqual(t, len(long), MaxKeyLength)
	_, err := NormalizeKey(long)
	assert.NoError(t, err)
}

func TestNormalizeUserID(t *testing.T) {
	userID, err := NormalizeUserID(" u-1 ")
	assert.NoError(t, err)
	assert.Equal(t, "u-1", userID)

	_, err = NormalizeUserID(strings.Repeat("x", MaxUserIDLength+1))
	assert.ErrorIs(t, err, ErrInvalidUser)
}
