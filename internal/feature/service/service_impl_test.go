package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/featuregate/internal/cache"
	"github.com/smallbiznis/featuregate/internal/clock"
	"github.com/smallbiznis/featuregate/internal/config"
	"github.com/smallbiznis/featuregate/internal/feature/domain"
	"github.com/smallbiznis/featuregate/internal/feature/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupFeatureService(t *testing.T) (domain.Service, *gorm.DB, cache.LimitCache) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&domain.Feature{}, &domain.LimitOverride{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	limits := cache.NewLimitCache()
	svc := New(Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Repo:   repository.Provide(),
		Clock:  clock.NewFakeClock(time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)),
		Limits: limits,
	})
	return svc, db, limits
}

func TestCreateAndGet(t *testing.T) {
	svc, _, _ := setupFeatureService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, domain.CreateRequest{Key: " Video_Analysis ", Name: "Video analysis", DefaultValue: 10})
	require.NoError(t, err)
	assert.Equal(t, "video_analysis", created.Key)
	assert.True(t, created.Active)

	got, err := svc.Get(ctx, "video_analysis")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, int64(10), got.DefaultValue)

	_, err = svc.Create(ctx, domain.CreateRequest{Key: "video_analysis", Name: "dup"})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := setupFeatureService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  domain.CreateRequest
		want error
	}{
		{name: "blank key and name", req: domain.CreateRequest{Key: " "}, want: domain.ErrInvalidKey},
		{name: "name without key chars", req: domain.CreateRequest{Name: "!!!"}, want: domain.ErrInvalidKey},
		{name: "bad chars", req: domain.CreateRequest{Key: "video analysis", Name: "x"}, want: domain.ErrInvalidKey},
		{name: "blank name", req: domain.CreateRequest{Key: "ok"}, want: domain.ErrInvalidName},
		{name: "negative limit", req: domain.CreateRequest{Key: "ok", Name: "x", DefaultValue: -1}, want: domain.ErrInvalidLimit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCreateDerivesKeyFromName(t *testing.T) {
	svc, _, _ := setupFeatureService(t)

	created, err := svc.Create(context.Background(), domain.CreateRequest{Name: "Video Analysis", DefaultValue: 3})
	require.NoError(t, err)
	assert.Equal(t, "video-analysis", created.Key)
}

func TestUpdateAndArchive(t *testing.T) {
	svc, _, _ := setupFeatureService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreateRequest{Key: "tag_extraction", Name: "Tags", DefaultValue: 10})
	require.NoError(t, err)

	limit := int64(25)
	updated, err := svc.Update(ctx, domain.UpdateRequest{Key: "tag_extraction", DefaultValue: &limit})
	require.NoError(t, err)
	assert.Equal(t, int64(25), updated.DefaultValue)

	archived, err := svc.Archive(ctx, "tag_extraction")
	require.NoError(t, err)
	assert.False(t, archived.Active)

	active := true
	list, err := svc.List(ctx, domain.ListRequest{Active: &active})
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = svc.Archive(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResolveLimitPrefersOverride(t *testing.T) {
	svc, _, limits := setupFeatureService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreateRequest{Key: "video_download", Name: "Downloads", DefaultValue: 5})
	require.NoError(t, err)

	limit, err := svc.ResolveLimit(ctx, "user-1", "video_download")
	require.NoError(t, err)
	assert.Equal(t, int64(5), limit.LimitValue)
	assert.False(t, limit.Overridden)

	_, cached := limits.Get("user-1", "video_download")
	assert.True(t, cached)

	_, err = svc.SetOverride(ctx, domain.SetOverrideRequest{UserID: "user-1", FeatureKey: "video_download", LimitValue: 50})
	require.NoError(t, err)

	limit, err = svc.ResolveLimit(ctx, "user-1", "video_download")
	require.NoError(t, err)
	assert.Equal(t, int64(50), limit.LimitValue)
	assert.True(t, limit.Overridden)

	_, err = svc.SetOverride(ctx, domain.SetOverrideRequest{UserID: "user-1", FeatureKey: "video_download", LimitValue: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidLimit)
	_, err = svc.SetOverride(ctx, domain.SetOverrideRequest{UserID: "user-1", FeatureKey: "video_download", LimitValue: -3, Unlimited: true})
	assert.ErrorIs(t, err, domain.ErrInvalidLimit)
	limit, err = svc.ResolveLimit(ctx, "user-1", "video_download")
	require.NoError(t, err)
	assert.Equal(t, int64(50), limit.LimitValue)

	_, err = svc.SetOverride(ctx, domain.SetOverrideRequest{UserID: "user-1", FeatureKey: "video_download", Unlimited: true})
	require.NoError(t, err)
	limit, err = svc.ResolveLimit(ctx, "user-1", "video_download")
	require.NoError(t, err)
	assert.True(t, limit.IsUnlimited())

	other, err := svc.ResolveLimit(ctx, "user-2", "video_download")
	require.NoError(t, err)
	assert.Equal(t, int64(5), other.LimitValue)

	overrides, err := svc.ListOverrides(ctx, "video_download")
	require.NoError(t, err)
	assert.Len(t, overrides, 1)

	require.NoError(t, svc.DeleteOverride(ctx, "user-1", "video_download"))
	assert.ErrorIs(t, svc.DeleteOverride(ctx, "user-1", "video_download"), domain.ErrOverrideNotFound)

	limit, err = svc.ResolveLimit(ctx, "user-1", "video_download")
	require.NoError(t, err)
	assert.Equal(t, int64(5), limit.LimitValue)

	_, err = svc.ResolveLimit(ctx, "user-1", "unknown")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.ResolveLimit(ctx, " ", "video_download")
	assert.ErrorIs(t, err, domain.ErrInvalidUser)
}

func TestSyncCatalog(t *testing.T) {
	svc, _, _ := setupFeatureService(t)
	ctx := context.Background()

	result, err := svc.SyncCatalog(ctx, config.DefaultCatalog())
	require.NoError(t, err)
	assert.Equal(t, domain.SyncResult{Created: 4}, result)

	result, err = svc.SyncCatalog(ctx, config.DefaultCatalog())
	require.NoError(t, err)
	assert.Equal(t, domain.SyncResult{Unchanged: 4}, result)

	inactive := false
	entries := config.DefaultCatalog()
	entries[0].DefaultValue = 99
	entries[1].Active = &inactive
	result, err = svc.SyncCatalog(ctx, entries)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncResult{Updated: 2, Unchanged: 2}, result)

	got, err := svc.Get(ctx, entries[0].Key)
	require.NoError(t, err)
	assert.Equal(t, int64(99), got.DefaultValue)

	got, err = svc.Get(ctx, entries[1].Key)
	require.NoError(t, err)
	assert.False(t, got.Active)
}
