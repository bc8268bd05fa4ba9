//go:build integration

package gormstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/featuregate/internal/migration"
	"github.com/smallbiznis/featuregate/internal/quota/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func startPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("featuregate"),
		tcpostgres.WithUsername("featuregate"),
		tcpostgres.WithPassword("featuregate"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return openMigrated(t, postgres.Open(dsn))
}

func startMySQL(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcmysql.Run(ctx,
		"mysql:8.0",
		tcmysql.WithDatabase("featuregate"),
		tcmysql.WithUsername("featuregate"),
		tcmysql.WithPassword("featuregate"),
	)
	require.NoError(t, err, "start mysql container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "charset=utf8mb4", "parseTime=True", "loc=UTC")
	require.NoError(t, err)
	return openMigrated(t, mysql.Open(dsn))
}

func openMigrated(t *testing.T, dialector gorm.Dialector) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(16)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migration.Run(db))
	return db
}

func TestStoreOnPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("container test")
	}
	runStoreSuite(t, newFixture(t, startPostgres(t)))
}

func TestStoreOnMySQL(t *testing.T) {
	if testing.Short() {
		t.Skip("container test")
	}
	runStoreSuite(t, newFixture(t, startMySQL(t)))
}

func runStoreSuite(t *testing.T, f fixture) {
	t.Run("exhausted limit denies without mutation", func(t *testing.T) {
		f.seedFeature(t, "exhausted", 2)
		f.seedUsage(t, "user-1", "exhausted", 2)

		result := f.record(t, "user-1", "exhausted")
		assert.False(t, result.Granted())
		assert.Equal(t, int64(2), result.Usage.CurrentUsage)
	})

	t.Run("first use creates the counter", func(t *testing.T) {
		f.seedFeature(t, "fresh", 1)

		assert.True(t, f.record(t, "user-1", "fresh").Granted())
		assert.False(t, f.record(t, "user-1", "fresh").Granted())
	})

	t.Run("concurrent uses grant exactly the limit", func(t *testing.T) {
		const limit = 10
		f.seedFeature(t, "contended", limit)

		var granted atomic.Int64
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 4*limit; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				result, err := f.store.RecordUse(context.Background(), domain.RecordRequest{
					UserID:     "user-1",
					FeatureKey: "contended",
					Period:     period,
					AttemptID:  domain.NewAttemptID(),
				})
				if err != nil {
					t.Errorf("record use: %v", err)
					return
				}
				if result.Granted() {
					granted.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, int64(limit), granted.Load())
		usage, err := f.store.GetUsage(context.Background(), "user-1", "contended", period)
		require.NoError(t, err)
		assert.Equal(t, int64(limit), usage.CurrentUsage)
	})

	t.Run("same attempt is charged once", func(t *testing.T) {
		f.seedFeature(t, "retried", 10)

		var charged atomic.Int64
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				result, err := f.store.RecordUse(context.Background(), domain.RecordRequest{
					UserID:     "user-1",
					FeatureKey: "retried",
					Period:     period,
					AttemptID:  "shared-attempt",
				})
				if err != nil {
					t.Errorf("record use: %v", err)
					return
				}
				if result.Granted() && !result.Replayed {
					charged.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, int64(1), charged.Load())
		landed, err := f.store.AttemptLanded(context.Background(), "user-1", "retried", "shared-attempt")
		require.NoError(t, err)
		assert.True(t, landed)
	})
}
