package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestRunAutoMigratesSQLite(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, Run(db))
	for _, table := range []string{"features", "feature_limit_overrides", "feature_usage_counters", "feature_usage_events", "feature_usage_attempts", "audit_logs"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}

	version, dirty, err := Version(db)
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	for _, dir := range []string{"migrations/postgres", "migrations/mysql"} {
		entries, err := fs.ReadDir(embeddedMigrations, dir)
		require.NoError(t, err)
		require.NotEmpty(t, entries)

		ups, downs := map[string]bool{}, map[string]bool{}
		for _, e := range entries {
			name := e.Name()
			switch {
			case strings.HasSuffix(name, ".up.sql"):
				ups[strings.TrimSuffix(name, ".up.sql")] = true
			case strings.HasSuffix(name, ".down.sql"):
				downs[strings.TrimSuffix(name, ".down.sql")] = true
			}
		}
		assert.Equal(t, ups, downs, dir)
	}
}

func TestRunRejectsNil(t *testing.T) {
	assert.Error(t, Run(nil))
}
