package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/smallbiznis/kwhtracker/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutoMigrateCreatesTables(t *testing.T) {
	conn, err := db.NewTest()
	require.NoError(t, err)

	require.NoError(t, AutoMigrate(conn))
	require.NoError(t, AutoMigrate(conn), "auto-migration is re-runnable")

	for _, table := range []string{"meter_readings", "tariff_tiers", "recalculation_batches"} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}
	assert.True(t, conn.Migrator().HasIndex("meter_readings", "idx_meter_readings_user_recorded"))
}

func TestAutoMigrateRequiresHandle(t *testing.T) {
	assert.Error(t, AutoMigrate(nil))
	assert.Error(t, RunMigrations(nil))
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}

	require.Len(t, ups, 3)
	assert.Equal(t, ups, downs)
}
