package database

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsEmbedded(t *testing.T) {
	t.Parallel()

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	// Every up migration has its down counterpart.
	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Errorf("unexpected migration file %s", name)
		}
	}
	assert.Equal(t, ups, downs)
}

func TestInitialMigrationShape(t *testing.T) {
	t.Parallel()

	content, err := fs.ReadFile(migrationsFS, "migrations/0001_init.up.sql")
	require.NoError(t, err)
	sql := string(content)

	for _, table := range []string{"conversations", "messages", "artifacts"} {
		assert.Contains(t, sql, table)
	}
	for _, status := range []string{"'generating'", "'sent'", "'failed'"} {
		assert.Contains(t, sql, status)
	}
}

func TestConnect_BadDSN(t *testing.T) {
	t.Parallel()

	_, err := Connect(t.Context(), "not a dsn")
	require.Error(t, err)
}
