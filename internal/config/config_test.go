package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 60, cfg.Server.RateBurst)
	assert.Equal(t, "localhost", cfg.Storage.Host)
	assert.Equal(t, 5432, cfg.Storage.Port)
	assert.Equal(t, "/api/v1/artifacts", cfg.Artifacts.BaseURL)
	assert.Equal(t, "gemini-2.5-flash", cfg.Agent.Model)
	assert.Equal(t, 40, cfg.Agent.HistoryWindow)
	assert.Equal(t, 15*time.Second, cfg.Agent.HeartbeatInterval)
	assert.Equal(t, 8, cfg.Agent.MaxToolRounds)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FileOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  addr: ":9090"
  auth_token: "sekrit"
storage:
  host: db.internal
  port: 6432
  user: app
  password: pw
  dbname: chat
agent:
  history_window: 10
  heartbeat_interval: 30s
log:
  level: debug
  json: true
`))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "sekrit", cfg.Server.AuthToken)
	assert.Equal(t, 10, cfg.Agent.HistoryWindow)
	assert.Equal(t, 30*time.Second, cfg.Agent.HeartbeatInterval)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, "postgres://app:pw@db.internal:6432/chat?sslmode=disable", cfg.Storage.DSN())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("ATELIER_STORAGE_PORT", "7777")
	t.Setenv("ATELIER_AGENT_API_KEY", "env-key")

	cfg, err := Load(writeConfig(t, "storage:\n  port: 6432\n"))
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Storage.Port)
	assert.Equal(t, "env-key", cfg.Agent.APIKey)
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr error
	}{
		{"bad port", "storage:\n  port: 70000\n", ErrInvalidPostgresPort},
		{"empty host", "storage:\n  host: \"\"\n", ErrInvalidPostgresHost},
		{"empty dbname", "storage:\n  dbname: \"\"\n", ErrInvalidPostgresDBName},
		{"empty addr", "server:\n  addr: \"\"\n", ErrInvalidListenAddr},
		{"empty artifact dir", "artifacts:\n  dir: \"\"\n", ErrInvalidArtifactDir},
		{"window too large", "agent:\n  history_window: 5000\n", ErrInvalidHistoryWindow},
		{"heartbeat too short", "agent:\n  heartbeat_interval: 10ms\n", ErrInvalidHeartbeat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelDebug, Log{Level: "debug"}.SlogLevel())
	assert.Equal(t, slog.LevelWarn, Log{Level: "WARN"}.SlogLevel())
	assert.Equal(t, slog.LevelError, Log{Level: "error"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, Log{Level: "info"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, Log{Level: "unknown"}.SlogLevel())
}
