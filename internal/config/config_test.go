package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_DefaultsAndEnvExpansion(t *testing.T) {
	t.Setenv("TEST_DSN", "postgres://u:p@localhost/db")

	path := writeConfig(t, `
server:
  public_url: "https://id.choirs.example"
storage:
  dsn: "${TEST_DSN}"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "dev", cfg.App.Env)
	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, "postgres", cfg.Storage.Driver)
	require.Equal(t, "postgres://u:p@localhost/db", cfg.Storage.DSN)
	require.Equal(t, "registry_sso", cfg.SSO.CookieName)
	require.Equal(t, 15, cfg.Rate.Start.Limit)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_RequiresPublicURL(t *testing.T) {
	path := writeConfig(t, `
storage:
  driver: memory
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_PostgresRequiresDSN(t *testing.T) {
	path := writeConfig(t, `
server:
  public_url: "https://id.choirs.example"
storage:
  driver: postgres
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestWindow(t *testing.T) {
	require.Equal(t, 30*time.Second, Window("30s", time.Minute))
	require.Equal(t, time.Minute, Window("garbage", time.Minute))
	require.Equal(t, time.Minute, Window("-5s", time.Minute))
	require.Equal(t, time.Minute, Window("", time.Minute))
}
