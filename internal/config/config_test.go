package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
server:
  port: 8123
database:
  sqlite_path: ${TEST_REPLYDESK_DIR}/db.sqlite
worker:
  default_call_timeout: 12s
`

func TestLoadFromBytesExpandsEnvAndKeepsDefaults(t *testing.T) {
	t.Setenv("TEST_REPLYDESK_DIR", "/tmp/rd")

	c, err := LoadFromBytes([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, 8123, c.Server.Port)
	assert.Equal(t, "127.0.0.1", c.Server.Host)
	assert.Equal(t, "/tmp/rd/db.sqlite", c.Database.SQLitePath)
	assert.Equal(t, 12*time.Second, c.Worker.DefaultCallTimeout)
	assert.Equal(t, 15*time.Second, c.Worker.ReplyBudget)
	assert.Equal(t, "*/20 * * * * *", c.Scheduler.SyncSpec)
}

func TestEnvOverridesWin(t *testing.T) {
	t.Setenv("REPLYDESK_SERVER_PORT", "7000")
	t.Setenv("REPLYDESK_LOG_LEVEL", "debug")
	t.Setenv("REPLYDESK_ANALYTICS_BROKERS", "a:9092, b:9092,")

	c, err := LoadFromBytes([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, 7000, c.Server.Port)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, []string{"a:9092", "b:9092"}, c.Analytics.BrokerList())
}

func TestValidateRejectsShortTimeout(t *testing.T) {
	_, err := LoadFromBytes([]byte("worker:\n  default_call_timeout: 100ms\n"))
	require.Error(t, err)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "worker.default_call_timeout", cfgErr.Field)
}

func TestLoadFileLayersOnBase(t *testing.T) {
	base, err := LoadFromBytes(nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "override.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9100\nplugins:\n  dir: plugs\n"), 0o644))

	c, err := LoadFile(base, path)
	require.NoError(t, err)
	assert.Equal(t, 9100, c.Server.Port)
	assert.Equal(t, "./data/replydesk.db", c.Database.SQLitePath)

	c.ResolvePaths("/srv")
	assert.Equal(t, "/srv/data/replydesk.db", c.Database.SQLitePath)
	assert.Equal(t, "/srv/plugs", c.Plugins.Dir)
}

func TestLoadFileMissing(t *testing.T) {
	base, err := LoadFromBytes(nil)
	require.NoError(t, err)

	_, err = LoadFile(base, filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
