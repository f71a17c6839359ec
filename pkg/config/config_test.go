package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
logging:
  level: debug
  format: json

shutdown_timeout: 45s

store:
  type: database
  database:
    type: sqlite
    sqlite_path: ":memory:"

metrics:
  enabled: true

api:
  port: 9181
  jwt:
    secret: "0123456789abcdef0123456789abcdef"

security:
  pan_key: "000102030405060708090a0b0c0d0e0f"

pipeline:
  dedup_window: 1h
  batch_concurrency: 4

channels:
  fisc-primary:
    active: true
    institution_id: "822"
    server_mode: true
    dual_channel: true
    send_port: 8583
    receive_port: 8584
    response_timeout: 20s
  fisc-standby:
    active: false
    server_mode: true
    unified_port: 8590
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigAt(t, path, content)
	return path
}

func writeConfigAt(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level, "level is normalized to uppercase")
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 45*time.Second, cfg.ShutdownTimeout)

	assert.Equal(t, "database", cfg.Store.Type)
	assert.Equal(t, ":memory:", cfg.Store.Database.SQLitePath)

	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9090, cfg.Metrics.Port, "metrics port defaulted")

	assert.Equal(t, 9181, cfg.API.Port)
	assert.Equal(t, time.Hour, cfg.Pipeline.DedupWindow)
	assert.Equal(t, 4, cfg.Pipeline.BatchConcurrency)

	require.Len(t, cfg.Channels, 2)
	primary := cfg.Channels["fisc-primary"]
	assert.Equal(t, "fisc-primary", primary.ChannelID, "channel id filled from map key")
	assert.True(t, primary.Active)
	assert.True(t, primary.DualChannel)
	assert.Equal(t, 8583, primary.SendPort)
	assert.Equal(t, 20*time.Second, primary.ResponseTimeout)
	assert.Equal(t, 30*time.Second, primary.HeartbeatInterval, "endpoint defaults applied")

	standby := cfg.Channels["fisc-standby"]
	assert.False(t, standby.Active)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, 5*time.Minute, cfg.Pipeline.DedupWindow)
}

func TestPANKeyEnvOverride(t *testing.T) {
	t.Setenv("FEPGATE_SECURITY_PAN_KEY", "ffffffffffffffffffffffffffffffff")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "ffffffffffffffffffffffffffffffff", cfg.Security.PANKey)
}

func TestSaveAndReload(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "saved", "config.yaml")
	require.NoError(t, SaveConfig(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.ShutdownTimeout, reloaded.ShutdownTimeout)
	assert.Equal(t, cfg.Channels["fisc-primary"].SendPort, reloaded.Channels["fisc-primary"].SendPort)
}

func TestMustLoadMissingExplicitPath(t *testing.T) {
	_, err := MustLoad(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "stdout", cfg.Logging.Output)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, 8, cfg.Pipeline.BatchConcurrency)
}
