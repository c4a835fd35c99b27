package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atlasauth/internal/strategy"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0600))
}

func TestLoadConfig_DefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	want := GetDefaultConfig()
	want.Storage.Dir = dir
	assert.Equal(t, want, cfg)
}

func TestLoadConfig_Override(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
environment: staging
storage:
  dir: /var/lib/atlasauth
  sites: badger
  secrets: redis
  passphrase: hunter2
  redis:
    addr: redis.internal:6380
    db: 2
oauth:
  callbackTimeout: 90s
  clients:
    jiracloudstaging:
      clientId: abc
      clientSecret: def
http:
  timeout: 10s
log:
  level: debug
`)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, EnvironmentStaging, cfg.Environment)
	assert.Equal(t, "/var/lib/atlasauth", cfg.Storage.Dir)
	assert.Equal(t, BackendBadger, cfg.Storage.Sites)
	assert.Equal(t, BackendRedis, cfg.Storage.Secrets)
	assert.Equal(t, "hunter2", cfg.Storage.Passphrase)
	assert.Equal(t, "redis.internal:6380", cfg.Storage.Redis.Addr)
	assert.Equal(t, 2, cfg.Storage.Redis.DB)
	assert.Equal(t, "atlasauth:secret:", cfg.Storage.Redis.Prefix, "unset keys keep their defaults")
	assert.Equal(t, 90*time.Second, cfg.OAuth.CallbackTimeout)
	assert.Equal(t, 10*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, "debug", cfg.Log.Level)

	clients := cfg.ClientCredentials()
	assert.Equal(t, strategy.ClientCredentials{ClientID: "abc", ClientSecret: "def"}, clients[strategy.JiraCloudStaging])
}

func TestLoadConfig_ExpandsHome(t *testing.T) {
	dir := t.TempDir()
	home := t.TempDir()
	original := osUserHomeDir
	osUserHomeDir = func() (string, error) { return home, nil }
	defer func() { osUserHomeDir = original }()

	writeConfig(t, dir, "storage:\n  dir: ~/state\n")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "state"), cfg.Storage.Dir)
}

func TestLoadConfig_ParseError(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "storage: [not, a, map")

	_, err := LoadConfig(dir)
	require.Error(t, err)

	var cfgErr ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "parse", cfgErr.ErrorType)
}

func TestLoadConfig_ValidationError(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "storage:\n  sites: sqlite\n")

	_, err := LoadConfig(dir)
	require.Error(t, err)

	var cfgErr ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "validation", cfgErr.ErrorType)
	assert.Contains(t, err.Error(), "storage.sites")
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "atlasauth")
	cfg := GetDefaultConfig()
	cfg.Storage.Dir = dir
	cfg.OAuth.Clients = map[string]ClientConfig{"bbcloud": {ClientID: "id", ClientSecret: "secret"}}

	require.NoError(t, SaveConfig(dir, cfg))

	info, err := os.Stat(filepath.Join(dir, configFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestGetDefaultConfigPath(t *testing.T) {
	original := osUserHomeDir
	osUserHomeDir = func() (string, error) { return "/home/test", nil }
	defer func() { osUserHomeDir = original }()

	path, err := GetDefaultConfigPath()
	require.NoError(t, err)
	assert.Equal(t, "/home/test/.config/atlasauth", path)
}
