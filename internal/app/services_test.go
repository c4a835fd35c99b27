package app

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atlasauth/internal/auth"
	"atlasauth/internal/config"
	"atlasauth/internal/credentials"
	"atlasauth/internal/kvstore"
	"atlasauth/internal/strategy"
)

func settingsWith(dir, sitesBackend, secretsBackend string) *config.Config {
	cfg := config.GetDefaultConfig()
	cfg.Storage.Dir = dir
	cfg.Storage.Sites = sitesBackend
	cfg.Storage.Secrets = secretsBackend
	return &cfg
}

func newServices(t *testing.T, settings *config.Config) *Services {
	t.Helper()
	s, err := InitializeServices(&Config{
		Settings: settings,
		Env:      func(string) string { return "" },
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testSite(host, user string) auth.DetailedSiteInfo {
	return auth.DetailedSiteInfo{
		ID:           host,
		Name:         host,
		Host:         host,
		Product:      auth.ProductJira,
		UserID:       user,
		CredentialID: credentials.GenerateCredentialID(host, user),
	}
}

func TestInitializeServices(t *testing.T) {
	tests := []struct {
		name    string
		sites   string
		secrets string
	}{
		{name: "memory", sites: config.BackendMemory, secrets: config.BackendMemory},
		{name: "file", sites: config.BackendFile, secrets: config.BackendFile},
		{name: "badger", sites: config.BackendBadger, secrets: config.BackendFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newServices(t, settingsWith(t.TempDir(), tt.sites, tt.secrets))

			assert.NotNil(t, s.State)
			assert.NotNil(t, s.Credentials)
			assert.NotNil(t, s.Sites)
			assert.NotNil(t, s.Transport)
			assert.NotNil(t, s.Catalog)
			assert.NotNil(t, s.Dancer)
			assert.NotNil(t, s.Login)
		})
	}
}

func TestInitializeServices_StateBackend(t *testing.T) {
	s := newServices(t, settingsWith(t.TempDir(), config.BackendFile, config.BackendMemory))
	_, ok := s.State.(*kvstore.FileStore)
	assert.True(t, ok)

	s = newServices(t, settingsWith(t.TempDir(), config.BackendBadger, config.BackendMemory))
	_, ok = s.State.(*kvstore.BadgerStore)
	assert.True(t, ok)
}

func TestInitializeServices_CredentialRemovalRemovesSites(t *testing.T) {
	s := newServices(t, settingsWith("", config.BackendMemory, config.BackendMemory))
	ctx := context.Background()

	site := testSite("jira.example.com", "alice")
	require.NoError(t, s.Credentials.Save(ctx, site, &auth.BasicAuthInfo{Username: "alice", Password: "pw"}))
	require.NoError(t, s.Sites.AddSites([]auth.DetailedSiteInfo{site}))
	require.Len(t, s.Sites.SitesAvailable(auth.ProductJira), 1)

	removed, err := s.Credentials.Remove(ctx, site)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Empty(t, s.Sites.SitesAvailable(auth.ProductJira))
}

func TestInitializeServices_SealedSecrets(t *testing.T) {
	dir := t.TempDir()
	settings := settingsWith(dir, config.BackendMemory, config.BackendFile)
	settings.Storage.Passphrase = "correct horse"
	s := newServices(t, settings)

	site := testSite("jira.example.com", "alice")
	require.NoError(t, s.Credentials.Save(context.Background(), site, &auth.PATAuthInfo{Token: "super-secret-token"}))

	entries, err := os.ReadDir(filepath.Join(dir, secretsDirName))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	raw, err := os.ReadFile(filepath.Join(dir, secretsDirName, entries[0].Name()))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "super-secret-token")

	info, err := s.Credentials.Get(context.Background(), site, false)
	require.NoError(t, err)
	assert.Equal(t, "super-secret-token", info.(*auth.PATAuthInfo).Token)
}

func TestInitializeServices_RedisSecrets(t *testing.T) {
	mr := miniredis.RunT(t)
	settings := settingsWith("", config.BackendMemory, config.BackendRedis)
	settings.Storage.Redis.Addr = mr.Addr()
	s := newServices(t, settings)

	site := testSite("jira.example.com", "alice")
	require.NoError(t, s.Credentials.Save(context.Background(), site, &auth.PATAuthInfo{Token: "tok"}))

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], credentials.DefaultRedisPrefix))
}

func TestInitializeServices_ClientsFromConfig(t *testing.T) {
	settings := settingsWith("", config.BackendMemory, config.BackendMemory)
	settings.OAuth.Clients = map[string]config.ClientConfig{
		string(strategy.JiraCloud): {ClientID: "client-id", ClientSecret: "secret"},
	}
	s := newServices(t, settings)

	props, err := s.Catalog.Props(strategy.JiraCloud)
	require.NoError(t, err)
	assert.True(t, props.Available())
	assert.Equal(t, "client-id", props.ClientID)

	remote, err := s.Catalog.Props(strategy.JiraCloudRemote)
	require.NoError(t, err)
	assert.False(t, remote.Available())
}

func TestInitializeServices_Errors(t *testing.T) {
	_, err := InitializeServices(&Config{})
	assert.Error(t, err)

	_, err = InitializeServices(&Config{Settings: settingsWith("", "etcd", config.BackendMemory)})
	assert.ErrorContains(t, err, `unknown sites backend "etcd"`)

	_, err = InitializeServices(&Config{Settings: settingsWith("", config.BackendMemory, "vault")})
	assert.ErrorContains(t, err, `unknown secrets backend "vault"`)
}

func TestServices_CloseIsIdempotent(t *testing.T) {
	s, err := InitializeServices(&Config{Settings: settingsWith(t.TempDir(), config.BackendBadger, config.BackendMemory)})
	require.NoError(t, err)

	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestNewApplication_LoadsConfigFromPath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("storage:\n  sites: memory\n  secrets: memory\n"), 0600))

	application, err := newApplication(&Config{ConfigPath: dir}, io.Discard)
	require.NoError(t, err)
	defer application.Close()

	s := application.Services()
	assert.Equal(t, config.BackendMemory, s.Settings.Storage.Sites)
	assert.Equal(t, dir, s.Settings.Storage.Dir)
	assert.Equal(t, config.DefaultCallbackTimeout, s.Settings.OAuth.CallbackTimeout)
}

func TestNewApplication_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("environment: dev\n"), 0600))

	_, err := newApplication(&Config{ConfigPath: dir}, io.Discard)
	assert.Error(t, err)
}
