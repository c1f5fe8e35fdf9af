package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultConfig(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "daylog")
	path := filepath.Join(dir, "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout)
	assert.Empty(t, cfg.Git)
	assert.NotNil(t, cfg.StackExchange)

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	dst, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), dst.Mode().Perm())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Timezone = "Europe/Paris"
	cfg.FetchTimeout = 10 * time.Second
	cfg.Git["daylog"] = GitConfig{RepoFolder: "/src/daylog", CommitAuthor: "Jane Doe", TrunkBranch: "main"}
	cfg.Email["work"] = EmailConfig{MboxFilePath: "~/mail/work"}
	cfg.Redmine["tracker"] = RedmineConfig{ServerURL: "https://redmine.example.com", Username: "jane", Password: "secret", Locale: "fr"}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Paris", loaded.Timezone)
	assert.Equal(t, 10*time.Second, loaded.FetchTimeout)
	assert.Equal(t, cfg.Git, loaded.Git)
	assert.Equal(t, cfg.Email, loaded.Email)
	assert.Equal(t, cfg.Redmine, loaded.Redmine)
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
ical:
  holidays:
    ical_url: https://example.com/holidays.ics
max_parallel: -3
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/holidays.ics", cfg.Ical["holidays"].IcalURL)
	assert.Equal(t, 0, cfg.MaxParallel)
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout)
	assert.Equal(t, "*/15 * * * *", cfg.RefreshCron)
	assert.NotNil(t, cfg.Gitlab)
}

func TestLoadRejectsEmptyPath(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
}

func TestLocation(t *testing.T) {
	cfg := DefaultConfig()
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)

	cfg.Timezone = "Not/AZone"
	loc, err = cfg.Location()
	require.Error(t, err)
	assert.Equal(t, time.Local, loc)
}

func TestResolvedCacheDir(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "/etc/daylog", cfg.ResolvedCacheDir("/etc/daylog/config.yaml"))

	cfg.CacheDir = "/var/cache/daylog"
	assert.Equal(t, "/var/cache/daylog", cfg.ResolvedCacheDir("/etc/daylog/config.yaml"))
}
