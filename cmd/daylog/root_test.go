package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daylog/internal/config"
	"daylog/internal/model"
)

func TestParseDayFlag(t *testing.T) {
	now := time.Date(2024, time.March, 1, 0, 30, 0, 0, time.UTC)

	d, err := parseDayFlag("today", now, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", d.String())

	d, err = parseDayFlag("yesterday", now, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, model.Day{Year: 2024, Month: time.February, Day: 29, Loc: time.UTC}, d)

	d, err = parseDayFlag("2023-12-31", now, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "2023-12-31", d.String())

	_, err = parseDayFlag("31/12/2023", now, time.UTC)
	assert.Error(t, err)
}

func TestSourcesCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := config.DefaultConfig()
	cfg.Git["daylog"] = config.GitConfig{RepoFolder: "/src/daylog", CommitAuthor: "Jane"}
	cfg.Ical["holidays"] = config.IcalConfig{IcalURL: "https://example.com/h.ics"}
	require.NoError(t, cfg.Save(path))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--config", path, "sources"})
	t.Cleanup(func() {
		rootCmd.SetOut(os.Stdout)
		rootCmd.SetArgs(nil)
		cfgFile = ""
	})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "PROVIDER  SOURCE\nGit       daylog\nIcal      holidays\n", out.String())
}

func TestListSourceFailureIsReportedOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.Git["broken"] = config.GitConfig{RepoFolder: filepath.Join(dir, "nowhere"), CommitAuthor: "Jane"}
	require.NoError(t, cfg.Save(path))

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs([]string{"--config", path, "list", "--day", "2024-05-14", "--plain"})
	t.Cleanup(func() {
		rootCmd.SetOut(os.Stdout)
		rootCmd.SetErr(os.Stderr)
		rootCmd.SetArgs(nil)
		cfgFile = ""
		listDay = "today"
		listPlain = false
	})
	require.Error(t, rootCmd.Execute())

	assert.Equal(t, 1, strings.Count(errOut.String(), "Git - broken"))
	assert.Empty(t, out.String())
}
