package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	assert.Equal(t, "my_repo_2", Sanitize("my-repo/2"))
	assert.Equal(t, "work_mail", Sanitize("work mail"))
	assert.Equal(t, "caf_", Sanitize("café"))
	assert.Equal(t, "", Sanitize(""))
	// Not injective, but deterministic.
	assert.Equal(t, Sanitize("a b"), Sanitize("a-b"))
}

func TestPutGetFreshness(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, c.Put("Ical", "my cal", "BEGIN:VCALENDAR"))

	path := c.Path("Ical", "my cal")
	assert.Equal(t, "Icalmy_cal", filepath.Base(path))
	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	nextDayStart := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)

	// mtime exactly at the boundary counts as fresh.
	require.NoError(t, os.Chtimes(path, nextDayStart, nextDayStart))
	got, ok, err := c.Get("Ical", "my cal", nextDayStart)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "BEGIN:VCALENDAR", got)

	// One second before the boundary is stale.
	stale := nextDayStart.Add(-time.Second)
	require.NoError(t, os.Chtimes(path, stale, stale))
	_, ok, err = c.Get("Ical", "my cal", nextDayStart)
	require.NoError(t, err)
	assert.False(t, ok)

	// Load ignores freshness.
	got, ok, err = c.Load("Ical", "my cal")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "BEGIN:VCALENDAR", got)
}

func TestGetMissingIsMiss(t *testing.T) {
	c := New(t.TempDir())
	_, ok, err := c.Get("Redmine", "tracker", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = c.Load("Redmine", "tracker")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutOverwrites(t *testing.T) {
	c := New(t.TempDir())
	require.NoError(t, c.Put("Gitlab", "work", "[1]"))
	require.NoError(t, c.Put("Gitlab", "work", "[2]"))
	got, ok, err := c.Load("Gitlab", "work")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "[2]", got)
}
