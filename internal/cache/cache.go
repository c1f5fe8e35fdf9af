// Package cache stores raw fetched content (HTML, ICS, JSON) on disk, one
// file per (provider, source).
//
// Freshness is decided by file mtime only: a file written after the end of
// the requested day cannot be missing anything about that day.
package cache

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	appLog "daylog/internal/log"
)

// Cache is a directory of cached fetch results. Keys are provider-scoped, so
// concurrent writers for different sources never touch the same file.
type Cache struct {
	dir string
}

// New returns a cache rooted at dir. The directory is created lazily with
// 0700 permissions on first write.
func New(dir string) *Cache {
	return &Cache{dir: dir}
}

func (c *Cache) Dir() string {
	return c.dir
}

// Sanitize maps every character outside [A-Za-z0-9] to '_'. The mapping is
// deterministic but not injective.
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Path returns the cache file for (provider, source).
func (c *Cache) Path(provider, source string) string {
	return filepath.Join(c.dir, provider+Sanitize(source))
}

// Get returns the cached content when the file exists and was modified at or
// after freshness. A missing or stale file is a miss, not an error.
func (c *Cache) Get(provider, source string, freshness time.Time) (string, bool, error) {
	path := c.Path(provider, source)
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	if st.ModTime().Before(freshness) {
		appLog.Debug("cache too old, refetching", "provider", provider, "source", source, "mtime", st.ModTime().Format(time.RFC3339))
		return "", false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

// Load returns the cached content regardless of its age.
func (c *Cache) Load(provider, source string) (string, bool, error) {
	data, err := os.ReadFile(c.Path(provider, source))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(data), true, nil
}

// Put unconditionally overwrites the cache file for (provider, source).
func (c *Cache) Put(provider, source, content string) error {
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(c.Path(provider, source), []byte(content), 0o600)
}
