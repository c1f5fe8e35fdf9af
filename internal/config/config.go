package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// NOTE: the config file may hold passwords and tokens. The folder is kept
// 0700 and the file 0600.

const (
	defaultFolderName   = ".daylog"
	defaultFileName     = "config.yaml"
	defaultFetchTimeout = 30 * time.Second
	defaultListen       = "127.0.0.1:8080"
	defaultRefreshCron  = "*/15 * * * *"
)

// GitConfig describes one local repository.
type GitConfig struct {
	RepoFolder   string `yaml:"repo_folder" json:"repo_folder"`
	CommitAuthor string `yaml:"commit_author" json:"commit_author"`
	// TrunkBranch commits hide the same commits on other branches.
	// Empty means "master", or "main" when there is no master.
	TrunkBranch string `yaml:"trunk_branch,omitempty" json:"trunk_branch,omitempty"`
}

// EmailConfig describes one local mbox file.
type EmailConfig struct {
	MboxFilePath string `yaml:"mbox_file_path" json:"mbox_file_path"`
}

// IcalConfig describes one ICS subscription.
type IcalConfig struct {
	IcalURL string `yaml:"ical_url" json:"ical_url"`
}

// RedmineConfig describes one Redmine account.
type RedmineConfig struct {
	ServerURL string `yaml:"server_url" json:"server_url"`
	Username  string `yaml:"username" json:"username"`
	Password  string `yaml:"password" json:"password"`
	// Locale selects the date format of the activity page ("en", "fr", ...).
	Locale string `yaml:"locale,omitempty" json:"locale,omitempty"`
}

// GitlabConfig describes one GitLab account.
type GitlabConfig struct {
	GitlabURL           string `yaml:"gitlab_url" json:"gitlab_url"`
	PersonalAccessToken string `yaml:"personal_access_token" json:"personal_access_token"`
}

// StackExchangeConfig describes one Stack Exchange site account.
type StackExchangeConfig struct {
	ExchangeSiteURL string `yaml:"exchange_site_url" json:"exchange_site_url"`
	Username        string `yaml:"username" json:"username"`
	Password        string `yaml:"password" json:"password"`
	// UseBrowser logs in through headless Chromium instead of plain HTTP.
	UseBrowser bool `yaml:"use_browser,omitempty" json:"use_browser,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Timezone is the IANA zone used for day boundaries and displayed
	// times. Empty means the system local zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// CacheDir holds fetched HTML/ICS/JSON. Empty means the config folder.
	CacheDir string `yaml:"cache_dir,omitempty" json:"cache_dir,omitempty"`

	// FetchTimeout bounds connect + total time of every network request.
	FetchTimeout time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`

	// MaxParallel caps concurrent source fetches; 0 is unbounded.
	MaxParallel int `yaml:"max_parallel" json:"max_parallel"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// Listen and RefreshCron are only used by "daylog serve".
	Listen      string           `yaml:"listen" json:"listen"`
	RefreshCron string           `yaml:"refresh" json:"refresh"`
	BasicAuth   *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Git           map[string]GitConfig           `yaml:"git" json:"git"`
	Email         map[string]EmailConfig         `yaml:"email" json:"email"`
	Ical          map[string]IcalConfig          `yaml:"ical" json:"ical"`
	Redmine       map[string]RedmineConfig       `yaml:"redmine" json:"redmine"`
	Gitlab        map[string]GitlabConfig        `yaml:"gitlab" json:"gitlab"`
	StackExchange map[string]StackExchangeConfig `yaml:"stackexchange" json:"stackexchange"`
}

// DefaultConfig returns an in-memory default configuration with no sources.
func DefaultConfig() *Config {
	c := &Config{
		FetchTimeout: defaultFetchTimeout,
		LogLevel:     "info",
		Listen:       defaultListen,
		RefreshCron:  defaultRefreshCron,
	}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values so partially-filled configs still
// behave correctly.
func (c *Config) Normalize() {
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = defaultFetchTimeout
	}
	if c.MaxParallel < 0 {
		c.MaxParallel = 0
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.Git == nil {
		c.Git = map[string]GitConfig{}
	}
	if c.Email == nil {
		c.Email = map[string]EmailConfig{}
	}
	if c.Ical == nil {
		c.Ical = map[string]IcalConfig{}
	}
	if c.Redmine == nil {
		c.Redmine = map[string]RedmineConfig{}
	}
	if c.Gitlab == nil {
		c.Gitlab = map[string]GitlabConfig{}
	}
	if c.StackExchange == nil {
		c.StackExchange = map[string]StackExchangeConfig{}
	}
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local, err
	}
	return loc, nil
}

// DefaultFolder is ~/.daylog.
func DefaultFolder() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, defaultFolderName), nil
}

// DefaultPath is ~/.daylog/config.yaml.
func DefaultPath() (string, error) {
	dir, err := DefaultFolder()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, defaultFileName), nil
}

// ResolvedCacheDir returns CacheDir with "~" expanded, or the folder holding
// configPath when CacheDir is empty.
func (c *Config) ResolvedCacheDir(configPath string) string {
	if c.CacheDir != "" {
		return ExpandHome(c.CacheDir)
	}
	return filepath.Dir(configPath)
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create the private parent directory
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	// MkdirAll leaves an existing folder alone; tighten it anyway.
	if err := os.Chmod(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".daylog-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
