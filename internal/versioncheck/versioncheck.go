// Package versioncheck compares the running popctl build against the latest
// published release. Results are cached so repeated checks stay offline.
package versioncheck

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// Defaults for release lookups.
const (
	DefaultReleaseAPI = "https://api.github.com"
	DefaultRepo       = "groot1121/secure-token-gateway"
	DefaultTimeout    = 2 * time.Second
	DefaultCacheTTL   = 24 * time.Hour
)

// Result describes one version check.
type Result struct {
	CurrentVersion  string `json:"current_version" yaml:"current_version"`
	LatestVersion   string `json:"latest_version,omitempty" yaml:"latest_version,omitempty"`
	ReleaseURL      string `json:"release_url,omitempty" yaml:"release_url,omitempty"`
	UpdateAvailable bool   `json:"update_available" yaml:"update_available"`
	UpgradeCommand  string `json:"upgrade_command,omitempty" yaml:"upgrade_command,omitempty"`
	FromCache       bool   `json:"from_cache" yaml:"from_cache"`

	// Err is set when the release could not be fetched. The result may
	// still carry stale cached data.
	Err error `json:"-" yaml:"-"`
}

// Option configures a Checker.
type Option func(*Checker)

// WithReleaseAPI points the checker at another release API base URL.
func WithReleaseAPI(baseURL string) Option {
	return func(c *Checker) {
		c.releases = newReleaseClient(baseURL, c.releases.repo, c.releases.httpClient.Timeout)
	}
}

// WithCachePath sets the cache file location. An empty path disables caching.
func WithCachePath(path string) Option {
	return func(c *Checker) {
		c.cachePath = path
	}
}

// WithCacheTTL sets how long a cached release stays fresh.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Checker) {
		c.cacheTTL = ttl
	}
}

// WithClock sets the time source used for cache freshness.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) {
		c.now = now
	}
}

// Checker performs release checks with caching.
type Checker struct {
	releases  *releaseClient
	cachePath string
	cacheTTL  time.Duration
	now       func() time.Time
}

// NewChecker creates a Checker for the popctl repository.
func NewChecker(opts ...Option) *Checker {
	c := &Checker{
		releases:  newReleaseClient(DefaultReleaseAPI, DefaultRepo, DefaultTimeout),
		cachePath: CachePath(),
		cacheTTL:  DefaultCacheTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check compares current against the latest release. A fresh cache entry
// is used without a network call; on fetch errors a stale entry is used.
func (c *Checker) Check(ctx context.Context, current string) *Result {
	result := &Result{CurrentVersion: current}

	cached, cacheErr := readCache(c.cachePath)
	switch {
	case cacheErr == nil && cached.freshAt(c.now(), c.cacheTTL):
		result.LatestVersion, result.ReleaseURL, result.FromCache = cached.LatestVersion, cached.ReleaseURL, true
	default:
		rel, err := c.releases.latest(ctx)
		if err != nil {
			result.Err = err
			if cacheErr != nil {
				return result
			}
			result.LatestVersion, result.ReleaseURL, result.FromCache = cached.LatestVersion, cached.ReleaseURL, true
			break
		}
		result.LatestVersion = strings.TrimPrefix(rel.TagName, "v")
		result.ReleaseURL = rel.HTMLURL
		// A failed cache write only costs a refetch next time.
		_ = writeCache(c.cachePath, &cacheEntry{
			LatestVersion: result.LatestVersion,
			ReleaseURL:    result.ReleaseURL,
			CheckedAt:     c.now().UTC(),
		})
	}

	result.UpdateAvailable = IsNewerVersion(current, result.LatestVersion)
	if result.UpdateAvailable {
		exe, _ := os.Executable()
		result.UpgradeCommand = UpgradeCommand(exe)
	}
	return result
}

// IsNewerVersion reports whether latest is a newer semantic version than
// current. Unparseable versions, including "dev" builds, never compare newer.
func IsNewerVersion(current, latest string) bool {
	cur, lat := normalize(current), normalize(latest)
	if !semver.IsValid(cur) || !semver.IsValid(lat) {
		return false
	}
	return semver.Compare(cur, lat) < 0
}

func normalize(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// UpgradeCommand suggests how to upgrade a binary installed at exePath.
func UpgradeCommand(exePath string) string {
	switch {
	case strings.Contains(exePath, "/Cellar/") || strings.Contains(exePath, "/homebrew/"):
		return "brew upgrade popctl"
	case strings.Contains(filepath.ToSlash(exePath), "/go/bin/"):
		return "go install github.com/" + DefaultRepo + "/cmd/popctl@latest"
	default:
		return "Download from https://github.com/" + DefaultRepo + "/releases"
	}
}

// CachePath returns the default cache file under the user cache directory.
func CachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "popctl", "release.json")
}
