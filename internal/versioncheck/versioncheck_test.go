package versioncheck

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groot1121/secure-token-gateway/internal/testutil/mockhttp"
)

const latestPath = "/repos/" + DefaultRepo + "/releases/latest"

func releaseServer(t *testing.T, tag string, capture *mockhttp.Capture) string {
	t.Helper()
	b := mockhttp.New()
	if capture != nil {
		b = b.Record(capture)
	}
	server := b.JSON(http.MethodGet, latestPath, map[string]string{
		"tag_name": tag,
		"html_url": "https://github.com/" + DefaultRepo + "/releases/tag/" + tag,
	}).Build()
	t.Cleanup(server.Close)
	return server.URL
}

func TestIsNewerVersion(t *testing.T) {
	tests := []struct {
		name     string
		current  string
		latest   string
		expected bool
	}{
		{"newer available", "0.5.1", "0.5.2", true},
		{"current is latest", "0.5.2", "0.5.2", false},
		{"current is newer", "0.5.3", "0.5.2", false},
		{"major version bump", "0.5.2", "1.0.0", true},
		{"v prefix on both", "v0.5.1", "v0.5.2", true},
		{"pre-release lower than release", "0.5.2-rc1", "0.5.2", true},
		{"dev build", "dev", "0.5.2", false},
		{"no latest", "0.5.1", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNewerVersion(tt.current, tt.latest); got != tt.expected {
				t.Errorf("IsNewerVersion(%q, %q) = %v, want %v", tt.current, tt.latest, got, tt.expected)
			}
		})
	}
}

func TestUpgradeCommand(t *testing.T) {
	assert.Equal(t, "brew upgrade popctl", UpgradeCommand("/opt/homebrew/bin/popctl"))
	assert.Contains(t, UpgradeCommand("/home/u/go/bin/popctl"), "go install")
	assert.Contains(t, UpgradeCommand("/usr/local/bin/popctl"), "/releases")
}

func TestCheckFetchesAndCaches(t *testing.T) {
	t.Log("First check fetches the release, the second is served from cache")

	capture := &mockhttp.Capture{}
	api := releaseServer(t, "v1.2.0", capture)
	cache := filepath.Join(t.TempDir(), "release.json")

	c := NewChecker(WithReleaseAPI(api), WithCachePath(cache))

	first := c.Check(context.Background(), "1.1.0")
	require.NoError(t, first.Err)
	assert.Equal(t, "1.2.0", first.LatestVersion)
	assert.True(t, first.UpdateAvailable)
	assert.NotEmpty(t, first.UpgradeCommand)
	assert.False(t, first.FromCache)

	second := c.Check(context.Background(), "1.2.0")
	require.NoError(t, second.Err)
	assert.True(t, second.FromCache)
	assert.False(t, second.UpdateAvailable)
	assert.Equal(t, 1, capture.CountPath(latestPath))

	info, err := os.Stat(cache)
	require.NoError(t, err)
	if filepath.Separator == '/' {
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
}

func TestCheckRefetchesStaleCache(t *testing.T) {
	capture := &mockhttp.Capture{}
	api := releaseServer(t, "v2.0.0", capture)
	cache := filepath.Join(t.TempDir(), "release.json")
	require.NoError(t, writeCache(cache, &cacheEntry{
		LatestVersion: "1.0.0",
		CheckedAt:     time.Now().Add(-48 * time.Hour),
	}))

	res := NewChecker(WithReleaseAPI(api), WithCachePath(cache)).Check(context.Background(), "1.0.0")
	require.NoError(t, res.Err)
	assert.Equal(t, "2.0.0", res.LatestVersion)
	assert.Equal(t, 1, capture.Count())
}

func TestCheckFallsBackToStaleCache(t *testing.T) {
	t.Log("An unreachable API falls back to the stale cache entry")

	server := mockhttp.New().Build()
	t.Cleanup(server.Close)
	cache := filepath.Join(t.TempDir(), "release.json")
	require.NoError(t, writeCache(cache, &cacheEntry{
		LatestVersion: "1.5.0",
		CheckedAt:     time.Now().Add(-48 * time.Hour),
	}))

	res := NewChecker(WithReleaseAPI(server.URL), WithCachePath(cache)).Check(context.Background(), "1.4.0")
	assert.Error(t, res.Err)
	assert.True(t, res.FromCache)
	assert.Equal(t, "1.5.0", res.LatestVersion)
	assert.True(t, res.UpdateAvailable)
}

func TestCheckWithoutCacheOrAPI(t *testing.T) {
	server := mockhttp.New().Build()
	t.Cleanup(server.Close)

	res := NewChecker(WithReleaseAPI(server.URL), WithCachePath("")).Check(context.Background(), "1.0.0")
	assert.Error(t, res.Err)
	assert.Empty(t, res.LatestVersion)
	assert.False(t, res.UpdateAvailable)
}

func TestCacheFreshness(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	entry := &cacheEntry{CheckedAt: now.Add(-time.Hour)}
	assert.True(t, entry.freshAt(now, 2*time.Hour))
	assert.False(t, entry.freshAt(now, 30*time.Minute))

	var missing *cacheEntry
	assert.False(t, missing.freshAt(now, time.Hour))
}
