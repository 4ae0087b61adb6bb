package versioncheck

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

type cacheEntry struct {
	LatestVersion string    `json:"latest_version"`
	ReleaseURL    string    `json:"release_url"`
	CheckedAt     time.Time `json:"checked_at"`
}

func (e *cacheEntry) freshAt(now time.Time, ttl time.Duration) bool {
	return e != nil && now.Sub(e.CheckedAt) < ttl
}

var errNoCache = errors.New("cache disabled")

func readCache(path string) (*cacheEntry, error) {
	if path == "" {
		return nil, errNoCache
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func writeCache(path string, entry *cacheEntry) error {
	if path == "" {
		return errNoCache
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
