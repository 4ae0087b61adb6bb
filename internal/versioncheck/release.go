package versioncheck

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/groot1121/secure-token-gateway/internal/version"
)

// release holds the fields read from the latest-release endpoint.
type release struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

type releaseClient struct {
	baseURL    string
	repo       string
	httpClient *http.Client
}

func newReleaseClient(baseURL, repo string, timeout time.Duration) *releaseClient {
	return &releaseClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		repo:       repo,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// latest fetches the newest published release.
func (c *releaseClient) latest(ctx context.Context) (*release, error) {
	url := c.baseURL + "/repos/" + c.repo + "/releases/latest"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "popctl/"+version.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("release API returned status %d", resp.StatusCode)
	}

	var rel release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, fmt.Errorf("decoding release: %w", err)
	}
	if rel.TagName == "" {
		return nil, fmt.Errorf("release has no tag")
	}
	return &rel, nil
}
