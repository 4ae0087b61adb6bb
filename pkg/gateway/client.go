package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/groot1121/secure-token-gateway/internal/version"
	"github.com/groot1121/secure-token-gateway/pkg/poperr"
)

// DefaultTimeout bounds each gateway call when no HTTP client is supplied.
const DefaultTimeout = 15 * time.Second

// maxBodySize caps how much of a response is read.
const maxBodySize = 1 << 20

// Client talks to the token gateway.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a gateway client for baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		userAgent:  "popctl/" + version.String(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the gateway base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// RegisterDevice binds publicKeyPEM to (userID, deviceID).
func (c *Client) RegisterDevice(ctx context.Context, userID, deviceID, publicKeyPEM string) (*MessageResponse, error) {
	q := url.Values{}
	q.Set(ParamUserID, userID)
	q.Set(ParamDeviceID, deviceID)
	q.Set(ParamPublicKey, publicKeyPEM)

	var out MessageResponse
	if err := c.do(ctx, "register-device", http.MethodPost, PathRegisterDevice, q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IssueToken requests a new access token for a registered device.
func (c *Client) IssueToken(ctx context.Context, userID, deviceID string) (*TokenResponse, error) {
	q := url.Values{}
	q.Set(ParamUserID, userID)
	q.Set(ParamDeviceID, deviceID)

	var out TokenResponse
	if err := c.do(ctx, "issue-token", http.MethodPost, PathIssueToken, q, nil, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("issue-token: response has no access_token")
	}
	return &out, nil
}

// Access performs a PoP-authenticated GET of resource and returns the raw
// JSON body.
func (c *Client) Access(ctx context.Context, resource, token, signature string) (json.RawMessage, error) {
	if resource == "" {
		resource = PathProtected
	}
	if !strings.HasPrefix(resource, "/") {
		resource = "/" + resource
	}

	var out json.RawMessage
	if err := c.do(ctx, "access", http.MethodGet, resource, nil, popHeaders(token, signature), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RotateToken exchanges token for a new one, proving possession with signature.
func (c *Client) RotateToken(ctx context.Context, token, signature string) (*TokenResponse, error) {
	var out TokenResponse
	if err := c.do(ctx, "rotate-token", http.MethodPost, PathRotateToken, nil, popHeaders(token, signature), &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("rotate-token: response has no access_token")
	}
	return &out, nil
}

// Challenge fetches a fresh nonce.
func (c *Client) Challenge(ctx context.Context) (*ChallengeResponse, error) {
	var out ChallengeResponse
	if err := c.do(ctx, "challenge", http.MethodGet, PathChallenge, nil, nil, &out); err != nil {
		return nil, err
	}
	if out.ChallengeID == "" || out.Nonce == "" {
		return nil, fmt.Errorf("challenge: response missing challenge_id or nonce")
	}
	return &out, nil
}

// VerifyChallenge submits a signed challenge response.
func (c *Client) VerifyChallenge(ctx context.Context, challengeID, signature, userID, deviceID string) (*MessageResponse, error) {
	q := url.Values{}
	q.Set(ParamChallengeID, challengeID)
	q.Set(ParamSignature, signature)
	q.Set(ParamUserID, userID)
	q.Set(ParamDeviceID, deviceID)

	var out MessageResponse
	if err := c.do(ctx, "challenge-verify", http.MethodPost, PathChallengeVerify, q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func popHeaders(token, signature string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	h.Set(HeaderPoPSignature, signature)
	return h
}

// do sends one request. Transport failures wrap poperr.ErrNetwork; non-2xx
// responses return *APIError.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, headers http.Header, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", poperr.ErrNetwork, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("%w: %s: read response: %v", poperr.ErrNetwork, op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseAPIError(op, resp, body)
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
