package codec

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/groot1121/secure-token-gateway/pkg/poperr"
)

// Confirmation is the cnf claim binding a token to the device public key.
type Confirmation struct {
	PublicKey string `json:"pk,omitempty"`
}

// Claims are the locally decoded, unverified claims of an access token.
type Claims struct {
	Subject      string        `json:"sub,omitempty"`
	DeviceID     string        `json:"device_id,omitempty"`
	JTI          string        `json:"jti,omitempty"`
	IssuedAt     int64         `json:"iat"`
	ExpiresAt    int64         `json:"exp"`
	Confirmation *Confirmation `json:"cnf,omitempty"`

	// Raw is the decoded claims segment exactly as it appeared in the token.
	Raw []byte `json:"-"`
}

// Lifetime returns exp - iat.
func (c *Claims) Lifetime() time.Duration {
	return time.Duration(c.ExpiresAt-c.IssuedAt) * time.Second
}

// IssuedAtTime returns iat as a time.Time.
func (c *Claims) IssuedAtTime() time.Time {
	return time.Unix(c.IssuedAt, 0)
}

// ExpiresAtTime returns exp as a time.Time.
func (c *Claims) ExpiresAtTime() time.Time {
	return time.Unix(c.ExpiresAt, 0)
}

// Expired reports whether the token is past its expiry at now.
func (c *Claims) Expired(now time.Time) bool {
	return now.Unix() >= c.ExpiresAt
}

// Validate checks the structural invariants the agent relies on:
// a non-empty jti and exp strictly after iat.
func (c *Claims) Validate() error {
	if c.JTI == "" {
		return fmt.Errorf("%w: missing jti claim", poperr.ErrMalformedToken)
	}
	if c.ExpiresAt <= c.IssuedAt {
		return fmt.Errorf("%w: exp %d not after iat %d", poperr.ErrMalformedToken, c.ExpiresAt, c.IssuedAt)
	}
	return nil
}

// SplitToken splits a compact token into its header, claims and signature
// segments.
func SplitToken(token string) (header, claims, signature string, err error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("%w: expected 3 segments, got %d", poperr.ErrMalformedToken, len(parts))
	}
	return parts[0], parts[1], parts[2], nil
}

// DecodeClaims decodes the claims segment of a compact three-part token.
// The signature segment is not verified.
func DecodeClaims(token string) (*Claims, error) {
	_, seg, _, err := SplitToken(token)
	if err != nil {
		return nil, err
	}

	payload, err := DecodeSegment(seg)
	if err != nil {
		return nil, err
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: claims are not valid JSON: %v", poperr.ErrMalformedToken, err)
	}
	claims.Raw = payload
	return &claims, nil
}
