package codec

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/groot1121/secure-token-gateway/pkg/poperr"
)

// Base64Encode encodes data with the standard, padded alphabet.
// Used for PoP signatures and challenge nonces.
func Base64Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Base64Decode decodes standard, padded base64.
func Base64Decode(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return b, nil
}

// EncodeSegment encodes a token segment as unpadded base64url.
func EncodeSegment(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeSegment decodes a base64url token segment. The segment is translated
// to the standard alphabet and padded to a multiple of four before decoding,
// so both padded and unpadded producers are accepted.
func DecodeSegment(seg string) ([]byte, error) {
	std := URLToStd(seg)
	b, err := base64.StdEncoding.DecodeString(std)
	if err != nil {
		return nil, fmt.Errorf("%w: segment is not base64url: %v", poperr.ErrMalformedToken, err)
	}
	return b, nil
}

// URLToStd rewrites a base64url string into the padded standard alphabet:
// '-' becomes '+', '_' becomes '/', and '=' is appended to a multiple of four.
func URLToStd(seg string) string {
	s := strings.NewReplacer("-", "+", "_", "/").Replace(seg)
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	return s
}
