package codec

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groot1121/secure-token-gateway/pkg/poperr"
)

// buildToken assembles an unsigned compact token around the given claims JSON.
func buildToken(t *testing.T, claims []byte) string {
	t.Helper()
	header := EncodeSegment([]byte(`{"alg":"RS256","typ":"JWT"}`))
	return header + "." + EncodeSegment(claims) + "." + EncodeSegment([]byte("sig"))
}

func TestDecodeClaims(t *testing.T) {
	t.Parallel()
	t.Log("Decoding the claims segment of a well-formed token")

	raw := []byte(`{"sub":"user1","device_id":"deviceA","iat":1000,"exp":1600,"jti":"J1","cnf":{"pk":"PEM"}}`)
	claims, err := DecodeClaims(buildToken(t, raw))
	require.NoError(t, err)

	assert.Equal(t, "user1", claims.Subject)
	assert.Equal(t, "deviceA", claims.DeviceID)
	assert.Equal(t, "J1", claims.JTI)
	assert.Equal(t, int64(1000), claims.IssuedAt)
	assert.Equal(t, int64(1600), claims.ExpiresAt)
	require.NotNil(t, claims.Confirmation)
	assert.Equal(t, "PEM", claims.Confirmation.PublicKey)
	assert.Equal(t, raw, claims.Raw)
	assert.NoError(t, claims.Validate())
	assert.Equal(t, int64(600), int64(claims.Lifetime().Seconds()))
}

func TestDecodeClaimsSegmentRoundTrip(t *testing.T) {
	t.Parallel()
	t.Log("Re-encoding decoded claims reproduces the claims segment byte-for-byte")

	// Payloads chosen so the base64url form contains '-' and '_' and needs padding.
	payloads := []string{
		`{"jti":"a","iat":1,"exp":2}`,
		`{"jti":"~~~???>>>","iat":1,"exp":2}`,
		`{"jti":"ÿþý","iat":1700000000,"exp":1700000600,"sub":"u"}`,
		`{"jti":"xy","iat":0,"exp":100}`,
	}

	for _, p := range payloads {
		token := buildToken(t, []byte(p))
		_, seg, _, err := SplitToken(token)
		require.NoError(t, err)

		claims, err := DecodeClaims(token)
		require.NoError(t, err, "payload %s", p)
		assert.Equal(t, seg, EncodeSegment(claims.Raw), "payload %s", p)
	}
}

func TestDecodeClaimsAcceptsPaddedSegments(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"jti":"J","iat":1,"exp":5}`)
	seg := EncodeSegment(payload)
	padded := URLToStd(seg)
	padded = strings.NewReplacer("+", "-", "/", "_").Replace(padded)

	claims, err := DecodeClaims("h." + padded + ".s")
	require.NoError(t, err)
	assert.Equal(t, "J", claims.JTI)
}

func TestDecodeClaimsMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"one segment", "abc"},
		{"two segments", "abc.def"},
		{"four segments", "a.b.c.d"},
		{"bad base64", "a.!!!.c"},
		{"not json", "a." + EncodeSegment([]byte("not json")) + ".c"},
		{"json array", "a." + EncodeSegment([]byte(`[1,2]`)) + ".c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeClaims(tt.token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, poperr.ErrMalformedToken), "got %v", err)
		})
	}
}

func TestClaimsValidate(t *testing.T) {
	t.Parallel()

	assert.ErrorIs(t, (&Claims{IssuedAt: 1, ExpiresAt: 2}).Validate(), poperr.ErrMalformedToken)
	assert.ErrorIs(t, (&Claims{JTI: "j", IssuedAt: 5, ExpiresAt: 5}).Validate(), poperr.ErrMalformedToken)
	assert.ErrorIs(t, (&Claims{JTI: "j", IssuedAt: 6, ExpiresAt: 5}).Validate(), poperr.ErrMalformedToken)
	assert.NoError(t, (&Claims{JTI: "j", IssuedAt: 5, ExpiresAt: 6}).Validate())
}

func TestURLToStd(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "+/==", URLToStd("-/"))
	assert.Equal(t, "ab+/", URLToStd("ab-_"))
	assert.Equal(t, "abc=", URLToStd("abc"))
	assert.Equal(t, "", URLToStd(""))
}

func TestBase64AlphabetsAreDistinct(t *testing.T) {
	t.Parallel()
	t.Log("Standard and URL-safe encodings must differ for bytes that map to +/ and -_")

	data := []byte{0xfb, 0xff, 0xbf}
	std := Base64Encode(data)
	url := EncodeSegment(data)
	assert.Equal(t, "+/+/", std)
	assert.Equal(t, "-_-_", url)

	back, err := Base64Decode(std)
	require.NoError(t, err)
	assert.Equal(t, data, back)

	_, err = Base64Decode(url)
	assert.Error(t, err, "standard decoder must reject URL-safe input")
}

func TestPEMRoundTrip(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 47, 48, 49, 96, 294} {
		der := make([]byte, n)
		_, err := rand.Read(der)
		require.NoError(t, err)

		text := ToPEM(der, LabelPublicKey)
		back, label, err := FromPEM(text)
		require.NoError(t, err)
		assert.Equal(t, LabelPublicKey, label)
		assert.True(t, bytes.Equal(der, back), "round trip for %d bytes", n)
	}
}

func TestToPEMFraming(t *testing.T) {
	t.Parallel()
	t.Log("PEM body wraps at 64 columns between literal markers, no trailing newline")

	der := bytes.Repeat([]byte{0x01}, 100)
	text := ToPEM(der, LabelPublicKey)

	lines := strings.Split(text, "\n")
	require.GreaterOrEqual(t, len(lines), 3)
	assert.Equal(t, "-----BEGIN PUBLIC KEY-----", lines[0])
	assert.Equal(t, "-----END PUBLIC KEY-----", lines[len(lines)-1])
	assert.False(t, strings.HasSuffix(text, "\n"))

	body := lines[1 : len(lines)-1]
	for i, l := range body {
		if i < len(body)-1 {
			assert.Len(t, l, 64)
		} else {
			assert.LessOrEqual(t, len(l), 64)
		}
	}
	assert.Equal(t, Base64Encode(der), strings.Join(body, ""))
}

func TestFromPEMLabel(t *testing.T) {
	t.Parallel()

	text := ToPEM([]byte{1, 2, 3}, LabelPrivateKey)
	_, err := FromPEMLabel(text, LabelPublicKey)
	assert.Error(t, err)

	der, err := FromPEMLabel(text, LabelPrivateKey)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, der)

	_, _, err = FromPEM("garbage")
	assert.Error(t, err)
}

func TestClaimsJSONShape(t *testing.T) {
	t.Parallel()

	c := Claims{Subject: "u", DeviceID: "d", JTI: "j", IssuedAt: 1, ExpiresAt: 2, Raw: []byte("x")}
	b, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sub":"u","device_id":"d","jti":"j","iat":1,"exp":2}`, string(b))
}
