package gatewaytest

import (
	"crypto/rand"
	"net/http"
	"strings"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/groot1121/secure-token-gateway/pkg/codec"
	"github.com/groot1121/secure-token-gateway/pkg/gateway"
	"github.com/groot1121/secure-token-gateway/pkg/keys"
	"github.com/groot1121/secure-token-gateway/pkg/pop"
)

var errInvalidToken = echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")

// missingField mimics the validation error body for an absent parameter.
func missingField(location, name string) error {
	return echo.NewHTTPError(http.StatusUnprocessableEntity, []map[string]any{{
		"loc":  []string{location, name},
		"msg":  "field required",
		"type": "value_error.missing",
	}})
}

func requireQuery(c echo.Context, names ...string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	for _, name := range names {
		v := c.QueryParam(name)
		if v == "" {
			return nil, missingField("query", name)
		}
		out[name] = v
	}
	return out, nil
}

func (s *Server) registerDevice(c echo.Context) error {
	q, err := requireQuery(c, gateway.ParamUserID, gateway.ParamDeviceID, gateway.ParamPublicKey)
	if err != nil {
		return err
	}
	pemText := q[gateway.ParamPublicKey]
	if _, err := keys.ParsePublicKeyPEM(pemText); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid public key")
	}

	s.mu.Lock()
	s.devices[deviceKey{q[gateway.ParamUserID], q[gateway.ParamDeviceID]}] = pemText
	s.mu.Unlock()

	return c.JSON(http.StatusOK, gateway.MessageResponse{Message: "Device registered successfully"})
}

func (s *Server) issueToken(c echo.Context) error {
	q, err := requireQuery(c, gateway.ParamUserID, gateway.ParamDeviceID)
	if err != nil {
		return err
	}
	dk := deviceKey{q[gateway.ParamUserID], q[gateway.ParamDeviceID]}

	s.mu.Lock()
	pemText, ok := s.devices[dk]
	s.mu.Unlock()
	if !ok {
		return echo.NewHTTPError(http.StatusForbidden, "Device not registered")
	}

	token, err := s.mint(dk, pemText)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, gateway.TokenResponse{AccessToken: token})
}

func (s *Server) protected(c echo.Context) error {
	claims, err := s.authenticate(c)
	if err != nil {
		return err
	}
	if err := verifyPoP(c, claims, pop.KindAccess); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message":  "Access granted",
		"user":     claims.Subject,
		"resource": c.Request().URL.Path,
	})
}

func (s *Server) rotateToken(c echo.Context) error {
	claims, err := s.authenticate(c)
	if err != nil {
		return err
	}
	if err := verifyPoP(c, claims, pop.KindRotate); err != nil {
		return err
	}
	if s.rotateHook != nil {
		s.rotateHook()
	}

	dk := deviceKey{claims.Subject, claims.DeviceID}
	s.mu.Lock()
	current := s.active[dk]
	s.mu.Unlock()
	if current != claims.JTI {
		return errInvalidToken
	}

	token, err := s.mint(dk, claims.Confirmation.PublicKey)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, gateway.TokenResponse{AccessToken: token, Message: "Token rotated successfully"})
}

func (s *Server) challenge(c echo.Context) error {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	resp := gateway.ChallengeResponse{
		ChallengeID: uuid.NewString(),
		Nonce:       codec.Base64Encode(nonce),
	}

	s.mu.Lock()
	s.challenges[resp.ChallengeID] = challengeEntry{nonce: resp.Nonce, expires: s.now().Add(s.challengeTTL)}
	s.mu.Unlock()

	return c.JSON(http.StatusOK, resp)
}

func (s *Server) verifyChallenge(c echo.Context) error {
	q, err := requireQuery(c, gateway.ParamChallengeID, gateway.ParamSignature, gateway.ParamUserID, gateway.ParamDeviceID)
	if err != nil {
		return err
	}
	id := q[gateway.ParamChallengeID]

	s.mu.Lock()
	entry, ok := s.challenges[id]
	if ok && !s.now().Before(entry.expires) {
		delete(s.challenges, id)
		ok = false
	}
	pemText, registered := s.devices[deviceKey{q[gateway.ParamUserID], q[gateway.ParamDeviceID]}]
	s.mu.Unlock()

	if !ok {
		return echo.NewHTTPError(http.StatusForbidden, "Challenge expired")
	}
	if !registered {
		return echo.NewHTTPError(http.StatusForbidden, "Device not registered")
	}

	msg, err := pop.CanonicalMessage(pop.KindChallenge, id, entry.nonce)
	if err != nil {
		return echo.NewHTTPError(http.StatusForbidden, "Invalid response")
	}
	if err := checkSignature(pemText, msg, q[gateway.ParamSignature]); err != nil {
		return echo.NewHTTPError(http.StatusForbidden, "Invalid response")
	}

	s.mu.Lock()
	_, still := s.challenges[id]
	delete(s.challenges, id)
	s.mu.Unlock()
	if !still {
		return echo.NewHTTPError(http.StatusForbidden, "Challenge expired")
	}
	return c.JSON(http.StatusOK, gateway.MessageResponse{Message: "Challenge verified successfully"})
}

// mint issues a token for dk and makes it the device's only active token.
func (s *Server) mint(dk deviceKey, publicKeyPEM string) (string, error) {
	now := s.now()
	claims := codec.Claims{
		Subject:      dk.userID,
		DeviceID:     dk.deviceID,
		JTI:          uuid.NewString(),
		IssuedAt:     now.Unix(),
		ExpiresAt:    now.Add(s.lifetime).Unix(),
		Confirmation: &codec.Confirmation{PublicKey: publicKeyPEM},
	}
	token, err := jwt.Signed(s.signer).Claims(claims).Serialize()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.active[dk] = claims.JTI
	s.mu.Unlock()
	return token, nil
}

// authenticate verifies the bearer token signature, expiry and that its jti
// is the device's active one.
func (s *Server) authenticate(c echo.Context) (*codec.Claims, error) {
	raw, ok := strings.CutPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
	if !ok || raw == "" {
		return nil, echo.NewHTTPError(http.StatusForbidden, "Not authenticated")
	}

	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		return nil, errInvalidToken
	}
	var claims codec.Claims
	if err := tok.Claims(&s.signingKey.PublicKey, &claims); err != nil {
		return nil, errInvalidToken
	}
	if claims.Validate() != nil || claims.Confirmation == nil || claims.Expired(s.now()) {
		return nil, errInvalidToken
	}

	s.mu.Lock()
	active := s.active[deviceKey{claims.Subject, claims.DeviceID}]
	s.mu.Unlock()
	if active != claims.JTI {
		return nil, errInvalidToken
	}
	return &claims, nil
}

// verifyPoP checks X-Pop-Signature over the canonical message for kind and
// the token's own jti, against the key bound in cnf.pk.
func verifyPoP(c echo.Context, claims *codec.Claims, kind pop.Kind) error {
	sig := c.Request().Header.Get(gateway.HeaderPoPSignature)
	if sig == "" {
		return missingField("header", strings.ToLower(gateway.HeaderPoPSignature))
	}
	msg, err := pop.CanonicalMessage(kind, claims.JTI)
	if err != nil {
		return errInvalidToken
	}
	if err := checkSignature(claims.Confirmation.PublicKey, msg, sig); err != nil {
		return echo.NewHTTPError(http.StatusForbidden, "PoP verification failed")
	}
	return nil
}

func checkSignature(publicKeyPEM string, message []byte, signature string) error {
	pub, err := keys.ParsePublicKeyPEM(publicKeyPEM)
	if err != nil {
		return err
	}
	raw, err := codec.Base64Decode(signature)
	if err != nil {
		return err
	}
	return keys.VerifySignature(pub, message, raw)
}
