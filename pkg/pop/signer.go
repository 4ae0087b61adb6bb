package pop

import (
	"errors"
	"fmt"

	"github.com/groot1121/secure-token-gateway/pkg/codec"
	"github.com/groot1121/secure-token-gateway/pkg/keys"
	"github.com/groot1121/secure-token-gateway/pkg/poperr"
)

// HandleSource yields the current signing capability. keys.Custodian
// satisfies it.
type HandleSource interface {
	Handle() (keys.Handle, error)
}

// Signer produces base64 (standard alphabet) PoP signatures.
type Signer struct {
	keys HandleSource
}

// NewSigner creates a signer backed by src.
func NewSigner(src HandleSource) *Signer {
	return &Signer{keys: src}
}

// Sign signs message with the device key. The key handle is resolved on
// every call so a reset key is never used.
func (s *Signer) Sign(message []byte) (string, error) {
	if s == nil || s.keys == nil {
		return "", fmt.Errorf("%w: no key source", poperr.ErrKeyUnavailable)
	}
	h, err := s.keys.Handle()
	if err != nil {
		return "", err
	}
	sig, err := h.Sign(message)
	if err != nil {
		if errors.Is(err, poperr.ErrKeyUnavailable) || errors.Is(err, poperr.ErrSigningFailed) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", poperr.ErrSigningFailed, err)
	}
	return codec.Base64Encode(sig), nil
}

// SignOperation canonicalizes kind/params and signs the result.
func (s *Signer) SignOperation(kind Kind, params ...string) (string, error) {
	msg, err := CanonicalMessage(kind, params...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", poperr.ErrSigningFailed, err)
	}
	return s.Sign(msg)
}

// SignForToken signs an access or rotate message bound to the jti of token.
// The jti is decoded from token on every call and never cached: it changes
// with each rotation.
func (s *Signer) SignForToken(kind Kind, token string) (jti, signature string, err error) {
	if kind != KindAccess && kind != KindRotate {
		return "", "", fmt.Errorf("%w: %s is not bound to a token", poperr.ErrSigningFailed, kind)
	}
	if token == "" {
		return "", "", poperr.ErrNoCurrentToken
	}
	claims, err := codec.DecodeClaims(token)
	if err != nil {
		return "", "", err
	}
	if claims.JTI == "" {
		return "", "", fmt.Errorf("%w: token has no jti", poperr.ErrNoCurrentToken)
	}
	sig, err := s.SignOperation(kind, claims.JTI)
	if err != nil {
		return "", "", err
	}
	return claims.JTI, sig, nil
}
