package keys

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"

	"github.com/groot1121/secure-token-gateway/pkg/codec"
	"github.com/groot1121/secure-token-gateway/pkg/poperr"
)

// KeyBits is the RSA modulus size the gateway verifier expects.
const KeyBits = 2048

// Handle is a signing capability. It can sign, it cannot reveal key bytes.
type Handle interface {
	// Sign returns an RSASSA-PKCS1-v1_5 SHA-256 signature over message.
	Sign(message []byte) ([]byte, error)
}

// KeyPair is the device keypair: an opaque private handle plus exportable
// public key material.
type KeyPair struct {
	Handle       Handle
	PublicKey    *rsa.PublicKey
	PublicKeyPEM string
}

// Fingerprint returns the SHA-256 fingerprint of the public key.
func (kp *KeyPair) Fingerprint() string {
	return Fingerprint(kp.PublicKey)
}

type rsaHandle struct {
	key *rsa.PrivateKey
}

func (h *rsaHandle) Sign(message []byte) ([]byte, error) {
	if h == nil || h.key == nil {
		return nil, fmt.Errorf("%w: no private key", poperr.ErrKeyUnavailable)
	}
	digest := sha256.Sum256(message)
	sig, err := rsa.SignPKCS1v15(rand.Reader, h.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", poperr.ErrSigningFailed, err)
	}
	return sig, nil
}

// String never prints key material.
func (h *rsaHandle) String() string {
	return "rsa-handle"
}

// generateKey creates a new RSA private key using crypto/rand.
func generateKey(bits int) (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key pair: %w", err)
	}
	return key, nil
}

func newKeyPair(key *rsa.PrivateKey) (*KeyPair, error) {
	pemText, err := MarshalPublicKeyPEM(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	return &KeyPair{
		Handle:       &rsaHandle{key: key},
		PublicKey:    &key.PublicKey,
		PublicKeyPEM: pemText,
	}, nil
}

// MarshalPublicKeyPEM encodes an RSA public key as SPKI "PUBLIC KEY" PEM.
func MarshalPublicKeyPEM(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return codec.ToPEM(der, codec.LabelPublicKey), nil
}

// ParsePublicKeyPEM parses an RSA public key from SPKI "PUBLIC KEY" PEM.
func ParsePublicKeyPEM(text string) (*rsa.PublicKey, error) {
	der, err := codec.FromPEMLabel(text, codec.LabelPublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PEM block: %w", err)
	}
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PKIX public key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("key is not RSA: got %T", key)
	}
	return rsaKey, nil
}

func marshalPrivateKeyPEM(key *rsa.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("marshal private key: %w", err)
	}
	return codec.ToPEM(der, codec.LabelPrivateKey), nil
}

// parsePrivateKeyPEM parses a PKCS#8 RSA private key. Errors never contain
// key material.
func parsePrivateKeyPEM(text string) (*rsa.PrivateKey, error) {
	der, err := codec.FromPEMLabel(text, codec.LabelPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PEM block: %w", err)
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PKCS#8 private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key is not RSA: only RSA keys are supported")
	}
	if err := rsaKey.Validate(); err != nil {
		return nil, fmt.Errorf("invalid RSA key: %w", err)
	}
	return rsaKey, nil
}

// Fingerprint computes the SHA-256 fingerprint of a public key's SPKI DER.
// Returns a lowercase hex string (64 characters), or "" for a nil key.
func Fingerprint(pub *rsa.PublicKey) string {
	if pub == nil {
		return ""
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}

// VerifySignature checks an RSASSA-PKCS1-v1_5 SHA-256 signature.
func VerifySignature(pub *rsa.PublicKey, message, signature []byte) error {
	digest := sha256.Sum256(message)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], signature)
}
