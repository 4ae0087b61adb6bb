package keys

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/groot1121/secure-token-gateway/pkg/poperr"
	"github.com/groot1121/secure-token-gateway/pkg/store"
)

// Custodian generates, persists and reloads the device keypair.
// It is safe for concurrent use.
type Custodian struct {
	mu    sync.Mutex
	store store.Store
	bits  int
	log   *slog.Logger
	pair  *KeyPair
}

// Option configures a Custodian.
type Option func(*Custodian)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Custodian) {
		c.log = l
	}
}

// WithKeyBits overrides the RSA modulus size. Only tests should need this.
func WithKeyBits(bits int) Option {
	return func(c *Custodian) {
		c.bits = bits
	}
}

// NewCustodian creates a custodian persisting through s.
func NewCustodian(s store.Store, opts ...Option) *Custodian {
	c := &Custodian{
		store: s,
		bits:  KeyBits,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EnsureKeyPair returns the device keypair, generating and persisting it if
// no key material is stored yet. Calling it again without Reset returns the
// same key; it never rotates the device identity key.
func (c *Custodian) EnsureKeyPair() (*KeyPair, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pair, err := c.loadLocked()
	if err == nil {
		return pair, nil
	}
	if !store.IsNotFound(err) {
		return nil, err
	}

	key, err := generateKey(c.bits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", poperr.ErrKeyUnavailable, err)
	}
	pair, err = newKeyPair(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", poperr.ErrKeyUnavailable, err)
	}

	privPEM, err := marshalPrivateKeyPEM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", poperr.ErrKeyUnavailable, err)
	}

	// Private key first: a public key without its private half is useless.
	if err := c.store.Set(store.KeyPrivateKey, []byte(privPEM)); err != nil {
		return nil, fmt.Errorf("save private key: %w", err)
	}
	if err := c.store.Set(store.KeyPublicKeyPEM, []byte(pair.PublicKeyPEM)); err != nil {
		return nil, fmt.Errorf("save public key: %w", err)
	}

	c.log.Info("generated device keypair", "fingerprint", pair.Fingerprint(), "bits", c.bits)
	c.pair = pair
	return pair, nil
}

// Load returns the persisted keypair without generating one.
// Returns an error wrapping poperr.ErrKeyUnavailable if no usable key exists.
func (c *Custodian) Load() (*KeyPair, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pair, err := c.loadLocked()
	if store.IsNotFound(err) {
		return nil, fmt.Errorf("%w: no key material stored", poperr.ErrKeyUnavailable)
	}
	return pair, err
}

// loadLocked returns the cached or stored pair. A missing key surfaces as a
// store not-found error so EnsureKeyPair can tell it apart from corruption.
func (c *Custodian) loadLocked() (*KeyPair, error) {
	if c.pair != nil {
		return c.pair, nil
	}

	data, err := c.store.Get(store.KeyPrivateKey)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", poperr.ErrKeyUnavailable, err)
	}

	key, err := parsePrivateKeyPEM(string(data))
	if err != nil {
		return nil, fmt.Errorf("%w: stored private key is corrupt: %v", poperr.ErrKeyUnavailable, err)
	}
	pair, err := newKeyPair(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", poperr.ErrKeyUnavailable, err)
	}

	// The private key is authoritative; repair a missing or stale public record.
	stored, err := c.store.Get(store.KeyPublicKeyPEM)
	if err != nil || string(stored) != pair.PublicKeyPEM {
		if err := c.store.Set(store.KeyPublicKeyPEM, []byte(pair.PublicKeyPEM)); err != nil {
			return nil, fmt.Errorf("save public key: %w", err)
		}
		c.log.Warn("rewrote public key record from private key", "fingerprint", pair.Fingerprint())
	}

	c.pair = pair
	return pair, nil
}

// Handle returns the signing capability of the stored key.
func (c *Custodian) Handle() (Handle, error) {
	pair, err := c.Load()
	if err != nil {
		return nil, err
	}
	return pair.Handle, nil
}

// PublicKeyPEM returns the PEM-armored public key for registration.
func (c *Custodian) PublicKeyPEM() (string, error) {
	pair, err := c.Load()
	if err != nil {
		return "", err
	}
	return pair.PublicKeyPEM, nil
}

// HasKey reports whether usable key material is available.
func (c *Custodian) HasKey() bool {
	_, err := c.Load()
	return err == nil
}

// Reset deletes the stored key material. The next EnsureKeyPair generates a
// new key, which orphans any registration made with the old one.
func (c *Custodian) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pair = nil
	if err := c.store.Delete(store.KeyPrivateKey); err != nil {
		return fmt.Errorf("delete private key: %w", err)
	}
	if err := c.store.Delete(store.KeyPublicKeyPEM); err != nil {
		return fmt.Errorf("delete public key: %w", err)
	}
	return nil
}
