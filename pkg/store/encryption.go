package store

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
)

const (
	// nonceSize is the size of the GCM nonce (12 bytes is standard for AES-GCM).
	nonceSize = 12
)

// sealedMagic prefixes every sealed value.
var sealedMagic = []byte("popseal1")

var (
	// ErrNoEncryptionKey indicates an empty secret was supplied.
	ErrNoEncryptionKey = errors.New("state encryption secret is empty")

	// ErrUnseal indicates a sealed record could not be decrypted, usually
	// because the secret changed.
	ErrUnseal = errors.New("sealed record could not be decrypted")
)

// SealedStore encrypts selected records with AES-256-GCM before they reach
// the backing store. The record name is bound as additional data, so a
// sealed value copied under another name does not open.
type SealedStore struct {
	inner  Store
	aead   cipher.AEAD
	sealed map[string]bool
}

// NewSealedStore wraps inner, sealing the named records with a key derived
// from secret. Other records pass through unchanged.
func NewSealedStore(inner Store, secret string, records ...string) (*SealedStore, error) {
	if secret == "" {
		return nil, ErrNoEncryptionKey
	}
	key := sha256.Sum256([]byte(secret))

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	s := &SealedStore{inner: inner, aead: gcm, sealed: make(map[string]bool, len(records))}
	for _, r := range records {
		s.sealed[r] = true
	}
	return s, nil
}

// Get returns the record, decrypting it if it is sealed. A plaintext value
// under a sealed name (written before sealing was enabled) is returned as
// is and sealed on the next Set.
func (s *SealedStore) Get(key string) ([]byte, error) {
	data, err := s.inner.Get(key)
	if err != nil || !s.sealed[key] || !bytes.HasPrefix(data, sealedMagic) {
		return data, err
	}

	data = data[len(sealedMagic):]
	if len(data) < nonceSize {
		return nil, fmt.Errorf("%w: %s: ciphertext too short", ErrUnseal, key)
	}
	plaintext, err := s.aead.Open(nil, data[:nonceSize], data[nonceSize:], []byte(key))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnseal, key)
	}
	return plaintext, nil
}

// Set writes the record, sealing it if its name was registered.
// Format: magic || nonce (12 bytes) || ciphertext.
func (s *SealedStore) Set(key string, value []byte) error {
	if !s.sealed[key] {
		return s.inner.Set(key, value)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	out := make([]byte, 0, len(sealedMagic)+nonceSize+len(value)+s.aead.Overhead())
	out = append(out, sealedMagic...)
	out = append(out, nonce...)
	out = s.aead.Seal(out, nonce, value, []byte(key))
	return s.inner.Set(key, out)
}

// Delete removes key from the backing store.
func (s *SealedStore) Delete(key string) error {
	return s.inner.Delete(key)
}

// Path returns the backing store's location.
func (s *SealedStore) Path() string {
	return s.inner.Path()
}

// Close closes the backing store if it holds resources.
func (s *SealedStore) Close() error {
	if c, ok := s.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
