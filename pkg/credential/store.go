// Package credential holds the device's single current access token.
//
// There is at most one current token. Set and CompareAndSwap replace it
// atomically, after decoding and validating its claims, so readers never
// observe a half-updated slot or a token whose claims cannot be derived.
package credential

import (
	"errors"
	"fmt"
	"sync"

	"github.com/groot1121/secure-token-gateway/pkg/codec"
	"github.com/groot1121/secure-token-gateway/pkg/store"
)

// ErrStale indicates a compare-and-swap lost to a newer token.
var ErrStale = errors.New("credential changed concurrently")

// Store is the current-token slot. The zero value is not usable; use New or Open.
type Store struct {
	mu      sync.RWMutex
	token   string
	claims  *codec.Claims
	backing store.Store
}

// New returns an empty, memory-only slot.
func New() *Store {
	return &Store{}
}

// Open returns a slot persisted through backing, loading any saved token.
// A saved token that no longer decodes is discarded.
func Open(backing store.Store) (*Store, error) {
	s := &Store{backing: backing}

	data, err := backing.Get(store.KeyAccessToken)
	if store.IsNotFound(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}

	claims, err := decode(string(data))
	if err != nil {
		if derr := backing.Delete(store.KeyAccessToken); derr != nil {
			return nil, fmt.Errorf("discard unreadable token: %w", derr)
		}
		return s, nil
	}
	s.token, s.claims = string(data), claims
	return s, nil
}

func decode(token string) (*codec.Claims, error) {
	claims, err := codec.DecodeClaims(token)
	if err != nil {
		return nil, err
	}
	if err := claims.Validate(); err != nil {
		return nil, err
	}
	return claims, nil
}

// Get returns the current token and its claims. ok is false if no token is held.
func (s *Store) Get() (token string, claims *codec.Claims, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", nil, false
	}
	c := *s.claims
	return s.token, &c, true
}

// Token returns the current token, or "" if none is held.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Set replaces the current token. The token must decode to valid claims;
// otherwise the slot is left unchanged.
func (s *Store) Set(token string) error {
	claims, err := decode(token)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaceLocked(token, claims)
}

// CompareAndSwap replaces the token only if the current token is still old.
// Returns ErrStale if another writer replaced it first.
func (s *Store) CompareAndSwap(old, token string) error {
	claims, err := decode(token)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != old {
		return ErrStale
	}
	return s.replaceLocked(token, claims)
}

func (s *Store) replaceLocked(token string, claims *codec.Claims) error {
	if s.backing != nil {
		if err := s.backing.Set(store.KeyAccessToken, []byte(token)); err != nil {
			return fmt.Errorf("persist token: %w", err)
		}
	}
	s.token, s.claims = token, claims
	return nil
}

// Clear drops the current token.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backing != nil {
		if err := s.backing.Delete(store.KeyAccessToken); err != nil {
			return fmt.Errorf("delete token: %w", err)
		}
	}
	s.token, s.claims = "", nil
	return nil
}
