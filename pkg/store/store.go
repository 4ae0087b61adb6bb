package store

import (
	"errors"
	"fmt"
)

// Record names shared by every backend.
const (
	KeyDeviceIdentity = "device_identity"
	KeyPrivateKey     = "private_key"
	KeyPublicKeyPEM   = "public_key_pem"
	KeyAccessToken    = "access_token"
)

var (
	// ErrNotFound indicates the record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidPermissions indicates a record file is readable by other users.
	// On Unix: file mode must be 0600
	// On Windows: file must not be accessible to Everyone, Users, or Authenticated Users
	ErrInvalidPermissions = errors.New("insecure file permissions: file accessible to other users")

	// ErrInvalidKey indicates a record name that cannot be stored safely.
	ErrInvalidKey = errors.New("invalid record name")
)

// Store is a key-value store for device state.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value of key, or ErrNotFound.
	Get(key string) ([]byte, error)

	// Set replaces the value of key.
	Set(key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error

	// Path returns where the store lives (for display purposes).
	Path() string
}

// IsNotFound returns true if err reports a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsPermissionError returns true if the error is due to invalid permissions.
func IsPermissionError(err error) bool {
	return errors.Is(err, ErrInvalidPermissions)
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	for _, r := range key {
		ok := r == '_' || r == '-' || r == '.' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	if key == "." || key == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// Open opens the store backend by name ("file" or "sqlite") rooted at dir.
func Open(backend, dir string) (Store, error) {
	switch backend {
	case "", "file":
		return NewFileStore(dir), nil
	case "sqlite":
		return OpenSQLite(SQLitePath(dir))
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
