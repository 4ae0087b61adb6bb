package credential

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/groot1121/secure-token-gateway/pkg/store"
)

// ErrInvalidIdentity indicates an identity with an empty field.
var ErrInvalidIdentity = errors.New("user_id and device_id are required")

// Identity names one registered device. It does not change once
// registration succeeds; a new device_id orphans the registered key.
type Identity struct {
	UserID   string `json:"user_id" yaml:"user_id"`
	DeviceID string `json:"device_id" yaml:"device_id"`
}

// Validate checks both fields are set.
func (id Identity) Validate() error {
	if id.UserID == "" || id.DeviceID == "" {
		return ErrInvalidIdentity
	}
	return nil
}

func (id Identity) String() string {
	return id.UserID + "/" + id.DeviceID
}

// SaveIdentity persists id under the device_identity record.
func SaveIdentity(s store.Store, id Identity) error {
	if err := id.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}
	if err := s.Set(store.KeyDeviceIdentity, data); err != nil {
		return fmt.Errorf("persist identity: %w", err)
	}
	return nil
}

// LoadIdentity reads the registered identity. Returns store.ErrNotFound if
// the device has never registered.
func LoadIdentity(s store.Store) (Identity, error) {
	data, err := s.Get(store.KeyDeviceIdentity)
	if err != nil {
		return Identity{}, err
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return Identity{}, fmt.Errorf("decode identity: %w", err)
	}
	if err := id.Validate(); err != nil {
		return Identity{}, fmt.Errorf("decode identity: %w", err)
	}
	return id, nil
}

// DeleteIdentity forgets the registered identity.
func DeleteIdentity(s store.Store) error {
	return s.Delete(store.KeyDeviceIdentity)
}
