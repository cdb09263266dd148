package secretstore

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/zalando/go-keyring"
)

// KeyringStore delegates to the host OS credential manager (macOS
// Keychain, Windows Credential Manager, Secret Service on Linux) via
// zalando/go-keyring. Values are base64-encoded since the keyring stores
// strings, not arbitrary bytes.
type KeyringStore struct {
	Service string
}

func NewKeyringStore(service string) *KeyringStore {
	return &KeyringStore{Service: service}
}

func (s *KeyringStore) Store(ctx context.Context, key string, value []byte) error {
	return keyring.Set(s.Service, key, base64.StdEncoding.EncodeToString(value))
}

func (s *KeyringStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	encoded, err := keyring.Get(s.Service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	value, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}
