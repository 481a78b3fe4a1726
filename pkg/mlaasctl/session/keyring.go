package session

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
	"go.uber.org/zap"
)

const (
	KeyringService = "mlaasctl"
	KeyringUser    = "session"
)

// KeyringStore keeps the encoded session in the OS keychain.
type KeyringStore struct {
	Service string
	User    string
	Log     *zap.SugaredLogger
}

func NewKeyringStore(log *zap.SugaredLogger) *KeyringStore {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &KeyringStore{Service: KeyringService, User: KeyringUser, Log: log}
}

func (k *KeyringStore) Load() (*Session, error) {
	data, err := keyring.Get(k.Service, k.User)
	if err != nil {
		if !errors.Is(err, keyring.ErrNotFound) {
			k.Log.Debugw("Keychain session unavailable, ignoring", "error", err)
		}
		return nil, nil
	}
	s, err := Decode([]byte(data))
	if err != nil {
		k.Log.Debugw("Keychain session invalid, ignoring", "error", err)
		return nil, nil
	}
	return s, nil
}

func (k *KeyringStore) Save(s *Session) error {
	content, err := Encode(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := keyring.Set(k.Service, k.User, string(content)); err != nil {
		return fmt.Errorf("failed to store session in keychain: %w", err)
	}
	return nil
}

func (k *KeyringStore) Delete() error {
	if err := keyring.Delete(k.Service, k.User); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete keychain session: %w", err)
	}
	return nil
}
