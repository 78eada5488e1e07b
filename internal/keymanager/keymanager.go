// Package keymanager owns the master key material for the evidence
// ledger. It is an explicit object injected into every component that
// needs keys; there is no package-level key state. Rotation is an
// exclusive operation: readers of Current block for its duration.
package keymanager

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/attestra/attestra/internal/cryptoutil"
)

// ErrNoKeyMaterial is returned by stores that have never been initialized.
var ErrNoKeyMaterial = errors.New("no key material stored")

// Store persists the master secret and salt. The ledger's metadata
// table implements this; callers never see the raw material.
type Store interface {
	LoadKeyMaterial() (secret, salt []byte, err error)
	SaveKeyMaterial(secret, salt []byte) error
}

// Manager holds the currently derived keys and serializes rotation.
type Manager struct {
	mu     sync.RWMutex
	store  Store
	logger *slog.Logger

	secret []byte
	salt   []byte
	keys   cryptoutil.Keys
}

// Open loads existing key material from store, or generates and persists
// fresh material on first use. An optional passphrase replaces the random
// master secret so keys can be re-derived from user input.
func Open(store Store, passphrase []byte, logger *slog.Logger) (*Manager, error) {
	secret, salt, err := store.LoadKeyMaterial()
	switch {
	case errors.Is(err, ErrNoKeyMaterial):
		secret, salt, err = newMaterial(passphrase)
		if err != nil {
			return nil, err
		}
		if err := store.SaveKeyMaterial(secret, salt); err != nil {
			return nil, fmt.Errorf("persisting key material: %w", err)
		}
		logger.Info("generated new key material")
	case err != nil:
		return nil, fmt.Errorf("loading key material: %w", err)
	}

	keys, err := cryptoutil.DeriveKeys(secret, salt)
	if err != nil {
		return nil, err
	}
	return &Manager{store: store, logger: logger, secret: secret, salt: salt, keys: keys}, nil
}

// Current returns the derived keys. Safe for concurrent use; blocks
// while a rotation is in flight.
func (m *Manager) Current() cryptoutil.Keys {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keys
}

// Rotate generates new material, derives new keys, and hands both the
// new keys and the persistence step to reencrypt. The callback must
// re-encrypt every ciphertext and persist the new secret+salt within a
// single storage transaction; only if it returns nil does the manager
// swap its in-memory state. On error nothing changes.
func (m *Manager) Rotate(passphrase []byte, reencrypt func(newKeys cryptoutil.Keys, secret, salt []byte) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	secret, salt, err := newMaterial(passphrase)
	if err != nil {
		return err
	}
	keys, err := cryptoutil.DeriveKeys(secret, salt)
	if err != nil {
		return err
	}
	if err := reencrypt(keys, secret, salt); err != nil {
		return fmt.Errorf("rotation aborted: %w", err)
	}

	m.secret, m.salt, m.keys = secret, salt, keys
	m.logger.Info("encryption key rotated")
	return nil
}

func newMaterial(passphrase []byte) (secret, salt []byte, err error) {
	if len(passphrase) > 0 {
		secret = append([]byte(nil), passphrase...)
	} else {
		secret, err = cryptoutil.NewSecret()
		if err != nil {
			return nil, nil, err
		}
	}
	salt, err = cryptoutil.NewSalt()
	if err != nil {
		return nil, nil, err
	}
	return secret, salt, nil
}
