// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-e2ee.
//
// go-e2ee is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package keystore provides durable, at-rest-encrypted local storage of one
// RSA key pair per user, with key lifecycle notifications and migration from
// a legacy plaintext store.
//
// The private key component of every record is encrypted with a key derived
// from the user ID and a device fingerprint (PBKDF2, 310,000 iterations,
// fresh salt and IV per write). This is defense-in-depth on top of the
// storage layer's isolation, not the primary security boundary.
//
// Writes are transactional in the verify-after-write sense: a record is only
// considered stored once it has been read back and decrypted successfully,
// so no partial or half-written state is ever observable by a reader.
// Concurrent writes for the same user are serialized by a per-user lock with
// a bounded wait.
package keystore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/jeremyhahn/go-e2ee/pkg/crypto/engine"
	"github.com/jeremyhahn/go-e2ee/pkg/logging"
	"github.com/jeremyhahn/go-e2ee/pkg/storage"
	"github.com/jeremyhahn/go-e2ee/pkg/types"
)

const (
	// recordPrefix namespaces stored key records within the backend.
	recordPrefix = "keys/"

	// recordVersion is the current StoredKeyRecord schema version.
	recordVersion = 1
)

// Store persists one encrypted key pair per user on top of a storage.Backend.
// All methods are safe for concurrent use.
type Store struct {
	backend           storage.Backend
	legacy            storage.Backend
	notifier          *Notifier
	locks             *KeyedLock
	deviceFingerprint string
	iterations        int
	logger            *logging.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLegacyBackend attaches the legacy plaintext store that
// MigrateFromLegacy reads from.
func WithLegacyBackend(legacy storage.Backend) Option {
	return func(s *Store) { s.legacy = legacy }
}

// WithDeviceFingerprint overrides the device fingerprint mixed into the
// record encryption key.
func WithDeviceFingerprint(fp string) Option {
	return func(s *Store) { s.deviceFingerprint = fp }
}

// WithIterations overrides the PBKDF2 iteration count for the device-binding
// layer.
func WithIterations(iterations int) Option {
	return func(s *Store) { s.iterations = iterations }
}

// WithLockTimeout overrides the per-user lock's bounded wait.
func WithLockTimeout(timeout time.Duration) Option {
	return func(s *Store) { s.locks = NewKeyedLock(timeout) }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore creates a key store over the given backend.
func NewStore(backend storage.Backend, opts ...Option) *Store {
	s := &Store{
		backend:           backend,
		notifier:          NewNotifier(),
		locks:             NewKeyedLock(DefaultLockTimeout),
		deviceFingerprint: defaultDeviceFingerprint(),
		iterations:        engine.DeviceIterations,
		logger:            logging.DefaultLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers a key lifecycle subscriber. Events are delivered
// exactly once, in emission order, until unsubscribe is called.
func (s *Store) Subscribe() (<-chan types.KeyEvent, func()) {
	return s.notifier.Subscribe()
}

// StoreKeyPair exports both halves of the key pair, encrypts the private key
// under the device-derived key with a fresh salt and IV, persists the record
// and verifies it is retrievable before announcing it to subscribers.
// Concurrent calls for the same user are serialized.
func (s *Store) StoreKeyPair(ctx context.Context, userID string, keyPair *engine.KeyPair) error {
	release, err := s.locks.Acquire(ctx, userID)
	if err != nil {
		return err
	}
	defer release()

	if err := s.storeKeyPairLocked(userID, keyPair); err != nil {
		return err
	}

	s.notifier.Publish(types.KeyEvent{UserID: userID, Action: types.KeyEventRestored})
	return nil
}

// storeKeyPairLocked performs the write with the per-user lock already held.
func (s *Store) storeKeyPairLocked(userID string, keyPair *engine.KeyPair) error {
	publicKey, err := engine.ExportPublicKey(keyPair.PublicKey)
	if err != nil {
		return err
	}
	privateKey, err := engine.ExportPrivateKey(keyPair.PrivateKey)
	if err != nil {
		return err
	}

	salt, err := engine.GenerateSalt()
	if err != nil {
		return err
	}
	derived, err := engine.DeriveKeyFromPassword(s.recordSecret(userID), salt, s.iterations)
	if err != nil {
		return err
	}
	encrypted, iv, err := engine.EncryptWithDerivedKey(privateKey, derived)
	if err != nil {
		return err
	}

	record := types.StoredKeyRecord{
		UserID:              userID,
		PublicKey:           publicKey,
		EncryptedPrivateKey: encrypted,
		PrivateKeyIV:        iv,
		PrivateKeySalt:      encodeSalt(salt),
		CreatedAt:           time.Now().UTC(),
		Version:             recordVersion,
	}

	data, err := json.Marshal(&record)
	if err != nil {
		return fmt.Errorf("keystore: failed to marshal record: %w", err)
	}
	if err := s.backend.Put(recordPrefix+userID, data); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	// Verify-after-write: the record only counts once it round-trips.
	if _, err := s.readKeyPair(userID); err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	s.logger.Debugf("keystore: stored key pair for user %s", userID)
	return nil
}

// GetKeyPair returns the user's key pair, or (nil, nil) if absent. A record
// that is present but cannot be decrypted or imported is deleted and reported
// as absent: a partially-usable key is never surfaced.
func (s *Store) GetKeyPair(ctx context.Context, userID string) (*engine.KeyPair, error) {
	keyPair, err := s.readKeyPair(userID)
	if err == nil {
		return keyPair, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if errors.Is(err, ErrStorage) {
		return nil, err
	}

	// Found but corrupt: fail safe by clearing the record.
	s.logger.Warnf("keystore: deleting corrupt key record for user %s: %v", userID, err)
	if delErr := s.backend.Delete(recordPrefix + userID); delErr != nil && !errors.Is(delErr, storage.ErrNotFound) {
		s.logger.MaybeError(delErr)
	}
	return nil, nil
}

// readKeyPair loads, decrypts and imports a stored record.
func (s *Store) readKeyPair(userID string) (*engine.KeyPair, error) {
	data, err := s.backend.Get(recordPrefix + userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	var record types.StoredKeyRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("keystore: failed to unmarshal record: %w", err)
	}

	salt, err := decodeSalt(record.PrivateKeySalt)
	if err != nil {
		return nil, fmt.Errorf("keystore: invalid record salt: %w", err)
	}
	derived, err := engine.DeriveKeyFromPassword(s.recordSecret(userID), salt, s.iterations)
	if err != nil {
		return nil, err
	}
	privateKeyString, err := engine.DecryptWithDerivedKey(record.EncryptedPrivateKey, derived, record.PrivateKeyIV)
	if err != nil {
		return nil, fmt.Errorf("keystore: failed to decrypt private key: %w", err)
	}

	privateKey, err := engine.ImportPrivateKey(privateKeyString)
	if err != nil {
		return nil, err
	}
	publicKey, err := engine.ImportPublicKey(record.PublicKey)
	if err != nil {
		return nil, err
	}

	return &engine.KeyPair{PublicKey: publicKey, PrivateKey: privateKey}, nil
}

// ClearKeys removes the user's key record. Idempotent; announces the clear to
// subscribers.
func (s *Store) ClearKeys(ctx context.Context, userID string) error {
	release, err := s.locks.Acquire(ctx, userID)
	if err != nil {
		return err
	}
	defer release()

	if err := s.backend.Delete(recordPrefix + userID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	s.notifier.Publish(types.KeyEvent{UserID: userID, Action: types.KeyEventCleared})
	return nil
}

// HasKeys reports whether a key record exists for the user.
func (s *Store) HasKeys(ctx context.Context, userID string) (bool, error) {
	exists, err := s.backend.Exists(recordPrefix + userID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return exists, nil
}

// ClearAllData wipes every record in the local store. Intended for testing
// and reset flows.
func (s *Store) ClearAllData(ctx context.Context) error {
	keys, err := s.backend.List("")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	for _, key := range keys {
		if err := s.backend.Delete(key); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %v", ErrStorage, err)
		}
	}
	return nil
}

// Close closes the notifier. The storage backends are owned by the caller.
func (s *Store) Close() error {
	s.notifier.Close()
	return nil
}

// recordSecret is the low-entropy input to the device-binding KDF.
func (s *Store) recordSecret(userID string) string {
	return userID + s.deviceFingerprint
}

// defaultDeviceFingerprint identifies this device for the record encryption
// key. Deliberately coarse: the KDF layer only needs to bind records to this
// host, the storage layer provides the actual isolation.
func defaultDeviceFingerprint() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}
	return hostname + "/" + runtime.GOOS + "/" + runtime.GOARCH
}

func encodeSalt(salt []byte) string {
	return base64.StdEncoding.EncodeToString(salt)
}

func decodeSalt(encoded string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(encoded)
}
