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

package keystore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-e2ee/pkg/crypto/engine"
	"github.com/jeremyhahn/go-e2ee/pkg/storage"
	"github.com/jeremyhahn/go-e2ee/pkg/types"
)

// legacyNamings lists the key naming schemes used by earlier releases of the
// plaintext store, newest first.
var legacyNamings = []struct{ public, private string }{
	{public: "publicKey_", private: "privateKey_"},
	{public: "encryptionPublicKey_", private: "encryptionPrivateKey_"},
}

// MigrateFromLegacy moves a user's key pair from the attached legacy
// plaintext store into the encrypted store. It returns true only when a
// legacy pair was found, re-stored, verified retrievable and the legacy
// entries deleted. On any failure the legacy entries are left in place so a
// later attempt can retry; migration is never allowed to lose the only copy
// of a key.
//
// Users whose encrypted record already exists, or who have no legacy
// entries, are reported as (false, nil).
func (s *Store) MigrateFromLegacy(ctx context.Context, userID string) (bool, error) {
	if s.legacy == nil {
		return false, nil
	}

	release, err := s.locks.Acquire(ctx, userID)
	if err != nil {
		return false, err
	}
	defer release()

	// Already migrated.
	exists, err := s.backend.Exists(recordPrefix + userID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if exists {
		return false, nil
	}

	publicKey, privateKey, naming, found, err := s.findLegacyPair(userID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}

	// Validate before writing: a corrupt legacy pair must not become a
	// corrupt encrypted record.
	importedPublic, err := engine.ImportPublicKey(publicKey)
	if err != nil {
		s.logger.Warnf("keystore: legacy public key for user %s is unusable: %v", userID, err)
		return false, nil
	}
	importedPrivate, err := engine.ImportPrivateKey(privateKey)
	if err != nil {
		s.logger.Warnf("keystore: legacy private key for user %s is unusable: %v", userID, err)
		return false, nil
	}

	keyPair := &engine.KeyPair{PublicKey: importedPublic, PrivateKey: importedPrivate}
	if err := s.storeKeyPairLocked(userID, keyPair); err != nil {
		return false, err
	}

	// The keys just became available on this device; subscribers (cache
	// invalidation in particular) must hear about it.
	s.notifier.Publish(types.KeyEvent{UserID: userID, Action: types.KeyEventRestored})

	// The encrypted record is verified; only now is it safe to drop the
	// legacy copies.
	for _, key := range []string{naming.public + userID, naming.private + userID} {
		if err := s.legacy.Delete(key); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warnf("keystore: failed to delete legacy entry %s: %v", key, err)
		}
	}

	s.logger.Infof("keystore: migrated legacy key pair for user %s", userID)
	return true, nil
}

// findLegacyPair probes each legacy naming scheme for a complete pair.
func (s *Store) findLegacyPair(userID string) (publicKey, privateKey string, naming struct{ public, private string }, found bool, err error) {
	for _, candidate := range legacyNamings {
		publicData, pubErr := s.legacy.Get(candidate.public + userID)
		if errors.Is(pubErr, storage.ErrNotFound) {
			continue
		}
		if pubErr != nil {
			return "", "", naming, false, fmt.Errorf("%w: %v", ErrStorage, pubErr)
		}

		privateData, privErr := s.legacy.Get(candidate.private + userID)
		if errors.Is(privErr, storage.ErrNotFound) {
			// Half a pair is useless; keep probing older schemes.
			s.logger.Warnf("keystore: legacy store has %s%s but no matching private key", candidate.public, userID)
			continue
		}
		if privErr != nil {
			return "", "", naming, false, fmt.Errorf("%w: %v", ErrStorage, privErr)
		}

		return string(publicData), string(privateData), candidate, true, nil
	}
	return "", "", naming, false, nil
}
