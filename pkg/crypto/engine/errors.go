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

package engine

import "errors"

var (
	// ErrMalformedKey indicates a key string failed structural validation
	// during import.
	ErrMalformedKey = errors.New("engine: malformed key")

	// ErrKeyMismatch indicates the fingerprint check failed before the AEAD
	// decrypt was attempted: the ciphertext is intact but the supplied
	// content key is not the one that produced it.
	ErrKeyMismatch = errors.New("engine: key fingerprint mismatch - wrong decryption key")

	// ErrDecryptionFailed indicates an AEAD tag or IV failure: the ciphertext
	// is corrupted, or the fingerprint check was bypassed and the key is wrong.
	ErrDecryptionFailed = errors.New("engine: decryption failed")

	// ErrPasswordIncorrect is the uniform failure for derived-key decryption.
	// An AEAD tag failure from a wrong password is indistinguishable from
	// corruption, so both report the same way.
	ErrPasswordIncorrect = errors.New("engine: decryption failed - password or passphrase may be incorrect")

	// ErrEmptyPassword indicates an empty password was supplied to key
	// derivation.
	ErrEmptyPassword = errors.New("engine: password cannot be empty")

	// ErrInvalidSalt indicates the salt does not meet the minimum length.
	ErrInvalidSalt = errors.New("engine: invalid salt")

	// ErrInvalidIterations indicates the PBKDF2 iteration count is below the
	// minimum.
	ErrInvalidIterations = errors.New("engine: invalid iterations")
)
