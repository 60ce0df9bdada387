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

import "errors"

var (
	// ErrStorage indicates an underlying local persistence failure. Callers
	// are expected to treat "no keys" and "storage broken" similarly and
	// prompt the user to regenerate or restore.
	ErrStorage = errors.New("keystore: storage failure")

	// ErrVerificationFailed indicates a stored record could not be read back
	// and decrypted immediately after writing.
	ErrVerificationFailed = errors.New("keystore: stored record failed read-back verification")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("keystore: store is closed")
)
