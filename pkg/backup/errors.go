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

package backup

import "errors"

var (
	// ErrNotAuthenticated is returned when no user is signed in.
	ErrNotAuthenticated = errors.New("backup: not authenticated")

	// ErrRestoreFailed is returned when a backup exists but cannot be
	// decrypted with the supplied secret. Distinct from the no-backup case,
	// which RestoreKeys reports as (nil, nil).
	ErrRestoreFailed = errors.New("backup: restore failed, wrong password or passphrase")

	// ErrPassphraseTooShort is returned by ValidatePassphrase for
	// passphrases under the minimum length.
	ErrPassphraseTooShort = errors.New("backup: passphrase must be at least 12 characters")

	// ErrPassphraseTooWeak is returned by ValidatePassphrase for
	// passphrases without a digit or special character.
	ErrPassphraseTooWeak = errors.New("backup: passphrase must contain at least one number or special character")

	// ErrNoCapturedSecret is returned by BackupWithCapturedSecret when no
	// captured login password is available.
	ErrNoCapturedSecret = errors.New("backup: no captured secret available")
)
