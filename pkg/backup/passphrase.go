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

import "unicode"

// MinPassphraseLength is the minimum length for a backup passphrase chosen
// by an SSO user.
const MinPassphraseLength = 12

// ValidatePassphrase enforces the passphrase policy for SSO users: at least
// MinPassphraseLength characters and at least one digit or special
// character. Account passwords are not validated here; the identity provider
// owns their policy.
func ValidatePassphrase(passphrase string) error {
	runes := []rune(passphrase)
	if len(runes) < MinPassphraseLength {
		return ErrPassphraseTooShort
	}
	for _, r := range runes {
		if unicode.IsDigit(r) || !unicode.IsLetter(r) {
			return nil
		}
	}
	return ErrPassphraseTooWeak
}
