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

package messaging

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoLocalKeys is returned by operations that require an existing
	// local key pair. Key generation is a deliberate, backup-aware user
	// action and is never performed implicitly.
	ErrNoLocalKeys = errors.New("messaging: no local encryption keys")

	// ErrRegenerationInProgress guards key regeneration against concurrent
	// re-entry.
	ErrRegenerationInProgress = errors.New("messaging: key regeneration already in progress")

	// ErrNoParticipants is returned when an encrypted send targets a chat
	// with no participants: there is nobody to wrap a content key for.
	ErrNoParticipants = errors.New("messaging: chat has no participants to encrypt for")
)

// PartialEncryptionError is returned by the send path when encryption was
// requested but some participants have no published public key. The caller
// must explicitly resend with ForceUnencrypted or cancel; the coordinator
// never downgrades on its own.
type PartialEncryptionError struct {
	// Missing lists participants without a resolvable public key.
	Missing []string

	// Ready lists participants whose keys are available.
	Ready []string
}

func (e *PartialEncryptionError) Error() string {
	return fmt.Sprintf("messaging: cannot encrypt for all participants, missing keys for: %s",
		strings.Join(e.Missing, ", "))
}
