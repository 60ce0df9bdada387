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

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-e2ee/pkg/crypto/engine"
)

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint",
	Short: "Print the user's public key fingerprint",
	Long: `Print the public key fingerprint of the user's stored key pair.

Fingerprints are what two users compare over a trusted side channel to
verify they hold each other's real keys.`,
	Run: func(cmd *cobra.Command, args []string) {
		userID, err := requireUser()
		if err != nil {
			handleError(err)
		}
		cfg, err := loadConfig()
		if err != nil {
			handleError(err)
		}
		store, backend, err := openKeystore(cfg)
		if err != nil {
			handleError(err)
		}
		defer store.Close()
		defer backend.Close()

		keyPair, err := store.GetKeyPair(cmd.Context(), userID)
		if err != nil {
			handleError(err)
		}
		if keyPair == nil {
			handleError(fmt.Errorf("no keys stored for user %s", userID))
		}

		fingerprint, err := engine.PublicKeyFingerprint(keyPair.PublicKey)
		if err != nil {
			handleError(err)
		}

		printer := NewPrinter(flagOutput, os.Stdout)
		if err := printer.PrintFingerprint(userID, fingerprint); err != nil {
			handleError(err)
		}
	},
}
