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

var keygenForce bool

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate and store a new key pair",
	Long: `Generate a fresh RSA key pair for the user and store it encrypted
at rest in the local key store.

Generating over an existing pair is destructive: messages encrypted to
the old public key become permanently unreadable. Use --force to
confirm replacement.`,
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

		ctx := cmd.Context()
		has, err := store.HasKeys(ctx, userID)
		if err != nil {
			handleError(err)
		}
		if has && !keygenForce {
			handleError(fmt.Errorf("user %s already has keys; pass --force to replace them", userID))
		}

		keyPair, err := engine.GenerateKeyPair()
		if err != nil {
			handleError(err)
		}
		if err := store.StoreKeyPair(ctx, userID, keyPair); err != nil {
			handleError(err)
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

func init() {
	keygenCmd.Flags().BoolVar(&keygenForce, "force", false,
		"replace an existing key pair")
}
