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
	"os"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-e2ee/pkg/crypto/engine"
	"github.com/jeremyhahn/go-e2ee/pkg/types"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run a key round-trip self-test",
	Long: `Check that the user's stored keys actually work: encrypt a probe
value with a fresh content key, wrap and unwrap that key through the
user's RSA pair, and decrypt. Distinguishes missing keys from present
but corrupt ones.`,
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

		printVerbose("AES hardware acceleration: %t", engine.HasAESNI())

		keyPair, err := store.GetKeyPair(cmd.Context(), userID)
		if err != nil {
			handleError(err)
		}

		report := &types.KeyHealthReport{Healthy: true}
		switch {
		case keyPair == nil:
			report = &types.KeyHealthReport{
				Healthy:        false,
				Error:          "no local encryption keys",
				Recommendation: "Generate new keys with 'e2ee keygen' or restore a backup with 'e2ee restore'.",
			}
		default:
			if err := selfTest(keyPair); err != nil {
				report = &types.KeyHealthReport{
					Healthy:        false,
					Error:          err.Error(),
					Recommendation: "Your keys are corrupt. Restore a backup with 'e2ee restore', or regenerate with 'e2ee keygen --force'.",
				}
			}
		}

		printer := NewPrinter(flagOutput, os.Stdout)
		if err := printer.PrintHealthReport(userID, report); err != nil {
			handleError(err)
		}
		if !report.Healthy {
			os.Exit(1)
		}
	},
}

func selfTest(keyPair *engine.KeyPair) error {
	const probe = "e2ee health probe"

	contentKey, err := engine.GenerateContentKey()
	if err != nil {
		return err
	}
	encrypted, err := engine.EncryptContent(probe, contentKey)
	if err != nil {
		return err
	}
	wrapped, err := engine.WrapKeyForRecipient(contentKey, keyPair.PublicKey)
	if err != nil {
		return err
	}
	unwrapped, err := engine.UnwrapKeyFromSender(wrapped, keyPair.PrivateKey)
	if err != nil {
		return err
	}
	_, err = engine.DecryptContent(encrypted, unwrapped)
	return err
}
