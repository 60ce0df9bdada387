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
)

var migrateLegacyDir string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate keys from a legacy plaintext store",
	Long: `Move the user's key pair from an old plaintext key directory into
the encrypted store. The legacy entries are only deleted after the
migrated record has been verified readable; on any failure they are
left untouched for a retry.`,
	Run: func(cmd *cobra.Command, args []string) {
		userID, err := requireUser()
		if err != nil {
			handleError(err)
		}
		cfg, err := loadConfig()
		if err != nil {
			handleError(err)
		}
		if migrateLegacyDir != "" {
			cfg.Storage.LegacyDir = migrateLegacyDir
		}
		if cfg.Storage.LegacyDir == "" {
			handleError(fmt.Errorf("--legacy-dir is required"))
		}

		store, backend, err := openKeystore(cfg)
		if err != nil {
			handleError(err)
		}
		defer store.Close()
		defer backend.Close()

		migrated, err := store.MigrateFromLegacy(cmd.Context(), userID)
		if err != nil {
			handleError(err)
		}

		printer := NewPrinter(flagOutput, os.Stdout)
		message := fmt.Sprintf("no legacy keys found for %s", userID)
		if migrated {
			message = fmt.Sprintf("migrated legacy keys for %s", userID)
		}
		if err := printer.PrintMessage(message); err != nil {
			handleError(err)
		}
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrateLegacyDir, "legacy-dir", "",
		"legacy plaintext key directory")
}
