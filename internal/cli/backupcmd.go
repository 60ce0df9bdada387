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

	"github.com/jeremyhahn/go-e2ee/pkg/backup"
)

var backupSecret string

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up the user's keys under a secret",
	Long: `Encrypt the user's key pair under --secret and store the result in
the local backup record. The secret is run through PBKDF2; only the
encrypted blob is persisted.`,
	Run: func(cmd *cobra.Command, args []string) {
		userID, err := requireUser()
		if err != nil {
			handleError(err)
		}
		if err := backup.ValidatePassphrase(backupSecret); err != nil {
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
		keyPair, err := store.GetKeyPair(ctx, userID)
		if err != nil {
			handleError(err)
		}
		if keyPair == nil {
			handleError(fmt.Errorf("no keys stored for user %s", userID))
		}

		manager, err := openBackupManager(cfg, userID)
		if err != nil {
			handleError(err)
		}
		if err := manager.BackupKeys(ctx, backupSecret, keyPair); err != nil {
			handleError(err)
		}

		printer := NewPrinter(flagOutput, os.Stdout)
		if err := printer.PrintMessage(fmt.Sprintf("backed up keys for %s", userID)); err != nil {
			handleError(err)
		}
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore the user's keys from a backup",
	Run: func(cmd *cobra.Command, args []string) {
		userID, err := requireUser()
		if err != nil {
			handleError(err)
		}
		if backupSecret == "" {
			handleError(fmt.Errorf("--secret is required"))
		}
		cfg, err := loadConfig()
		if err != nil {
			handleError(err)
		}

		ctx := cmd.Context()
		manager, err := openBackupManager(cfg, userID)
		if err != nil {
			handleError(err)
		}
		keyPair, err := manager.RestoreKeys(ctx, backupSecret)
		if err != nil {
			handleError(err)
		}
		if keyPair == nil {
			handleError(fmt.Errorf("no backup found for user %s", userID))
		}

		store, backend, err := openKeystore(cfg)
		if err != nil {
			handleError(err)
		}
		defer store.Close()
		defer backend.Close()

		if err := store.StoreKeyPair(ctx, userID, keyPair); err != nil {
			handleError(err)
		}

		printer := NewPrinter(flagOutput, os.Stdout)
		if err := printer.PrintMessage(fmt.Sprintf("restored keys for %s", userID)); err != nil {
			handleError(err)
		}
	},
}

var backupStatusCmd = &cobra.Command{
	Use:   "backup-status",
	Short: "Show whether the user has a key backup",
	Run: func(cmd *cobra.Command, args []string) {
		userID, err := requireUser()
		if err != nil {
			handleError(err)
		}
		cfg, err := loadConfig()
		if err != nil {
			handleError(err)
		}
		manager, err := openBackupManager(cfg, userID)
		if err != nil {
			handleError(err)
		}

		status, err := manager.HasBackup(cmd.Context())
		if err != nil {
			handleError(err)
		}

		printer := NewPrinter(flagOutput, os.Stdout)
		if err := printer.PrintBackupStatus(userID, status); err != nil {
			handleError(err)
		}
	},
}

func init() {
	for _, cmd := range []*cobra.Command{backupCmd, restoreCmd} {
		cmd.Flags().StringVarP(&backupSecret, "secret", "s", "",
			"backup password or passphrase")
	}
}
