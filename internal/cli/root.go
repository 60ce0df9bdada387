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

// Package cli implements the e2ee command line interface: local key
// management, device transfer and encrypted backup operations against a
// file-backed store.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagConfigFile string
	flagKeyDir     string
	flagUser       string
	flagOutput     string
	flagVerbose    bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "e2ee",
	Short: "e2ee CLI - End-to-end encryption key management",
	Long: `e2ee CLI manages the local key material of the end-to-end encrypted
messaging subsystem: key generation, fingerprints, encrypted backups,
device transfer and migration from the legacy plaintext store.

Keys are stored encrypted at rest under the key directory; private key
material only ever leaves it through the explicit export command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFile, "config", "",
		"config file (default is $HOME/.e2ee.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagKeyDir, "key-dir", "",
		"directory for key storage (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&flagUser, "user", "u", "",
		"user ID to operate on")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "text",
		"output format (text, json)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false,
		"verbose output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(fingerprintCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(backupStatusCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(migrateCmd)
}

// requireUser validates the --user flag, common to every key operation.
func requireUser() (string, error) {
	if flagUser == "" {
		return "", fmt.Errorf("--user is required")
	}
	return flagUser, nil
}

// handleError prints an error and exits with code 1
func handleError(err error) {
	printer := NewPrinter(flagOutput, os.Stderr)
	_ = printer.PrintError(err)
	os.Exit(1)
}

func printVerbose(format string, args ...interface{}) {
	if flagVerbose {
		fmt.Fprintf(os.Stderr, "[VERBOSE] "+format+"\n", args...)
	}
}
