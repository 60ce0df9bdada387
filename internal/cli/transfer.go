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
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/youmark/pkcs8"

	"github.com/jeremyhahn/go-e2ee/pkg/crypto/engine"
)

const exportPEMType = "ENCRYPTED PRIVATE KEY"

// transferFile is the on-disk shape produced by export and consumed by
// import. The private key is PKCS#8, encrypted under the transfer
// passphrase; the file is useless without it.
type transferFile struct {
	UserID              string `json:"userId"`
	PublicKey           string `json:"publicKey"`
	EncryptedPrivateKey string `json:"encryptedPrivateKey"`
}

var (
	transferPath       string
	transferPassphrase string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the user's key pair for device transfer",
	Long: `Export the user's key pair to a transfer file. The private key is
encrypted as a PKCS#8 EncryptedPrivateKeyInfo under the --passphrase,
so the file can cross an untrusted channel; the passphrase must not.`,
	Run: func(cmd *cobra.Command, args []string) {
		userID, err := requireUser()
		if err != nil {
			handleError(err)
		}
		if transferPassphrase == "" {
			handleError(fmt.Errorf("--passphrase is required"))
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

		publicKey, err := engine.ExportPublicKey(keyPair.PublicKey)
		if err != nil {
			handleError(err)
		}
		der, err := pkcs8.MarshalPrivateKey(keyPair.PrivateKey, []byte(transferPassphrase), nil)
		if err != nil {
			handleError(fmt.Errorf("failed to encrypt private key: %w", err))
		}
		encoded := pem.EncodeToMemory(&pem.Block{Type: exportPEMType, Bytes: der})

		data, err := json.MarshalIndent(&transferFile{
			UserID:              userID,
			PublicKey:           publicKey,
			EncryptedPrivateKey: base64.StdEncoding.EncodeToString(encoded),
		}, "", "  ")
		if err != nil {
			handleError(err)
		}
		if err := os.WriteFile(transferPath, data, 0o600); err != nil {
			handleError(err)
		}

		printer := NewPrinter(flagOutput, os.Stdout)
		if err := printer.PrintMessage(fmt.Sprintf("exported keys for %s to %s", userID, transferPath)); err != nil {
			handleError(err)
		}
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a key pair from a transfer file",
	Run: func(cmd *cobra.Command, args []string) {
		userID, err := requireUser()
		if err != nil {
			handleError(err)
		}
		if transferPassphrase == "" {
			handleError(fmt.Errorf("--passphrase is required"))
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

		data, err := os.ReadFile(transferPath)
		if err != nil {
			handleError(err)
		}
		var transfer transferFile
		if err := json.Unmarshal(data, &transfer); err != nil {
			handleError(fmt.Errorf("invalid transfer file: %w", err))
		}

		pemBytes, err := base64.StdEncoding.DecodeString(transfer.EncryptedPrivateKey)
		if err != nil {
			handleError(fmt.Errorf("invalid transfer file: %w", err))
		}
		block, _ := pem.Decode(pemBytes)
		if block == nil || block.Type != exportPEMType {
			handleError(fmt.Errorf("invalid transfer file: missing %s block", exportPEMType))
		}
		parsed, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes, []byte(transferPassphrase))
		if err != nil {
			handleError(fmt.Errorf("failed to decrypt private key (wrong passphrase?): %w", err))
		}
		privateKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			handleError(fmt.Errorf("transfer file does not contain an RSA key"))
		}

		publicKey, err := engine.ImportPublicKey(transfer.PublicKey)
		if err != nil {
			handleError(err)
		}

		keyPair := &engine.KeyPair{PublicKey: publicKey, PrivateKey: privateKey}
		if err := store.StoreKeyPair(cmd.Context(), userID, keyPair); err != nil {
			handleError(err)
		}

		fingerprint, err := engine.PublicKeyFingerprint(publicKey)
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
	for _, cmd := range []*cobra.Command{exportCmd, importCmd} {
		cmd.Flags().StringVarP(&transferPath, "file", "f", "e2ee-keys.json",
			"transfer file path")
		cmd.Flags().StringVarP(&transferPassphrase, "passphrase", "p", "",
			"passphrase protecting the transfer file")
	}
}
