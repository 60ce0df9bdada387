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

// Package types defines the shared data model for the end-to-end encrypted
// messaging subsystem: wire representations of encrypted messages, key backup
// records, locally persisted key records and key lifecycle events.
//
// All cryptographic payloads are base64-encoded strings so the types are
// transport-agnostic; the surrounding document store decides the actual
// wire format.
package types

import "time"

// Algorithm names used across the subsystem.
const (
	// AlgorithmAESGCM is the content encryption algorithm carried in
	// EncryptionData.Algorithm for every encrypted message.
	AlgorithmAESGCM = "AES-GCM"
)

// AuthMethod identifies how a user's backup secret is sourced.
type AuthMethod string

const (
	// AuthMethodPassword indicates the user has a password-based credential
	// provider; the account password protects the key backup.
	AuthMethodPassword AuthMethod = "password"

	// AuthMethodSSO indicates a federated login with no password; a separate
	// encryption passphrase protects the key backup.
	AuthMethodSSO AuthMethod = "sso"
)

// KeyEventAction enumerates key lifecycle transitions observable by
// subscribers.
type KeyEventAction string

const (
	// KeyEventRestored is published when a key pair is stored or restored
	// for a user.
	KeyEventRestored KeyEventAction = "restored"

	// KeyEventCleared is published when a user's keys are removed.
	KeyEventCleared KeyEventAction = "cleared"
)

// KeyEvent is the payload delivered to key lifecycle subscribers. All current
// subscribers observe every event exactly once, in emission order.
type KeyEvent struct {
	UserID string
	Action KeyEventAction
}

// EncryptionData is the per-message encryption metadata stored alongside the
// ciphertext.
type EncryptionData struct {
	// Algorithm is the AEAD algorithm, always AlgorithmAESGCM.
	Algorithm string `json:"algorithm"`

	// IV is the base64-encoded 96-bit initialization vector. Never reused
	// across encryptions with the same key.
	IV string `json:"iv"`

	// KeyFingerprint is the first 16 hex characters of SHA-256 over the raw
	// content key bytes. It is a correctness check distinguishing "wrong key"
	// from "corrupted ciphertext", not a security boundary.
	KeyFingerprint string `json:"keyFingerprint"`
}

// Message is the chat message shape consumed from the chat/storage
// collaborator. Unencrypted messages carry plaintext in Text; encrypted
// messages carry base64 ciphertext in Text plus EncryptionData and one
// wrapped content key per recipient in EncryptedKeys.
type Message struct {
	ID            string            `json:"id"`
	SenderID      string            `json:"senderId"`
	Text          string            `json:"text"`
	Timestamp     time.Time         `json:"timestamp"`
	IsEncrypted   bool              `json:"isEncrypted,omitempty"`
	Encryption    *EncryptionData   `json:"encryptionData,omitempty"`
	EncryptedKeys map[string]string `json:"encryptedKeys,omitempty"`
}

// SendMessageRequest is the request accepted by the coordinator's send path
// and forwarded to the chat collaborator.
type SendMessageRequest struct {
	ChatID        string            `json:"chatId"`
	SenderID      string            `json:"senderId"`
	Text          string            `json:"text"`
	IsEncrypted   bool              `json:"isEncrypted,omitempty"`
	Encryption    *EncryptionData   `json:"encryptionData,omitempty"`
	EncryptedKeys map[string]string `json:"encryptedKeys,omitempty"`

	// ForceUnencrypted is the caller's explicit consent to send in plaintext
	// after a partial-availability rejection. The coordinator never downgrades
	// an encrypted request without it.
	ForceUnencrypted bool `json:"-"`
}

// Chat is the conversation shape consumed from the chat collaborator.
type Chat struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants"`
	IsGroup      bool     `json:"isGroup"`
}

// PublicKeyRecord is the remote public-key registry entry, one per user.
type PublicKeyRecord struct {
	UserID    string    `json:"userId"`
	PublicKey string    `json:"publicKey"`
	CreatedAt time.Time `json:"createdAt"`
}

// KeyBackup is the server-side encrypted private key backup, one per user
// identity, stored under the user's account record. A backup write fully
// overwrites any previous backup; backups are never auto-deleted.
type KeyBackup struct {
	EncryptedPrivateKey string     `json:"encryptedPrivateKey"`
	PublicKey           string     `json:"publicKey"`
	Salt                string     `json:"salt"`
	IV                  string     `json:"iv"`
	Iterations          int        `json:"iterations"`
	AuthMethod          AuthMethod `json:"authMethod"`
	CreatedAt           time.Time  `json:"createdAt"`
	LastBackupAt        time.Time  `json:"lastBackupAt"`
}

// BackupStatus reports whether a user has a remote key backup.
type BackupStatus struct {
	HasBackup    bool
	AuthMethod   AuthMethod
	LastBackupAt time.Time
}

// StoredKeyRecord is the locally persisted key pair record, one per user per
// device. The private key component is encrypted with a key derived from the
// user ID and a device fingerprint; this is defense-in-depth on top of the
// storage layer's isolation, not the primary security boundary.
type StoredKeyRecord struct {
	UserID              string    `json:"userId"`
	PublicKey           string    `json:"publicKey"`
	EncryptedPrivateKey string    `json:"encryptedPrivateKey"`
	PrivateKeyIV        string    `json:"privateKeyIV"`
	PrivateKeySalt      string    `json:"privateKeySalt"`
	CreatedAt           time.Time `json:"createdAt"`
	Version             int       `json:"version"`
}

// ParticipantStatus is the fine-grained per-chat encryption readiness report
// used to drive the partial-encryption prompt.
type ParticipantStatus struct {
	AllReady bool
	Ready    []string
	Missing  []string
}

// KeyHealthReport is the result of a key round-trip self-test, distinguishing
// "keys present but non-functional" from "keys absent".
type KeyHealthReport struct {
	Healthy        bool
	Error          string
	Recommendation string
}

// ExportedKeys is a plaintext-serialized key pair produced by the explicit
// export flow for device transfer. Handle with care; never persisted by this
// module.
type ExportedKeys struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}
