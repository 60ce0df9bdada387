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

// Package backup encrypts a user's private key under a user-chosen secret
// and stores the result in their remote account record, so keys survive a
// device loss. The secret is the account password for password users and a
// dedicated passphrase for SSO users; the server only ever sees the
// encrypted blob.
package backup

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-e2ee/pkg/crypto/engine"
	"github.com/jeremyhahn/go-e2ee/pkg/logging"
	"github.com/jeremyhahn/go-e2ee/pkg/storage"
	"github.com/jeremyhahn/go-e2ee/pkg/types"
)

// AccountStore reads and writes the per-user key backup in the user's
// account record.
type AccountStore interface {
	// KeyBackup returns the user's backup, or storage.ErrNotFound when the
	// user has none.
	KeyBackup(ctx context.Context, userID string) (*types.KeyBackup, error)

	// SetKeyBackup fully overwrites the user's backup.
	SetKeyBackup(ctx context.Context, userID string, backup *types.KeyBackup) error
}

// AuthService exposes the signed-in user and their credential providers.
type AuthService interface {
	// CurrentUserID returns the signed-in user, or ErrNotAuthenticated.
	CurrentUserID(ctx context.Context) (string, error)

	// Providers lists the user's credential provider IDs, e.g. "password"
	// or "google.com".
	Providers(ctx context.Context, userID string) ([]string, error)
}

// Manager implements remote key backup and restore.
type Manager struct {
	accounts AccountStore
	auth     AuthService
	captured passwordCapture
	logger   *logging.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a backup manager over the account store and auth
// service.
func NewManager(accounts AccountStore, auth AuthService, opts ...ManagerOption) *Manager {
	m := &Manager{
		accounts: accounts,
		auth:     auth,
		logger:   logging.DefaultLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AuthMethod reports how the signed-in user's backup secret is sourced:
// AuthMethodPassword when a password credential provider is present,
// AuthMethodSSO otherwise.
func (m *Manager) AuthMethod(ctx context.Context) (types.AuthMethod, error) {
	userID, err := m.auth.CurrentUserID(ctx)
	if err != nil {
		return "", err
	}
	providers, err := m.auth.Providers(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("backup: failed to list providers: %w", err)
	}
	for _, provider := range providers {
		if provider == "password" {
			return types.AuthMethodPassword, nil
		}
	}
	return types.AuthMethodSSO, nil
}

// BackupKeys encrypts the key pair under the secret and uploads it,
// overwriting any previous backup for the signed-in user.
func (m *Manager) BackupKeys(ctx context.Context, secret string, keyPair *engine.KeyPair) error {
	userID, err := m.auth.CurrentUserID(ctx)
	if err != nil {
		return err
	}

	authMethod, err := m.AuthMethod(ctx)
	if err != nil {
		return err
	}

	publicKey, err := engine.ExportPublicKey(keyPair.PublicKey)
	if err != nil {
		return err
	}
	privateKey, err := engine.ExportPrivateKey(keyPair.PrivateKey)
	if err != nil {
		return err
	}

	salt, err := engine.GenerateSalt()
	if err != nil {
		return err
	}
	derived, err := engine.DeriveKeyFromPassword(secret, salt, engine.BackupIterations)
	if err != nil {
		return err
	}
	encrypted, iv, err := engine.EncryptWithDerivedKey(privateKey, derived)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	record := &types.KeyBackup{
		EncryptedPrivateKey: encrypted,
		PublicKey:           publicKey,
		Salt:                base64.StdEncoding.EncodeToString(salt),
		IV:                  iv,
		Iterations:          engine.BackupIterations,
		AuthMethod:          authMethod,
		CreatedAt:           now,
		LastBackupAt:        now,
	}
	if err := m.accounts.SetKeyBackup(ctx, userID, record); err != nil {
		return fmt.Errorf("backup: failed to upload backup: %w", err)
	}

	m.logger.Infof("backup: uploaded key backup for user %s (%s)", userID, authMethod)
	return nil
}

// RestoreKeys downloads and decrypts the signed-in user's backup. It returns
// (nil, nil) when the user has no backup; a backup that exists but does not
// decrypt under the secret yields ErrRestoreFailed.
func (m *Manager) RestoreKeys(ctx context.Context, secret string) (*engine.KeyPair, error) {
	userID, err := m.auth.CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}

	record, err := m.accounts.KeyBackup(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("backup: failed to fetch backup: %w", err)
	}

	salt, err := base64.StdEncoding.DecodeString(record.Salt)
	if err != nil {
		return nil, fmt.Errorf("backup: corrupt backup salt: %w", err)
	}
	iterations := record.Iterations
	if iterations == 0 {
		iterations = engine.BackupIterations
	}
	derived, err := engine.DeriveKeyFromPassword(secret, salt, iterations)
	if err != nil {
		return nil, err
	}

	privateKeyString, err := engine.DecryptWithDerivedKey(record.EncryptedPrivateKey, derived, record.IV)
	if err != nil {
		return nil, ErrRestoreFailed
	}

	privateKey, err := engine.ImportPrivateKey(privateKeyString)
	if err != nil {
		return nil, fmt.Errorf("backup: restored private key is unusable: %w", err)
	}
	publicKey, err := engine.ImportPublicKey(record.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("backup: restored public key is unusable: %w", err)
	}

	m.logger.Infof("backup: restored key pair for user %s", userID)
	return &engine.KeyPair{PublicKey: publicKey, PrivateKey: privateKey}, nil
}

// HasBackup reports whether the signed-in user has a remote backup. Read
// errors degrade to "no backup" so callers can always render a status.
func (m *Manager) HasBackup(ctx context.Context) (*types.BackupStatus, error) {
	userID, err := m.auth.CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}

	record, err := m.accounts.KeyBackup(ctx, userID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.logger.Warnf("backup: failed to check backup for user %s: %v", userID, err)
		}
		return &types.BackupStatus{HasBackup: false}, nil
	}

	return &types.BackupStatus{
		HasBackup:    true,
		AuthMethod:   record.AuthMethod,
		LastBackupAt: record.LastBackupAt,
	}, nil
}

// ChangeSecret re-encrypts the backup under a new secret. The old secret
// must decrypt the existing backup; any failure leaves the old backup
// untouched.
func (m *Manager) ChangeSecret(ctx context.Context, oldSecret, newSecret string) error {
	keyPair, err := m.RestoreKeys(ctx, oldSecret)
	if err != nil {
		return err
	}
	if keyPair == nil {
		return fmt.Errorf("backup: no backup to re-encrypt")
	}
	return m.BackupKeys(ctx, newSecret, keyPair)
}

// CapturePasswordOnLogin stashes the login password for a short window so a
// post-login backup can run without prompting again. The capture survives at
// most CaptureTTL and is consumed at most once.
func (m *Manager) CapturePasswordOnLogin(password string) {
	if password == "" {
		return
	}
	m.captured.capture(password)
}

// BackupWithCapturedSecret backs up the key pair using the captured login
// password. Returns ErrNoCapturedSecret when no capture is available,
// letting the caller fall back to prompting.
func (m *Manager) BackupWithCapturedSecret(ctx context.Context, keyPair *engine.KeyPair) error {
	secret, ok := m.captured.consume()
	if !ok {
		return ErrNoCapturedSecret
	}
	return m.BackupKeys(ctx, secret, keyPair)
}
