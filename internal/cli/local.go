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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jeremyhahn/go-e2ee/internal/config"
	"github.com/jeremyhahn/go-e2ee/pkg/backup"
	"github.com/jeremyhahn/go-e2ee/pkg/keystore"
	"github.com/jeremyhahn/go-e2ee/pkg/storage"
	"github.com/jeremyhahn/go-e2ee/pkg/storage/file"
	"github.com/jeremyhahn/go-e2ee/pkg/types"
)

// loadConfig resolves the effective configuration from file, environment and
// flags.
func loadConfig() (*config.Config, error) {
	configFile := flagConfigFile
	if configFile == "" {
		if home, err := os.UserHomeDir(); err == nil {
			candidate := filepath.Join(home, ".e2ee.yaml")
			if _, err := os.Stat(candidate); err == nil {
				configFile = candidate
			}
		}
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if flagKeyDir != "" {
		cfg.Storage.Backend = "file"
		cfg.Storage.Dir = flagKeyDir
	}
	return cfg, nil
}

func openBackend(cfg *config.Config) (storage.Backend, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return storage.NewMemory(), nil
	case "file":
		dir, err := expandHome(cfg.Storage.Dir)
		if err != nil {
			return nil, err
		}
		printVerbose("using key directory %s", dir)
		return file.New(dir)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// openKeystore builds the key store the CLI operates on.
func openKeystore(cfg *config.Config) (*keystore.Store, storage.Backend, error) {
	backend, err := openBackend(cfg)
	if err != nil {
		return nil, nil, err
	}

	opts := []keystore.Option{
		keystore.WithIterations(cfg.Keystore.Iterations),
		keystore.WithLockTimeout(cfg.Keystore.LockTimeout),
	}
	if cfg.Keystore.DeviceFingerprint != "" {
		opts = append(opts, keystore.WithDeviceFingerprint(cfg.Keystore.DeviceFingerprint))
	}
	if cfg.Storage.LegacyDir != "" {
		legacyDir, err := expandHome(cfg.Storage.LegacyDir)
		if err != nil {
			return nil, nil, err
		}
		legacy, err := file.New(legacyDir)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, keystore.WithLegacyBackend(legacy))
	}

	return keystore.NewStore(backend, opts...), backend, nil
}

// openBackupManager builds a backup manager over the same file store the
// keys live in. The CLI has no identity provider, so the "account" is a
// local record and the auth method is always password.
func openBackupManager(cfg *config.Config, userID string) (*backup.Manager, error) {
	backend, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}
	return backup.NewManager(
		&fileAccountStore{backend: backend},
		&staticAuthService{userID: userID},
	), nil
}

// fileAccountStore keeps key backups in the storage backend under
// backups/<user>, standing in for the remote account record.
type fileAccountStore struct {
	backend storage.Backend
}

func (s *fileAccountStore) KeyBackup(ctx context.Context, userID string) (*types.KeyBackup, error) {
	data, err := s.backend.Get("backups/" + userID)
	if err != nil {
		return nil, err
	}
	var record types.KeyBackup
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("corrupt backup record for %s: %w", userID, err)
	}
	return &record, nil
}

func (s *fileAccountStore) SetKeyBackup(ctx context.Context, userID string, record *types.KeyBackup) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.backend.Put("backups/"+userID, data)
}

// staticAuthService satisfies the backup manager's auth dependency with the
// --user flag.
type staticAuthService struct {
	userID string
}

func (s *staticAuthService) CurrentUserID(ctx context.Context) (string, error) {
	if s.userID == "" {
		return "", backup.ErrNotAuthenticated
	}
	return s.userID, nil
}

func (s *staticAuthService) Providers(ctx context.Context, userID string) ([]string, error) {
	return []string{"password"}, nil
}

func expandHome(path string) (string, error) {
	if len(path) < 2 || path[:2] != "~/" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("cannot resolve home directory")
	}
	return filepath.Join(home, path[2:]), nil
}
