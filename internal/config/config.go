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

// Package config loads the CLI and library configuration from a YAML file
// and E2EE_* environment variables, env taking precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-e2ee/pkg/crypto/engine"
	"github.com/jeremyhahn/go-e2ee/pkg/keystore"
)

// Config is the complete configuration.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Keystore KeystoreConfig `mapstructure:"keystore"`
	Backup   BackupConfig   `mapstructure:"backup"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StorageConfig selects and parameterizes the storage backend.
type StorageConfig struct {
	// Backend is "file" or "memory".
	Backend string `mapstructure:"backend"`

	// Dir is the root directory for the file backend.
	Dir string `mapstructure:"dir"`

	// LegacyDir, when set, points at a legacy plaintext key store to
	// migrate from.
	LegacyDir string `mapstructure:"legacy_dir"`
}

// KeystoreConfig tunes the local key store.
type KeystoreConfig struct {
	// Iterations is the PBKDF2 count for the device-binding layer.
	Iterations int `mapstructure:"iterations"`

	// LockTimeout bounds the per-user lock wait.
	LockTimeout time.Duration `mapstructure:"lock_timeout"`

	// DeviceFingerprint overrides the derived host fingerprint.
	DeviceFingerprint string `mapstructure:"device_fingerprint"`
}

// BackupConfig tunes remote key backup.
type BackupConfig struct {
	// Iterations is the PBKDF2 count for the backup layer.
	Iterations int `mapstructure:"iterations"`
}

// Load reads configuration from the given file (optional) and the
// environment.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.dir", "~/.e2ee/keys")
	v.SetDefault("keystore.iterations", engine.DeviceIterations)
	v.SetDefault("keystore.lock_timeout", keystore.DefaultLockTimeout)
	v.SetDefault("backup.iterations", engine.BackupIterations)

	v.SetEnvPrefix("E2EE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that weaken the KDF layers or name an
// unknown backend.
func (cfg *Config) Validate() error {
	switch cfg.Storage.Backend {
	case "file", "memory":
	default:
		return fmt.Errorf("config: unknown storage backend %q", cfg.Storage.Backend)
	}
	if cfg.Keystore.Iterations < engine.MinIterations {
		return fmt.Errorf("config: keystore iterations %d below minimum %d",
			cfg.Keystore.Iterations, engine.MinIterations)
	}
	if cfg.Backup.Iterations < engine.MinIterations {
		return fmt.Errorf("config: backup iterations %d below minimum %d",
			cfg.Backup.Iterations, engine.MinIterations)
	}
	return nil
}
