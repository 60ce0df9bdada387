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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-e2ee/pkg/crypto/engine"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "file", cfg.Storage.Backend)
	assert.Equal(t, engine.DeviceIterations, cfg.Keystore.Iterations)
	assert.Equal(t, engine.BackupIterations, cfg.Backup.Iterations)
	assert.Equal(t, 10*time.Second, cfg.Keystore.LockTimeout)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "e2ee.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: debug
storage:
  backend: memory
keystore:
  iterations: 400000
  lock_timeout: 30s
backup:
  iterations: 150000
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 400000, cfg.Keystore.Iterations)
	assert.Equal(t, 30*time.Second, cfg.Keystore.LockTimeout)
	assert.Equal(t, 150000, cfg.Backup.Iterations)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsWeakIterations(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Keystore.Iterations = 1000
	assert.Error(t, cfg.Validate())

	cfg.Keystore.Iterations = engine.DeviceIterations
	cfg.Backup.Iterations = 5
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Storage.Backend = "redis"
	assert.Error(t, cfg.Validate())
}
