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

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CacheHit()
	m.CacheHit()
	m.CacheMiss()
	m.DecryptionFailure()
	m.PlaintextFallback()
	m.MessageEncrypted()
	m.MessageDecrypted()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.decryptionCacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decryptionCacheMisses))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decryptionFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.plaintextFallbacks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesEncrypted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesDecrypted))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 6)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics

	m.CacheHit()
	m.CacheMiss()
	m.DecryptionFailure()
	m.PlaintextFallback()
	m.MessageEncrypted()
	m.MessageDecrypted()
}
