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

// Package metrics exposes Prometheus counters for the messaging pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the counters the messaging coordinator reports into. A nil
// *Metrics is valid and records nothing, so callers can leave observability
// unwired.
type Metrics struct {
	decryptionCacheHits   prometheus.Counter
	decryptionCacheMisses prometheus.Counter
	decryptionFailures    prometheus.Counter
	plaintextFallbacks    prometheus.Counter
	messagesEncrypted     prometheus.Counter
	messagesDecrypted     prometheus.Counter
}

// New registers the messaging counters with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		decryptionCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "e2ee",
			Subsystem: "messaging",
			Name:      "decryption_cache_hits_total",
			Help:      "Decryptions served from the cache.",
		}),
		decryptionCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "e2ee",
			Subsystem: "messaging",
			Name:      "decryption_cache_misses_total",
			Help:      "Decryptions that required asynchronous work.",
		}),
		decryptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "e2ee",
			Subsystem: "messaging",
			Name:      "decryption_failures_total",
			Help:      "Messages that could not be decrypted.",
		}),
		plaintextFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "e2ee",
			Subsystem: "messaging",
			Name:      "plaintext_fallbacks_total",
			Help:      "Sends that fell back to plaintext delivery.",
		}),
		messagesEncrypted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "e2ee",
			Subsystem: "messaging",
			Name:      "messages_encrypted_total",
			Help:      "Messages sent encrypted.",
		}),
		messagesDecrypted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "e2ee",
			Subsystem: "messaging",
			Name:      "messages_decrypted_total",
			Help:      "Messages decrypted successfully.",
		}),
	}
}

// CacheHit records a decryption served from the cache.
func (m *Metrics) CacheHit() {
	if m != nil {
		m.decryptionCacheHits.Inc()
	}
}

// CacheMiss records a decryption that required async work.
func (m *Metrics) CacheMiss() {
	if m != nil {
		m.decryptionCacheMisses.Inc()
	}
}

// DecryptionFailure records a message that could not be decrypted.
func (m *Metrics) DecryptionFailure() {
	if m != nil {
		m.decryptionFailures.Inc()
	}
}

// PlaintextFallback records a send that fell back to plaintext.
func (m *Metrics) PlaintextFallback() {
	if m != nil {
		m.plaintextFallbacks.Inc()
	}
}

// MessageEncrypted records a message sent encrypted.
func (m *Metrics) MessageEncrypted() {
	if m != nil {
		m.messagesEncrypted.Inc()
	}
}

// MessageDecrypted records a successful decryption.
func (m *Metrics) MessageDecrypted() {
	if m != nil {
		m.messagesDecrypted.Inc()
	}
}
