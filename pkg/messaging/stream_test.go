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

package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-e2ee/pkg/crypto/engine"
	"github.com/jeremyhahn/go-e2ee/pkg/metrics"
	"github.com/jeremyhahn/go-e2ee/pkg/types"
)

func TestStreamPlaintextPassThrough(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := f.coordinator.DecryptedMessages(ctx, "chat1", "alice", 50)
	require.NoError(t, err)

	f.chats.stream <- []types.Message{
		{ID: "m1", SenderID: "bob", Text: "hello", Timestamp: testTimestamp(0)},
	}

	snapshot := awaitSnapshot(t, out, func(snapshot []types.Message) bool {
		return len(snapshot) == 1
	})
	assert.Equal(t, "hello", snapshot[0].Text)
	assert.False(t, snapshot[0].IsEncrypted)
}

func TestStreamDecryptsForRecipient(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := generateKeyPair(t)
	require.NoError(t, f.keys.StoreKeyPair(ctx, "alice", alice))

	out, err := f.coordinator.DecryptedMessages(ctx, "chat1", "alice", 50)
	require.NoError(t, err)

	msg := encryptFor(t, "m1", "bob", "the secret text", testTimestamp(0),
		map[string]*engine.KeyPair{"alice": alice})
	f.chats.stream <- []types.Message{msg}

	snapshot := awaitSnapshot(t, out, func(snapshot []types.Message) bool {
		text, ok := messageText(snapshot, "m1")
		return ok && text == "the secret text"
	})

	// Ciphertext never leaks into any emitted snapshot.
	text, _ := messageText(snapshot, "m1")
	assert.NotEqual(t, msg.Text, text)
}

func TestStreamHidesUntilDecrypted(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := generateKeyPair(t)
	require.NoError(t, f.keys.StoreKeyPair(ctx, "alice", alice))

	out, err := f.coordinator.DecryptedMessages(ctx, "chat1", "alice", 50)
	require.NoError(t, err)

	plain := types.Message{ID: "m1", SenderID: "bob", Text: "visible now", Timestamp: testTimestamp(0)}
	encrypted := encryptFor(t, "m2", "bob", "visible later", testTimestamp(1),
		map[string]*engine.KeyPair{"alice": alice})
	f.chats.stream <- []types.Message{plain, encrypted}

	// Every snapshot either omits m2 or shows its decrypted text; raw
	// ciphertext is never emitted.
	final := awaitSnapshot(t, out, func(snapshot []types.Message) bool {
		if text, ok := messageText(snapshot, "m2"); ok {
			require.Equal(t, "visible later", text)
			return true
		}
		return false
	})

	assert.Len(t, final, 2)
	assert.Equal(t, "m1", final[0].ID, "oldest first")
	assert.Equal(t, "m2", final[1].ID)
}

func TestStreamMalformedPlaceholder(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := f.coordinator.DecryptedMessages(ctx, "chat1", "alice", 50)
	require.NoError(t, err)

	f.chats.stream <- []types.Message{
		{ID: "m1", SenderID: "bob", Text: "ciphertextish", Timestamp: testTimestamp(0), IsEncrypted: true},
	}

	snapshot := awaitSnapshot(t, out, func(snapshot []types.Message) bool {
		return len(snapshot) == 1
	})
	assert.Equal(t, placeholderMalformed, snapshot[0].Text)
}

func TestStreamNoKeyForUserPlaceholder(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := generateKeyPair(t)
	require.NoError(t, f.keys.StoreKeyPair(ctx, "alice", alice))

	out, err := f.coordinator.DecryptedMessages(ctx, "chat1", "alice", 50)
	require.NoError(t, err)

	// Wrapped only for bob; alice joined later.
	msg := encryptFor(t, "m1", "bob", "not for alice", testTimestamp(0),
		map[string]*engine.KeyPair{"bob": generateKeyPair(t)})
	f.chats.stream <- []types.Message{msg}

	awaitSnapshot(t, out, func(snapshot []types.Message) bool {
		text, ok := messageText(snapshot, "m1")
		return ok && text == placeholderNotForUser
	})
}

func TestStreamNoLocalKeysPlaceholder(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := f.coordinator.DecryptedMessages(ctx, "chat1", "alice", 50)
	require.NoError(t, err)

	msg := encryptFor(t, "m1", "bob", "locked away", testTimestamp(0),
		map[string]*engine.KeyPair{"alice": generateKeyPair(t)})
	f.chats.stream <- []types.Message{msg}

	awaitSnapshot(t, out, func(snapshot []types.Message) bool {
		text, ok := messageText(snapshot, "m1")
		return ok && text == placeholderNoKeys
	})
}

func TestStreamKeyMismatchPlaceholder(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := generateKeyPair(t)
	require.NoError(t, f.keys.StoreKeyPair(ctx, "alice", alice))

	out, err := f.coordinator.DecryptedMessages(ctx, "chat1", "alice", 50)
	require.NoError(t, err)

	// The wrapped key unwraps fine but belongs to a different message: the
	// fingerprint check rejects it before the AEAD ever runs.
	msg := encryptFor(t, "m1", "bob", "original", testTimestamp(0),
		map[string]*engine.KeyPair{"alice": alice})
	otherKey, err := engine.GenerateContentKey()
	require.NoError(t, err)
	wrapped, err := engine.WrapKeyForRecipient(otherKey, alice.PublicKey)
	require.NoError(t, err)
	msg.EncryptedKeys["alice"] = wrapped

	f.chats.stream <- []types.Message{msg}

	awaitSnapshot(t, out, func(snapshot []types.Message) bool {
		text, ok := messageText(snapshot, "m1")
		return ok && text == placeholderMismatch
	})
}

func TestStreamKeyRestoreUnlocksHistory(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := generateKeyPair(t)

	out, err := f.coordinator.DecryptedMessages(ctx, "chat1", "alice", 50)
	require.NoError(t, err)

	// No local keys yet: the message renders as a placeholder.
	msg := encryptFor(t, "m1", "bob", "restored later", testTimestamp(0),
		map[string]*engine.KeyPair{"alice": alice})
	f.chats.stream <- []types.Message{msg}

	awaitSnapshot(t, out, func(snapshot []types.Message) bool {
		text, ok := messageText(snapshot, "m1")
		return ok && text == placeholderNoKeys
	})

	// Restoring keys publishes a key event, invalidates the cache and
	// re-decrypts without refetching the message.
	require.NoError(t, f.keys.StoreKeyPair(ctx, "alice", alice))

	awaitSnapshot(t, out, func(snapshot []types.Message) bool {
		text, ok := messageText(snapshot, "m1")
		return ok && text == "restored later"
	})
}

func TestStreamDeduplicatesAndOrders(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := f.coordinator.DecryptedMessages(ctx, "chat1", "alice", 50)
	require.NoError(t, err)

	second := types.Message{ID: "m2", SenderID: "bob", Text: "second", Timestamp: testTimestamp(1)}
	first := types.Message{ID: "m1", SenderID: "bob", Text: "first", Timestamp: testTimestamp(0)}

	f.chats.stream <- []types.Message{second}
	f.chats.stream <- []types.Message{first, second}

	snapshot := awaitSnapshot(t, out, func(snapshot []types.Message) bool {
		return len(snapshot) == 2
	})
	assert.Equal(t, "m1", snapshot[0].ID)
	assert.Equal(t, "m2", snapshot[1].ID)
}

func TestStreamEndsWithUpstream(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := f.coordinator.DecryptedMessages(ctx, "chat1", "alice", 50)
	require.NoError(t, err)

	close(f.chats.stream)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-out:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream did not close after upstream ended")
		}
	}
}

func TestDecryptedHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := generateKeyPair(t)
	require.NoError(t, f.keys.StoreKeyPair(ctx, "alice", alice))

	f.chats.history = []types.Message{
		encryptFor(t, "m2", "bob", "older secret", testTimestamp(1),
			map[string]*engine.KeyPair{"alice": alice}),
		{ID: "m1", SenderID: "bob", Text: "oldest plain", Timestamp: testTimestamp(0)},
	}

	page, err := f.coordinator.DecryptedHistory(ctx, "chat1", "alice", testTimestamp(10), 50)
	require.NoError(t, err)
	require.Len(t, page, 2)

	assert.Equal(t, "m1", page[0].ID)
	assert.Equal(t, "oldest plain", page[0].Text)
	assert.Equal(t, "m2", page[1].ID)
	assert.Equal(t, "older secret", page[1].Text)

	// The synchronous decrypt seeded the shared cache.
	text, ok := f.coordinator.cache.Get("m2", "alice")
	assert.True(t, ok)
	assert.Equal(t, "older secret", text)
}

// counterValue reads one counter out of a gathered registry by full name.
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == name {
			return family.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestDecryptedHistoryCountsCacheMissesAndHits(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newFixture(t, WithMetrics(metrics.New(reg)))
	ctx := context.Background()

	alice := generateKeyPair(t)
	require.NoError(t, f.keys.StoreKeyPair(ctx, "alice", alice))

	f.chats.history = []types.Message{
		encryptFor(t, "m1", "bob", "older secret", testTimestamp(0),
			map[string]*engine.KeyPair{"alice": alice}),
	}

	// First page decrypts synchronously: one miss, no hits.
	_, err := f.coordinator.DecryptedHistory(ctx, "chat1", "alice", testTimestamp(10), 50)
	require.NoError(t, err)
	assert.Equal(t, 1.0, counterValue(t, reg, "e2ee_messaging_decryption_cache_misses_total"))
	assert.Equal(t, 0.0, counterValue(t, reg, "e2ee_messaging_decryption_cache_hits_total"))

	// Second page is served from the cache seeded by the first.
	_, err = f.coordinator.DecryptedHistory(ctx, "chat1", "alice", testTimestamp(10), 50)
	require.NoError(t, err)
	assert.Equal(t, 1.0, counterValue(t, reg, "e2ee_messaging_decryption_cache_misses_total"))
	assert.Equal(t, 1.0, counterValue(t, reg, "e2ee_messaging_decryption_cache_hits_total"))
}

func TestClearUserCacheForcesRedecrypt(t *testing.T) {
	f := newFixture(t)

	f.coordinator.cache.Put(f.coordinator.cache.Generation(), "m1", "alice", "cached")
	f.coordinator.ClearUserCache("alice")

	_, ok := f.coordinator.cache.Get("m1", "alice")
	assert.False(t, ok)
}
