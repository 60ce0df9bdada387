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
	"errors"
	"sort"
	"time"

	"github.com/jeremyhahn/go-e2ee/pkg/crypto/engine"
	"github.com/jeremyhahn/go-e2ee/pkg/types"
)

// User-facing placeholder texts. Stable and cached: a failed decryption
// renders the same placeholder on every emission, never ciphertext or an
// error trace.
const (
	placeholderMalformed  = "🔒 Invalid encrypted message"
	placeholderNoKeys     = "🔒 Encrypted message (no decryption keys)"
	placeholderNotForUser = "🔒 Encrypted message (sent before you joined or encryption was set up)"
	placeholderMismatch   = "🔒 Unable to decrypt (key mismatch). Try restoring your backup in encryption settings."
	placeholderBadKey     = "🔒 Unable to decrypt (invalid key format). Check encryption settings."
	placeholderGeneric    = "🔒 Unable to decrypt. Contact support if this persists."
)

// DecryptedMessages returns a continuously-updating stream of snapshots of
// the chat's most recent messages, decrypted for userID.
//
// Encrypted messages whose plaintext is not yet cached are withheld from the
// snapshot while they decrypt in the background; once the result lands in
// the cache the stream re-emits with the message included. Hiding until
// ready trades a short delay for never flashing ciphertext inline with
// readable text. Emission is monotonic per message: a message that has
// appeared is never removed, its text only corrected after cache
// invalidation.
//
// The stream ends when ctx is canceled or the collaborator closes its
// subscription.
func (c *Coordinator) DecryptedMessages(ctx context.Context, chatID, userID string, limit int) (<-chan []types.Message, error) {
	upstream, err := c.chats.ChatMessages(ctx, chatID, limit)
	if err != nil {
		return nil, err
	}

	out := make(chan []types.Message, 1)
	streamID, trigger := c.registerStream()

	go func() {
		defer close(out)
		defer c.unregisterStream(streamID)

		known := make(map[string]types.Message)
		for {
			select {
			case batch, ok := <-upstream:
				if !ok {
					return
				}
				for _, msg := range batch {
					known[msg.ID] = msg
				}
			case <-trigger:
			case <-ctx.Done():
				return
			}

			snapshot := c.renderSnapshot(ctx, known, userID)

			// Conflate: only the latest snapshot matters to a renderer, so
			// replace any undelivered one instead of blocking.
			select {
			case <-out:
			default:
			}
			out <- snapshot
		}
	}()

	return out, nil
}

// DecryptedHistory fetches and decrypts one older page of messages. Unlike
// the live stream there is no re-emission channel to catch up on, so cache
// misses are decrypted synchronously; results still land in the shared cache
// and benefit the live stream.
func (c *Coordinator) DecryptedHistory(ctx context.Context, chatID, userID string, before time.Time, limit int) ([]types.Message, error) {
	page, err := c.chats.ChatHistory(ctx, chatID, before, limit)
	if err != nil {
		return nil, err
	}

	decrypted := make([]types.Message, 0, len(page))
	for _, msg := range page {
		switch classify(&msg) {
		case classPlaintext:
		case classMalformed:
			msg.Text = placeholderMalformed
		case classEncrypted:
			text, ok := c.cache.Get(msg.ID, userID)
			if !ok {
				c.metrics.CacheMiss()
				generation := c.cache.Generation()
				text = c.decryptMessageText(ctx, &msg, userID)
				c.cache.Put(generation, msg.ID, userID, text)
			} else {
				c.metrics.CacheHit()
			}
			msg.Text = text
		}
		decrypted = append(decrypted, msg)
	}

	sortOldestFirst(decrypted)
	return decrypted, nil
}

type messageClass int

const (
	classPlaintext messageClass = iota
	classMalformed
	classEncrypted
)

// classify partitions a message: plaintext passes through, a message that
// claims encryption but lacks the metadata to ever decrypt gets a fixed
// placeholder and is never fed to the engine, and only fully-formed
// encrypted messages reach the decrypt pipeline.
func classify(msg *types.Message) messageClass {
	if !msg.IsEncrypted {
		return classPlaintext
	}
	if msg.Text == "" || msg.Encryption == nil || msg.Encryption.IV == "" || msg.Encryption.KeyFingerprint == "" {
		return classMalformed
	}
	return classEncrypted
}

// renderSnapshot builds the emitted batch from everything known so far:
// plaintext as-is, cached decryptions substituted synchronously, uncached
// encrypted messages hidden while an async decrypt runs.
func (c *Coordinator) renderSnapshot(ctx context.Context, known map[string]types.Message, userID string) []types.Message {
	snapshot := make([]types.Message, 0, len(known))
	for _, msg := range known {
		switch classify(&msg) {
		case classPlaintext:
			snapshot = append(snapshot, msg)
		case classMalformed:
			msg.Text = placeholderMalformed
			snapshot = append(snapshot, msg)
		case classEncrypted:
			if text, ok := c.cache.Get(msg.ID, userID); ok {
				c.metrics.CacheHit()
				msg.Text = text
				snapshot = append(snapshot, msg)
				continue
			}
			// Hide until ready.
			if c.cache.BeginDecrypt(msg.ID, userID) {
				c.metrics.CacheMiss()
				go c.decryptAsync(ctx, msg, userID)
			}
		}
	}

	sortOldestFirst(snapshot)
	return snapshot
}

// decryptAsync resolves one message off the render path, caches the result
// and wakes every open stream. A result that arrives after a cache
// invalidation carries a stale generation and is dropped by Put; the next
// render restarts the decrypt under the new keys.
func (c *Coordinator) decryptAsync(ctx context.Context, msg types.Message, userID string) {
	generation := c.cache.Generation()
	text := c.decryptMessageText(ctx, &msg, userID)
	c.cache.Put(generation, msg.ID, userID, text)
	c.notifyStreams()
}

// decryptMessageText unwraps the user's copy of the content key and
// decrypts. Failures map to stable user-facing placeholders distinguishing
// no-key, wrong-key and everything else.
func (c *Coordinator) decryptMessageText(ctx context.Context, msg *types.Message, userID string) string {
	wrapped, ok := msg.EncryptedKeys[userID]
	if !ok {
		c.logger.Debugf("messaging: message %s carries no key for user %s", msg.ID, userID)
		return placeholderNotForUser
	}

	keyPair, err := c.keys.GetKeyPair(ctx, userID)
	if err != nil || keyPair == nil {
		c.metrics.DecryptionFailure()
		return placeholderNoKeys
	}

	contentKey, err := engine.UnwrapKeyFromSender(wrapped, keyPair.PrivateKey)
	if err != nil {
		c.metrics.DecryptionFailure()
		if errors.Is(err, engine.ErrMalformedKey) {
			return placeholderBadKey
		}
		c.logger.Warnf("messaging: failed to unwrap key for message %s: %v", msg.ID, err)
		return placeholderGeneric
	}

	plaintext, err := engine.DecryptContent(&engine.EncryptedMessage{
		EncryptedContent: msg.Text,
		IV:               msg.Encryption.IV,
		KeyFingerprint:   msg.Encryption.KeyFingerprint,
		Algorithm:        msg.Encryption.Algorithm,
	}, contentKey)
	if err != nil {
		c.metrics.DecryptionFailure()
		if errors.Is(err, engine.ErrKeyMismatch) {
			return placeholderMismatch
		}
		c.logger.Warnf("messaging: failed to decrypt message %s: %v", msg.ID, err)
		return placeholderGeneric
	}

	c.metrics.MessageDecrypted()
	return plaintext
}

func sortOldestFirst(messages []types.Message) {
	sort.Slice(messages, func(i, j int) bool {
		if messages[i].Timestamp.Equal(messages[j].Timestamp) {
			return messages[i].ID < messages[j].ID
		}
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
}
