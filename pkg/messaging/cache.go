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

import "sync"

// cacheKey identifies one decryption result: the same ciphertext decrypts
// differently (or not at all) per user.
type cacheKey struct {
	messageID string
	userID    string
}

// DecryptionCache holds decrypted message text keyed by (messageID, userID),
// plus the in-flight set that short-circuits duplicate decrypt attempts and
// a generation counter that invalidation bumps. Results from decryptions
// started before an invalidation carry a stale generation and are discarded
// on write, so the cache never holds plaintext produced under a replaced
// key.
//
// Failed decryptions are cached too, as stable placeholder strings; a
// message is only retried after an invalidation.
type DecryptionCache struct {
	mu         sync.Mutex
	entries    map[cacheKey]string
	inflight   map[cacheKey]struct{}
	generation uint64
}

// NewDecryptionCache creates an empty cache.
func NewDecryptionCache() *DecryptionCache {
	return &DecryptionCache{
		entries:  make(map[cacheKey]string),
		inflight: make(map[cacheKey]struct{}),
	}
}

// Get returns the cached text for (messageID, userID).
func (c *DecryptionCache) Get(messageID, userID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	text, ok := c.entries[cacheKey{messageID, userID}]
	return text, ok
}

// Generation returns the current cache generation. Capture it before
// starting a decryption and pass it to Put.
func (c *DecryptionCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Put stores a decryption result and clears the in-flight marker. Results
// from a stale generation are dropped: the keys they were produced under
// have been invalidated.
func (c *DecryptionCache) Put(generation uint64, messageID, userID, text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey{messageID, userID}
	delete(c.inflight, key)
	if generation != c.generation {
		return false
	}
	c.entries[key] = text
	return true
}

// BeginDecrypt marks (messageID, userID) as in flight. It returns false when
// a decryption for the same key is already running, so duplicate work is
// skipped.
func (c *DecryptionCache) BeginDecrypt(messageID, userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey{messageID, userID}
	if _, running := c.inflight[key]; running {
		return false
	}
	if _, cached := c.entries[key]; cached {
		return false
	}
	c.inflight[key] = struct{}{}
	return true
}

// InvalidateAll clears every entry and in-flight marker and bumps the
// generation. Called on key restore/clear events.
func (c *DecryptionCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[cacheKey]string)
	c.inflight = make(map[cacheKey]struct{})
	c.generation++
}

// InvalidateUser clears all entries and in-flight markers for one user and
// bumps the generation.
func (c *DecryptionCache) InvalidateUser(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		if key.userID == userID {
			delete(c.entries, key)
		}
	}
	for key := range c.inflight {
		if key.userID == userID {
			delete(c.inflight, key)
		}
	}
	c.generation++
}

// Len returns the number of cached entries.
func (c *DecryptionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
