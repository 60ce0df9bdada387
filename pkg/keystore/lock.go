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

package keystore

import (
	"context"
	"sync"
	"time"
)

// DefaultLockTimeout is the bounded wait for a per-user lock. An abandoned
// holder (crashed goroutine, leaked release) is force-released after this
// long so a stuck lock can never deadlock the store permanently.
const DefaultLockTimeout = 10 * time.Second

// KeyedLock provides mutual exclusion per string key. Concurrent key-store
// writes for the same user are serialized, never interleaved; operations on
// distinct users proceed independently.
type KeyedLock struct {
	mu      sync.Mutex
	holders map[string]*lockHolder
	timeout time.Duration
}

type lockHolder struct {
	done chan struct{}
	once sync.Once
}

func (h *lockHolder) release() {
	h.once.Do(func() { close(h.done) })
}

// NewKeyedLock creates a keyed lock with the given bounded wait. A
// non-positive timeout falls back to DefaultLockTimeout.
func NewKeyedLock(timeout time.Duration) *KeyedLock {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &KeyedLock{
		holders: make(map[string]*lockHolder),
		timeout: timeout,
	}
}

// Acquire blocks until the lock for key is held, the context is canceled, or
// the bounded wait elapses. On timeout the current holder is forcibly
// released and acquisition retried, so Acquire only fails on context
// cancellation. The returned release function is idempotent.
func (l *KeyedLock) Acquire(ctx context.Context, key string) (func(), error) {
	deadline := time.Now().Add(l.timeout)

	for {
		l.mu.Lock()
		current, held := l.holders[key]
		if !held {
			h := &lockHolder{done: make(chan struct{})}
			l.holders[key] = h
			l.mu.Unlock()

			return func() {
				l.mu.Lock()
				if l.holders[key] == h {
					delete(l.holders, key)
				}
				l.mu.Unlock()
				h.release()
			}, nil
		}
		l.mu.Unlock()

		wait := time.Until(deadline)
		if wait <= 0 {
			// Bounded wait exhausted: force-release the abandoned holder.
			l.mu.Lock()
			if cur, ok := l.holders[key]; ok && cur == current {
				delete(l.holders, key)
				cur.release()
			}
			l.mu.Unlock()
			deadline = time.Now().Add(l.timeout)
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-current.done:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
