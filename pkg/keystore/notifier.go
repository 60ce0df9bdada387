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
	"sync"

	"github.com/jeremyhahn/go-e2ee/pkg/types"
)

// subscriberBuffer is the per-subscriber channel capacity. Delivery is
// blocking once the buffer fills, preserving the exactly-once, in-order
// contract; subscribers are expected to drain promptly.
const subscriberBuffer = 16

// Notifier is the key lifecycle pub/sub channel. Every current subscriber
// observes every published event exactly once, in emission order. It is a
// best-effort informational broadcast within the process, not a correctness
// dependency; mutation safety comes from the per-user KeyedLock.
type Notifier struct {
	mu     sync.Mutex
	subs   map[int]chan types.KeyEvent
	nextID int
	closed bool
}

// NewNotifier creates a key event notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]chan types.KeyEvent)}
}

// Subscribe registers a new subscriber and returns its event channel along
// with an unsubscribe function. The channel is closed on unsubscribe or when
// the notifier is closed.
func (n *Notifier) Subscribe() (<-chan types.KeyEvent, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan types.KeyEvent, subscriberBuffer)
	if n.closed {
		close(ch)
		return ch, func() {}
	}

	id := n.nextID
	n.nextID++
	n.subs[id] = ch

	return ch, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if sub, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(sub)
		}
	}
}

// Publish delivers an event to all current subscribers in registration order.
// Holding the mutex across delivery guarantees events are observed in
// emission order.
func (n *Notifier) Publish(event types.KeyEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	for id := 0; id < n.nextID; id++ {
		if sub, ok := n.subs[id]; ok {
			sub <- event
		}
	}
}

// Close closes all subscriber channels. Subsequent publishes are dropped.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true
	for id, sub := range n.subs {
		delete(n.subs, id)
		close(sub)
	}
}
