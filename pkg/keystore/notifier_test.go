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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-e2ee/pkg/types"
)

func TestNotifierDeliversInOrder(t *testing.T) {
	notifier := NewNotifier()
	defer notifier.Close()

	events, unsubscribe := notifier.Subscribe()
	defer unsubscribe()

	published := make([]types.KeyEvent, 0, 10)
	for i := 0; i < 10; i++ {
		event := types.KeyEvent{UserID: fmt.Sprintf("user-%d", i), Action: types.KeyEventRestored}
		published = append(published, event)
		notifier.Publish(event)
	}

	for i, want := range published {
		select {
		case got := <-events:
			assert.Equal(t, want, got, "event %d out of order", i)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestNotifierFanOut(t *testing.T) {
	notifier := NewNotifier()
	defer notifier.Close()

	eventsA, unsubscribeA := notifier.Subscribe()
	defer unsubscribeA()
	eventsB, unsubscribeB := notifier.Subscribe()
	defer unsubscribeB()

	event := types.KeyEvent{UserID: "alice", Action: types.KeyEventCleared}
	notifier.Publish(event)

	for _, events := range []<-chan types.KeyEvent{eventsA, eventsB} {
		select {
		case got := <-events:
			assert.Equal(t, event, got)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestNotifierUnsubscribeStopsDelivery(t *testing.T) {
	notifier := NewNotifier()
	defer notifier.Close()

	events, unsubscribe := notifier.Subscribe()
	unsubscribe()

	notifier.Publish(types.KeyEvent{UserID: "alice", Action: types.KeyEventRestored})

	_, open := <-events
	require.False(t, open, "channel should be closed after unsubscribe")
}

func TestNotifierUnsubscribeIdempotent(t *testing.T) {
	notifier := NewNotifier()
	defer notifier.Close()

	_, unsubscribe := notifier.Subscribe()
	unsubscribe()
	unsubscribe()
}

func TestNotifierPublishAfterClose(t *testing.T) {
	notifier := NewNotifier()
	events, unsubscribe := notifier.Subscribe()
	defer unsubscribe()

	notifier.Close()
	notifier.Publish(types.KeyEvent{UserID: "alice", Action: types.KeyEventRestored})

	_, open := <-events
	assert.False(t, open, "subscriber channel closes with the notifier")
}
