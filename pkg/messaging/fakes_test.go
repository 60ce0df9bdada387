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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-e2ee/pkg/crypto/engine"
	"github.com/jeremyhahn/go-e2ee/pkg/keystore"
	"github.com/jeremyhahn/go-e2ee/pkg/storage"
	"github.com/jeremyhahn/go-e2ee/pkg/types"
)

type fakeChatService struct {
	mu      sync.Mutex
	chats   map[string]*types.Chat
	sent    []*types.SendMessageRequest
	stream  chan []types.Message
	history []types.Message
	sendErr error
}

func newFakeChatService() *fakeChatService {
	return &fakeChatService{
		chats:  make(map[string]*types.Chat),
		stream: make(chan []types.Message, 16),
	}
}

func (f *fakeChatService) GetChat(ctx context.Context, chatID string) (*types.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	chat, ok := f.chats[chatID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return chat, nil
}

func (f *fakeChatService) ChatMessages(ctx context.Context, chatID string, limit int) (<-chan []types.Message, error) {
	return f.stream, nil
}

func (f *fakeChatService) ChatHistory(ctx context.Context, chatID string, before time.Time, limit int) ([]types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Message(nil), f.history...), nil
}

func (f *fakeChatService) SendMessage(ctx context.Context, req *types.SendMessageRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	copied := *req
	f.sent = append(f.sent, &copied)
	return fmt.Sprintf("msg-%d", len(f.sent)), nil
}

func (f *fakeChatService) lastSent(t *testing.T) *types.SendMessageRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent, "expected a message to have been sent")
	return f.sent[len(f.sent)-1]
}

type fakeKeyRegistry struct {
	mu      sync.Mutex
	records map[string]*types.PublicKeyRecord
}

func newFakeKeyRegistry() *fakeKeyRegistry {
	return &fakeKeyRegistry{records: make(map[string]*types.PublicKeyRecord)}
}

func (f *fakeKeyRegistry) PublicKeyRecord(ctx context.Context, userID string) (*types.PublicKeyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *record
	return &copied, nil
}

func (f *fakeKeyRegistry) SetPublicKeyRecord(ctx context.Context, userID string, record *types.PublicKeyRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *record
	f.records[userID] = &copied
	return nil
}

func (f *fakeKeyRegistry) DeletePublicKeyRecord(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, userID)
	return nil
}

// publish exports and registers a user's public key.
func (f *fakeKeyRegistry) publish(t *testing.T, userID string, keyPair *engine.KeyPair) {
	t.Helper()
	publicKey, err := engine.ExportPublicKey(keyPair.PublicKey)
	require.NoError(t, err)
	require.NoError(t, f.SetPublicKeyRecord(context.Background(), userID, &types.PublicKeyRecord{
		UserID:    userID,
		PublicKey: publicKey,
		CreatedAt: time.Now(),
	}))
}

type coordinatorFixture struct {
	coordinator *Coordinator
	chats       *fakeChatService
	registry    *fakeKeyRegistry
	keys        *keystore.Store
}

func newFixture(t *testing.T, opts ...CoordinatorOption) *coordinatorFixture {
	t.Helper()

	chats := newFakeChatService()
	registry := newFakeKeyRegistry()
	keys := keystore.NewStore(storage.NewMemory(), keystore.WithIterations(engine.MinIterations))

	coordinator := NewCoordinator(chats, registry, keys, opts...)
	t.Cleanup(func() {
		coordinator.Close()
		keys.Close()
	})

	return &coordinatorFixture{
		coordinator: coordinator,
		chats:       chats,
		registry:    registry,
		keys:        keys,
	}
}

func generateKeyPair(t *testing.T) *engine.KeyPair {
	t.Helper()
	keyPair, err := engine.GenerateKeyPair()
	require.NoError(t, err)
	return keyPair
}

// encryptFor builds a fully-formed encrypted message wrapped for the given
// recipients.
func encryptFor(t *testing.T, id, senderID, text string, ts time.Time, recipients map[string]*engine.KeyPair) types.Message {
	t.Helper()

	contentKey, err := engine.GenerateContentKey()
	require.NoError(t, err)
	encrypted, err := engine.EncryptContent(text, contentKey)
	require.NoError(t, err)

	wrapped := make(map[string]string, len(recipients))
	for userID, keyPair := range recipients {
		w, err := engine.WrapKeyForRecipient(contentKey, keyPair.PublicKey)
		require.NoError(t, err)
		wrapped[userID] = w
	}

	return types.Message{
		ID:          id,
		SenderID:    senderID,
		Text:        encrypted.EncryptedContent,
		Timestamp:   ts,
		IsEncrypted: true,
		Encryption: &types.EncryptionData{
			Algorithm:      encrypted.Algorithm,
			IV:             encrypted.IV,
			KeyFingerprint: encrypted.KeyFingerprint,
		},
		EncryptedKeys: wrapped,
	}
}

// awaitSnapshot reads snapshots until predicate passes or the deadline
// expires.
func awaitSnapshot(t *testing.T, out <-chan []types.Message, predicate func([]types.Message) bool) []types.Message {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case snapshot, ok := <-out:
			require.True(t, ok, "stream closed before expected snapshot")
			if predicate(snapshot) {
				return snapshot
			}
		case <-deadline:
			t.Fatal("timed out waiting for expected snapshot")
		}
	}
}

// testTimestamp produces deterministic, strictly increasing timestamps.
func testTimestamp(offset int) time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(offset) * time.Minute)
}

func messageText(snapshot []types.Message, id string) (string, bool) {
	for _, msg := range snapshot {
		if msg.ID == id {
			return msg.Text, true
		}
	}
	return "", false
}
