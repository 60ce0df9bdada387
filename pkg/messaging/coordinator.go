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

// Package messaging orchestrates per-chat end-to-end encryption over a chat
// collaborator: it checks participant key availability, hybrid-encrypts
// outgoing messages with one wrapped content key per recipient, and decrypts
// incoming messages through a cache so rendering never blocks on crypto.
//
// Messaging degrades, never breaks: when encryption preconditions fail the
// coordinator either asks the caller for explicit consent to send plaintext
// (participants missing keys) or falls back to plaintext itself with the
// regression logged (unexpected crypto errors).
package messaging

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-e2ee/pkg/backup"
	"github.com/jeremyhahn/go-e2ee/pkg/crypto/engine"
	"github.com/jeremyhahn/go-e2ee/pkg/keystore"
	"github.com/jeremyhahn/go-e2ee/pkg/logging"
	"github.com/jeremyhahn/go-e2ee/pkg/metrics"
	"github.com/jeremyhahn/go-e2ee/pkg/storage"
	"github.com/jeremyhahn/go-e2ee/pkg/types"
)

// Coordinator is the only encryption-aware surface exposed to the chat UI.
type Coordinator struct {
	chats    ChatService
	registry KeyRegistry
	keys     *keystore.Store
	backups  *backup.Manager
	cache    *DecryptionCache
	metrics  *metrics.Metrics
	logger   *logging.Logger

	// regenerating is the single in-flight-regeneration guard.
	regenerating atomic.Bool

	// triggers fan a re-render signal out to open message streams.
	triggerMu sync.Mutex
	triggers  map[string]chan struct{}

	unsubscribeKeys func()
	closeOnce       sync.Once
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithBackupManager enables best-effort auto-backup after key regeneration.
func WithBackupManager(backups *backup.Manager) CoordinatorOption {
	return func(c *Coordinator) { c.backups = backups }
}

// WithMetrics wires Prometheus counters into the pipeline.
func WithMetrics(m *metrics.Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = logger }
}

// NewCoordinator creates a coordinator and subscribes it to the key store's
// lifecycle events: any key restore or clear invalidates the decryption
// cache and re-renders open streams, which is how a freshly restored backup
// unlocks previously undecryptable history without a refetch.
func NewCoordinator(chats ChatService, registry KeyRegistry, keys *keystore.Store, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		chats:    chats,
		registry: registry,
		keys:     keys,
		cache:    NewDecryptionCache(),
		logger:   logging.DefaultLogger(),
		triggers: make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	events, unsubscribe := keys.Subscribe()
	c.unsubscribeKeys = unsubscribe
	go c.watchKeyEvents(events)

	return c
}

func (c *Coordinator) watchKeyEvents(events <-chan types.KeyEvent) {
	for event := range events {
		c.logger.Infof("messaging: key %s for user %s, clearing decryption cache", event.Action, event.UserID)
		c.cache.InvalidateAll()
		c.notifyStreams()
	}
}

// Close detaches the coordinator from the key store's event stream.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(c.unsubscribeKeys)
	return nil
}

// sendStrategy is one attempt in the ordered send fallback chain.
type sendStrategy struct {
	name string
	run  func(ctx context.Context, req *types.SendMessageRequest) (string, error)
}

// SendMessage delivers a message, encrypting when requested and possible.
//
// Unencrypted or empty requests go straight to the collaborator. Encrypted
// requests first check that every participant has a published key; if any
// are missing the send fails with *PartialEncryptionError and nothing is
// delivered until the caller either cancels or resends with
// ForceUnencrypted. A fully-available encrypted send that still fails is
// retried as plaintext, logged as a confidentiality regression.
func (c *Coordinator) SendMessage(ctx context.Context, req *types.SendMessageRequest) (string, error) {
	if !req.IsEncrypted || req.Text == "" {
		return c.sendPlain(ctx, req)
	}
	if req.ForceUnencrypted {
		c.logger.Warnf("messaging: sending unencrypted to chat %s with caller consent", req.ChatID)
		c.metrics.PlaintextFallback()
		return c.sendPlain(ctx, req)
	}

	strategies := []sendStrategy{
		{name: "encrypted", run: c.sendEncrypted},
		{name: "plaintext-fallback", run: c.sendPlaintextFallback},
	}

	var lastErr error
	for _, strategy := range strategies {
		messageID, err := strategy.run(ctx, req)
		if err == nil {
			return messageID, nil
		}

		// A partial-availability rejection needs the caller's decision; it
		// must never fall through to the plaintext strategy.
		var partial *PartialEncryptionError
		if errors.As(err, &partial) {
			return "", err
		}

		c.logger.Warnf("messaging: send strategy %q failed for chat %s: %v", strategy.name, req.ChatID, err)
		lastErr = err
	}
	return "", lastErr
}

func (c *Coordinator) sendPlain(ctx context.Context, req *types.SendMessageRequest) (string, error) {
	plain := *req
	plain.IsEncrypted = false
	plain.Encryption = nil
	plain.EncryptedKeys = nil
	return c.chats.SendMessage(ctx, &plain)
}

// sendPlaintextFallback is the last strategy in the chain: the encrypted
// path failed unexpectedly and losing the message outright would be worse
// than sending it in the clear.
func (c *Coordinator) sendPlaintextFallback(ctx context.Context, req *types.SendMessageRequest) (string, error) {
	c.logger.Errorf("messaging: encryption failed for chat %s, falling back to plaintext", req.ChatID)
	c.metrics.PlaintextFallback()
	return c.sendPlain(ctx, req)
}

func (c *Coordinator) sendEncrypted(ctx context.Context, req *types.SendMessageRequest) (string, error) {
	status, err := c.ParticipantEncryptionStatus(ctx, req.ChatID)
	if err != nil {
		return "", err
	}
	if len(status.Ready) == 0 && len(status.Missing) == 0 {
		return "", ErrNoParticipants
	}
	if !status.AllReady {
		return "", &PartialEncryptionError{Missing: status.Missing, Ready: status.Ready}
	}

	contentKey, err := engine.GenerateContentKey()
	if err != nil {
		return "", err
	}
	encrypted, err := engine.EncryptContent(req.Text, contentKey)
	if err != nil {
		return "", err
	}

	wrapped, err := c.wrapForParticipants(ctx, contentKey, status.Ready)
	if err != nil {
		return "", err
	}

	enc := *req
	enc.Text = encrypted.EncryptedContent
	enc.IsEncrypted = true
	enc.Encryption = &types.EncryptionData{
		Algorithm:      encrypted.Algorithm,
		IV:             encrypted.IV,
		KeyFingerprint: encrypted.KeyFingerprint,
	}
	enc.EncryptedKeys = wrapped

	messageID, err := c.chats.SendMessage(ctx, &enc)
	if err != nil {
		return "", err
	}
	c.metrics.MessageEncrypted()
	return messageID, nil
}

// wrapForParticipants wraps the content key for every participant in
// parallel; wrapping is pure CPU plus a registry read per recipient, and
// doing it sequentially multiplies tail latency by the group size. Failures
// for individual participants are tolerated, zero successes is an error.
func (c *Coordinator) wrapForParticipants(ctx context.Context, contentKey *engine.ContentKey, participants []string) (map[string]string, error) {
	type wrapResult struct {
		userID  string
		wrapped string
		err     error
	}

	results := make([]wrapResult, len(participants))
	var wg sync.WaitGroup
	for i, userID := range participants {
		wg.Add(1)
		go func(i int, userID string) {
			defer wg.Done()
			wrapped, err := c.wrapForUser(ctx, contentKey, userID)
			results[i] = wrapResult{userID: userID, wrapped: wrapped, err: err}
		}(i, userID)
	}
	wg.Wait()

	keys := make(map[string]string, len(participants))
	for _, result := range results {
		if result.err != nil {
			c.logger.Warnf("messaging: failed to wrap key for user %s: %v", result.userID, result.err)
			continue
		}
		keys[result.userID] = result.wrapped
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("messaging: could not wrap content key for any participant")
	}
	return keys, nil
}

func (c *Coordinator) wrapForUser(ctx context.Context, contentKey *engine.ContentKey, userID string) (string, error) {
	record, err := c.registry.PublicKeyRecord(ctx, userID)
	if err != nil {
		return "", err
	}
	publicKey, err := engine.ImportPublicKey(record.PublicKey)
	if err != nil {
		return "", err
	}
	return engine.WrapKeyForRecipient(contentKey, publicKey)
}

// ParticipantEncryptionStatus reports which participants of a chat have a
// resolvable public key and which are missing one.
func (c *Coordinator) ParticipantEncryptionStatus(ctx context.Context, chatID string) (*types.ParticipantStatus, error) {
	chat, err := c.chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}

	status := &types.ParticipantStatus{}
	for _, userID := range chat.Participants {
		_, err := c.registry.PublicKeyRecord(ctx, userID)
		switch {
		case err == nil:
			status.Ready = append(status.Ready, userID)
		case errors.Is(err, storage.ErrNotFound):
			status.Missing = append(status.Missing, userID)
		default:
			return nil, fmt.Errorf("messaging: failed to resolve key for user %s: %w", userID, err)
		}
	}
	sort.Strings(status.Ready)
	sort.Strings(status.Missing)
	status.AllReady = len(status.Missing) == 0 && len(status.Ready) > 0
	return status, nil
}

// IsEncryptionAvailable reports whether an encrypted send to the chat can
// succeed right now: the user has local keys and every participant has a
// published public key.
func (c *Coordinator) IsEncryptionAvailable(ctx context.Context, chatID, userID string) (bool, error) {
	enabled, err := c.IsEncryptionEnabled(ctx, userID)
	if err != nil || !enabled {
		return false, err
	}
	status, err := c.ParticipantEncryptionStatus(ctx, chatID)
	if err != nil {
		return false, err
	}
	return status.AllReady, nil
}

// IsEncryptionEnabled reports whether the user has local keys.
func (c *Coordinator) IsEncryptionEnabled(ctx context.Context, userID string) (bool, error) {
	return c.keys.HasKeys(ctx, userID)
}

// EnableEncryption publishes the user's public key to the registry if not
// already present. It requires existing local keys; generation is a
// separate, deliberate, backup-aware action.
func (c *Coordinator) EnableEncryption(ctx context.Context, userID string) error {
	keyPair, err := c.keys.GetKeyPair(ctx, userID)
	if err != nil {
		return err
	}
	if keyPair == nil {
		return ErrNoLocalKeys
	}

	_, err = c.registry.PublicKeyRecord(ctx, userID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return c.publishPublicKey(ctx, userID, keyPair)
}

// DisableEncryption removes the user's local keys and published registry
// record. Previously received encrypted messages become unreadable on this
// device.
func (c *Coordinator) DisableEncryption(ctx context.Context, userID string) error {
	if err := c.keys.ClearKeys(ctx, userID); err != nil {
		return err
	}
	return c.registry.DeletePublicKeyRecord(ctx, userID)
}

// RegenerateKeys replaces the user's key pair with a fresh one and publishes
// the new public key. Destructive: messages encrypted to the old key are
// permanently unreadable. When a backup manager is attached, a captured
// login password is used for a best-effort auto-backup of the new pair.
func (c *Coordinator) RegenerateKeys(ctx context.Context, userID string) error {
	if !c.regenerating.CompareAndSwap(false, true) {
		return ErrRegenerationInProgress
	}
	defer c.regenerating.Store(false)

	keyPair, err := c.replaceKeys(ctx, userID)
	if err != nil {
		return err
	}

	if c.backups != nil {
		if err := c.backups.BackupWithCapturedSecret(ctx, keyPair); err != nil {
			if !errors.Is(err, backup.ErrNoCapturedSecret) {
				c.logger.Warnf("messaging: auto-backup after regeneration failed: %v", err)
			}
		}
	}
	return nil
}

// ManualKeyRegeneration replaces the user's key pair and immediately backs
// the new pair up under the supplied secret. Unlike RegenerateKeys the
// backup is mandatory: a user explicitly rotating keys must not end up with
// an unrecoverable pair.
func (c *Coordinator) ManualKeyRegeneration(ctx context.Context, userID, backupSecret string) error {
	if c.backups == nil {
		return fmt.Errorf("messaging: manual regeneration requires a backup manager")
	}
	if !c.regenerating.CompareAndSwap(false, true) {
		return ErrRegenerationInProgress
	}
	defer c.regenerating.Store(false)

	keyPair, err := c.replaceKeys(ctx, userID)
	if err != nil {
		return err
	}
	return c.backups.BackupKeys(ctx, backupSecret, keyPair)
}

func (c *Coordinator) replaceKeys(ctx context.Context, userID string) (*engine.KeyPair, error) {
	keyPair, err := engine.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if err := c.keys.StoreKeyPair(ctx, userID, keyPair); err != nil {
		return nil, err
	}
	if err := c.publishPublicKey(ctx, userID, keyPair); err != nil {
		return nil, err
	}
	c.logger.Infof("messaging: regenerated key pair for user %s", userID)
	return keyPair, nil
}

func (c *Coordinator) publishPublicKey(ctx context.Context, userID string, keyPair *engine.KeyPair) error {
	publicKey, err := engine.ExportPublicKey(keyPair.PublicKey)
	if err != nil {
		return err
	}
	return c.registry.SetPublicKeyRecord(ctx, userID, &types.PublicKeyRecord{
		UserID:    userID,
		PublicKey: publicKey,
		CreatedAt: time.Now().UTC(),
	})
}

// CheckKeyHealth distinguishes "keys absent" from "keys present but
// non-functional" with a full round-trip self-test: content encryption plus
// wrap/unwrap through the user's actual key pair.
func (c *Coordinator) CheckKeyHealth(ctx context.Context, userID string) (*types.KeyHealthReport, error) {
	keyPair, err := c.keys.GetKeyPair(ctx, userID)
	if err != nil {
		return nil, err
	}
	if keyPair == nil {
		return &types.KeyHealthReport{
			Healthy:        false,
			Error:          "no local encryption keys",
			Recommendation: "Generate new keys or restore your key backup in encryption settings.",
		}, nil
	}

	probe := "key health probe " + uuid.NewString()
	if err := roundTrip(probe, keyPair); err != nil {
		return &types.KeyHealthReport{
			Healthy:        false,
			Error:          err.Error(),
			Recommendation: "Your encryption keys are corrupt. Restore your key backup, or regenerate keys if no backup exists.",
		}, nil
	}
	return &types.KeyHealthReport{Healthy: true}, nil
}

func roundTrip(probe string, keyPair *engine.KeyPair) error {
	contentKey, err := engine.GenerateContentKey()
	if err != nil {
		return err
	}
	encrypted, err := engine.EncryptContent(probe, contentKey)
	if err != nil {
		return err
	}
	wrapped, err := engine.WrapKeyForRecipient(contentKey, keyPair.PublicKey)
	if err != nil {
		return err
	}
	unwrapped, err := engine.UnwrapKeyFromSender(wrapped, keyPair.PrivateKey)
	if err != nil {
		return err
	}
	plaintext, err := engine.DecryptContent(encrypted, unwrapped)
	if err != nil {
		return err
	}
	if plaintext != probe {
		return fmt.Errorf("round trip produced different plaintext")
	}
	return nil
}

// ExportUserKeys serializes the user's key pair for device transfer. The
// result contains the plaintext private key; it is never persisted here.
func (c *Coordinator) ExportUserKeys(ctx context.Context, userID string) (*types.ExportedKeys, error) {
	keyPair, err := c.keys.GetKeyPair(ctx, userID)
	if err != nil {
		return nil, err
	}
	if keyPair == nil {
		return nil, ErrNoLocalKeys
	}

	publicKey, err := engine.ExportPublicKey(keyPair.PublicKey)
	if err != nil {
		return nil, err
	}
	privateKey, err := engine.ExportPrivateKey(keyPair.PrivateKey)
	if err != nil {
		return nil, err
	}
	return &types.ExportedKeys{PublicKey: publicKey, PrivateKey: privateKey}, nil
}

// ImportUserKeys installs a key pair exported from another device and
// publishes its public key.
func (c *Coordinator) ImportUserKeys(ctx context.Context, userID string, keys *types.ExportedKeys) error {
	publicKey, err := engine.ImportPublicKey(keys.PublicKey)
	if err != nil {
		return err
	}
	privateKey, err := engine.ImportPrivateKey(keys.PrivateKey)
	if err != nil {
		return err
	}

	keyPair := &engine.KeyPair{PublicKey: publicKey, PrivateKey: privateKey}
	if err := c.keys.StoreKeyPair(ctx, userID, keyPair); err != nil {
		return err
	}
	return c.publishPublicKey(ctx, userID, keyPair)
}

// MessageRecipients lists the user IDs a message's content key was wrapped
// for, sorted.
func (c *Coordinator) MessageRecipients(msg *types.Message) []string {
	recipients := make([]string, 0, len(msg.EncryptedKeys))
	for userID := range msg.EncryptedKeys {
		recipients = append(recipients, userID)
	}
	sort.Strings(recipients)
	return recipients
}

// CanDecrypt reports whether the message carries a wrapped key for the user.
func (c *Coordinator) CanDecrypt(msg *types.Message, userID string) bool {
	if !msg.IsEncrypted {
		return true
	}
	_, ok := msg.EncryptedKeys[userID]
	return ok
}

// EncryptionInfo returns a copy of the message's encryption metadata, or nil
// for plaintext messages.
func (c *Coordinator) EncryptionInfo(msg *types.Message) *types.EncryptionData {
	if msg.Encryption == nil {
		return nil
	}
	info := *msg.Encryption
	return &info
}

// ClearUserCache drops the user's cached decryptions, e.g. on logout.
func (c *Coordinator) ClearUserCache(userID string) {
	c.cache.InvalidateUser(userID)
	c.notifyStreams()
}

// registerStream installs a re-render trigger channel for one open stream.
func (c *Coordinator) registerStream() (string, <-chan struct{}) {
	c.triggerMu.Lock()
	defer c.triggerMu.Unlock()
	id := uuid.NewString()
	ch := make(chan struct{}, 1)
	c.triggers[id] = ch
	return id, ch
}

func (c *Coordinator) unregisterStream(id string) {
	c.triggerMu.Lock()
	defer c.triggerMu.Unlock()
	delete(c.triggers, id)
}

// notifyStreams pokes every open stream to re-render from the cache. The
// send is non-blocking: a trigger already pending is sufficient.
func (c *Coordinator) notifyStreams() {
	c.triggerMu.Lock()
	defer c.triggerMu.Unlock()
	for _, ch := range c.triggers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
