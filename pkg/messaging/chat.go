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
	"time"

	"github.com/jeremyhahn/go-e2ee/pkg/types"
)

// ChatService is the chat/storage collaborator the coordinator wraps. The
// coordinator adds encryption on the way in and decryption on the way out;
// message persistence and delivery stay the collaborator's problem.
type ChatService interface {
	// GetChat resolves a conversation, or storage.ErrNotFound.
	GetChat(ctx context.Context, chatID string) (*types.Chat, error)

	// ChatMessages streams snapshots of the most recent message window.
	// The channel closes when the subscription ends.
	ChatMessages(ctx context.Context, chatID string, limit int) (<-chan []types.Message, error)

	// ChatHistory returns one older page of messages.
	ChatHistory(ctx context.Context, chatID string, before time.Time, limit int) ([]types.Message, error)

	// SendMessage delivers a message and returns its ID.
	SendMessage(ctx context.Context, req *types.SendMessageRequest) (string, error)
}

// KeyRegistry is the remote public-key directory, one record per user.
type KeyRegistry interface {
	// PublicKeyRecord returns a user's published key, or storage.ErrNotFound.
	PublicKeyRecord(ctx context.Context, userID string) (*types.PublicKeyRecord, error)

	// SetPublicKeyRecord publishes or replaces a user's key record.
	SetPublicKeyRecord(ctx context.Context, userID string, record *types.PublicKeyRecord) error

	// DeletePublicKeyRecord removes a user's key record. Removing an absent
	// record is not an error.
	DeletePublicKeyRecord(ctx context.Context, userID string) error
}
