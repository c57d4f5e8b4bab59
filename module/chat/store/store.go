// Package store is the conversation/message repository the push layer reads
// from and writes delivery state to.
package store

import (
	"context"
	"time"

	chatmodel "PPLink/module/chat/model"
	"PPLink/module/delivery"
)

type Store interface {
	// ConversationsForUser lists the conversations userID is a member of.
	ConversationsForUser(ctx context.Context, userID string) ([]*chatmodel.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (*chatmodel.Conversation, error)

	// RecentMessages returns up to limit messages of the conversation created
	// at or after since, newest first.
	RecentMessages(ctx context.Context, conversationID string, since time.Time, limit int) ([]*chatmodel.Message, error)
	// UnreadFor returns up to limit messages not sent by userID that userID
	// has not read yet, oldest first.
	UnreadFor(ctx context.Context, conversationID, userID string, limit int) ([]*chatmodel.Message, error)

	CreateMessage(ctx context.Context, m *chatmodel.Message) error
	GetMessage(ctx context.Context, messageID string) (*chatmodel.Message, error)
	// UpdateDelivery stores st when the message is still at version and
	// bumps the version. A stale version yields errs.ErrConflict.
	UpdateDelivery(ctx context.Context, messageID string, version int64, st delivery.State) (*chatmodel.Message, error)
}
