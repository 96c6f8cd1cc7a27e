package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("message not found")

type Repository interface {
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*Message, error)
	// ListThread returns a conversation newest first.
	ListThread(ctx context.Context, conversationID string, limit, offset int) ([]*Message, int, error)
	// ListConversations returns the latest message of each thread userID takes
	// part in, with the count of messages still unread by userID.
	ListConversations(ctx context.Context, userID string, limit, offset int) ([]*Conversation, int, error)
	// MarkRead stamps every unread message addressed to recipientID in the
	// conversation and returns how many changed.
	MarkRead(ctx context.Context, conversationID, recipientID string, at time.Time) (int, error)
	UnreadCount(ctx context.Context, recipientID string) (int, error)
}
