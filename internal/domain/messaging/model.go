package messaging

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxBodyLength = 4000

type Message struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	ConversationID string     `db:"conversation_id" json:"conversation_id"`
	SenderID       string     `db:"sender_id" json:"sender_id"`
	RecipientID    string     `db:"recipient_id" json:"recipient_id"`
	Body           string     `db:"body" json:"body"`
	AttachmentURL  *string    `db:"attachment_url" json:"attachment_url,omitempty"`
	ReadAt         *time.Time `db:"read_at" json:"read_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// Conversation summarizes one thread from the point of view of a participant.
type Conversation struct {
	ID          string   `json:"id"`
	PeerID      string   `json:"peer_id"`
	PeerName    string   `json:"peer_name,omitempty"`
	LastMessage *Message `json:"last_message"`
	Unread      int      `json:"unread"`
}

type SendRequest struct {
	RecipientID   string  `json:"recipient_id"`
	Body          string  `json:"body"`
	AttachmentURL *string `json:"attachment_url,omitempty"`
}

// ConversationID is the stable thread key for a pair of users, independent of
// who writes first.
func ConversationID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, ":")
}

// Peer returns the participant of m that is not userID.
func (m *Message) Peer(userID string) string {
	if m.SenderID == userID {
		return m.RecipientID
	}
	return m.SenderID
}
