package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/carelink/internal/platform/db"
)

type messageRepoPG struct {
	pool *pgxpool.Pool
}

func NewMessageRepoPG(pool *pgxpool.Pool) Repository {
	return &messageRepoPG{pool: pool}
}

func (r *messageRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const messageCols = `id, conversation_id, sender_id, recipient_id, body, attachment_url, read_at, created_at`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.RecipientID, &m.Body, &m.AttachmentURL, &m.ReadAt, &m.CreatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *messageRepoPG) Create(ctx context.Context, m *Message) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO messages (conversation_id, sender_id, recipient_id, body, attachment_url)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, created_at`,
		m.ConversationID, m.SenderID, m.RecipientID, m.Body, m.AttachmentURL,
	).Scan(&m.ID, &m.CreatedAt)
}

func (r *messageRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	return scanMessage(r.conn(ctx).QueryRow(ctx, `SELECT `+messageCols+` FROM messages WHERE id = $1`, id))
}

func (r *messageRepoPG) ListThread(ctx context.Context, conversationID string, limit, offset int) ([]*Message, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE conversation_id = $1`, conversationID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+messageCols+` FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, conversationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}

func (r *messageRepoPG) ListConversations(ctx context.Context, userID string, limit, offset int) ([]*Conversation, int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(DISTINCT conversation_id) FROM messages
		WHERE sender_id = $1 OR recipient_id = $1`, userID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		WITH latest AS (
			SELECT DISTINCT ON (conversation_id) `+messageCols+`
			FROM messages
			WHERE sender_id = $1 OR recipient_id = $1
			ORDER BY conversation_id, created_at DESC
		)
		SELECT l.id, l.conversation_id, l.sender_id, l.recipient_id, l.body, l.attachment_url, l.read_at, l.created_at,
			(SELECT COUNT(*) FROM messages u
			 WHERE u.conversation_id = l.conversation_id AND u.recipient_id = $1 AND u.read_at IS NULL)
		FROM latest l
		ORDER BY l.created_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Conversation
	for rows.Next() {
		var m Message
		var unread int
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.RecipientID, &m.Body, &m.AttachmentURL, &m.ReadAt, &m.CreatedAt, &unread); err != nil {
			return nil, 0, err
		}
		items = append(items, &Conversation{
			ID:          m.ConversationID,
			PeerID:      m.Peer(userID),
			LastMessage: &m,
			Unread:      unread,
		})
	}
	return items, total, rows.Err()
}

func (r *messageRepoPG) MarkRead(ctx context.Context, conversationID, recipientID string, at time.Time) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE messages SET read_at = $3
		WHERE conversation_id = $1 AND recipient_id = $2 AND read_at IS NULL`,
		conversationID, recipientID, at)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *messageRepoPG) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE recipient_id = $1 AND read_at IS NULL`, recipientID).Scan(&n)
	return n, err
}
