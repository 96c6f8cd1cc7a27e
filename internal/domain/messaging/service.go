package messaging

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/domain/users"
	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/internal/platform/websocket"
	"github.com/carelink/carelink/pkg/apperr"
)

var ErrForbidden = errors.New("not a participant of this conversation")

// Directory looks up user profiles.
type Directory interface {
	Get(ctx context.Context, id string) (*users.User, error)
}

type Publisher interface {
	Publish(ctx context.Context, event websocket.Event) error
}

type Service struct {
	repo      Repository
	directory Directory
	hub       Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(repo Repository, directory Directory, hub Publisher, logger zerolog.Logger) *Service {
	return &Service{repo: repo, directory: directory, hub: hub, logger: logger, now: time.Now}
}

// Send stores a direct message from the caller and pushes it to the
// recipient's messages topic.
func (s *Service) Send(ctx context.Context, req SendRequest) (*Message, error) {
	senderID := auth.UserIDFromContext(ctx)
	if senderID == "" {
		return nil, apperr.Invalidf("sender is required")
	}
	if req.RecipientID == "" {
		return nil, apperr.Invalidf("recipient_id is required")
	}
	if req.RecipientID == senderID {
		return nil, apperr.Invalidf("cannot message yourself")
	}
	req.Body = strings.TrimSpace(req.Body)
	if req.Body == "" && (req.AttachmentURL == nil || *req.AttachmentURL == "") {
		return nil, apperr.Invalidf("body or attachment_url is required")
	}
	if len(req.Body) > maxBodyLength {
		return nil, apperr.Invalidf("body must be at most %d characters", maxBodyLength)
	}
	if _, err := s.directory.Get(ctx, req.RecipientID); err != nil {
		return nil, err
	}

	m := &Message{
		ConversationID: ConversationID(senderID, req.RecipientID),
		SenderID:       senderID,
		RecipientID:    req.RecipientID,
		Body:           req.Body,
		AttachmentURL:  req.AttachmentURL,
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, err
	}
	s.publish(ctx, "message.new", m.RecipientID, m.ID.String(), m)
	return m, nil
}

// Thread returns the caller's conversation with peerID, newest first.
func (s *Service) Thread(ctx context.Context, peerID string, limit, offset int) ([]*Message, int, error) {
	uid := auth.UserIDFromContext(ctx)
	if peerID == "" {
		return nil, 0, apperr.Invalidf("peer id is required")
	}
	return s.repo.ListThread(ctx, ConversationID(uid, peerID), limit, offset)
}

// Conversations lists the caller's threads with peer names filled in where the
// directory knows them.
func (s *Service) Conversations(ctx context.Context, limit, offset int) ([]*Conversation, int, error) {
	items, total, err := s.repo.ListConversations(ctx, auth.UserIDFromContext(ctx), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, c := range items {
		if u, err := s.directory.Get(ctx, c.PeerID); err == nil {
			c.PeerName = u.Name
		}
	}
	return items, total, nil
}

// MarkRead marks everything peerID sent the caller as read and tells peerID.
func (s *Service) MarkRead(ctx context.Context, peerID string) (int, error) {
	uid := auth.UserIDFromContext(ctx)
	if peerID == "" {
		return 0, apperr.Invalidf("peer id is required")
	}
	conv := ConversationID(uid, peerID)
	n, err := s.repo.MarkRead(ctx, conv, uid, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.publish(ctx, "message.read", peerID, conv, map[string]interface{}{
			"conversation_id": conv,
			"reader_id":       uid,
			"count":           n,
		})
	}
	return n, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Message, error) {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	uid := auth.UserIDFromContext(ctx)
	if m.SenderID != uid && m.RecipientID != uid {
		return nil, ErrForbidden
	}
	return m, nil
}

func (s *Service) Unread(ctx context.Context) (int, error) {
	return s.repo.UnreadCount(ctx, auth.UserIDFromContext(ctx))
}

func (s *Service) publish(ctx context.Context, eventType, userID, resourceID string, data interface{}) {
	if s.hub == nil {
		return
	}
	topic := websocket.TopicMessages(userID)
	ev, err := websocket.NewEvent(eventType, topic, "message", resourceID, data)
	if err != nil {
		s.logger.Error().Err(err).Msg("encode message event")
		return
	}
	if err := s.hub.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("topic", topic).Msg("publish message event")
	}
}
