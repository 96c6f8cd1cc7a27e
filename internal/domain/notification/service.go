package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/platform/auth"
	notify "github.com/carelink/carelink/internal/platform/notification"
	"github.com/carelink/carelink/internal/platform/websocket"
	"github.com/carelink/carelink/pkg/apperr"
)

var ErrForbidden = errors.New("not the recipient of this notification")

// Publisher is the realtime side of delivery.
type Publisher interface {
	Publish(ctx context.Context, event websocket.Event) error
	HasSubscribers(topic string) bool
}

// HospitalScope resolves hospital-account permissions.
type HospitalScope interface {
	Authorize(ctx context.Context, id uuid.UUID) error
	ActingFor(ctx context.Context) (uuid.UUID, error)
}

const (
	retryBatch = 100
	retryAfter = 30 * time.Second
)

type Service struct {
	repo      Repository
	templates *notify.TemplateEngine
	hub       Publisher
	hospitals HospitalScope
	logger    zerolog.Logger
	now       func() time.Time

	// OnDelivery, when set, observes every push attempt with outcome
	// "delivered", "no_subscribers" or "error".
	OnDelivery func(kind, outcome string)
}

func NewService(repo Repository, templates *notify.TemplateEngine, hub Publisher, hospitals HospitalScope, logger zerolog.Logger) *Service {
	if templates == nil {
		templates = notify.NewTemplateEngine()
	}
	return &Service{
		repo:      repo,
		templates: templates,
		hub:       hub,
		hospitals: hospitals,
		logger:    logger,
		now:       time.Now,
	}
}

// Build renders a pending notification of kind for recipientID.
func (s *Service) Build(kind notify.Kind, recipientID string, hospitalID, alertID *uuid.UUID, data map[string]string) *Notification {
	title, body := s.templates.MustRender(kind, data)
	return &Notification{
		RecipientID: recipientID,
		HospitalID:  hospitalID,
		AlertID:     alertID,
		Kind:        string(kind),
		Title:       title,
		Message:     body,
		Status:      StatusPending,
	}
}

// BuildForHospital renders a notification addressed to a hospital account.
func (s *Service) BuildForHospital(kind notify.Kind, hospitalID uuid.UUID, alertID *uuid.UUID, data map[string]string) *Notification {
	hid := hospitalID
	return s.Build(kind, hospitalID.String(), &hid, alertID, data)
}

// CreateBatch persists ns in the transaction carried by ctx, if any. Push
// them with DeliverAll once the transaction has committed.
func (s *Service) CreateBatch(ctx context.Context, ns []*Notification) error {
	for _, n := range ns {
		if n.RecipientID == "" {
			return apperr.Invalidf("recipient_id is required")
		}
		if n.Kind == "" {
			return apperr.Invalidf("kind is required")
		}
	}
	if len(ns) == 0 {
		return nil
	}
	return s.repo.CreateBatch(ctx, ns)
}

// Topic is the realtime topic a notification is pushed on.
func Topic(n *Notification) string {
	if n.HospitalAddressed() {
		return websocket.TopicAlertsHospital(n.HospitalID.String())
	}
	return websocket.TopicNotifications(n.RecipientID)
}

// Deliver pushes n and records the outcome. A push only counts as delivered
// when someone on this instance is listening; otherwise the row stays
// pending for Retry.
func (s *Service) Deliver(ctx context.Context, n *Notification) bool {
	outcome, reason := s.push(ctx, n)
	if s.OnDelivery != nil {
		s.OnDelivery(n.Kind, outcome)
	}

	var err error
	if outcome == "delivered" {
		err = s.repo.MarkDelivered(ctx, n.ID)
		if err == nil {
			n.Status = StatusDelivered
			n.Attempts++
		}
	} else {
		err = s.repo.RecordAttempt(ctx, n.ID, reason)
		if err == nil {
			n.Attempts++
			if n.Attempts >= MaxAttempts {
				n.Status = StatusFailed
			}
		}
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.Warn().Err(err).Str("notification_id", n.ID.String()).Msg("failed to record delivery outcome")
	}
	return outcome == "delivered"
}

func (s *Service) push(ctx context.Context, n *Notification) (outcome, reason string) {
	if s.hub == nil {
		return "no_subscribers", "realtime delivery disabled"
	}
	topic := Topic(n)
	event, err := websocket.NewEvent("notification", topic, "notification", n.ID.String(), n)
	if err != nil {
		return "error", err.Error()
	}
	if err := s.hub.Publish(ctx, event); err != nil {
		return "error", err.Error()
	}
	if !s.hub.HasSubscribers(topic) {
		return "no_subscribers", "no subscribers on " + topic
	}
	return "delivered", ""
}

// DeliverAll pushes each notification and returns how many were delivered.
func (s *Service) DeliverAll(ctx context.Context, ns []*Notification) int {
	delivered := 0
	for _, n := range ns {
		if s.Deliver(ctx, n) {
			delivered++
		}
	}
	return delivered
}

// Notify persists and pushes a single notification.
func (s *Service) Notify(ctx context.Context, n *Notification) error {
	if err := s.CreateBatch(ctx, []*Notification{n}); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	s.Deliver(ctx, n)
	return nil
}

func (s *Service) ListForRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	return s.repo.ListForRecipient(ctx, recipientID, unreadOnly, limit, offset)
}

// ListForHospital lists notifications addressed to the hospital the caller acts for.
func (s *Service) ListForHospital(ctx context.Context, hospitalID uuid.UUID, limit, offset int) ([]*Notification, int, error) {
	if s.hospitals != nil {
		if err := s.hospitals.Authorize(ctx, hospitalID); err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrForbidden, err)
		}
	}
	return s.repo.ListForHospital(ctx, hospitalID, limit, offset)
}

// ActingHospital resolves which hospital a hospital-role caller reads for.
func (s *Service) ActingHospital(ctx context.Context) (uuid.UUID, error) {
	if s.hospitals == nil {
		return uuid.Nil, ErrForbidden
	}
	return s.hospitals.ActingFor(ctx)
}

// MarkRead marks a notification read on behalf of its recipient, or of a
// hospital account for hospital-addressed ones.
func (s *Service) MarkRead(ctx context.Context, id uuid.UUID) (*Notification, error) {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.RecipientID != auth.UserIDFromContext(ctx) && !auth.HasRole(ctx, auth.RoleAdmin) {
		if !n.HospitalAddressed() || s.hospitals == nil || s.hospitals.Authorize(ctx, *n.HospitalID) != nil {
			return nil, ErrForbidden
		}
	}
	if n.Status == StatusRead {
		return n, nil
	}
	if err := s.repo.MarkRead(ctx, id); err != nil {
		return nil, err
	}
	n.Status = StatusRead
	return n, nil
}

// Retry re-pushes pending notifications older than a short grace period.
// It is run by the scheduler.
func (s *Service) Retry(ctx context.Context) (int, error) {
	pending, err := s.repo.ListUndelivered(ctx, s.now().Add(-retryAfter), retryBatch)
	if err != nil {
		return 0, fmt.Errorf("list undelivered: %w", err)
	}
	delivered := 0
	for _, n := range pending {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		if s.Deliver(ctx, n) {
			delivered++
		}
	}
	if len(pending) > 0 {
		s.logger.Info().Int("pending", len(pending)).Int("delivered", delivered).Msg("notification redelivery pass")
	}
	return delivered, nil
}
