package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/domain/notification"
	"github.com/carelink/carelink/internal/platform/auth"
	notify "github.com/carelink/carelink/internal/platform/notification"
	"github.com/carelink/carelink/internal/platform/websocket"
	"github.com/carelink/carelink/pkg/apperr"
)

var (
	ErrInvalidTransition = errors.New("invalid call status transition")
	ErrForbidden         = errors.New("not a participant in this call")
)

const (
	DefaultRingTimeout = 45 * time.Second
	sweepBatch         = 200
)

// Names resolves display names for call participants.
type Names interface {
	DisplayName(ctx context.Context, id, fallback string) string
}

// Notifier stores and pushes missed-call notifications.
type Notifier interface {
	Build(kind notify.Kind, recipientID string, hospitalID, alertID *uuid.UUID, data map[string]string) *notification.Notification
	Notify(ctx context.Context, n *notification.Notification) error
}

type Publisher interface {
	Publish(ctx context.Context, event websocket.Event) error
}

type Service struct {
	repo     Repository
	names    Names
	notifier Notifier
	hub      Publisher
	logger   zerolog.Logger
	now      func() time.Time

	// OnEnded observes calls reaching declined, missed or ended.
	OnEnded func(status string)
}

func NewService(repo Repository, names Names, notifier Notifier, hub Publisher, logger zerolog.Logger) *Service {
	return &Service{repo: repo, names: names, notifier: notifier, hub: hub, logger: logger, now: time.Now}
}

func (s *Service) displayName(ctx context.Context, id, fallback string) string {
	if s.names == nil {
		if fallback != "" {
			return fallback
		}
		return id
	}
	return s.names.DisplayName(ctx, id, fallback)
}

// Place starts a call from the caller to req.CalleeID. The call is stored
// ringing and the callee is told on calls.<callee>.
func (s *Service) Place(ctx context.Context, req PlaceRequest) (*Call, error) {
	callerID := auth.UserIDFromContext(ctx)
	if callerID == "" {
		return nil, apperr.Invalidf("caller_id is required")
	}
	if req.CalleeID == "" {
		return nil, apperr.Invalidf("callee_id is required")
	}
	if req.CalleeID == callerID {
		return nil, apperr.Invalidf("cannot call yourself")
	}
	if req.CallType == "" {
		req.CallType = TypeVideo
	}
	if req.CallType != TypeAudio && req.CallType != TypeVideo {
		return nil, apperr.Invalidf("call_type must be audio or video")
	}
	if err := validateSDP(webrtc.SDPTypeOffer, req.OfferSDP); err != nil {
		return nil, err
	}

	now := s.now()
	c := &Call{
		CallerID:   callerID,
		CallerName: s.displayName(ctx, callerID, auth.UserNameFromContext(ctx)),
		CalleeID:   req.CalleeID,
		CalleeName: s.displayName(ctx, req.CalleeID, ""),
		CallType:   req.CallType,
		Status:     StatusRinging,
		OfferSDP:   req.OfferSDP,
		RingingAt:  &now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create call: %w", err)
	}
	s.publish(ctx, "call.incoming", c, c.CalleeID)
	return c, nil
}

// transition moves c to status if the stored call is still in its current
// status.
func (s *Service) transition(ctx context.Context, c *Call, to string, mutate func(c *Call)) error {
	from := c.Status
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	c.Status = to
	if mutate != nil {
		mutate(c)
	}
	if err := s.repo.Transition(ctx, c, from); err != nil {
		if errors.Is(err, ErrStale) {
			return fmt.Errorf("%w: call is no longer %s", ErrInvalidTransition, from)
		}
		return err
	}
	if to != StatusConnected && s.OnEnded != nil {
		s.OnEnded(to)
	}
	return nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID, calleeOnly bool) (*Call, string, error) {
	userID := auth.UserIDFromContext(ctx)
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if calleeOnly && c.CalleeID != userID {
		return nil, "", fmt.Errorf("%w: only the callee may do this", ErrForbidden)
	}
	if !c.Participant(userID) {
		return nil, "", ErrForbidden
	}
	return c, userID, nil
}

// Answer connects a ringing call. Only the callee may answer.
func (s *Service) Answer(ctx context.Context, id uuid.UUID, answerSDP string) (*Call, error) {
	if err := validateSDP(webrtc.SDPTypeAnswer, answerSDP); err != nil {
		return nil, err
	}
	c, _, err := s.load(ctx, id, true)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.transition(ctx, c, StatusConnected, func(c *Call) {
		c.AnswerSDP = answerSDP
		c.ConnectedAt = &now
	}); err != nil {
		return nil, err
	}
	s.publish(ctx, "call.answered", c, c.CallerID)
	return c, nil
}

// Decline refuses a ringing call. Only the callee may decline.
func (s *Service) Decline(ctx context.Context, id uuid.UUID) (*Call, error) {
	c, _, err := s.load(ctx, id, true)
	if err != nil {
		return nil, err
	}
	now := s.now()
	reason := ReasonDeclined
	if err := s.transition(ctx, c, StatusDeclined, func(c *Call) {
		c.EndedAt = &now
		c.EndReason = &reason
	}); err != nil {
		return nil, err
	}
	s.publish(ctx, "call.declined", c, c.CallerID)
	return c, nil
}

// End hangs up. Either participant may end a call; a connected call records
// its duration, a ringing one is recorded as cancelled by the caller.
func (s *Service) End(ctx context.Context, id uuid.UUID) (*Call, error) {
	c, userID, err := s.load(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if c.Status == StatusRinging && userID != c.CallerID {
		return nil, fmt.Errorf("%w: decline a ringing call instead", ErrInvalidTransition)
	}
	now := s.now()
	wasStatus := c.Status
	if err := s.transition(ctx, c, StatusEnded, func(c *Call) {
		reason := ReasonHangup
		switch wasStatus {
		case StatusConnected:
			if c.ConnectedAt != nil {
				d := int(now.Sub(*c.ConnectedAt).Seconds())
				c.DurationSeconds = &d
			}
		case StatusRinging, StatusInitiating:
			reason = ReasonCancelled
		}
		if c.EndReason == nil {
			c.EndReason = &reason
		}
		if c.EndedAt == nil {
			c.EndedAt = &now
		}
	}); err != nil {
		return nil, err
	}
	s.publish(ctx, "call.ended", c, c.Peer(userID))
	return c, nil
}

// SweepMissed marks calls that rang longer than timeout as missed and tells
// the callee. It is run by the scheduler.
func (s *Service) SweepMissed(ctx context.Context, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		timeout = DefaultRingTimeout
	}
	ringing, err := s.repo.ListRingingBefore(ctx, s.now().Add(-timeout), sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list ringing calls: %w", err)
	}
	missed := 0
	for _, c := range ringing {
		now := s.now()
		reason := ReasonNoAnswer
		err := s.transition(ctx, c, StatusMissed, func(c *Call) {
			c.EndedAt = &now
			c.EndReason = &reason
		})
		if errors.Is(err, ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return missed, err
		}
		missed++
		s.publish(ctx, "call.missed", c, c.CallerID, c.CalleeID)
		if s.notifier != nil {
			n := s.notifier.Build(notify.KindMissedCall, c.CalleeID, nil, nil, map[string]string{
				"call_type":   c.CallType,
				"caller_name": c.CallerName,
			})
			if err := s.notifier.Notify(ctx, n); err != nil {
				s.logger.Warn().Err(err).Str("call_id", c.ID.String()).Msg("missed call notification failed")
			}
		}
	}
	if missed > 0 {
		s.logger.Info().Int("missed", missed).Msg("marked unanswered calls as missed")
	}
	return missed, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Call, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.Participant(auth.UserIDFromContext(ctx)) && !auth.HasRole(ctx, auth.RoleAdmin) {
		return nil, ErrForbidden
	}
	return c, nil
}

// Incoming returns the oldest call ringing for userID.
func (s *Service) Incoming(ctx context.Context, userID string) (*Call, error) {
	return s.repo.FirstRinging(ctx, userID)
}

// Current returns the oldest connected call userID takes part in.
func (s *Service) Current(ctx context.Context, userID string) (*Call, error) {
	return s.repo.FirstConnected(ctx, userID)
}

// Ringing returns every call ringing for userID, oldest first, so a second
// simultaneous call is not hidden behind the first.
func (s *Service) Ringing(ctx context.Context, userID string) ([]*Call, error) {
	return s.repo.ListRinging(ctx, userID)
}

func (s *Service) History(ctx context.Context, userID string, limit, offset int) ([]*Call, int, error) {
	return s.repo.ListByParticipant(ctx, userID, limit, offset)
}

func (s *Service) publish(ctx context.Context, eventType string, c *Call, users ...string) {
	if s.hub == nil {
		return
	}
	for _, u := range users {
		topic := websocket.TopicCalls(u)
		ev, err := websocket.NewEvent(eventType, topic, "call", c.ID.String(), c)
		if err != nil {
			s.logger.Error().Err(err).Msg("encode call event")
			return
		}
		if err := s.hub.Publish(ctx, ev); err != nil {
			s.logger.Warn().Err(err).Str("topic", topic).Msg("publish call event")
		}
	}
}
