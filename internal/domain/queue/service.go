package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/domain/hospital"
	"github.com/carelink/carelink/internal/domain/notification"
	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/internal/platform/db"
	notify "github.com/carelink/carelink/internal/platform/notification"
	"github.com/carelink/carelink/internal/platform/websocket"
	"github.com/carelink/carelink/pkg/apperr"
)

var (
	ErrInvalidTransition = errors.New("invalid queue status transition")
	ErrForbidden         = errors.New("not permitted for this queue entry")
)

type HospitalScope interface {
	Get(ctx context.Context, id uuid.UUID) (*hospital.Hospital, error)
	Authorize(ctx context.Context, id uuid.UUID) error
}

type Notifier interface {
	Build(kind notify.Kind, recipientID string, hospitalID, alertID *uuid.UUID, data map[string]string) *notification.Notification
	CreateBatch(ctx context.Context, ns []*notification.Notification) error
	DeliverAll(ctx context.Context, ns []*notification.Notification) int
}

type Publisher interface {
	Publish(ctx context.Context, event websocket.Event) error
}

type Service struct {
	repo      Repository
	hospitals HospitalScope
	notifier  Notifier
	hub       Publisher
	tx        db.TxFunc
	loc       *time.Location
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService builds the queue service. Queue days roll over at midnight in
// loc; nil means UTC.
func NewService(repo Repository, hospitals HospitalScope, notifier Notifier, hub Publisher, tx db.TxFunc, loc *time.Location, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo:      repo,
		hospitals: hospitals,
		notifier:  notifier,
		hub:       hub,
		tx:        tx,
		loc:       loc,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) today() time.Time { return Day(s.now(), s.loc) }

// Join gives the calling patient the next number in today's queue at
// hospitalID.
func (s *Service) Join(ctx context.Context, hospitalID uuid.UUID, req JoinRequest) (*Position, error) {
	patientID := auth.UserIDFromContext(ctx)
	if patientID == "" {
		return nil, apperr.Invalidf("patient_id is required")
	}
	if _, err := s.hospitals.Get(ctx, hospitalID); err != nil {
		return nil, err
	}
	day := s.today()
	e := &Entry{
		HospitalID:  hospitalID,
		PatientID:   patientID,
		PatientName: auth.UserNameFromContext(ctx),
		Department:  req.Department,
		QueueDate:   day,
		Status:      StatusWaiting,
	}
	var ahead int
	err := s.tx(ctx, func(ctx context.Context) error {
		if _, err := s.repo.OpenForPatient(ctx, patientID, hospitalID, day); err == nil {
			return ErrAlreadyQueued
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		n, err := s.repo.NextNumber(ctx, hospitalID, day)
		if err != nil {
			return fmt.Errorf("allocate queue number: %w", err)
		}
		e.QueueNumber = n
		if err := s.repo.Create(ctx, e); err != nil {
			return err
		}
		ahead, err = s.repo.CountAhead(ctx, e)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, "queue.joined", e)
	return &Position{Entry: e, Ahead: ahead}, nil
}

// CallNext moves the lowest-numbered waiting entry to called and notifies the
// patient.
func (s *Service) CallNext(ctx context.Context, hospitalID uuid.UUID, department string) (*Entry, error) {
	if err := s.hospitals.Authorize(ctx, hospitalID); err != nil {
		return nil, err
	}
	var (
		out   *Entry
		notes []*notification.Notification
	)
	err := s.tx(ctx, func(ctx context.Context) error {
		e, err := s.repo.LockNextWaiting(ctx, hospitalID, s.today(), department)
		if err != nil {
			return err
		}
		s.markCalled(e)
		if err := s.repo.Update(ctx, e); err != nil {
			return err
		}
		notes = []*notification.Notification{s.calledNotice(e)}
		if err := s.notifier.CreateBatch(ctx, notes); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.DeliverAll(ctx, notes)
	s.publish(ctx, "queue.called", out)
	return out, nil
}

func (s *Service) markCalled(e *Entry) {
	now := s.now().UTC()
	e.Status = StatusCalled
	e.CalledAt = &now
}

func (s *Service) calledNotice(e *Entry) *notification.Notification {
	dept := e.Department
	if dept == "" {
		dept = "the front desk"
	}
	hid := e.HospitalID
	return s.notifier.Build(notify.KindQueueCalled, e.PatientID, &hid, nil, map[string]string{
		"queue_number": strconv.Itoa(e.QueueNumber),
		"department":   dept,
	})
}

// UpdateStatus is the hospital's manual control over an entry. Re-queuing a
// skipped entry issues it a fresh number.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status string) (*Entry, error) {
	if !validStatus(status) {
		return nil, apperr.Invalidf("unknown status %q", status)
	}
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.hospitals.Authorize(ctx, existing.HospitalID); err != nil {
		return nil, err
	}

	var (
		out   *Entry
		notes []*notification.Notification
	)
	err = s.tx(ctx, func(ctx context.Context) error {
		e, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(e.Status, status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, status)
		}
		switch status {
		case StatusCalled:
			s.markCalled(e)
			notes = []*notification.Notification{s.calledNotice(e)}
		case StatusWaiting:
			n, err := s.repo.NextNumber(ctx, e.HospitalID, e.QueueDate)
			if err != nil {
				return fmt.Errorf("allocate queue number: %w", err)
			}
			e.QueueNumber = n
			e.CalledAt = nil
			e.Status = status
		default:
			e.Status = status
		}
		if err := s.repo.Update(ctx, e); err != nil {
			return err
		}
		if err := s.notifier.CreateBatch(ctx, notes); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(notes) > 0 {
		s.notifier.DeliverAll(ctx, notes)
	}
	s.publish(ctx, "queue.updated", out)
	return out, nil
}

// Leave takes the calling patient out of the queue.
func (s *Service) Leave(ctx context.Context, id uuid.UUID) (*Entry, error) {
	var out *Entry
	err := s.tx(ctx, func(ctx context.Context) error {
		e, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if e.PatientID != auth.UserIDFromContext(ctx) {
			return ErrForbidden
		}
		if !CanTransition(e.Status, StatusLeft) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, StatusLeft)
		}
		e.Status = StatusLeft
		if err := s.repo.Update(ctx, e); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, "queue.updated", out)
	return out, nil
}

// Today lists today's entries at hospitalID, optionally filtered by status.
func (s *Service) Today(ctx context.Context, hospitalID uuid.UUID, status string) ([]*Entry, error) {
	if status != "" && !validStatus(status) {
		return nil, apperr.Invalidf("unknown status %q", status)
	}
	if err := s.hospitals.Authorize(ctx, hospitalID); err != nil {
		return nil, err
	}
	return s.repo.ListByDay(ctx, hospitalID, s.today(), status)
}

// Position reports how many waiting entries are ahead of id. Entries that
// are no longer waiting have nobody ahead.
func (s *Service) Position(ctx context.Context, id uuid.UUID) (*Position, error) {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.PatientID != auth.UserIDFromContext(ctx) {
		if err := s.hospitals.Authorize(ctx, e.HospitalID); err != nil {
			return nil, ErrForbidden
		}
	}
	if e.Status != StatusWaiting {
		return &Position{Entry: e}, nil
	}
	ahead, err := s.repo.CountAhead(ctx, e)
	if err != nil {
		return nil, err
	}
	return &Position{Entry: e, Ahead: ahead}, nil
}

func (s *Service) publish(ctx context.Context, eventType string, e *Entry) {
	if s.hub == nil {
		return
	}
	topic := websocket.TopicQueue(e.HospitalID.String())
	ev, err := websocket.NewEvent(eventType, topic, "queue_entry", e.ID.String(), e)
	if err != nil {
		s.logger.Error().Err(err).Msg("encode queue event")
		return
	}
	if err := s.hub.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("topic", topic).Msg("publish queue event")
	}
}
