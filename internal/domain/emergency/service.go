package emergency

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
	"github.com/carelink/carelink/pkg/geo"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTerminal          = errors.New("alert is already resolved or cancelled")
	ErrForbidden         = errors.New("not permitted for this alert")
)

const (
	staleAfter = 10 * time.Minute
	staleBatch = 100
	// A stale alert is re-sent at most maxStaleReminders times, no more
	// often than once per staleRemindEvery.
	staleRemindEvery  = 10 * time.Minute
	maxStaleReminders = 3
)

// Hospitals is the part of the hospital service alerts depend on.
type Hospitals interface {
	FindNearby(ctx context.Context, lat, lon, radiusKm float64) ([]hospital.HospitalResponse, error)
	Get(ctx context.Context, id uuid.UUID) (*hospital.Hospital, error)
	Authorize(ctx context.Context, id uuid.UUID) error
	ActingFor(ctx context.Context) (uuid.UUID, error)
}

// Geocoder turns coordinates into a street address.
type Geocoder interface {
	Address(ctx context.Context, lat, lon float64) (string, error)
}

// Hub is the realtime fan-out. *websocket.Hub satisfies it.
type Hub interface {
	Publish(ctx context.Context, event websocket.Event) error
	Listen(ctx context.Context, buffer int, topics ...string) <-chan websocket.Event
}

type Config struct {
	RadiusKm       float64
	TopN           int
	EmergencyPhone string
}

type Service struct {
	repo       Repository
	hospitals  Hospitals
	notifier   Notifier
	hub        Hub
	geocoder   Geocoder
	dispatcher *Dispatcher
	tx         db.TxFunc
	cfg        Config
	logger     zerolog.Logger
	now        func() time.Time

	// Metric hooks, set by main.
	OnTriggered  func(severity, emergencyType string)
	OnTransition func(to string)
	OnDispatch   func(elapsed time.Duration, hospitals int)
}

func NewService(repo Repository, hospitals Hospitals, notifier Notifier, hub Hub, tx db.TxFunc, cfg Config, logger zerolog.Logger) *Service {
	if cfg.EmergencyPhone == "" {
		cfg.EmergencyPhone = "108"
	}
	return &Service{
		repo:       repo,
		hospitals:  hospitals,
		notifier:   notifier,
		hub:        hub,
		dispatcher: NewDispatcher(notifier, cfg.TopN, logger),
		tx:         tx,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// WithGeocoder enables reverse geocoding of alerts raised without an address.
func (s *Service) WithGeocoder(g Geocoder) *Service {
	s.geocoder = g
	return s
}

func (s *Service) EmergencyPhone() string { return s.cfg.EmergencyPhone }

// Trigger raises an alert for the calling patient, matches nearby hospitals
// and dispatches it to the nearest ones. The alert, its responders and their
// notifications are stored together or not at all.
func (s *Service) Trigger(ctx context.Context, req TriggerRequest) (*TriggerResult, error) {
	patientID := auth.UserIDFromContext(ctx)
	if patientID == "" {
		return nil, apperr.Invalidf("patient_id is required")
	}
	if !ValidType(req.EmergencyType) {
		return nil, apperr.Invalidf("unknown emergency_type %q", req.EmergencyType)
	}
	origin := geo.Point{Lat: req.Latitude, Lon: req.Longitude}
	if !origin.Valid() {
		return nil, apperr.Invalidf("coordinates out of range")
	}

	if req.ClientRef != nil && *req.ClientRef != "" {
		existing, err := s.repo.GetByClientRef(ctx, patientID, *req.ClientRef)
		if err == nil {
			return s.replay(ctx, existing)
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	t := EmergencyType(req.EmergencyType)
	sev := ClassifySeverity(t)
	a := &Alert{
		ID:                  uuid.New(),
		PatientID:           patientID,
		PatientName:         auth.UserNameFromContext(ctx),
		PatientPhone:        req.PatientPhone,
		ClientRef:           req.ClientRef,
		EmergencyType:       t,
		SeverityLevel:       sev.Level,
		SeverityDefaulted:   !HasExplicitSeverity(t),
		EstimatedCasualties: sev.EstimatedCasualties,
		AffectedArea:        sev.AffectedArea,
		Latitude:            req.Latitude,
		Longitude:           req.Longitude,
		Address:             req.Address,
		Description:         req.Description,
		Status:              StatusActive,
		RespondingHospitals: []uuid.UUID{},
		VideoStreamURL:      req.VideoStreamURL,
	}
	if a.Address == "" && s.geocoder != nil {
		addr, err := s.geocoder.Address(ctx, a.Latitude, a.Longitude)
		if err != nil {
			s.logger.Warn().Err(err).Msg("reverse geocoding failed, alert stored without address")
		} else {
			a.Address = addr
		}
	}

	matches, err := s.hospitals.FindNearby(ctx, a.Latitude, a.Longitude, s.cfg.RadiusKm)
	if err != nil {
		return nil, fmt.Errorf("match hospitals: %w", err)
	}

	start := s.now()
	var ns []*notification.Notification
	err = s.tx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, a); err != nil {
			return err
		}
		if err := s.repo.AddHistory(ctx, &StatusChange{AlertID: a.ID, ToStatus: StatusActive, ChangedBy: patientID}); err != nil {
			return fmt.Errorf("record history: %w", err)
		}
		ns, err = s.dispatcher.Dispatch(ctx, a, matches)
		if err != nil {
			return err
		}
		if len(ns) > 0 {
			return s.repo.Update(ctx, a)
		}
		return nil
	})
	if errors.Is(err, ErrDuplicateRef) && req.ClientRef != nil {
		existing, gerr := s.repo.GetByClientRef(ctx, patientID, *req.ClientRef)
		if gerr != nil {
			return nil, gerr
		}
		return s.replay(ctx, existing)
	}
	if err != nil {
		return nil, fmt.Errorf("create alert: %w", err)
	}

	s.dispatcher.Announce(ctx, a, ns)
	s.publish(ctx, "alert.created", a)
	if s.OnTriggered != nil {
		s.OnTriggered(string(a.SeverityLevel), string(a.EmergencyType))
	}
	if s.OnDispatch != nil {
		s.OnDispatch(s.now().Sub(start), len(ns))
	}

	return &TriggerResult{
		Alert:          a,
		Hospitals:      matches,
		Dispatched:     len(ns),
		EmergencyPhone: s.cfg.EmergencyPhone,
	}, nil
}

// replay answers a retried trigger with the alert the first attempt stored.
func (s *Service) replay(ctx context.Context, a *Alert) (*TriggerResult, error) {
	matches, err := s.hospitals.FindNearby(ctx, a.Latitude, a.Longitude, s.cfg.RadiusKm)
	if err != nil {
		s.logger.Warn().Err(err).Str("alert_id", a.ID.String()).Msg("match hospitals for replayed alert")
		matches = []hospital.HospitalResponse{}
	}
	return &TriggerResult{
		Alert:          a,
		Hospitals:      matches,
		Dispatched:     len(a.RespondingHospitals),
		EmergencyPhone: s.cfg.EmergencyPhone,
		Replayed:       true,
	}, nil
}

// change is what a mutation decided to do to a locked alert.
type change struct {
	to    string
	note  *string
	notes []*notification.Notification
}

// apply locks the alert, lets mutate edit it, then stores the alert, a
// history row and any notifications in one transaction. Notifications and
// realtime events go out after commit. Resolved and cancelled alerts are
// never written again.
func (s *Service) apply(ctx context.Context, id uuid.UUID, mutate func(ctx context.Context, a *Alert) (*change, error)) (*Alert, error) {
	var a *Alert
	var ch *change
	var from string
	err := s.tx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from = a.Status
		if IsTerminal(from) {
			return ErrTerminal
		}
		ch, err = mutate(ctx, a)
		if err != nil {
			return err
		}
		if !CanTransition(from, ch.to) && !(from == StatusResponded && ch.to == StatusResponded) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, ch.to)
		}
		a.Status = ch.to
		a.UpdatedAt = s.now()
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}
		prev := from
		if err := s.repo.AddHistory(ctx, &StatusChange{
			AlertID:    a.ID,
			FromStatus: &prev,
			ToStatus:   ch.to,
			ChangedBy:  auth.UserIDFromContext(ctx),
			Note:       ch.note,
		}); err != nil {
			return fmt.Errorf("record history: %w", err)
		}
		return s.notifier.CreateBatch(ctx, ch.notes)
	})
	if err != nil {
		return nil, err
	}

	s.notifier.DeliverAll(ctx, ch.notes)
	if from != a.Status && s.OnTransition != nil {
		s.OnTransition(a.Status)
	}
	s.publish(ctx, "alert.updated", a)
	return a, nil
}

// Respond records a hospital's response. The hospital joins the responders
// if it was not dispatched to, and the alert moves to responded.
func (s *Service) Respond(ctx context.Context, id uuid.UUID, req RespondRequest) (*Alert, error) {
	hid, err := s.actingHospital(ctx, req.HospitalID)
	if err != nil {
		return nil, err
	}
	if req.ETAMinutes != nil && *req.ETAMinutes < 0 {
		return nil, apperr.Invalidf("eta_minutes must not be negative")
	}
	hospitalName := hid.String()
	if h, err := s.hospitals.Get(ctx, hid); err == nil {
		hospitalName = h.Name
	}

	return s.apply(ctx, id, func(ctx context.Context, a *Alert) (*change, error) {
		a.AddResponder(hid)
		if req.ETAMinutes != nil {
			a.ETAMinutes = req.ETAMinutes
		}
		if req.AmbulanceDispatched {
			a.AmbulanceDispatched = true
		}
		eta := "unknown"
		if a.ETAMinutes != nil {
			eta = strconv.Itoa(*a.ETAMinutes)
		}
		note := req.Note
		if note == nil {
			n := "responded by " + hospitalName
			note = &n
		}
		alertID := a.ID
		return &change{
			to:   StatusResponded,
			note: note,
			notes: []*notification.Notification{
				s.notifier.Build(notify.KindAlertResponded, a.PatientID, nil, &alertID, map[string]string{
					"hospital_name": hospitalName,
					"eta":           eta,
				}),
			},
		}, nil
	})
}

// actingHospital resolves which hospital a responder speaks for.
func (s *Service) actingHospital(ctx context.Context, requested *uuid.UUID) (uuid.UUID, error) {
	if requested != nil {
		if err := s.hospitals.Authorize(ctx, *requested); err != nil {
			return uuid.Nil, fmt.Errorf("%w: %v", ErrForbidden, err)
		}
		return *requested, nil
	}
	hid, err := s.hospitals.ActingFor(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: no hospital associated with caller", ErrForbidden)
	}
	return hid, nil
}

// UpdateStatus moves an alert along its lifecycle on behalf of a responder.
// Patients withdraw their own alerts with Cancel.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, req StatusRequest) (*Alert, error) {
	if !validStatus(req.Status) {
		return nil, apperr.Invalidf("unknown status %q", req.Status)
	}
	isAdmin := auth.HasRole(ctx, auth.RoleAdmin)
	if req.Status == StatusCancelled && !isAdmin {
		return nil, fmt.Errorf("%w: only the patient may cancel an alert", ErrForbidden)
	}
	var acting uuid.UUID
	if !isAdmin && auth.HasRole(ctx, auth.RoleHospital) {
		hid, err := s.actingHospital(ctx, nil)
		if err != nil {
			return nil, err
		}
		acting = hid
	}

	return s.apply(ctx, id, func(ctx context.Context, a *Alert) (*change, error) {
		if acting != uuid.Nil && !a.HasResponder(acting) {
			return nil, fmt.Errorf("%w: hospital is not responding to this alert", ErrForbidden)
		}
		if req.Status == StatusResponded && acting != uuid.Nil && !IsTerminal(a.Status) {
			a.AddResponder(acting)
		}
		ch := &change{to: req.Status, note: req.Note}
		if req.Status == StatusResolved && a.Status != StatusResolved {
			alertID := a.ID
			ch.notes = append(ch.notes, s.notifier.Build(notify.KindAlertResolved, a.PatientID, nil, &alertID, map[string]string{
				"emergency_type": string(a.EmergencyType),
			}))
		}
		return ch, nil
	})
}

// Cancel withdraws an active alert. Only the patient who raised it may
// cancel; the responding hospitals are told.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason *string) (*Alert, error) {
	caller := auth.UserIDFromContext(ctx)
	return s.apply(ctx, id, func(ctx context.Context, a *Alert) (*change, error) {
		if a.PatientID != caller {
			return nil, fmt.Errorf("%w: not your alert", ErrForbidden)
		}
		alertID := a.ID
		ch := &change{to: StatusCancelled, note: reason}
		if a.Status == StatusActive {
			for _, hid := range a.RespondingHospitals {
				ch.notes = append(ch.notes, s.notifier.BuildForHospital(notify.KindAlertCancelled, hid, &alertID, map[string]string{
					"patient_name":   a.PatientName,
					"emergency_type": string(a.EmergencyType),
				}))
			}
		}
		return ch, nil
	})
}

// Get returns an alert. Patients only see their own.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Alert, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(ctx, a) {
		return nil, ErrForbidden
	}
	return a, nil
}

func canView(ctx context.Context, a *Alert) bool {
	roles := auth.RolesFromContext(ctx)
	if auth.CanAny(roles, auth.CapAlertReadActive) || auth.CanAny(roles, auth.CapAlertReadDispatched) {
		return true
	}
	return a.PatientID == auth.UserIDFromContext(ctx)
}

func (s *Service) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Alert, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// ListActive is the doctors' feed: alerts nobody has resolved or responded to.
func (s *Service) ListActive(ctx context.Context, limit, offset int) ([]*Alert, int, error) {
	return s.repo.ListByStatus(ctx, AudienceDoctors.statuses(), limit, offset)
}

// ListForHospitals is the hospitals' feed: active and responded alerts.
func (s *Service) ListForHospitals(ctx context.Context, limit, offset int) ([]*Alert, int, error) {
	return s.repo.ListByStatus(ctx, AudienceHospitals.statuses(), limit, offset)
}

// ListDispatched lists the open alerts a hospital was dispatched to or
// responded to.
func (s *Service) ListDispatched(ctx context.Context, hospitalID *uuid.UUID, limit, offset int) ([]*Alert, int, error) {
	hid, err := s.actingHospital(ctx, hospitalID)
	if err != nil {
		return nil, 0, err
	}
	return s.repo.ListForHospital(ctx, hid, AudienceHospitals.statuses(), limit, offset)
}

func (s *Service) History(ctx context.Context, id uuid.UUID) ([]*StatusChange, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, id)
}

// WarnStale reports active alerts that no hospital has responded to within
// ten minutes and reminds the hospitals they were dispatched to. Each alert
// gets at most maxStaleReminders reminders, spaced staleRemindEvery apart.
// It is run by the scheduler.
func (s *Service) WarnStale(ctx context.Context) (int, error) {
	now := s.now()
	stale, err := s.repo.ListStale(ctx, now.Add(-staleAfter), now.Add(-staleRemindEvery), maxStaleReminders, staleBatch)
	if err != nil {
		return 0, fmt.Errorf("list stale alerts: %w", err)
	}
	for _, a := range stale {
		minutes := int(now.Sub(a.CreatedAt).Minutes())
		s.logger.Warn().
			Str("alert_id", a.ID.String()).
			Str("severity", string(a.SeverityLevel)).
			Int("minutes", minutes).
			Int("dispatched", len(a.RespondingHospitals)).
			Msg("emergency alert without response")

		alertID := a.ID
		var ns []*notification.Notification
		for _, hid := range a.RespondingHospitals {
			ns = append(ns, s.notifier.BuildForHospital(notify.KindStaleAlert, hid, &alertID, map[string]string{
				"severity":       string(a.SeverityLevel),
				"emergency_type": string(a.EmergencyType),
				"minutes":        strconv.Itoa(minutes),
			}))
		}
		err := s.tx(ctx, func(ctx context.Context) error {
			if err := s.notifier.CreateBatch(ctx, ns); err != nil {
				return fmt.Errorf("store stale alert reminders: %w", err)
			}
			return s.repo.MarkReminded(ctx, a.ID, now)
		})
		if err != nil {
			return 0, err
		}
		s.notifier.DeliverAll(ctx, ns)
	}
	return len(stale), nil
}

// publish fans an alert change out to both feeds, the patient and every
// responding hospital.
func (s *Service) publish(ctx context.Context, eventType string, a *Alert) {
	if s.hub == nil {
		return
	}
	topics := []string{
		websocket.TopicAlertsDoctors,
		websocket.TopicAlertsHospitals,
		websocket.TopicAlertsPatient(a.PatientID),
	}
	for _, hid := range a.RespondingHospitals {
		topics = append(topics, websocket.TopicAlertsHospital(hid.String()))
	}
	for _, topic := range topics {
		ev, err := websocket.NewEvent(eventType, topic, "emergency_alert", a.ID.String(), a)
		if err != nil {
			s.logger.Error().Err(err).Msg("encode alert event")
			return
		}
		if err := s.hub.Publish(ctx, ev); err != nil {
			s.logger.Warn().Err(err).Str("topic", topic).Msg("publish alert event")
		}
	}
}
