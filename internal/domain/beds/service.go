package beds

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/domain/hospital"
	"github.com/carelink/carelink/internal/domain/notification"
	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/internal/platform/db"
	notify "github.com/carelink/carelink/internal/platform/notification"
	"github.com/carelink/carelink/pkg/apperr"
)

var (
	ErrBedUnavailable    = errors.New("no available bed of the requested type")
	ErrInvalidTransition = errors.New("invalid booking status transition")
	ErrOpenBooking       = errors.New("an open booking already exists at this hospital")
	ErrForbidden         = errors.New("not permitted for this booking")
)

// HospitalScope is the part of the hospital service beds depend on.
type HospitalScope interface {
	Get(ctx context.Context, id uuid.UUID) (*hospital.Hospital, error)
	Authorize(ctx context.Context, id uuid.UUID) error
	ActingFor(ctx context.Context) (uuid.UUID, error)
	SyncBedCounts(ctx context.Context, id uuid.UUID) (*hospital.BedCounts, error)
}

type Notifier interface {
	Build(kind notify.Kind, recipientID string, hospitalID, alertID *uuid.UUID, data map[string]string) *notification.Notification
	CreateBatch(ctx context.Context, ns []*notification.Notification) error
	DeliverAll(ctx context.Context, ns []*notification.Notification) int
}

type Service struct {
	beds      BedRepository
	bookings  BookingRepository
	hospitals HospitalScope
	notifier  Notifier
	tx        db.TxFunc
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(beds BedRepository, bookings BookingRepository, hospitals HospitalScope, notifier Notifier, tx db.TxFunc, logger zerolog.Logger) *Service {
	return &Service{
		beds:      beds,
		bookings:  bookings,
		hospitals: hospitals,
		notifier:  notifier,
		tx:        tx,
		logger:    logger,
		now:       time.Now,
	}
}

// -- Beds --

func validateBed(b *Bed) error {
	if b.Ward == "" {
		return apperr.Invalidf("ward is required")
	}
	if b.BedNumber == "" {
		return apperr.Invalidf("bed_number is required")
	}
	if b.BedType == "" {
		b.BedType = TypeGeneral
	}
	if !validBedType(b.BedType) {
		return apperr.Invalidf("unknown bed_type %q", b.BedType)
	}
	if b.Status == "" {
		b.Status = BedAvailable
	}
	if !validBedStatus(b.Status) {
		return apperr.Invalidf("unknown bed status %q", b.Status)
	}
	return nil
}

// CreateBed adds a bed to the hospital's inventory and refreshes the
// hospital's bed counters in the same transaction.
func (s *Service) CreateBed(ctx context.Context, b *Bed) error {
	if err := s.hospitals.Authorize(ctx, b.HospitalID); err != nil {
		return err
	}
	if err := validateBed(b); err != nil {
		return err
	}
	return s.tx(ctx, func(ctx context.Context) error {
		if err := s.beds.Create(ctx, b); err != nil {
			return err
		}
		_, err := s.hospitals.SyncBedCounts(ctx, b.HospitalID)
		return err
	})
}

func (s *Service) GetBed(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return s.beds.GetByID(ctx, id)
}

// UpdateBed changes a bed's ward, number, type or status. A bed held by an
// approved booking stays occupied until the booking is closed.
func (s *Service) UpdateBed(ctx context.Context, b *Bed) error {
	existing, err := s.beds.GetByID(ctx, b.ID)
	if err != nil {
		return err
	}
	if err := s.hospitals.Authorize(ctx, existing.HospitalID); err != nil {
		return err
	}
	b.HospitalID = existing.HospitalID
	if err := validateBed(b); err != nil {
		return err
	}
	return s.tx(ctx, func(ctx context.Context) error {
		locked, err := s.beds.GetForUpdate(ctx, b.ID)
		if err != nil {
			return err
		}
		if locked.Status == BedOccupied && b.Status != BedOccupied {
			return apperr.Invalidf("bed is occupied; discharge the booking first")
		}
		b.CreatedAt = locked.CreatedAt
		if err := s.beds.Update(ctx, b); err != nil {
			return err
		}
		_, err = s.hospitals.SyncBedCounts(ctx, b.HospitalID)
		return err
	})
}

func (s *Service) DeleteBed(ctx context.Context, id uuid.UUID) error {
	existing, err := s.beds.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.hospitals.Authorize(ctx, existing.HospitalID); err != nil {
		return err
	}
	return s.tx(ctx, func(ctx context.Context) error {
		locked, err := s.beds.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if locked.Status == BedOccupied {
			return apperr.Invalidf("bed is occupied")
		}
		if err := s.beds.Delete(ctx, id); err != nil {
			return err
		}
		_, err = s.hospitals.SyncBedCounts(ctx, locked.HospitalID)
		return err
	})
}

// ListBeds is public so patients can browse a hospital's inventory.
func (s *Service) ListBeds(ctx context.Context, hospitalID uuid.UUID, f BedFilter, limit, offset int) ([]*Bed, int, error) {
	if f.BedType != "" && !validBedType(f.BedType) {
		return nil, 0, apperr.Invalidf("unknown bed_type %q", f.BedType)
	}
	if f.Status != "" && !validBedStatus(f.Status) {
		return nil, 0, apperr.Invalidf("unknown bed status %q", f.Status)
	}
	return s.beds.ListByHospital(ctx, hospitalID, f, limit, offset)
}

// -- Bookings --

// RequestBooking records the calling patient's request for a bed. A patient
// holds at most one pending or approved booking per hospital.
func (s *Service) RequestBooking(ctx context.Context, req BookingRequest) (*Booking, error) {
	patientID := auth.UserIDFromContext(ctx)
	if patientID == "" {
		return nil, apperr.Invalidf("patient_id is required")
	}
	if req.HospitalID == uuid.Nil {
		return nil, apperr.Invalidf("hospital_id is required")
	}
	if req.BedType == "" {
		req.BedType = TypeGeneral
	}
	if !validBedType(req.BedType) {
		return nil, apperr.Invalidf("unknown bed_type %q", req.BedType)
	}
	if _, err := s.hospitals.Get(ctx, req.HospitalID); err != nil {
		return nil, err
	}
	open, err := s.bookings.HasOpen(ctx, patientID, req.HospitalID)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, ErrOpenBooking
	}
	b := &Booking{
		HospitalID:  req.HospitalID,
		PatientID:   patientID,
		PatientName: auth.UserNameFromContext(ctx),
		BedType:     req.BedType,
		Reason:      req.Reason,
		Status:      BookingPending,
	}
	if err := s.bookings.Create(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// GetBooking is visible to the patient who made it and to the hospital.
func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.PatientID == auth.UserIDFromContext(ctx) {
		return b, nil
	}
	if err := s.hospitals.Authorize(ctx, b.HospitalID); err != nil {
		return nil, ErrForbidden
	}
	return b, nil
}

// review runs fn on the locked booking inside a transaction after checking
// that the caller manages its hospital and the move to `to` is allowed. The
// notifications fn returns are stored with the change and pushed after
// commit.
func (s *Service) review(ctx context.Context, id uuid.UUID, to string, fn func(ctx context.Context, b *Booking) ([]*notification.Notification, error)) (*Booking, error) {
	existing, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.hospitals.Authorize(ctx, existing.HospitalID); err != nil {
		return nil, err
	}

	var (
		out   *Booking
		notes []*notification.Notification
	)
	err = s.tx(ctx, func(ctx context.Context) error {
		b, err := s.bookings.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(b.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, to)
		}
		notes, err = fn(ctx, b)
		if err != nil {
			return err
		}
		b.Status = to
		reviewer := auth.UserIDFromContext(ctx)
		at := s.now().UTC()
		b.ReviewedBy, b.ReviewedAt = &reviewer, &at
		if err := s.bookings.Update(ctx, b); err != nil {
			return err
		}
		if err := s.notifier.CreateBatch(ctx, notes); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(notes) > 0 {
		s.notifier.DeliverAll(ctx, notes)
	}
	return out, nil
}

func (s *Service) hospitalName(ctx context.Context, id uuid.UUID) string {
	h, err := s.hospitals.Get(ctx, id)
	if err != nil {
		return "The hospital"
	}
	return h.Name
}

// ApproveBooking assigns bedID, or the first available bed of the requested
// type when bedID is nil, and marks it occupied.
func (s *Service) ApproveBooking(ctx context.Context, id uuid.UUID, bedID *uuid.UUID) (*Booking, error) {
	return s.review(ctx, id, BookingApproved, func(ctx context.Context, b *Booking) ([]*notification.Notification, error) {
		bed, err := s.lockBed(ctx, b, bedID)
		if err != nil {
			return nil, err
		}
		bed.Status = BedOccupied
		if err := s.beds.Update(ctx, bed); err != nil {
			return nil, err
		}
		if _, err := s.hospitals.SyncBedCounts(ctx, b.HospitalID); err != nil {
			return nil, err
		}
		b.BedID = &bed.ID
		hid := b.HospitalID
		return []*notification.Notification{
			s.notifier.Build(notify.KindBookingApproved, b.PatientID, &hid, nil, map[string]string{
				"hospital_name": s.hospitalName(ctx, b.HospitalID),
				"ward":          bed.Ward,
				"bed_number":    bed.BedNumber,
			}),
		}, nil
	})
}

func (s *Service) lockBed(ctx context.Context, b *Booking, bedID *uuid.UUID) (*Bed, error) {
	if bedID == nil {
		bed, err := s.beds.LockAvailable(ctx, b.HospitalID, b.BedType)
		if errors.Is(err, ErrBedNotFound) {
			return nil, ErrBedUnavailable
		}
		return bed, err
	}
	bed, err := s.beds.GetForUpdate(ctx, *bedID)
	if err != nil {
		return nil, err
	}
	if bed.HospitalID != b.HospitalID || bed.Status != BedAvailable {
		return nil, ErrBedUnavailable
	}
	return bed, nil
}

func (s *Service) RejectBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.review(ctx, id, BookingRejected, func(ctx context.Context, b *Booking) ([]*notification.Notification, error) {
		hid := b.HospitalID
		return []*notification.Notification{
			s.notifier.Build(notify.KindBookingRejected, b.PatientID, &hid, nil, map[string]string{
				"hospital_name": s.hospitalName(ctx, b.HospitalID),
			}),
		}, nil
	})
}

// Discharge closes an approved booking and frees its bed.
func (s *Service) Discharge(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.review(ctx, id, BookingDischarged, func(ctx context.Context, b *Booking) ([]*notification.Notification, error) {
		return nil, s.release(ctx, b)
	})
}

// CancelBooking withdraws the calling patient's booking. An approved booking
// gives its bed back.
func (s *Service) CancelBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	patientID := auth.UserIDFromContext(ctx)
	var out *Booking
	err := s.tx(ctx, func(ctx context.Context) error {
		b, err := s.bookings.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if b.PatientID != patientID {
			return ErrForbidden
		}
		if !CanTransition(b.Status, BookingCancelled) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, BookingCancelled)
		}
		if b.Status == BookingApproved {
			if err := s.release(ctx, b); err != nil {
				return err
			}
		}
		b.Status = BookingCancelled
		if err := s.bookings.Update(ctx, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) release(ctx context.Context, b *Booking) error {
	if b.BedID == nil {
		return nil
	}
	bed, err := s.beds.GetForUpdate(ctx, *b.BedID)
	if errors.Is(err, ErrBedNotFound) {
		s.logger.Warn().Str("booking_id", b.ID.String()).Msg("booked bed no longer exists")
		return nil
	}
	if err != nil {
		return err
	}
	bed.Status = BedAvailable
	if err := s.beds.Update(ctx, bed); err != nil {
		return err
	}
	_, err = s.hospitals.SyncBedCounts(ctx, b.HospitalID)
	return err
}

// ListBookings returns the bookings of hospitalID, or of the hospital the
// caller acts for when hospitalID is nil.
func (s *Service) ListBookings(ctx context.Context, hospitalID *uuid.UUID, status string, limit, offset int) ([]*Booking, int, error) {
	var hid uuid.UUID
	if hospitalID != nil {
		if err := s.hospitals.Authorize(ctx, *hospitalID); err != nil {
			return nil, 0, err
		}
		hid = *hospitalID
	} else {
		acting, err := s.hospitals.ActingFor(ctx)
		if err != nil {
			return nil, 0, err
		}
		hid = acting
	}
	return s.bookings.ListByHospital(ctx, hid, status, limit, offset)
}

func (s *Service) ListMine(ctx context.Context, limit, offset int) ([]*Booking, int, error) {
	return s.bookings.ListByPatient(ctx, auth.UserIDFromContext(ctx), limit, offset)
}
