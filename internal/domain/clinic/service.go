package clinic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/domain/notification"
	"github.com/carelink/carelink/internal/domain/users"
	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/internal/platform/db"
	notify "github.com/carelink/carelink/internal/platform/notification"
	"github.com/carelink/carelink/pkg/apperr"
)

var (
	ErrSlotTaken         = errors.New("doctor already has an appointment in this slot")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrForbidden         = errors.New("not permitted for this record")
)

const maxDurationMinutes = 240

// Directory looks up user profiles.
type Directory interface {
	Get(ctx context.Context, id string) (*users.User, error)
}

// HospitalScope resolves hospital-account permissions.
type HospitalScope interface {
	Authorize(ctx context.Context, id uuid.UUID) error
}

type Notifier interface {
	Build(kind notify.Kind, recipientID string, hospitalID, alertID *uuid.UUID, data map[string]string) *notification.Notification
	CreateBatch(ctx context.Context, ns []*notification.Notification) error
	DeliverAll(ctx context.Context, ns []*notification.Notification) int
}

type Service struct {
	appointments  AppointmentRepository
	prescriptions PrescriptionRepository
	staff         StaffRepository
	directory     Directory
	hospitals     HospitalScope
	notifier      Notifier
	tx            db.TxFunc
	logger        zerolog.Logger
	now           func() time.Time
}

func NewService(appt AppointmentRepository, rx PrescriptionRepository, staff StaffRepository, directory Directory, hospitals HospitalScope, notifier Notifier, tx db.TxFunc, logger zerolog.Logger) *Service {
	return &Service{
		appointments:  appt,
		prescriptions: rx,
		staff:         staff,
		directory:     directory,
		hospitals:     hospitals,
		notifier:      notifier,
		tx:            tx,
		logger:        logger,
		now:           time.Now,
	}
}

func (s *Service) deliver(ctx context.Context, ns []*notification.Notification) {
	if len(ns) > 0 {
		s.notifier.DeliverAll(ctx, ns)
	}
}

// -- Appointments --

// RequestAppointment books a slot with a doctor for the calling patient. The
// slot check and insert run under a per-doctor lock so two patients cannot
// take overlapping slots.
func (s *Service) RequestAppointment(ctx context.Context, req AppointmentRequest) (*Appointment, error) {
	patientID := auth.UserIDFromContext(ctx)
	if patientID == "" {
		return nil, apperr.Invalidf("patient_id is required")
	}
	if req.DoctorID == "" {
		return nil, apperr.Invalidf("doctor_id is required")
	}
	if req.ScheduledAt.IsZero() {
		return nil, apperr.Invalidf("scheduled_at is required")
	}
	if !req.ScheduledAt.After(s.now()) {
		return nil, apperr.Invalidf("scheduled_at must be in the future")
	}
	if req.DurationMinutes == 0 {
		req.DurationMinutes = DefaultDurationMinutes
	}
	if req.DurationMinutes < 0 || req.DurationMinutes > maxDurationMinutes {
		return nil, apperr.Invalidf("duration_minutes must be between 1 and %d", maxDurationMinutes)
	}
	if req.Kind == "" {
		req.Kind = KindInPerson
	}
	if req.Kind != KindInPerson && req.Kind != KindVideo {
		return nil, apperr.Invalidf("unknown kind %q", req.Kind)
	}
	doctor, err := s.directory.Get(ctx, req.DoctorID)
	if err != nil {
		return nil, err
	}
	if doctor.Role != auth.RoleDoctor {
		return nil, apperr.Invalidf("user %s is not a doctor", req.DoctorID)
	}

	a := &Appointment{
		PatientID:       patientID,
		PatientName:     auth.UserNameFromContext(ctx),
		DoctorID:        doctor.ID,
		DoctorName:      doctor.Name,
		HospitalID:      req.HospitalID,
		ScheduledAt:     req.ScheduledAt.UTC(),
		DurationMinutes: req.DurationMinutes,
		Kind:            req.Kind,
		Status:          AppointmentRequested,
		Reason:          req.Reason,
	}
	err = s.tx(ctx, func(ctx context.Context) error {
		if err := s.appointments.LockDoctor(ctx, a.DoctorID); err != nil {
			return err
		}
		n, err := s.appointments.Overlapping(ctx, a.DoctorID, a.ScheduledAt, a.End(), uuid.Nil)
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrSlotTaken
		}
		return s.appointments.Create(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	uid := auth.UserIDFromContext(ctx)
	if a.PatientID != uid && a.DoctorID != uid && !auth.HasRole(ctx, auth.RoleAdmin) {
		return nil, ErrForbidden
	}
	return a, nil
}

// UpdateAppointmentStatus moves an appointment along its lifecycle. The doctor
// drives every step; the patient may only cancel. The patient hears about
// every change they did not make.
func (s *Service) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, status string, notes *string) (*Appointment, error) {
	uid := auth.UserIDFromContext(ctx)
	admin := auth.HasRole(ctx, auth.RoleAdmin)
	var (
		out *Appointment
		ns  []*notification.Notification
	)
	err := s.tx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		switch {
		case admin, a.DoctorID == uid:
		case a.PatientID == uid:
			if status != AppointmentCancelled {
				return ErrForbidden
			}
		default:
			return ErrForbidden
		}
		if !CanTransitionAppointment(a.Status, status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, status)
		}
		if status == AppointmentNoShow && s.now().Before(a.ScheduledAt) {
			return apperr.Invalidf("cannot mark no_show before the appointment starts")
		}
		a.Status = status
		if notes != nil {
			a.Notes = notes
		}
		if err := s.appointments.Update(ctx, a); err != nil {
			return err
		}
		if a.PatientID != uid {
			ns = append(ns, s.notifier.Build(notify.KindAppointmentUpdated, a.PatientID, a.HospitalID, nil, map[string]string{
				"status":      strings.ReplaceAll(status, "_", " "),
				"doctor_name": a.DoctorName,
				"date":        a.ScheduledAt.Format("02 Jan 2006 15:04 MST"),
			}))
		}
		if err := s.notifier.CreateBatch(ctx, ns); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.deliver(ctx, ns)
	return out, nil
}

// Reschedule moves an open appointment to a new start time, re-checking the
// doctor's calendar. A confirmed appointment goes back to requested when the
// patient moves it.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, at time.Time) (*Appointment, error) {
	if !at.After(s.now()) {
		return nil, apperr.Invalidf("scheduled_at must be in the future")
	}
	uid := auth.UserIDFromContext(ctx)
	var out *Appointment
	err := s.tx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if a.PatientID != uid && a.DoctorID != uid && !auth.HasRole(ctx, auth.RoleAdmin) {
			return ErrForbidden
		}
		if !a.Holds() {
			return fmt.Errorf("%w: cannot reschedule a %s appointment", ErrInvalidTransition, a.Status)
		}
		if err := s.appointments.LockDoctor(ctx, a.DoctorID); err != nil {
			return err
		}
		a.ScheduledAt = at.UTC()
		n, err := s.appointments.Overlapping(ctx, a.DoctorID, a.ScheduledAt, a.End(), a.ID)
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrSlotTaken
		}
		if a.PatientID == uid {
			a.Status = AppointmentRequested
		}
		if err := s.appointments.Update(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListAppointments returns the caller's appointments: as doctor for doctor
// accounts, as patient otherwise.
func (s *Service) ListAppointments(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	uid := auth.UserIDFromContext(ctx)
	if auth.HasRole(ctx, auth.RoleDoctor) {
		return s.appointments.ListByDoctor(ctx, uid, f, limit, offset)
	}
	return s.appointments.ListByPatient(ctx, uid, f, limit, offset)
}

// -- Prescriptions --

type PrescriptionRequest struct {
	PatientID     string       `json:"patient_id"`
	AppointmentID *uuid.UUID   `json:"appointment_id,omitempty"`
	Diagnosis     string       `json:"diagnosis"`
	Medications   []Medication `json:"medications"`
	Instructions  string       `json:"instructions"`
	ValidUntil    *time.Time   `json:"valid_until,omitempty"`
}

func validateMedications(meds []Medication) error {
	if len(meds) == 0 {
		return apperr.Invalidf("at least one medication is required")
	}
	for i, m := range meds {
		if strings.TrimSpace(m.Name) == "" {
			return apperr.Invalidf("medications[%d].name is required", i)
		}
		if strings.TrimSpace(m.Dosage) == "" {
			return apperr.Invalidf("medications[%d].dosage is required", i)
		}
		if m.DurationDays < 0 {
			return apperr.Invalidf("medications[%d].duration_days must not be negative", i)
		}
	}
	return nil
}

// IssuePrescription records a prescription written by the calling doctor and
// tells the patient.
func (s *Service) IssuePrescription(ctx context.Context, req PrescriptionRequest) (*Prescription, error) {
	doctorID := auth.UserIDFromContext(ctx)
	if req.PatientID == "" {
		return nil, apperr.Invalidf("patient_id is required")
	}
	if err := validateMedications(req.Medications); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if req.ValidUntil != nil && !req.ValidUntil.After(now) {
		return nil, apperr.Invalidf("valid_until must be in the future")
	}
	var hospitalID *uuid.UUID
	if req.AppointmentID != nil {
		a, err := s.appointments.GetByID(ctx, *req.AppointmentID)
		if err != nil {
			return nil, err
		}
		if a.DoctorID != doctorID || a.PatientID != req.PatientID {
			return nil, apperr.Invalidf("appointment %s is not between this doctor and patient", a.ID)
		}
		hospitalID = a.HospitalID
	}

	p := &Prescription{
		PatientID:     req.PatientID,
		DoctorID:      doctorID,
		AppointmentID: req.AppointmentID,
		Diagnosis:     req.Diagnosis,
		Medications:   req.Medications,
		Instructions:  req.Instructions,
		Status:        PrescriptionActive,
		IssuedAt:      now,
		ValidUntil:    req.ValidUntil,
	}
	diagnosis := p.Diagnosis
	if diagnosis == "" {
		diagnosis = "your recent consultation"
	}
	doctorName := auth.UserNameFromContext(ctx)
	if doctorName == "" {
		doctorName = "Your doctor"
	}
	ns := []*notification.Notification{
		s.notifier.Build(notify.KindPrescriptionIssued, p.PatientID, hospitalID, nil, map[string]string{
			"doctor_name": doctorName,
			"diagnosis":   diagnosis,
		}),
	}
	err := s.tx(ctx, func(ctx context.Context) error {
		if err := s.prescriptions.Create(ctx, p); err != nil {
			return err
		}
		return s.notifier.CreateBatch(ctx, ns)
	})
	if err != nil {
		return nil, err
	}
	s.deliver(ctx, ns)
	return p, nil
}

func (s *Service) canReadPrescription(ctx context.Context, p *Prescription) bool {
	uid := auth.UserIDFromContext(ctx)
	return p.PatientID == uid || p.DoctorID == uid || auth.HasRole(ctx, auth.RoleAdmin)
}

func (s *Service) GetPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := s.prescriptions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.canReadPrescription(ctx, p) {
		return nil, ErrForbidden
	}
	return p, nil
}

// ListPrescriptions lists patientID's prescriptions. Patients may only list
// their own; doctors may list any patient's.
func (s *Service) ListPrescriptions(ctx context.Context, patientID string, limit, offset int) ([]*Prescription, int, error) {
	uid := auth.UserIDFromContext(ctx)
	if patientID == "" {
		patientID = uid
	}
	if patientID != uid && !auth.CanAny(auth.RolesFromContext(ctx), auth.CapPrescriptionWrite) {
		return nil, 0, ErrForbidden
	}
	return s.prescriptions.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListIssued(ctx context.Context, limit, offset int) ([]*Prescription, int, error) {
	return s.prescriptions.ListByDoctor(ctx, auth.UserIDFromContext(ctx), limit, offset)
}

// CancelPrescription withdraws an active prescription. Only the issuing
// doctor may cancel it.
func (s *Service) CancelPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := s.prescriptions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.DoctorID != auth.UserIDFromContext(ctx) && !auth.HasRole(ctx, auth.RoleAdmin) {
		return nil, ErrForbidden
	}
	if p.Status != PrescriptionActive {
		return nil, fmt.Errorf("%w: prescription is %s", ErrInvalidTransition, p.Status)
	}
	p.Status = PrescriptionCancelled
	if err := s.prescriptions.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// -- Staff --

func validateStaff(st *Staff) error {
	if strings.TrimSpace(st.Name) == "" {
		return apperr.Invalidf("name is required")
	}
	if strings.TrimSpace(st.Role) == "" {
		return apperr.Invalidf("role is required")
	}
	if st.Shift == "" {
		st.Shift = ShiftDay
	}
	if !validShift(st.Shift) {
		return apperr.Invalidf("unknown shift %q", st.Shift)
	}
	return nil
}

func (s *Service) AddStaff(ctx context.Context, st *Staff) error {
	if err := s.hospitals.Authorize(ctx, st.HospitalID); err != nil {
		return err
	}
	if err := validateStaff(st); err != nil {
		return err
	}
	return s.staff.Create(ctx, st)
}

func (s *Service) GetStaff(ctx context.Context, id uuid.UUID) (*Staff, error) {
	return s.staff.GetByID(ctx, id)
}

func (s *Service) UpdateStaff(ctx context.Context, st *Staff) error {
	existing, err := s.staff.GetByID(ctx, st.ID)
	if err != nil {
		return err
	}
	if err := s.hospitals.Authorize(ctx, existing.HospitalID); err != nil {
		return err
	}
	st.HospitalID = existing.HospitalID
	st.CreatedAt = existing.CreatedAt
	if err := validateStaff(st); err != nil {
		return err
	}
	return s.staff.Update(ctx, st)
}

// SetOnDuty toggles a staff member's duty flag.
func (s *Service) SetOnDuty(ctx context.Context, id uuid.UUID, onDuty bool) (*Staff, error) {
	st, err := s.staff.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.hospitals.Authorize(ctx, st.HospitalID); err != nil {
		return nil, err
	}
	st.OnDuty = onDuty
	if err := s.staff.Update(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Service) RemoveStaff(ctx context.Context, id uuid.UUID) error {
	st, err := s.staff.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.hospitals.Authorize(ctx, st.HospitalID); err != nil {
		return err
	}
	return s.staff.Delete(ctx, id)
}

func (s *Service) ListStaff(ctx context.Context, hospitalID uuid.UUID, f StaffFilter, limit, offset int) ([]*Staff, int, error) {
	return s.staff.ListByHospital(ctx, hospitalID, f, limit, offset)
}
