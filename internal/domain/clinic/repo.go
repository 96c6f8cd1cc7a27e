package clinic

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrPrescriptionNotFound = errors.New("prescription not found")
	ErrStaffNotFound        = errors.New("staff member not found")
)

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	ListByPatient(ctx context.Context, patientID string, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error)
	ListByDoctor(ctx context.Context, doctorID string, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error)
	// LockDoctor serializes slot checks for doctorID until the surrounding
	// transaction ends.
	LockDoctor(ctx context.Context, doctorID string) error
	// Overlapping counts requested or confirmed appointments of doctorID
	// that intersect [start, end), ignoring exclude.
	Overlapping(ctx context.Context, doctorID string, start, end time.Time, exclude uuid.UUID) (int, error)
}

type PrescriptionRepository interface {
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	Update(ctx context.Context, p *Prescription) error
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Prescription, int, error)
	ListByDoctor(ctx context.Context, doctorID string, limit, offset int) ([]*Prescription, int, error)
}

type StaffRepository interface {
	Create(ctx context.Context, s *Staff) error
	GetByID(ctx context.Context, id uuid.UUID) (*Staff, error)
	Update(ctx context.Context, s *Staff) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByHospital(ctx context.Context, hospitalID uuid.UUID, f StaffFilter, limit, offset int) ([]*Staff, int, error)
}
