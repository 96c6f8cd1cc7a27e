package beds

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrBedNotFound     = errors.New("bed not found")
	ErrBookingNotFound = errors.New("bed booking not found")
	ErrDuplicateBed    = errors.New("bed number already exists in this ward")
)

type BedRepository interface {
	Create(ctx context.Context, b *Bed) error
	GetByID(ctx context.Context, id uuid.UUID) (*Bed, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Bed, error)
	// LockAvailable locks the first available bed of bedType, skipping beds
	// another transaction holds.
	LockAvailable(ctx context.Context, hospitalID uuid.UUID, bedType string) (*Bed, error)
	Update(ctx context.Context, b *Bed) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByHospital(ctx context.Context, hospitalID uuid.UUID, f BedFilter, limit, offset int) ([]*Bed, int, error)
}

type BookingRepository interface {
	Create(ctx context.Context, b *Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Booking, error)
	Update(ctx context.Context, b *Booking) error
	ListByHospital(ctx context.Context, hospitalID uuid.UUID, status string, limit, offset int) ([]*Booking, int, error)
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Booking, int, error)
	// HasOpen reports whether the patient has a pending or approved booking
	// at the hospital.
	HasOpen(ctx context.Context, patientID string, hospitalID uuid.UUID) (bool, error)
}
