package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("queue entry not found")
	ErrAlreadyQueued = errors.New("patient already has an open place in today's queue")
	ErrEmpty         = errors.New("no one is waiting")
)

type Repository interface {
	// NextNumber atomically advances the hospital's counter for day and
	// returns the new value.
	NextNumber(ctx context.Context, hospitalID uuid.UUID, day time.Time) (int, error)
	Create(ctx context.Context, e *Entry) error
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Entry, error)
	Update(ctx context.Context, e *Entry) error
	// LockNextWaiting locks the lowest-numbered waiting entry, optionally
	// limited to department.
	LockNextWaiting(ctx context.Context, hospitalID uuid.UUID, day time.Time, department string) (*Entry, error)
	ListByDay(ctx context.Context, hospitalID uuid.UUID, day time.Time, status string) ([]*Entry, error)
	CountAhead(ctx context.Context, e *Entry) (int, error)
	OpenForPatient(ctx context.Context, patientID string, hospitalID uuid.UUID, day time.Time) (*Entry, error)
}
