package emergency

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("alert not found")
	// ErrDuplicateRef is returned by Create when the patient already raised an
	// alert with the same client_ref.
	ErrDuplicateRef = errors.New("alert with this client_ref already exists")
)

type Repository interface {
	Create(ctx context.Context, a *Alert) error
	GetByID(ctx context.Context, id uuid.UUID) (*Alert, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Alert, error)
	GetByClientRef(ctx context.Context, patientID, clientRef string) (*Alert, error)
	Update(ctx context.Context, a *Alert) error
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Alert, int, error)
	ListByStatus(ctx context.Context, statuses []string, limit, offset int) ([]*Alert, int, error)
	ListForHospital(ctx context.Context, hospitalID uuid.UUID, statuses []string, limit, offset int) ([]*Alert, int, error)
	// ListStale returns active alerts created before olderThan that have had
	// fewer than maxReminders reminders, none of them after remindedBefore.
	// Oldest first.
	ListStale(ctx context.Context, olderThan, remindedBefore time.Time, maxReminders, limit int) ([]*Alert, error)
	// MarkReminded counts one stale reminder sent for the alert at at.
	MarkReminded(ctx context.Context, id uuid.UUID, at time.Time) error
	AddHistory(ctx context.Context, h *StatusChange) error
	History(ctx context.Context, alertID uuid.UUID) ([]*StatusChange, error)
}
