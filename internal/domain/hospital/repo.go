package hospital

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("hospital not found")

type Repository interface {
	Create(ctx context.Context, h *Hospital) error
	GetByID(ctx context.Context, id uuid.UUID) (*Hospital, error)
	Update(ctx context.Context, h *Hospital) error
	List(ctx context.Context, name string, limit, offset int) ([]*Hospital, int, error)
	// ListLocated returns every hospital that has both coordinates.
	ListLocated(ctx context.Context) ([]*Hospital, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*Hospital, error)
	// SyncBedCounts recomputes capacity from the beds table. Run it inside the
	// transaction that changed a bed.
	SyncBedCounts(ctx context.Context, id uuid.UUID) (*BedCounts, error)
}
