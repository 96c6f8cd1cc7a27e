package calls

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("call not found")
	// ErrStale means the call changed status between read and write.
	ErrStale = errors.New("call status changed concurrently")
)

type Repository interface {
	Create(ctx context.Context, c *Call) error
	GetByID(ctx context.Context, id uuid.UUID) (*Call, error)
	// Transition writes c only if its stored status is still from.
	Transition(ctx context.Context, c *Call, from string) error
	// FirstRinging and FirstConnected return the oldest matching call.
	FirstRinging(ctx context.Context, calleeID string) (*Call, error)
	FirstConnected(ctx context.Context, userID string) (*Call, error)
	ListRinging(ctx context.Context, calleeID string) ([]*Call, error)
	ListRingingBefore(ctx context.Context, before time.Time, limit int) ([]*Call, error)
	ListByParticipant(ctx context.Context, userID string, limit, offset int) ([]*Call, int, error)
}
