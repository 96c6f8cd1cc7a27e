package notification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("notification not found")

type Repository interface {
	// CreateBatch inserts ns, filling ids and timestamps. It joins the
	// transaction on ctx when there is one.
	CreateBatch(ctx context.Context, ns []*Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*Notification, error)
	ListForRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]*Notification, int, error)
	ListForHospital(ctx context.Context, hospitalID uuid.UUID, limit, offset int) ([]*Notification, int, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
	MarkDelivered(ctx context.Context, id uuid.UUID) error
	// RecordAttempt counts an unsuccessful push; the row becomes failed once
	// attempts reach MaxAttempts.
	RecordAttempt(ctx context.Context, id uuid.UUID, reason string) error
	// ListUndelivered returns pending rows created before olderThan, oldest first.
	ListUndelivered(ctx context.Context, olderThan time.Time, limit int) ([]*Notification, error)
}
