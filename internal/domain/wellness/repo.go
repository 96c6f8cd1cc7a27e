package wellness

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("mood entry not found")

type Repository interface {
	Create(ctx context.Context, e *MoodEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*MoodEntry, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// List returns entries newest first.
	List(ctx context.Context, patientID string, r Range, limit, offset int) ([]*MoodEntry, int, error)
	// Average returns the mean mood and entry count recorded in [from, to].
	Average(ctx context.Context, patientID string, from, to time.Time) (float64, int, error)
}
