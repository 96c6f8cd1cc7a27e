package wellness

import (
	"time"

	"github.com/google/uuid"
)

const (
	MinMood = 1
	MaxMood = 5

	maxTags     = 10
	summaryDays = 7
)

type MoodEntry struct {
	ID         uuid.UUID `db:"id" json:"id"`
	PatientID  string    `db:"patient_id" json:"patient_id"`
	Mood       int       `db:"mood" json:"mood"`
	Note       string    `db:"note" json:"note"`
	Tags       []string  `db:"tags" json:"tags"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
}

type RecordRequest struct {
	Mood       int        `json:"mood"`
	Note       string     `json:"note"`
	Tags       []string   `json:"tags"`
	RecordedAt *time.Time `json:"recorded_at,omitempty"`
}

type Range struct {
	From *time.Time
	To   *time.Time
}

// Summary is the rolling average over the trailing window.
type Summary struct {
	From    time.Time `json:"from"`
	To      time.Time `json:"to"`
	Count   int       `json:"count"`
	Average float64   `json:"average"`
}
