package queue

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusWaiting        = "waiting"
	StatusCalled         = "called"
	StatusInConsultation = "in_consultation"
	StatusCompleted      = "completed"
	StatusSkipped        = "skipped"
	StatusLeft           = "left"
)

var transitions = map[string]map[string]bool{
	StatusWaiting:        {StatusCalled: true, StatusSkipped: true, StatusLeft: true},
	StatusCalled:         {StatusInConsultation: true, StatusCompleted: true, StatusSkipped: true, StatusLeft: true},
	StatusInConsultation: {StatusCompleted: true},
	// A skipped patient who turns up late goes back to the end of the line.
	StatusSkipped: {StatusWaiting: true},
}

func CanTransition(from, to string) bool {
	return transitions[from][to]
}

// IsOpen reports whether an entry in status still holds the patient's place.
func IsOpen(status string) bool {
	switch status {
	case StatusWaiting, StatusCalled, StatusInConsultation:
		return true
	}
	return false
}

func validStatus(s string) bool {
	switch s {
	case StatusWaiting, StatusCalled, StatusInConsultation, StatusCompleted, StatusSkipped, StatusLeft:
		return true
	}
	return false
}

// Entry maps to the queue_entries table. QueueNumber is unique per hospital
// per QueueDate.
type Entry struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	HospitalID  uuid.UUID  `db:"hospital_id" json:"hospital_id"`
	PatientID   string     `db:"patient_id" json:"patient_id"`
	PatientName string     `db:"patient_name" json:"patient_name"`
	Department  string     `db:"department" json:"department"`
	QueueDate   time.Time  `db:"queue_date" json:"queue_date"`
	QueueNumber int        `db:"queue_number" json:"queue_number"`
	Status      string     `db:"status" json:"status"`
	CalledAt    *time.Time `db:"called_at" json:"called_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

type JoinRequest struct {
	Department string `json:"department"`
}

// Position is an entry with the number of waiting entries ahead of it.
type Position struct {
	Entry *Entry `json:"entry"`
	Ahead int    `json:"ahead"`
}

// Day truncates t to the calendar date in loc.
func Day(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
