package emergency

import (
	"time"

	"github.com/google/uuid"

	"github.com/carelink/carelink/internal/domain/hospital"
)

const (
	StatusActive    = "active"
	StatusResponded = "responded"
	StatusResolved  = "resolved"
	StatusCancelled = "cancelled"
)

var transitions = map[string]map[string]bool{
	StatusActive:    {StatusResponded: true, StatusResolved: true, StatusCancelled: true},
	StatusResponded: {StatusResolved: true},
}

// CanTransition reports whether an alert may move from one status to another.
// Resolved and cancelled are terminal.
func CanTransition(from, to string) bool {
	return transitions[from][to]
}

func IsTerminal(status string) bool {
	return status == StatusResolved || status == StatusCancelled
}

func validStatus(s string) bool {
	switch s {
	case StatusActive, StatusResponded, StatusResolved, StatusCancelled:
		return true
	}
	return false
}

// Alert maps to the emergency_alerts table.
type Alert struct {
	ID                  uuid.UUID     `db:"id" json:"id"`
	PatientID           string        `db:"patient_id" json:"patient_id"`
	PatientName         string        `db:"patient_name" json:"patient_name"`
	PatientPhone        string        `db:"patient_phone" json:"patient_phone"`
	ClientRef           *string       `db:"client_ref" json:"client_ref,omitempty"`
	EmergencyType       EmergencyType `db:"emergency_type" json:"emergency_type"`
	SeverityLevel       Level         `db:"severity_level" json:"severity_level"`
	SeverityDefaulted   bool          `db:"severity_defaulted" json:"severity_defaulted"`
	EstimatedCasualties *int          `db:"estimated_casualties" json:"estimated_casualties,omitempty"`
	AffectedArea        *string       `db:"affected_area" json:"affected_area,omitempty"`
	Latitude            float64       `db:"latitude" json:"latitude"`
	Longitude           float64       `db:"longitude" json:"longitude"`
	Address             string        `db:"address" json:"address"`
	Description         string        `db:"description" json:"description"`
	Status              string        `db:"status" json:"status"`
	RespondingHospitals []uuid.UUID   `db:"responding_hospitals" json:"responding_hospitals"`
	AmbulanceDispatched bool          `db:"ambulance_dispatched" json:"ambulance_dispatched"`
	VideoStreamURL      *string       `db:"video_stream_url" json:"video_stream_url,omitempty"`
	ETAMinutes          *int          `db:"eta_minutes" json:"eta_minutes,omitempty"`
	CreatedAt           time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time     `db:"updated_at" json:"updated_at"`
}

func (a *Alert) HasResponder(id uuid.UUID) bool {
	for _, h := range a.RespondingHospitals {
		if h == id {
			return true
		}
	}
	return false
}

// AddResponder appends id to the responding hospitals unless it is already
// there. The list only grows.
func (a *Alert) AddResponder(id uuid.UUID) bool {
	if a.HasResponder(id) {
		return false
	}
	a.RespondingHospitals = append(a.RespondingHospitals, id)
	return true
}

// StatusChange maps to alert_status_history.
type StatusChange struct {
	ID         uuid.UUID `db:"id" json:"id"`
	AlertID    uuid.UUID `db:"alert_id" json:"alert_id"`
	FromStatus *string   `db:"from_status" json:"from_status,omitempty"`
	ToStatus   string    `db:"to_status" json:"to_status"`
	ChangedBy  string    `db:"changed_by" json:"changed_by"`
	Note       *string   `db:"note" json:"note,omitempty"`
	ChangedAt  time.Time `db:"changed_at" json:"changed_at"`
}

type TriggerRequest struct {
	EmergencyType  string  `json:"emergency_type"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	Address        string  `json:"address"`
	Description    string  `json:"description"`
	PatientPhone   string  `json:"patient_phone"`
	VideoStreamURL *string `json:"video_stream_url,omitempty"`
	ClientRef      *string `json:"client_ref,omitempty"`
}

// TriggerResult is what the patient sees after raising an alert. An empty
// hospital list is a valid answer; EmergencyPhone is the fallback.
type TriggerResult struct {
	Alert          *Alert                      `json:"alert"`
	Hospitals      []hospital.HospitalResponse `json:"hospitals"`
	Dispatched     int                         `json:"dispatched"`
	EmergencyPhone string                      `json:"emergency_phone"`
	Replayed       bool                        `json:"replayed,omitempty"`
}

type RespondRequest struct {
	HospitalID          *uuid.UUID `json:"hospital_id,omitempty"`
	ETAMinutes          *int       `json:"eta_minutes,omitempty"`
	AmbulanceDispatched bool       `json:"ambulance_dispatched"`
	Note                *string    `json:"note,omitempty"`
}

type StatusRequest struct {
	Status string  `json:"status"`
	Note   *string `json:"note,omitempty"`
}
