package clinic

import (
	"time"

	"github.com/google/uuid"
)

// -- Appointments --

const (
	AppointmentRequested = "requested"
	AppointmentConfirmed = "confirmed"
	AppointmentCompleted = "completed"
	AppointmentCancelled = "cancelled"
	AppointmentNoShow    = "no_show"
)

const (
	KindInPerson = "in_person"
	KindVideo    = "video"
)

const DefaultDurationMinutes = 30

var appointmentTransitions = map[string]map[string]bool{
	AppointmentRequested: {AppointmentConfirmed: true, AppointmentCancelled: true},
	AppointmentConfirmed: {AppointmentCompleted: true, AppointmentCancelled: true, AppointmentNoShow: true},
}

func CanTransitionAppointment(from, to string) bool {
	return appointmentTransitions[from][to]
}

type Appointment struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	PatientID       string     `db:"patient_id" json:"patient_id"`
	PatientName     string     `db:"patient_name" json:"patient_name"`
	DoctorID        string     `db:"doctor_id" json:"doctor_id"`
	DoctorName      string     `db:"doctor_name" json:"doctor_name"`
	HospitalID      *uuid.UUID `db:"hospital_id" json:"hospital_id,omitempty"`
	ScheduledAt     time.Time  `db:"scheduled_at" json:"scheduled_at"`
	DurationMinutes int        `db:"duration_minutes" json:"duration_minutes"`
	Kind            string     `db:"kind" json:"kind"`
	Status          string     `db:"status" json:"status"`
	Reason          string     `db:"reason" json:"reason"`
	Notes           *string    `db:"notes" json:"notes,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

func (a *Appointment) End() time.Time {
	return a.ScheduledAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Holds reports whether the appointment still occupies the doctor's slot.
func (a *Appointment) Holds() bool {
	return a.Status == AppointmentRequested || a.Status == AppointmentConfirmed
}

type AppointmentRequest struct {
	DoctorID        string     `json:"doctor_id"`
	HospitalID      *uuid.UUID `json:"hospital_id,omitempty"`
	ScheduledAt     time.Time  `json:"scheduled_at"`
	DurationMinutes int        `json:"duration_minutes"`
	Kind            string     `json:"kind"`
	Reason          string     `json:"reason"`
}

type AppointmentFilter struct {
	From *time.Time
	To   *time.Time
}

// -- Prescriptions --

const (
	PrescriptionActive    = "active"
	PrescriptionCompleted = "completed"
	PrescriptionCancelled = "cancelled"
)

// Medication is one line of a prescription. It is stored inside the
// prescription's medications JSONB array.
type Medication struct {
	Name         string `json:"name"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency"`
	DurationDays int    `json:"duration_days,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

type Prescription struct {
	ID            uuid.UUID    `db:"id" json:"id"`
	PatientID     string       `db:"patient_id" json:"patient_id"`
	DoctorID      string       `db:"doctor_id" json:"doctor_id"`
	AppointmentID *uuid.UUID   `db:"appointment_id" json:"appointment_id,omitempty"`
	Diagnosis     string       `db:"diagnosis" json:"diagnosis"`
	Medications   []Medication `db:"medications" json:"medications"`
	Instructions  string       `db:"instructions" json:"instructions"`
	Status        string       `db:"status" json:"status"`
	IssuedAt      time.Time    `db:"issued_at" json:"issued_at"`
	ValidUntil    *time.Time   `db:"valid_until" json:"valid_until,omitempty"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at" json:"updated_at"`
}

// -- Staff --

const (
	ShiftDay      = "day"
	ShiftNight    = "night"
	ShiftRotating = "rotating"
)

func validShift(s string) bool {
	return s == ShiftDay || s == ShiftNight || s == ShiftRotating
}

type Staff struct {
	ID         uuid.UUID `db:"id" json:"id"`
	HospitalID uuid.UUID `db:"hospital_id" json:"hospital_id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Name       string    `db:"name" json:"name"`
	Role       string    `db:"role" json:"role"`
	Department string    `db:"department" json:"department"`
	Phone      *string   `db:"phone" json:"phone,omitempty"`
	Email      *string   `db:"email" json:"email,omitempty"`
	Shift      string    `db:"shift" json:"shift"`
	OnDuty     bool      `db:"on_duty" json:"on_duty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

type StaffFilter struct {
	Department string
	OnDutyOnly bool
}
