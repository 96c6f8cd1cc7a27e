package beds

import (
	"time"

	"github.com/google/uuid"
)

const (
	TypeGeneral   = "general"
	TypeICU       = "icu"
	TypeEmergency = "emergency"
	TypePediatric = "pediatric"
)

const (
	BedAvailable   = "available"
	BedOccupied    = "occupied"
	BedReserved    = "reserved"
	BedMaintenance = "maintenance"
)

const (
	BookingPending    = "pending"
	BookingApproved   = "approved"
	BookingRejected   = "rejected"
	BookingCancelled  = "cancelled"
	BookingDischarged = "discharged"
)

func validBedType(t string) bool {
	switch t {
	case TypeGeneral, TypeICU, TypeEmergency, TypePediatric:
		return true
	}
	return false
}

func validBedStatus(s string) bool {
	switch s {
	case BedAvailable, BedOccupied, BedReserved, BedMaintenance:
		return true
	}
	return false
}

var bookingTransitions = map[string]map[string]bool{
	BookingPending:  {BookingApproved: true, BookingRejected: true, BookingCancelled: true},
	BookingApproved: {BookingDischarged: true, BookingCancelled: true},
}

func CanTransition(from, to string) bool {
	return bookingTransitions[from][to]
}

// Bed maps to the beds table.
type Bed struct {
	ID         uuid.UUID `db:"id" json:"id"`
	HospitalID uuid.UUID `db:"hospital_id" json:"hospital_id"`
	Ward       string    `db:"ward" json:"ward"`
	BedNumber  string    `db:"bed_number" json:"bed_number"`
	BedType    string    `db:"bed_type" json:"bed_type"`
	Status     string    `db:"status" json:"status"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Booking maps to the bed_bookings table. BedID is set when a hospital
// approves the request.
type Booking struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	BedID       *uuid.UUID `db:"bed_id" json:"bed_id,omitempty"`
	HospitalID  uuid.UUID  `db:"hospital_id" json:"hospital_id"`
	PatientID   string     `db:"patient_id" json:"patient_id"`
	PatientName string     `db:"patient_name" json:"patient_name"`
	BedType     string     `db:"bed_type" json:"bed_type"`
	Reason      string     `db:"reason" json:"reason"`
	Status      string     `db:"status" json:"status"`
	ReviewedBy  *string    `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

type BookingRequest struct {
	HospitalID uuid.UUID `json:"hospital_id"`
	BedType    string    `json:"bed_type"`
	Reason     string    `json:"reason"`
}

type BedFilter struct {
	Status  string
	BedType string
}
