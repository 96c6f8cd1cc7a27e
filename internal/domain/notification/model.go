package notification

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusPending   = "pending"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// MaxAttempts is how many pushes are tried before a notification is marked
// failed. Failed notifications stay readable through the list endpoints.
const MaxAttempts = 5

// Notification maps to the notifications table. Hospital-addressed
// notifications carry the hospital id both as HospitalID and RecipientID.
type Notification struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	RecipientID string     `db:"recipient_id" json:"recipient_id"`
	HospitalID  *uuid.UUID `db:"hospital_id" json:"hospital_id,omitempty"`
	AlertID     *uuid.UUID `db:"alert_id" json:"alert_id,omitempty"`
	Kind        string     `db:"kind" json:"kind"`
	Title       string     `db:"title" json:"title"`
	Message     string     `db:"message" json:"message"`
	Status      string     `db:"status" json:"status"`
	Attempts    int        `db:"attempts" json:"attempts"`
	LastError   *string    `db:"last_error" json:"-"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// HospitalAddressed reports whether n goes to a hospital account rather than
// a single user.
func (n *Notification) HospitalAddressed() bool {
	return n.HospitalID != nil && n.RecipientID == n.HospitalID.String()
}
