package users

import (
	"time"

	"github.com/google/uuid"
)

// User maps to the users table. ID is the identity provider's subject.
type User struct {
	ID             string     `db:"id" json:"id"`
	Role           string     `db:"role" json:"role"`
	Name           string     `db:"name" json:"name"`
	Email          *string    `db:"email" json:"email,omitempty"`
	Phone          *string    `db:"phone" json:"phone,omitempty"`
	Specialization *string    `db:"specialization" json:"specialization,omitempty"`
	HospitalID     *uuid.UUID `db:"hospital_id" json:"hospital_id,omitempty"`
	AvatarURL      *string    `db:"avatar_url" json:"avatar_url,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// ProfileUpdate carries the fields a user may change on their own profile.
type ProfileUpdate struct {
	Name           *string    `json:"name"`
	Email          *string    `json:"email"`
	Phone          *string    `json:"phone"`
	Specialization *string    `json:"specialization"`
	HospitalID     *uuid.UUID `json:"hospital_id"`
	AvatarURL      *string    `json:"avatar_url"`
}

func (p ProfileUpdate) apply(u *User) {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Email != nil {
		u.Email = p.Email
	}
	if p.Phone != nil {
		u.Phone = p.Phone
	}
	if p.Specialization != nil {
		u.Specialization = p.Specialization
	}
	if p.HospitalID != nil {
		u.HospitalID = p.HospitalID
	}
	if p.AvatarURL != nil {
		u.AvatarURL = p.AvatarURL
	}
}
