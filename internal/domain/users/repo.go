package users

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("user not found")

type Repository interface {
	// Upsert inserts u or refreshes role and non-empty name of an existing row.
	Upsert(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	Update(ctx context.Context, u *User) error
	ListDoctors(ctx context.Context, specialization string, limit, offset int) ([]*User, int, error)
}
