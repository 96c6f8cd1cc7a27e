package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/pkg/apperr"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Me returns the caller's profile, creating it on first login from the
// identity the token carries.
func (s *Service) Me(ctx context.Context, id, role, name string) (*User, error) {
	if id == "" {
		return nil, apperr.Invalidf("id is required")
	}
	if !auth.ValidRole(role) {
		return nil, apperr.Invalidf("invalid role %q", role)
	}
	existing, err := s.repo.GetByID(ctx, id)
	if err == nil && existing.Role == role && (name == "" || existing.Name == name) {
		return existing, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	u := &User{ID: id, Role: role, Name: name}
	if err := s.repo.Upsert(ctx, u); err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return u, nil
}

func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// UpdateProfile applies p to the caller's own profile.
func (s *Service) UpdateProfile(ctx context.Context, id string, p ProfileUpdate) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p.apply(u)
	if u.Name == "" {
		return nil, apperr.Invalidf("name is required")
	}
	if u.Specialization != nil && u.Role != auth.RoleDoctor {
		return nil, apperr.Invalidf("specialization applies to doctors only")
	}
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) ListDoctors(ctx context.Context, specialization string, limit, offset int) ([]*User, int, error) {
	return s.repo.ListDoctors(ctx, specialization, limit, offset)
}

// DisplayName returns the stored name for id, or fallback when the user has
// no profile yet.
func (s *Service) DisplayName(ctx context.Context, id, fallback string) string {
	if u, err := s.repo.GetByID(ctx, id); err == nil && u.Name != "" {
		return u.Name
	}
	return fallback
}
