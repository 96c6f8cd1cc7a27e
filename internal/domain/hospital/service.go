package hospital

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/pkg/apperr"
	"github.com/carelink/carelink/pkg/geo"
)

var ErrForbidden = errors.New("not allowed to manage this hospital")

const MaxRadiusKm = 500

type Service struct {
	repo          Repository
	defaultRadius float64
}

func NewService(repo Repository, defaultRadiusKm float64) *Service {
	if defaultRadiusKm <= 0 {
		defaultRadiusKm = 50
	}
	return &Service{repo: repo, defaultRadius: defaultRadiusKm}
}

// DefaultRadius is the matching radius used when a caller does not pass one.
func (s *Service) DefaultRadius() float64 { return s.defaultRadius }

func validate(h *Hospital) error {
	if h.Name == "" {
		return apperr.Invalidf("name is required")
	}
	if (h.Latitude == nil) != (h.Longitude == nil) {
		return apperr.Invalidf("latitude and longitude must be set together")
	}
	if loc, ok := h.Location(); ok && !loc.Valid() {
		return apperr.Invalidf("coordinates out of range")
	}
	if h.TotalBeds < 0 || h.AvailableBeds < 0 || h.ICUBeds < 0 || h.Ambulances < 0 {
		return apperr.Invalidf("capacity counts must not be negative")
	}
	if h.AvailableBeds > h.TotalBeds {
		return apperr.Invalidf("available_beds cannot exceed total_beds")
	}
	return nil
}

// Create registers a hospital profile owned by the caller.
func (s *Service) Create(ctx context.Context, h *Hospital) error {
	if err := validate(h); err != nil {
		return err
	}
	if owner := auth.UserIDFromContext(ctx); owner != "" && !auth.HasRole(ctx, auth.RoleAdmin) {
		h.OwnerID = &owner
	}
	return s.repo.Create(ctx, h)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Hospital, error) {
	return s.repo.GetByID(ctx, id)
}

// Authorize reports whether the caller may manage hospital id: admins, the
// hospital account acting for it, or the user who registered it.
func (s *Service) Authorize(ctx context.Context, id uuid.UUID) error {
	if auth.HasRole(ctx, auth.RoleAdmin) {
		return nil
	}
	if !auth.HasRole(ctx, auth.RoleHospital) {
		return ErrForbidden
	}
	if auth.HospitalIDFromContext(ctx) == id.String() {
		return nil
	}
	h, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if h.OwnedBy(auth.UserIDFromContext(ctx)) {
		return nil
	}
	return ErrForbidden
}

// ActingFor resolves the hospital a hospital-role caller operates: the id in
// the token, or the single hospital they registered.
func (s *Service) ActingFor(ctx context.Context) (uuid.UUID, error) {
	if hid := auth.HospitalIDFromContext(ctx); hid != "" {
		id, err := uuid.Parse(hid)
		if err != nil {
			return uuid.Nil, fmt.Errorf("%w: invalid hospital id in identity", ErrForbidden)
		}
		return id, nil
	}
	owned, err := s.repo.ListByOwner(ctx, auth.UserIDFromContext(ctx))
	if err != nil {
		return uuid.Nil, err
	}
	if len(owned) != 1 {
		return uuid.Nil, ErrForbidden
	}
	return owned[0].ID, nil
}

// Update replaces the profile fields of an existing hospital. Ownership is
// immutable.
func (s *Service) Update(ctx context.Context, h *Hospital) error {
	if err := s.Authorize(ctx, h.ID); err != nil {
		return err
	}
	existing, err := s.repo.GetByID(ctx, h.ID)
	if err != nil {
		return err
	}
	if err := validate(h); err != nil {
		return err
	}
	h.OwnerID = existing.OwnerID
	h.CreatedAt = existing.CreatedAt
	return s.repo.Update(ctx, h)
}

func (s *Service) List(ctx context.Context, name string, limit, offset int) ([]*Hospital, int, error) {
	return s.repo.List(ctx, name, limit, offset)
}

// FindNearby matches every located hospital against (lat, lon). A zero
// radius means the default.
func (s *Service) FindNearby(ctx context.Context, lat, lon, radiusKm float64) ([]HospitalResponse, error) {
	origin := geo.Point{Lat: lat, Lon: lon}
	if !origin.Valid() {
		return nil, apperr.Invalidf("coordinates out of range")
	}
	if radiusKm == 0 {
		radiusKm = s.defaultRadius
	}
	if radiusKm < 0 || radiusKm > MaxRadiusKm {
		return nil, apperr.Invalidf("radius must be between 0 and %d km", MaxRadiusKm)
	}
	hospitals, err := s.repo.ListLocated(ctx)
	if err != nil {
		return nil, fmt.Errorf("load hospitals: %w", err)
	}
	return Match(hospitals, origin, radiusKm), nil
}

func (s *Service) SyncBedCounts(ctx context.Context, id uuid.UUID) (*BedCounts, error) {
	return s.repo.SyncBedCounts(ctx, id)
}
