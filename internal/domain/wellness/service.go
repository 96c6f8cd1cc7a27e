package wellness

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/pkg/apperr"
)

var ErrForbidden = errors.New("not permitted for this patient")

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

func normalizeTags(tags []string) ([]string, error) {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) > maxTags {
		return nil, apperr.Invalidf("at most %d tags are allowed", maxTags)
	}
	return out, nil
}

// Record stores a mood check-in for the calling patient.
func (s *Service) Record(ctx context.Context, req RecordRequest) (*MoodEntry, error) {
	patientID := auth.UserIDFromContext(ctx)
	if patientID == "" {
		return nil, apperr.Invalidf("patient_id is required")
	}
	if req.Mood < MinMood || req.Mood > MaxMood {
		return nil, apperr.Invalidf("mood must be between %d and %d", MinMood, MaxMood)
	}
	tags, err := normalizeTags(req.Tags)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	at := now
	if req.RecordedAt != nil {
		if req.RecordedAt.After(now) {
			return nil, apperr.Invalidf("recorded_at cannot be in the future")
		}
		at = req.RecordedAt.UTC()
	}
	e := &MoodEntry{
		PatientID:  patientID,
		Mood:       req.Mood,
		Note:       strings.TrimSpace(req.Note),
		Tags:       tags,
		RecordedAt: at,
	}
	if err := s.repo.Create(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// subject resolves whose entries the caller is asking for. Patients see their
// own; clinicians may read any patient's.
func subject(ctx context.Context, patientID string) (string, error) {
	uid := auth.UserIDFromContext(ctx)
	if patientID == "" || patientID == uid {
		return uid, nil
	}
	if !auth.CanAny(auth.RolesFromContext(ctx), auth.CapPrescriptionWrite) {
		return "", ErrForbidden
	}
	return patientID, nil
}

func (s *Service) List(ctx context.Context, patientID string, rg Range, limit, offset int) ([]*MoodEntry, int, error) {
	if rg.From != nil && rg.To != nil && !rg.From.Before(*rg.To) {
		return nil, 0, apperr.Invalidf("from must be before to")
	}
	pid, err := subject(ctx, patientID)
	if err != nil {
		return nil, 0, err
	}
	return s.repo.List(ctx, pid, rg, limit, offset)
}

// Summary averages the last seven days of check-ins, rounded to two places.
func (s *Service) Summary(ctx context.Context, patientID string) (*Summary, error) {
	pid, err := subject(ctx, patientID)
	if err != nil {
		return nil, err
	}
	to := s.now().UTC()
	from := to.AddDate(0, 0, -summaryDays)
	avg, n, err := s.repo.Average(ctx, pid, from, to)
	if err != nil {
		return nil, err
	}
	return &Summary{From: from, To: to, Count: n, Average: math.Round(avg*100) / 100}, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if e.PatientID != auth.UserIDFromContext(ctx) {
		return ErrForbidden
	}
	return s.repo.Delete(ctx, id)
}
