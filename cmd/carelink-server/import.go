package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	"github.com/carelink/carelink/internal/domain/hospital"
	"github.com/carelink/carelink/internal/domain/users"
	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/internal/platform/db"
)

// legacyExport is a Firestore export: collection -> document id -> fields.
// Documents written by old clients are loosely typed (numbers as strings,
// lists as comma-separated text), so every field goes through cast.
type legacyExport struct {
	Users     map[string]map[string]interface{} `json:"users"`
	Hospitals map[string]map[string]interface{} `json:"hospitals"`
}

type importedHospital struct {
	LegacyID string
	Hospital hospital.Hospital
}

type importedUser struct {
	User             users.User
	LegacyHospitalID string
}

type importResult struct {
	Hospitals int
	Users     int
	Skipped   []string
	// HospitalIDs maps legacy hospital ids to stored ids.
	HospitalIDs map[string]uuid.UUID
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <export.json>",
		Short: "Import users and hospitals from a legacy Firestore JSON export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			hospitals, people, skipped, err := decodeLegacyExport(f)
			if err != nil {
				return err
			}
			if dryRun {
				fmt.Printf("Would import %d hospital(s) and %d user(s); %d record(s) skipped.\n", len(hospitals), len(people), len(skipped))
				for _, s := range skipped {
					fmt.Println("  skip:", s)
				}
				return nil
			}

			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			res, err := runImport(ctx, db.Transactor(pool), hospital.NewHospitalRepoPG(pool), users.NewUserRepoPG(pool), hospitals, people, newLogger(cfg))
			if err != nil {
				return fmt.Errorf("import failed: %w", err)
			}
			res.Skipped = append(skipped, res.Skipped...)
			fmt.Printf("Imported %d hospital(s) and %d user(s); %d record(s) skipped.\n", res.Hospitals, res.Users, len(res.Skipped))
			return nil
		},
	}
	cmd.Flags().Bool("dry-run", false, "Parse and validate the export without writing")
	return cmd
}

// decodeLegacyExport parses the export and coerces documents into domain
// records. Documents that cannot be used are reported in skipped rather than
// failing the whole import. Output is sorted by legacy id.
func decodeLegacyExport(r io.Reader) ([]importedHospital, []importedUser, []string, error) {
	var exp legacyExport
	if err := json.NewDecoder(r).Decode(&exp); err != nil {
		return nil, nil, nil, fmt.Errorf("decode export: %w", err)
	}

	var skipped []string
	hospitals := make([]importedHospital, 0, len(exp.Hospitals))
	for _, id := range sortedIDs(exp.Hospitals) {
		h, err := legacyHospital(exp.Hospitals[id])
		if err != nil {
			skipped = append(skipped, fmt.Sprintf("hospitals/%s: %v", id, err))
			continue
		}
		hospitals = append(hospitals, importedHospital{LegacyID: id, Hospital: *h})
	}

	people := make([]importedUser, 0, len(exp.Users))
	for _, id := range sortedIDs(exp.Users) {
		u, legacyHospitalID, err := legacyUser(id, exp.Users[id])
		if err != nil {
			skipped = append(skipped, fmt.Sprintf("users/%s: %v", id, err))
			continue
		}
		people = append(people, importedUser{User: *u, LegacyHospitalID: legacyHospitalID})
	}
	return hospitals, people, skipped, nil
}

func sortedIDs(m map[string]map[string]interface{}) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// field returns the first present key; old clients used both camelCase and
// snake_case.
func field(doc map[string]interface{}, keys ...string) (interface{}, bool) {
	for _, k := range keys {
		if v, ok := doc[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func stringField(doc map[string]interface{}, keys ...string) string {
	v, ok := field(doc, keys...)
	if !ok {
		return ""
	}
	return strings.TrimSpace(cast.ToString(v))
}

func optString(doc map[string]interface{}, keys ...string) *string {
	s := stringField(doc, keys...)
	if s == "" {
		return nil
	}
	return &s
}

func intField(doc map[string]interface{}, keys ...string) (int, error) {
	v, ok := field(doc, keys...)
	if !ok {
		return 0, nil
	}
	if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
		return 0, nil
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", keys[0], err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s: negative value %d", keys[0], n)
	}
	return n, nil
}

// coordinates reads either a nested GeoPoint ({"latitude":..,"longitude":..})
// or flat lat/lng fields.
func coordinates(doc map[string]interface{}) (*float64, *float64, error) {
	src := doc
	if loc, ok := field(doc, "location", "geo"); ok {
		m, err := cast.ToStringMapE(loc)
		if err != nil {
			return nil, nil, fmt.Errorf("location: %w", err)
		}
		src = m
	}
	latV, hasLat := field(src, "latitude", "lat", "_latitude")
	lonV, hasLon := field(src, "longitude", "lng", "lon", "_longitude")
	if !hasLat && !hasLon {
		return nil, nil, nil
	}
	if !hasLat || !hasLon {
		return nil, nil, fmt.Errorf("location: latitude and longitude must both be set")
	}
	lat, err := cast.ToFloat64E(latV)
	if err != nil {
		return nil, nil, fmt.Errorf("latitude: %w", err)
	}
	lon, err := cast.ToFloat64E(lonV)
	if err != nil {
		return nil, nil, fmt.Errorf("longitude: %w", err)
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil, nil, fmt.Errorf("location out of range: %v,%v", lat, lon)
	}
	return &lat, &lon, nil
}

func legacyHospital(doc map[string]interface{}) (*hospital.Hospital, error) {
	h := &hospital.Hospital{
		Name:    stringField(doc, "name", "hospitalName"),
		Address: stringField(doc, "address"),
		Phone:   stringField(doc, "phone", "contactNumber"),
		Email:   optString(doc, "email"),
		OwnerID: optString(doc, "ownerId", "owner_id", "uid"),
	}
	if h.Name == "" {
		return nil, fmt.Errorf("name is required")
	}

	var err error
	if h.Latitude, h.Longitude, err = coordinates(doc); err != nil {
		return nil, err
	}
	if h.TotalBeds, err = intField(doc, "totalBeds", "total_beds"); err != nil {
		return nil, err
	}
	if h.AvailableBeds, err = intField(doc, "availableBeds", "available_beds"); err != nil {
		return nil, err
	}
	if h.ICUBeds, err = intField(doc, "icuBeds", "icu_beds"); err != nil {
		return nil, err
	}
	if h.Ambulances, err = intField(doc, "ambulances", "ambulanceCount"); err != nil {
		return nil, err
	}
	if h.AvailableBeds > h.TotalBeds {
		h.AvailableBeds = h.TotalBeds
	}

	h.Departments = []string{}
	if v, ok := field(doc, "departments", "specialties"); ok {
		if s, isStr := v.(string); isStr {
			v = strings.Split(s, ",")
		}
		deps, err := cast.ToStringSliceE(v)
		if err != nil {
			return nil, fmt.Errorf("departments: %w", err)
		}
		for _, d := range deps {
			if d = strings.TrimSpace(d); d != "" {
				h.Departments = append(h.Departments, d)
			}
		}
	}
	return h, nil
}

func legacyRole(v string) (string, error) {
	switch strings.ToLower(v) {
	case "patient", "user", "":
		return auth.RolePatient, nil
	case "doctor":
		return auth.RoleDoctor, nil
	case "hospital", "hospital_admin":
		return auth.RoleHospital, nil
	case "admin":
		return auth.RoleAdmin, nil
	}
	return "", fmt.Errorf("unknown role %q", v)
}

func legacyUser(id string, doc map[string]interface{}) (*users.User, string, error) {
	role, err := legacyRole(stringField(doc, "role", "userType"))
	if err != nil {
		return nil, "", err
	}
	u := &users.User{
		ID:             id,
		Role:           role,
		Name:           stringField(doc, "name", "displayName", "fullName"),
		Email:          optString(doc, "email"),
		Phone:          optString(doc, "phone", "phoneNumber"),
		Specialization: optString(doc, "specialization", "speciality"),
		AvatarURL:      optString(doc, "avatarUrl", "photoURL", "profileImage"),
	}
	if u.Name == "" && u.Email != nil {
		u.Name = strings.SplitN(*u.Email, "@", 2)[0]
	}
	if u.Role != auth.RoleDoctor {
		u.Specialization = nil
	}
	return u, stringField(doc, "hospitalId", "hospital_id"), nil
}

type hospitalImporter interface {
	Create(ctx context.Context, h *hospital.Hospital) error
	Update(ctx context.Context, h *hospital.Hospital) error
	List(ctx context.Context, name string, limit, offset int) ([]*hospital.Hospital, int, error)
}

type userImporter interface {
	Upsert(ctx context.Context, u *users.User) error
	Update(ctx context.Context, u *users.User) error
}

// runImport writes everything in one transaction. Hospitals are matched by
// exact name so a rerun updates instead of duplicating.
func runImport(ctx context.Context, tx db.TxFunc, hospitals hospitalImporter, people userImporter, hs []importedHospital, us []importedUser, logger zerolog.Logger) (*importResult, error) {
	res := &importResult{HospitalIDs: make(map[string]uuid.UUID, len(hs))}
	err := tx(ctx, func(ctx context.Context) error {
		ids := res.HospitalIDs
		for _, ih := range hs {
			h := ih.Hospital
			existing, _, err := hospitals.List(ctx, h.Name, 10, 0)
			if err != nil {
				return err
			}
			var match *hospital.Hospital
			for _, e := range existing {
				if strings.EqualFold(e.Name, h.Name) {
					match = e
					break
				}
			}
			if match != nil {
				h.ID = match.ID
				err = hospitals.Update(ctx, &h)
			} else {
				err = hospitals.Create(ctx, &h)
			}
			if err != nil {
				return fmt.Errorf("hospital %s: %w", ih.LegacyID, err)
			}
			ids[ih.LegacyID] = h.ID
			res.Hospitals++
		}

		for _, iu := range us {
			u := iu.User
			if iu.LegacyHospitalID != "" {
				hid, ok := ids[iu.LegacyHospitalID]
				if !ok {
					res.Skipped = append(res.Skipped, fmt.Sprintf("users/%s: unknown hospital %s (user imported without it)", u.ID, iu.LegacyHospitalID))
				} else {
					u.HospitalID = &hid
				}
			}
			// Upsert only carries identity columns; profile fields follow.
			profile := u
			if err := people.Upsert(ctx, &u); err != nil {
				return fmt.Errorf("user %s: %w", u.ID, err)
			}
			profile.CreatedAt, profile.UpdatedAt = u.CreatedAt, u.UpdatedAt
			if err := people.Update(ctx, &profile); err != nil {
				return fmt.Errorf("user %s: %w", u.ID, err)
			}
			res.Users++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info().Int("hospitals", res.Hospitals).Int("users", res.Users).Int("warnings", len(res.Skipped)).Msg("legacy import complete")
	return res, nil
}
