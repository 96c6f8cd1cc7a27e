package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/carelink/carelink/internal/domain/beds"
	"github.com/carelink/carelink/internal/domain/hospital"
	"github.com/carelink/carelink/internal/domain/users"
	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/internal/platform/db"
)

type seedWard struct {
	name    string
	bedType string
	count   int
}

type seedHospital struct {
	key         string
	name        string
	address     string
	phone       string
	lat, lon    float64
	ambulances  int
	departments []string
	wards       []seedWard
}

type seedDoctor struct {
	id             string
	name           string
	specialization string
	hospital       string
}

var demoHospitals = []seedHospital{
	{
		key: "city", name: "City General Hospital", address: "12 MG Road, Bengaluru",
		phone: "+91-80-4000-1000", lat: 12.9756, lon: 77.6050, ambulances: 6,
		departments: []string{"Emergency", "Cardiology", "Orthopedics", "Pediatrics"},
		wards: []seedWard{
			{"General A", beds.TypeGeneral, 12},
			{"ICU", beds.TypeICU, 4},
			{"ER", beds.TypeEmergency, 6},
			{"Children", beds.TypePediatric, 4},
		},
	},
	{
		key: "lakeside", name: "Lakeside Medical Centre", address: "4 Ulsoor Lake Rd, Bengaluru",
		phone: "+91-80-4000-2000", lat: 12.9822, lon: 77.6200, ambulances: 3,
		departments: []string{"Emergency", "Neurology", "General Medicine"},
		wards: []seedWard{
			{"General", beds.TypeGeneral, 8},
			{"ICU", beds.TypeICU, 2},
			{"ER", beds.TypeEmergency, 4},
		},
	},
	{
		key: "north", name: "Northside Community Clinic", address: "88 Hebbal Main Rd, Bengaluru",
		phone: "+91-80-4000-3000", lat: 13.0358, lon: 77.5970, ambulances: 1,
		departments: []string{"General Medicine", "Pediatrics"},
		wards: []seedWard{
			{"General", beds.TypeGeneral, 6},
			{"Children", beds.TypePediatric, 2},
		},
	},
}

var demoDoctors = []seedDoctor{
	{"demo-doctor-rao", "Dr. Anil Rao", "Cardiology", "city"},
	{"demo-doctor-iyer", "Dr. Kavya Iyer", "Pediatrics", "city"},
	{"demo-doctor-khan", "Dr. Sameer Khan", "Neurology", "lakeside"},
	{"demo-doctor-das", "Dr. Ritu Das", "General Medicine", "north"},
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load demo hospitals, beds and doctors",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			res, err := runSeed(ctx, db.Transactor(pool), seedStores{
				hospitals: hospital.NewHospitalRepoPG(pool),
				users:     users.NewUserRepoPG(pool),
				beds:      beds.NewBedRepoPG(pool),
			}, newLogger(cfg))
			if err != nil {
				return fmt.Errorf("seed failed: %w", err)
			}
			fmt.Printf("Seeded %d hospital(s), %d bed(s) and %d doctor(s).\n", res.Hospitals, res.Beds, res.Users)
			return nil
		},
	}
}

type bedCreator interface {
	Create(ctx context.Context, b *beds.Bed) error
}

type bedCountSyncer interface {
	hospitalImporter
	SyncBedCounts(ctx context.Context, id uuid.UUID) (*hospital.BedCounts, error)
}

type seedStores struct {
	hospitals bedCountSyncer
	users     userImporter
	beds      bedCreator
}

type seedResult struct {
	importResult
	Beds int
}

// demoRecords expresses the demo data as import records so seeding shares
// the importer's match-by-name upsert.
func demoRecords() ([]importedHospital, []importedUser) {
	hs := make([]importedHospital, 0, len(demoHospitals))
	for _, d := range demoHospitals {
		lat, lon := d.lat, d.lon
		hs = append(hs, importedHospital{LegacyID: d.key, Hospital: hospital.Hospital{
			Name:        d.name,
			Address:     d.address,
			Phone:       d.phone,
			Latitude:    &lat,
			Longitude:   &lon,
			Ambulances:  d.ambulances,
			Departments: d.departments,
		}})
	}
	us := make([]importedUser, 0, len(demoDoctors))
	for _, d := range demoDoctors {
		spec := d.specialization
		us = append(us, importedUser{
			User:             users.User{ID: d.id, Role: auth.RoleDoctor, Name: d.name, Specialization: &spec},
			LegacyHospitalID: d.hospital,
		})
	}
	return hs, us
}

// runSeed is safe to rerun: hospitals and doctors are upserted and beds that
// already exist are left alone.
func runSeed(ctx context.Context, tx db.TxFunc, st seedStores, logger zerolog.Logger) (*seedResult, error) {
	hs, us := demoRecords()
	imported, err := runImport(ctx, tx, st.hospitals, st.users, hs, us, logger)
	if err != nil {
		return nil, err
	}
	res := &seedResult{importResult: *imported}

	err = tx(ctx, func(ctx context.Context) error {
		for _, d := range demoHospitals {
			hid := imported.HospitalIDs[d.key]
			for _, w := range d.wards {
				for i := 1; i <= w.count; i++ {
					b := &beds.Bed{
						HospitalID: hid,
						Ward:       w.name,
						BedNumber:  fmt.Sprintf("%s-%02d", bedPrefix(w.bedType), i),
						BedType:    w.bedType,
						Status:     beds.BedAvailable,
					}
					err := st.beds.Create(ctx, b)
					if errors.Is(err, beds.ErrDuplicateBed) {
						continue
					}
					if err != nil {
						return fmt.Errorf("bed %s/%s: %w", d.key, b.BedNumber, err)
					}
					res.Beds++
				}
			}
			if _, err := st.hospitals.SyncBedCounts(ctx, hid); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info().Int("beds", res.Beds).Msg("demo data seeded")
	return res, nil
}

func bedPrefix(bedType string) string {
	switch bedType {
	case beds.TypeICU:
		return "ICU"
	case beds.TypeEmergency:
		return "ER"
	case beds.TypePediatric:
		return "PED"
	default:
		return "GEN"
	}
}
