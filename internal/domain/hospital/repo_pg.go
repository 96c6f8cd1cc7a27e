package hospital

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/carelink/internal/platform/db"
)

type hospitalRepoPG struct{ pool *pgxpool.Pool }

func NewHospitalRepoPG(pool *pgxpool.Pool) Repository { return &hospitalRepoPG{pool: pool} }

func (r *hospitalRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const hospitalCols = `id, owner_id, name, address, phone, email, latitude, longitude,
	total_beds, available_beds, icu_beds, ambulances, departments, created_at, updated_at`

func scanHospital(row pgx.Row) (*Hospital, error) {
	var h Hospital
	err := row.Scan(&h.ID, &h.OwnerID, &h.Name, &h.Address, &h.Phone, &h.Email, &h.Latitude, &h.Longitude,
		&h.TotalBeds, &h.AvailableBeds, &h.ICUBeds, &h.Ambulances, &h.Departments, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &h, nil
}

func collect(rows pgx.Rows) ([]*Hospital, error) {
	defer rows.Close()
	var items []*Hospital
	for rows.Next() {
		h, err := scanHospital(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, h)
	}
	return items, rows.Err()
}

func (r *hospitalRepoPG) Create(ctx context.Context, h *Hospital) error {
	if h.Departments == nil {
		h.Departments = []string{}
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO hospitals (owner_id, name, address, phone, email, latitude, longitude,
			total_beds, available_beds, icu_beds, ambulances, departments)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id, created_at, updated_at`,
		h.OwnerID, h.Name, h.Address, h.Phone, h.Email, h.Latitude, h.Longitude,
		h.TotalBeds, h.AvailableBeds, h.ICUBeds, h.Ambulances, h.Departments,
	).Scan(&h.ID, &h.CreatedAt, &h.UpdatedAt)
}

func (r *hospitalRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Hospital, error) {
	return scanHospital(r.conn(ctx).QueryRow(ctx, `SELECT `+hospitalCols+` FROM hospitals WHERE id = $1`, id))
}

func (r *hospitalRepoPG) Update(ctx context.Context, h *Hospital) error {
	if h.Departments == nil {
		h.Departments = []string{}
	}
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE hospitals SET name=$2, address=$3, phone=$4, email=$5, latitude=$6, longitude=$7,
			total_beds=$8, available_beds=$9, icu_beds=$10, ambulances=$11, departments=$12, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		h.ID, h.Name, h.Address, h.Phone, h.Email, h.Latitude, h.Longitude,
		h.TotalBeds, h.AvailableBeds, h.ICUBeds, h.Ambulances, h.Departments,
	).Scan(&h.UpdatedAt)
	if db.IsNoRows(err) {
		return ErrNotFound
	}
	return err
}

func (r *hospitalRepoPG) List(ctx context.Context, name string, limit, offset int) ([]*Hospital, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	if name != "" {
		args = append(args, "%"+name+"%")
		where += fmt.Sprintf(` AND name ILIKE $%d`, len(args))
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM hospitals`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+hospitalCols+` FROM hospitals`+where+
		fmt.Sprintf(` ORDER BY name, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collect(rows)
	return items, total, err
}

func (r *hospitalRepoPG) ListLocated(ctx context.Context) ([]*Hospital, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+hospitalCols+` FROM hospitals
		WHERE latitude IS NOT NULL AND longitude IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *hospitalRepoPG) ListByOwner(ctx context.Context, ownerID string) ([]*Hospital, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+hospitalCols+` FROM hospitals WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *hospitalRepoPG) SyncBedCounts(ctx context.Context, id uuid.UUID) (*BedCounts, error) {
	var c BedCounts
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE hospitals h SET
			total_beds = c.total, available_beds = c.available, icu_beds = c.icu, updated_at = NOW()
		FROM (
			SELECT COUNT(*) AS total,
				COUNT(*) FILTER (WHERE status = 'available') AS available,
				COUNT(*) FILTER (WHERE status = 'available' AND bed_type = 'icu') AS icu
			FROM beds WHERE hospital_id = $1
		) c
		WHERE h.id = $1
		RETURNING h.total_beds, h.available_beds, h.icu_beds`, id,
	).Scan(&c.TotalBeds, &c.AvailableBeds, &c.ICUBeds)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}
