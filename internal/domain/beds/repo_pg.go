package beds

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/carelink/internal/platform/db"
)

func conn(ctx context.Context, pool *pgxpool.Pool) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// -- Beds --

type bedRepoPG struct{ pool *pgxpool.Pool }

func NewBedRepoPG(pool *pgxpool.Pool) BedRepository { return &bedRepoPG{pool: pool} }

const bedCols = `id, hospital_id, ward, bed_number, bed_type, status, created_at, updated_at`

func scanBed(row pgx.Row) (*Bed, error) {
	var b Bed
	err := row.Scan(&b.ID, &b.HospitalID, &b.Ward, &b.BedNumber, &b.BedType, &b.Status, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrBedNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (r *bedRepoPG) Create(ctx context.Context, b *Bed) error {
	err := conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO beds (hospital_id, ward, bed_number, bed_type, status)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, created_at, updated_at`,
		b.HospitalID, b.Ward, b.BedNumber, b.BedType, b.Status,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateBed
	}
	return err
}

func (r *bedRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return scanBed(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+bedCols+` FROM beds WHERE id = $1`, id))
}

func (r *bedRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return scanBed(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+bedCols+` FROM beds WHERE id = $1 FOR UPDATE`, id))
}

func (r *bedRepoPG) LockAvailable(ctx context.Context, hospitalID uuid.UUID, bedType string) (*Bed, error) {
	return scanBed(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+bedCols+` FROM beds
		WHERE hospital_id = $1 AND bed_type = $2 AND status = 'available'
		ORDER BY ward, bed_number
		LIMIT 1 FOR UPDATE SKIP LOCKED`, hospitalID, bedType))
}

func (r *bedRepoPG) Update(ctx context.Context, b *Bed) error {
	err := conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE beds SET ward = $2, bed_number = $3, bed_type = $4, status = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		b.ID, b.Ward, b.BedNumber, b.BedType, b.Status,
	).Scan(&b.UpdatedAt)
	switch {
	case db.IsNoRows(err):
		return ErrBedNotFound
	case db.IsUniqueViolation(err):
		return ErrDuplicateBed
	}
	return err
}

func (r *bedRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM beds WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBedNotFound
	}
	return nil
}

func (r *bedRepoPG) ListByHospital(ctx context.Context, hospitalID uuid.UUID, f BedFilter, limit, offset int) ([]*Bed, int, error) {
	where := ` WHERE hospital_id = $1`
	args := []interface{}{hospitalID}
	idx := 2
	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, f.Status)
		idx++
	}
	if f.BedType != "" {
		where += fmt.Sprintf(` AND bed_type = $%d`, idx)
		args = append(args, f.BedType)
		idx++
	}

	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM beds`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := fmt.Sprintf(`SELECT %s FROM beds%s ORDER BY ward, bed_number LIMIT $%d OFFSET $%d`, bedCols, where, idx, idx+1)
	rows, err := conn(ctx, r.pool).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Bed
	for rows.Next() {
		b, err := scanBed(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	return items, total, rows.Err()
}

// -- Bookings --

type bookingRepoPG struct{ pool *pgxpool.Pool }

func NewBookingRepoPG(pool *pgxpool.Pool) BookingRepository { return &bookingRepoPG{pool: pool} }

const bookingCols = `id, bed_id, hospital_id, patient_id, patient_name, bed_type, reason, status,
	reviewed_by, reviewed_at, created_at, updated_at`

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	err := row.Scan(&b.ID, &b.BedID, &b.HospitalID, &b.PatientID, &b.PatientName, &b.BedType, &b.Reason, &b.Status,
		&b.ReviewedBy, &b.ReviewedAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (r *bookingRepoPG) Create(ctx context.Context, b *Booking) error {
	return conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO bed_bookings (hospital_id, patient_id, patient_name, bed_type, reason, status)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id, created_at, updated_at`,
		b.HospitalID, b.PatientID, b.PatientName, b.BedType, b.Reason, b.Status,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
}

func (r *bookingRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return scanBooking(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+bookingCols+` FROM bed_bookings WHERE id = $1`, id))
}

func (r *bookingRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return scanBooking(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+bookingCols+` FROM bed_bookings WHERE id = $1 FOR UPDATE`, id))
}

func (r *bookingRepoPG) Update(ctx context.Context, b *Booking) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE bed_bookings SET bed_id = $2, status = $3, reviewed_by = $4, reviewed_at = $5, updated_at = NOW()
		WHERE id = $1`,
		b.ID, b.BedID, b.Status, b.ReviewedBy, b.ReviewedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBookingNotFound
	}
	return nil
}

func (r *bookingRepoPG) list(ctx context.Context, where string, args []interface{}, limit, offset int) ([]*Booking, int, error) {
	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM bed_bookings`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM bed_bookings%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, bookingCols, where, n+1, n+2)
	rows, err := conn(ctx, r.pool).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	return items, total, rows.Err()
}

func (r *bookingRepoPG) ListByHospital(ctx context.Context, hospitalID uuid.UUID, status string, limit, offset int) ([]*Booking, int, error) {
	if status != "" {
		return r.list(ctx, ` WHERE hospital_id = $1 AND status = $2`, []interface{}{hospitalID, status}, limit, offset)
	}
	return r.list(ctx, ` WHERE hospital_id = $1`, []interface{}{hospitalID}, limit, offset)
}

func (r *bookingRepoPG) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Booking, int, error) {
	return r.list(ctx, ` WHERE patient_id = $1`, []interface{}{patientID}, limit, offset)
}

func (r *bookingRepoPG) HasOpen(ctx context.Context, patientID string, hospitalID uuid.UUID) (bool, error) {
	var open bool
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM bed_bookings
			WHERE patient_id = $1 AND hospital_id = $2 AND status IN ('pending', 'approved'))`,
		patientID, hospitalID).Scan(&open)
	return open, err
}
