package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/carelink/internal/platform/db"
)

type queueRepoPG struct {
	pool *pgxpool.Pool
}

func NewQueueRepoPG(pool *pgxpool.Pool) Repository {
	return &queueRepoPG{pool: pool}
}

func (r *queueRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const entryCols = `id, hospital_id, patient_id, patient_name, department, queue_date, queue_number,
	status, called_at, created_at, updated_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.HospitalID, &e.PatientID, &e.PatientName, &e.Department, &e.QueueDate,
		&e.QueueNumber, &e.Status, &e.CalledAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (r *queueRepoPG) NextNumber(ctx context.Context, hospitalID uuid.UUID, day time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO queue_counters (hospital_id, queue_date, last_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (hospital_id, queue_date)
		DO UPDATE SET last_number = queue_counters.last_number + 1
		RETURNING last_number`, hospitalID, day).Scan(&n)
	return n, err
}

func (r *queueRepoPG) Create(ctx context.Context, e *Entry) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO queue_entries (hospital_id, patient_id, patient_name, department, queue_date, queue_number, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id, created_at, updated_at`,
		e.HospitalID, e.PatientID, e.PatientName, e.Department, e.QueueDate, e.QueueNumber, e.Status,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrAlreadyQueued
	}
	return err
}

func (r *queueRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return scanEntry(r.conn(ctx).QueryRow(ctx, `SELECT `+entryCols+` FROM queue_entries WHERE id = $1`, id))
}

func (r *queueRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return scanEntry(r.conn(ctx).QueryRow(ctx, `SELECT `+entryCols+` FROM queue_entries WHERE id = $1 FOR UPDATE`, id))
}

func (r *queueRepoPG) Update(ctx context.Context, e *Entry) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE queue_entries SET queue_number = $2, status = $3, called_at = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		e.ID, e.QueueNumber, e.Status, e.CalledAt,
	).Scan(&e.UpdatedAt)
	switch {
	case db.IsNoRows(err):
		return ErrNotFound
	case db.IsUniqueViolation(err):
		return ErrAlreadyQueued
	}
	return err
}

func (r *queueRepoPG) LockNextWaiting(ctx context.Context, hospitalID uuid.UUID, day time.Time, department string) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, `SELECT `+entryCols+` FROM queue_entries
		WHERE hospital_id = $1 AND queue_date = $2 AND status = 'waiting'
			AND ($3 = '' OR department = $3)
		ORDER BY queue_number
		LIMIT 1 FOR UPDATE SKIP LOCKED`, hospitalID, day, department))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrEmpty
	}
	return e, err
}

func (r *queueRepoPG) ListByDay(ctx context.Context, hospitalID uuid.UUID, day time.Time, status string) ([]*Entry, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+entryCols+` FROM queue_entries
		WHERE hospital_id = $1 AND queue_date = $2 AND ($3 = '' OR status = $3)
		ORDER BY queue_number`, hospitalID, day, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r *queueRepoPG) CountAhead(ctx context.Context, e *Entry) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM queue_entries
		WHERE hospital_id = $1 AND queue_date = $2 AND status = 'waiting' AND queue_number < $3`,
		e.HospitalID, e.QueueDate, e.QueueNumber).Scan(&n)
	return n, err
}

func (r *queueRepoPG) OpenForPatient(ctx context.Context, patientID string, hospitalID uuid.UUID, day time.Time) (*Entry, error) {
	return scanEntry(r.conn(ctx).QueryRow(ctx, `SELECT `+entryCols+` FROM queue_entries
		WHERE patient_id = $1 AND hospital_id = $2 AND queue_date = $3
			AND status IN ('waiting', 'called', 'in_consultation')
		LIMIT 1`, patientID, hospitalID, day))
}
