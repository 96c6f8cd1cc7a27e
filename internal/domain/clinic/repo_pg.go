package clinic

import (
	"context"
	"fmt"
	"time"

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

// -- Appointments --

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

const apptCols = `id, patient_id, patient_name, doctor_id, doctor_name, hospital_id, scheduled_at,
	duration_minutes, kind, status, reason, notes, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.PatientName, &a.DoctorID, &a.DoctorName, &a.HospitalID,
		&a.ScheduledAt, &a.DurationMinutes, &a.Kind, &a.Status, &a.Reason, &a.Notes, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	return conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointments (patient_id, patient_name, doctor_id, doctor_name, hospital_id,
			scheduled_at, duration_minutes, kind, status, reason, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id, created_at, updated_at`,
		a.PatientID, a.PatientName, a.DoctorID, a.DoctorName, a.HospitalID,
		a.ScheduledAt, a.DurationMinutes, a.Kind, a.Status, a.Reason, a.Notes,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
}

func (r *appointmentRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1 FOR UPDATE`, id))
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	err := conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointments SET scheduled_at = $2, duration_minutes = $3, status = $4, notes = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.ScheduledAt, a.DurationMinutes, a.Status, a.Notes,
	).Scan(&a.UpdatedAt)
	if db.IsNoRows(err) {
		return ErrAppointmentNotFound
	}
	return err
}

func (r *appointmentRepoPG) list(ctx context.Context, column, id string, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	where := fmt.Sprintf(` WHERE %s = $1`, column)
	args := []interface{}{id}
	idx := 2
	if f.From != nil {
		where += fmt.Sprintf(` AND scheduled_at >= $%d`, idx)
		args = append(args, *f.From)
		idx++
	}
	if f.To != nil {
		where += fmt.Sprintf(` AND scheduled_at < $%d`, idx)
		args = append(args, *f.To)
		idx++
	}

	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM appointments`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := fmt.Sprintf(`SELECT %s FROM appointments%s ORDER BY scheduled_at LIMIT $%d OFFSET $%d`, apptCols, where, idx, idx+1)
	rows, err := conn(ctx, r.pool).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *appointmentRepoPG) ListByPatient(ctx context.Context, patientID string, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	return r.list(ctx, "patient_id", patientID, f, limit, offset)
}

func (r *appointmentRepoPG) ListByDoctor(ctx context.Context, doctorID string, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	return r.list(ctx, "doctor_id", doctorID, f, limit, offset)
}

func (r *appointmentRepoPG) LockDoctor(ctx context.Context, doctorID string) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('appointments:' || $1))`, doctorID)
	return err
}

func (r *appointmentRepoPG) Overlapping(ctx context.Context, doctorID string, start, end time.Time, exclude uuid.UUID) (int, error) {
	var n int
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(*) FROM appointments
		WHERE doctor_id = $1 AND id <> $4
			AND status IN ('requested', 'confirmed')
			AND scheduled_at < $3
			AND scheduled_at + duration_minutes * INTERVAL '1 minute' > $2`,
		doctorID, start, end, exclude).Scan(&n)
	return n, err
}

// -- Prescriptions --

type prescriptionRepoPG struct{ pool *pgxpool.Pool }

func NewPrescriptionRepoPG(pool *pgxpool.Pool) PrescriptionRepository {
	return &prescriptionRepoPG{pool: pool}
}

const rxCols = `id, patient_id, doctor_id, appointment_id, diagnosis, medications, instructions, status,
	issued_at, valid_until, created_at, updated_at`

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.PatientID, &p.DoctorID, &p.AppointmentID, &p.Diagnosis, &p.Medications,
		&p.Instructions, &p.Status, &p.IssuedAt, &p.ValidUntil, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrPrescriptionNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *prescriptionRepoPG) Create(ctx context.Context, p *Prescription) error {
	return conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO prescriptions (patient_id, doctor_id, appointment_id, diagnosis, medications,
			instructions, status, issued_at, valid_until)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id, created_at, updated_at`,
		p.PatientID, p.DoctorID, p.AppointmentID, p.Diagnosis, p.Medications,
		p.Instructions, p.Status, p.IssuedAt, p.ValidUntil,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (r *prescriptionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return scanPrescription(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+rxCols+` FROM prescriptions WHERE id = $1`, id))
}

func (r *prescriptionRepoPG) Update(ctx context.Context, p *Prescription) error {
	err := conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE prescriptions SET status = $2, instructions = $3, valid_until = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.Status, p.Instructions, p.ValidUntil,
	).Scan(&p.UpdatedAt)
	if db.IsNoRows(err) {
		return ErrPrescriptionNotFound
	}
	return err
}

func (r *prescriptionRepoPG) list(ctx context.Context, column, id string, limit, offset int) ([]*Prescription, int, error) {
	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM prescriptions WHERE %s = $1`, column), id).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn(ctx, r.pool).Query(ctx,
		fmt.Sprintf(`SELECT %s FROM prescriptions WHERE %s = $1 ORDER BY issued_at DESC LIMIT $2 OFFSET $3`, rxCols, column),
		id, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *prescriptionRepoPG) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Prescription, int, error) {
	return r.list(ctx, "patient_id", patientID, limit, offset)
}

func (r *prescriptionRepoPG) ListByDoctor(ctx context.Context, doctorID string, limit, offset int) ([]*Prescription, int, error) {
	return r.list(ctx, "doctor_id", doctorID, limit, offset)
}

// -- Staff --

type staffRepoPG struct{ pool *pgxpool.Pool }

func NewStaffRepoPG(pool *pgxpool.Pool) StaffRepository {
	return &staffRepoPG{pool: pool}
}

const staffCols = `id, hospital_id, user_id, name, role, department, phone, email, shift, on_duty, created_at, updated_at`

func scanStaff(row pgx.Row) (*Staff, error) {
	var s Staff
	err := row.Scan(&s.ID, &s.HospitalID, &s.UserID, &s.Name, &s.Role, &s.Department, &s.Phone, &s.Email,
		&s.Shift, &s.OnDuty, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrStaffNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *staffRepoPG) Create(ctx context.Context, s *Staff) error {
	return conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO staff (hospital_id, user_id, name, role, department, phone, email, shift, on_duty)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id, created_at, updated_at`,
		s.HospitalID, s.UserID, s.Name, s.Role, s.Department, s.Phone, s.Email, s.Shift, s.OnDuty,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

func (r *staffRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Staff, error) {
	return scanStaff(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+staffCols+` FROM staff WHERE id = $1`, id))
}

func (r *staffRepoPG) Update(ctx context.Context, s *Staff) error {
	err := conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE staff SET user_id = $2, name = $3, role = $4, department = $5, phone = $6, email = $7,
			shift = $8, on_duty = $9, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.UserID, s.Name, s.Role, s.Department, s.Phone, s.Email, s.Shift, s.OnDuty,
	).Scan(&s.UpdatedAt)
	if db.IsNoRows(err) {
		return ErrStaffNotFound
	}
	return err
}

func (r *staffRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM staff WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaffNotFound
	}
	return nil
}

func (r *staffRepoPG) ListByHospital(ctx context.Context, hospitalID uuid.UUID, f StaffFilter, limit, offset int) ([]*Staff, int, error) {
	where := ` WHERE hospital_id = $1`
	args := []interface{}{hospitalID}
	idx := 2
	if f.Department != "" {
		where += fmt.Sprintf(` AND department = $%d`, idx)
		args = append(args, f.Department)
		idx++
	}
	if f.OnDutyOnly {
		where += ` AND on_duty`
	}

	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM staff`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := fmt.Sprintf(`SELECT %s FROM staff%s ORDER BY department, name LIMIT $%d OFFSET $%d`, staffCols, where, idx, idx+1)
	rows, err := conn(ctx, r.pool).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Staff
	for rows.Next() {
		s, err := scanStaff(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}
