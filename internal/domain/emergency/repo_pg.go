package emergency

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/carelink/internal/platform/db"
)

type alertRepoPG struct{ pool *pgxpool.Pool }

func NewAlertRepoPG(pool *pgxpool.Pool) Repository { return &alertRepoPG{pool: pool} }

func (r *alertRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const alertCols = `id, patient_id, patient_name, patient_phone, client_ref, emergency_type,
	severity_level, severity_defaulted, estimated_casualties, affected_area, latitude, longitude,
	address, description, status, responding_hospitals::text[], ambulance_dispatched,
	video_stream_url, eta_minutes, created_at, updated_at`

func scanAlert(row pgx.Row) (*Alert, error) {
	var a Alert
	var emergencyType, severity string
	var responders []string
	err := row.Scan(&a.ID, &a.PatientID, &a.PatientName, &a.PatientPhone, &a.ClientRef, &emergencyType,
		&severity, &a.SeverityDefaulted, &a.EstimatedCasualties, &a.AffectedArea, &a.Latitude, &a.Longitude,
		&a.Address, &a.Description, &a.Status, &responders, &a.AmbulanceDispatched,
		&a.VideoStreamURL, &a.ETAMinutes, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.EmergencyType = EmergencyType(emergencyType)
	a.SeverityLevel = Level(severity)
	a.RespondingHospitals = make([]uuid.UUID, 0, len(responders))
	for _, s := range responders {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("responding hospital %q: %w", s, err)
		}
		a.RespondingHospitals = append(a.RespondingHospitals, id)
	}
	return &a, nil
}

func responderStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func (r *alertRepoPG) Create(ctx context.Context, a *Alert) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO emergency_alerts (id, patient_id, patient_name, patient_phone, client_ref, emergency_type,
			severity_level, severity_defaulted, estimated_casualties, affected_area, latitude, longitude,
			address, description, status, responding_hospitals, ambulance_dispatched, video_stream_url, eta_minutes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16::uuid[],$17,$18,$19)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.PatientName, a.PatientPhone, a.ClientRef, string(a.EmergencyType),
		string(a.SeverityLevel), a.SeverityDefaulted, a.EstimatedCasualties, a.AffectedArea, a.Latitude, a.Longitude,
		a.Address, a.Description, a.Status, responderStrings(a.RespondingHospitals), a.AmbulanceDispatched,
		a.VideoStreamURL, a.ETAMinutes,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateRef
	}
	return err
}

func (r *alertRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Alert, error) {
	return scanAlert(r.conn(ctx).QueryRow(ctx, `SELECT `+alertCols+` FROM emergency_alerts WHERE id = $1`, id))
}

func (r *alertRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Alert, error) {
	return scanAlert(r.conn(ctx).QueryRow(ctx, `SELECT `+alertCols+` FROM emergency_alerts WHERE id = $1 FOR UPDATE`, id))
}

func (r *alertRepoPG) GetByClientRef(ctx context.Context, patientID, clientRef string) (*Alert, error) {
	return scanAlert(r.conn(ctx).QueryRow(ctx,
		`SELECT `+alertCols+` FROM emergency_alerts WHERE patient_id = $1 AND client_ref = $2`, patientID, clientRef))
}

func (r *alertRepoPG) Update(ctx context.Context, a *Alert) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE emergency_alerts SET
			status = $2, responding_hospitals = $3::uuid[], ambulance_dispatched = $4, eta_minutes = $5,
			address = $6, video_stream_url = $7, updated_at = NOW()
		WHERE id = $1`,
		a.ID, a.Status, responderStrings(a.RespondingHospitals), a.AmbulanceDispatched, a.ETAMinutes,
		a.Address, a.VideoStreamURL)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *alertRepoPG) list(ctx context.Context, where string, args []interface{}, limit, offset int) ([]*Alert, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM emergency_alerts`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM emergency_alerts%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		alertCols, where, n+1, n+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *alertRepoPG) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Alert, int, error) {
	return r.list(ctx, ` WHERE patient_id = $1`, []interface{}{patientID}, limit, offset)
}

func (r *alertRepoPG) ListByStatus(ctx context.Context, statuses []string, limit, offset int) ([]*Alert, int, error) {
	return r.list(ctx, ` WHERE status = ANY($1)`, []interface{}{statuses}, limit, offset)
}

func (r *alertRepoPG) ListForHospital(ctx context.Context, hospitalID uuid.UUID, statuses []string, limit, offset int) ([]*Alert, int, error) {
	return r.list(ctx, ` WHERE $1 = ANY(responding_hospitals) AND status = ANY($2)`,
		[]interface{}{hospitalID, statuses}, limit, offset)
}

func (r *alertRepoPG) ListStale(ctx context.Context, olderThan, remindedBefore time.Time, maxReminders, limit int) ([]*Alert, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+alertCols+` FROM emergency_alerts
		WHERE status = 'active' AND created_at < $1
		  AND stale_reminders < $3
		  AND (last_reminded_at IS NULL OR last_reminded_at < $2)
		ORDER BY created_at LIMIT $4`, olderThan, remindedBefore, maxReminders, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *alertRepoPG) MarkReminded(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE emergency_alerts
		SET stale_reminders = stale_reminders + 1, last_reminded_at = $2
		WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *alertRepoPG) AddHistory(ctx context.Context, h *StatusChange) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO alert_status_history (alert_id, from_status, to_status, changed_by, note)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, changed_at`,
		h.AlertID, h.FromStatus, h.ToStatus, h.ChangedBy, h.Note,
	).Scan(&h.ID, &h.ChangedAt)
}

func (r *alertRepoPG) History(ctx context.Context, alertID uuid.UUID) ([]*StatusChange, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, alert_id, from_status, to_status, changed_by, note, changed_at
		FROM alert_status_history WHERE alert_id = $1 ORDER BY changed_at, id`, alertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*StatusChange
	for rows.Next() {
		var h StatusChange
		if err := rows.Scan(&h.ID, &h.AlertID, &h.FromStatus, &h.ToStatus, &h.ChangedBy, &h.Note, &h.ChangedAt); err != nil {
			return nil, err
		}
		items = append(items, &h)
	}
	return items, rows.Err()
}
