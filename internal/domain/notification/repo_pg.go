package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/carelink/internal/platform/db"
)

type notificationRepoPG struct{ pool *pgxpool.Pool }

func NewNotificationRepoPG(pool *pgxpool.Pool) Repository { return &notificationRepoPG{pool: pool} }

func (r *notificationRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const notificationCols = `id, recipient_id, hospital_id, alert_id, kind, title, message, status,
	attempts, last_error, created_at, updated_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.RecipientID, &n.HospitalID, &n.AlertID, &n.Kind, &n.Title, &n.Message, &n.Status,
		&n.Attempts, &n.LastError, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &n, nil
}

func (r *notificationRepoPG) list(ctx context.Context, countSQL, listSQL string, args ...interface{}) ([]*Notification, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, args[:len(args)-2]...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, listSQL, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, n)
	}
	return items, total, rows.Err()
}

func (r *notificationRepoPG) CreateBatch(ctx context.Context, ns []*Notification) error {
	q := r.conn(ctx)
	for _, n := range ns {
		if n.Status == "" {
			n.Status = StatusPending
		}
		err := q.QueryRow(ctx, `
			INSERT INTO notifications (recipient_id, hospital_id, alert_id, kind, title, message, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			RETURNING id, created_at, updated_at`,
			n.RecipientID, n.HospitalID, n.AlertID, n.Kind, n.Title, n.Message, n.Status,
		).Scan(&n.ID, &n.CreatedAt, &n.UpdatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *notificationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Notification, error) {
	return scanNotification(r.conn(ctx).QueryRow(ctx, `SELECT `+notificationCols+` FROM notifications WHERE id = $1`, id))
}

func (r *notificationRepoPG) ListForRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	where := ` WHERE recipient_id = $1`
	if unreadOnly {
		where += ` AND status <> 'read'`
	}
	return r.list(ctx,
		`SELECT COUNT(*) FROM notifications`+where,
		`SELECT `+notificationCols+` FROM notifications`+where+` ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		recipientID, limit, offset)
}

func (r *notificationRepoPG) ListForHospital(ctx context.Context, hospitalID uuid.UUID, limit, offset int) ([]*Notification, int, error) {
	return r.list(ctx,
		`SELECT COUNT(*) FROM notifications WHERE hospital_id = $1`,
		`SELECT `+notificationCols+` FROM notifications WHERE hospital_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		hospitalID, limit, offset)
}

func (r *notificationRepoPG) exec(ctx context.Context, sql string, args ...interface{}) error {
	tag, err := r.conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *notificationRepoPG) MarkRead(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, `UPDATE notifications SET status = 'read', updated_at = NOW() WHERE id = $1`, id)
}

func (r *notificationRepoPG) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, `
		UPDATE notifications SET status = 'delivered', attempts = attempts + 1, last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'failed')`, id)
}

func (r *notificationRepoPG) RecordAttempt(ctx context.Context, id uuid.UUID, reason string) error {
	return r.exec(ctx, `
		UPDATE notifications SET
			attempts = attempts + 1,
			last_error = $2,
			status = CASE WHEN attempts + 1 >= $3 THEN 'failed' ELSE 'pending' END,
			updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, id, reason, MaxAttempts)
}

func (r *notificationRepoPG) ListUndelivered(ctx context.Context, olderThan time.Time, limit int) ([]*Notification, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+notificationCols+` FROM notifications
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at LIMIT $2`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, rows.Err()
}
