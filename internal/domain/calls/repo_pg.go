package calls

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/carelink/internal/platform/db"
)

type callRepoPG struct{ pool *pgxpool.Pool }

func NewCallRepoPG(pool *pgxpool.Pool) Repository { return &callRepoPG{pool: pool} }

func (r *callRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const callCols = `id, caller_id, caller_name, callee_id, callee_name, call_type, status, offer_sdp, answer_sdp,
	end_reason, ringing_at, connected_at, ended_at, duration_seconds, created_at, updated_at`

func scanCall(row pgx.Row) (*Call, error) {
	var c Call
	err := row.Scan(&c.ID, &c.CallerID, &c.CallerName, &c.CalleeID, &c.CalleeName, &c.CallType, &c.Status,
		&c.OfferSDP, &c.AnswerSDP, &c.EndReason, &c.RingingAt, &c.ConnectedAt, &c.EndedAt, &c.DurationSeconds,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *callRepoPG) queryCalls(ctx context.Context, sql string, args ...interface{}) ([]*Call, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *callRepoPG) Create(ctx context.Context, c *Call) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO calls (caller_id, caller_name, callee_id, callee_name, call_type, status, offer_sdp, ringing_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id, created_at, updated_at`,
		c.CallerID, c.CallerName, c.CalleeID, c.CalleeName, c.CallType, c.Status, c.OfferSDP, c.RingingAt,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

func (r *callRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Call, error) {
	return scanCall(r.conn(ctx).QueryRow(ctx, `SELECT `+callCols+` FROM calls WHERE id = $1`, id))
}

func (r *callRepoPG) Transition(ctx context.Context, c *Call, from string) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE calls SET status = $3, answer_sdp = $4, end_reason = $5, connected_at = $6, ended_at = $7,
			duration_seconds = $8, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING updated_at`,
		c.ID, from, c.Status, c.AnswerSDP, c.EndReason, c.ConnectedAt, c.EndedAt, c.DurationSeconds,
	).Scan(&c.UpdatedAt)
	if db.IsNoRows(err) {
		return ErrStale
	}
	return err
}

func (r *callRepoPG) FirstRinging(ctx context.Context, calleeID string) (*Call, error) {
	return scanCall(r.conn(ctx).QueryRow(ctx, `SELECT `+callCols+` FROM calls
		WHERE callee_id = $1 AND status = 'ringing' ORDER BY created_at, id LIMIT 1`, calleeID))
}

func (r *callRepoPG) FirstConnected(ctx context.Context, userID string) (*Call, error) {
	return scanCall(r.conn(ctx).QueryRow(ctx, `SELECT `+callCols+` FROM calls
		WHERE (caller_id = $1 OR callee_id = $1) AND status = 'connected' ORDER BY created_at, id LIMIT 1`, userID))
}

func (r *callRepoPG) ListRinging(ctx context.Context, calleeID string) ([]*Call, error) {
	return r.queryCalls(ctx, `SELECT `+callCols+` FROM calls
		WHERE callee_id = $1 AND status = 'ringing' ORDER BY created_at, id`, calleeID)
}

func (r *callRepoPG) ListRingingBefore(ctx context.Context, before time.Time, limit int) ([]*Call, error) {
	return r.queryCalls(ctx, `SELECT `+callCols+` FROM calls
		WHERE status = 'ringing' AND ringing_at < $1 ORDER BY ringing_at LIMIT $2`, before, limit)
}

func (r *callRepoPG) ListByParticipant(ctx context.Context, userID string, limit, offset int) ([]*Call, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM calls WHERE caller_id = $1 OR callee_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := r.queryCalls(ctx, `SELECT `+callCols+` FROM calls
		WHERE caller_id = $1 OR callee_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	return items, total, err
}
