package wellness

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/carelink/internal/platform/db"
)

type moodRepoPG struct {
	pool *pgxpool.Pool
}

func NewMoodRepoPG(pool *pgxpool.Pool) Repository {
	return &moodRepoPG{pool: pool}
}

func (r *moodRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const moodCols = `id, patient_id, mood, note, tags, recorded_at`

func scanEntry(row pgx.Row) (*MoodEntry, error) {
	var e MoodEntry
	if err := row.Scan(&e.ID, &e.PatientID, &e.Mood, &e.Note, &e.Tags, &e.RecordedAt); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (r *moodRepoPG) Create(ctx context.Context, e *MoodEntry) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO mood_entries (patient_id, mood, note, tags, recorded_at)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id`,
		e.PatientID, e.Mood, e.Note, e.Tags, e.RecordedAt,
	).Scan(&e.ID)
}

func (r *moodRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MoodEntry, error) {
	return scanEntry(r.conn(ctx).QueryRow(ctx, `SELECT `+moodCols+` FROM mood_entries WHERE id = $1`, id))
}

func (r *moodRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM mood_entries WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *moodRepoPG) List(ctx context.Context, patientID string, rg Range, limit, offset int) ([]*MoodEntry, int, error) {
	where := []string{"patient_id = $1"}
	args := []interface{}{patientID}
	idx := 2
	if rg.From != nil {
		where = append(where, fmt.Sprintf("recorded_at >= $%d", idx))
		args = append(args, *rg.From)
		idx++
	}
	if rg.To != nil {
		where = append(where, fmt.Sprintf("recorded_at < $%d", idx))
		args = append(args, *rg.To)
		idx++
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM mood_entries WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := fmt.Sprintf(`SELECT %s FROM mood_entries WHERE %s ORDER BY recorded_at DESC LIMIT $%d OFFSET $%d`, moodCols, clause, idx, idx+1)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*MoodEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

func (r *moodRepoPG) Average(ctx context.Context, patientID string, from, to time.Time) (float64, int, error) {
	var avg float64
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(AVG(mood), 0)::float8, COUNT(*)
		FROM mood_entries
		WHERE patient_id = $1 AND recorded_at >= $2 AND recorded_at <= $3`,
		patientID, from, to,
	).Scan(&avg, &n)
	return avg, n, err
}
