package doctor

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telemed/telemed/internal/platform/apperr"
	"github.com/telemed/telemed/internal/platform/db"
)

const summaryColumns = `id, name, specialty, consultation_fee`

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *PGRepository) List(ctx context.Context, limit, offset int) ([]*Summary, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM doctors`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+summaryColumns+` FROM doctors ORDER BY name LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.Name, &s.Specialty, &s.Fee); err != nil {
			return nil, 0, err
		}
		out = append(out, &s)
	}
	return out, total, rows.Err()
}

func (r *PGRepository) GetSummary(ctx context.Context, id uuid.UUID) (*Summary, error) {
	var s Summary
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT `+summaryColumns+` FROM doctors WHERE id = $1`, id,
	).Scan(&s.ID, &s.Name, &s.Specialty, &s.Fee)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("Doctor not found.")
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *PGRepository) Fee(ctx context.Context, doctorID uuid.UUID) (int64, error) {
	var fee int64
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT consultation_fee FROM doctors WHERE id = $1`, doctorID).Scan(&fee)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, apperr.NotFound("Doctor not found.")
	}
	return fee, err
}
