package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telemed/telemed/internal/platform/apperr"
	"github.com/telemed/telemed/internal/platform/db"
)

const windowColumns = `id, doctor_id, date, start_minutes, end_minutes, max_patients_per_day,
    approved, video_call_link, created_at, updated_at`

// PGRepository is the Postgres implementation of Repository.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// conn returns the active transaction from the context when one is
// present, otherwise the pool.
func (r *PGRepository) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func scanWindow(row pgx.Row) (*Window, error) {
	var w Window
	err := row.Scan(
		&w.ID, &w.DoctorID, &w.Date, &w.Start, &w.End, &w.MaxPatientsPerDay,
		&w.Approved, &w.VideoCallLink, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *PGRepository) Create(ctx context.Context, w *Window) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	now := time.Now().UTC()
	w.CreatedAt = now
	w.UpdatedAt = now
	_, err := r.conn(ctx).Exec(ctx, `
        INSERT INTO availability_windows
            (id, doctor_id, date, start_minutes, end_minutes, max_patients_per_day,
             approved, video_call_link, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		w.ID, w.DoctorID, w.Date, w.Start, w.End, w.MaxPatientsPerDay,
		w.Approved, w.VideoCallLink, w.CreatedAt, w.UpdatedAt,
	)
	return err
}

func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*Window, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+windowColumns+` FROM availability_windows WHERE id = $1`, id)
	w, err := scanWindow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("Schedule not found.")
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (r *PGRepository) GetByDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) (*Window, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+windowColumns+` FROM availability_windows
         WHERE doctor_id = $1 AND date = $2`, doctorID, date)
	w, err := scanWindow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("Schedule not found.")
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (r *PGRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Window, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM availability_windows WHERE doctor_id = $1`, doctorID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+windowColumns+` FROM availability_windows
         WHERE doctor_id = $1 ORDER BY date LIMIT $2 OFFSET $3`,
		doctorID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	windows, err := collectWindows(rows)
	return windows, total, err
}

func (r *PGRepository) ListPending(ctx context.Context, limit, offset int) ([]*Window, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM availability_windows WHERE approved = FALSE`,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+windowColumns+` FROM availability_windows
         WHERE approved = FALSE ORDER BY date, created_at LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	windows, err := collectWindows(rows)
	return windows, total, err
}

func collectWindows(rows pgx.Rows) ([]*Window, error) {
	var windows []*Window
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

func (r *PGRepository) Update(ctx context.Context, w *Window) error {
	tag, err := r.conn(ctx).Exec(ctx, `
        UPDATE availability_windows
        SET date = $2, start_minutes = $3, end_minutes = $4, max_patients_per_day = $5,
            approved = $6, video_call_link = $7, updated_at = $8
        WHERE id = $1`,
		w.ID, w.Date, w.Start, w.End, w.MaxPatientsPerDay,
		w.Approved, w.VideoCallLink, w.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Schedule not found.")
	}
	return nil
}

func (r *PGRepository) SetApproved(ctx context.Context, id uuid.UUID, approved bool) error {
	tag, err := r.conn(ctx).Exec(ctx, `
        UPDATE availability_windows SET approved = $2, updated_at = NOW() WHERE id = $1`,
		id, approved)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Schedule not found.")
	}
	return nil
}

func (r *PGRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM availability_windows WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Schedule not found.")
	}
	return nil
}
