package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telemed/telemed/internal/platform/apperr"
	"github.com/telemed/telemed/internal/platform/db"
)

const appointmentColumns = `id, patient_id, doctor_id, window_id, scheduled_at, slot_key,
    slot_index, status, patient_note, doctor_note, created_at, updated_at`

// slotHoldingStatusList mirrors the partial unique index predicate on
// (doctor_id, slot_key). Keep the two in sync with the migration.
const slotHoldingStatusList = `('PendingPayment', 'AwaitingDoctorApproval', 'Approved', 'Completed')`

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

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID, &a.PatientID, &a.DoctorID, &a.WindowID, &a.ScheduledAt, &a.SlotKey,
		&a.SlotIndex, &a.Status, &a.PatientNote, &a.DoctorNote, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *PGRepository) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := r.conn(ctx).Exec(ctx, `
        INSERT INTO appointments
            (id, patient_id, doctor_id, window_id, scheduled_at, slot_key,
             slot_index, status, patient_note, doctor_note, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.PatientID, a.DoctorID, a.WindowID, a.ScheduledAt, a.SlotKey,
		a.SlotIndex, a.Status, a.PatientNote, a.DoctorNote, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrSlotAlreadyBooked
		}
		return err
	}
	return nil
}

func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	a, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("Appointment not found.")
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *PGRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return r.list(ctx, `patient_id = $1`, []interface{}{patientID}, limit, offset)
}

func (r *PGRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return r.list(ctx, `doctor_id = $1`, []interface{}{doctorID}, limit, offset)
}

func (r *PGRepository) ListAll(ctx context.Context, limit, offset int) ([]*Appointment, int, error) {
	return r.list(ctx, `TRUE`, nil, limit, offset)
}

func (r *PGRepository) list(ctx context.Context, where string, args []interface{}, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM appointments WHERE `+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM appointments WHERE %s ORDER BY scheduled_at DESC LIMIT $%d OFFSET $%d`,
		appointmentColumns, where, n+1, n+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

func (r *PGRepository) ListActiveUTCByDoctor(ctx context.Context, doctorID uuid.UUID, fromUTC, toUTC time.Time) ([]time.Time, error) {
	rows, err := r.conn(ctx).Query(ctx, `
        SELECT scheduled_at FROM appointments
        WHERE doctor_id = $1 AND scheduled_at >= $2 AND scheduled_at < $3
          AND status IN `+slotHoldingStatusList,
		doctorID, fromUTC, toUTC)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t.UTC())
	}
	return out, rows.Err()
}

func (r *PGRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE appointments SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Appointment not found.")
	}
	return nil
}

func (r *PGRepository) SetWindowID(ctx context.Context, id, windowID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE appointments SET window_id = $2, updated_at = NOW() WHERE id = $1`,
		id, windowID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Appointment not found.")
	}
	return nil
}

func (r *PGRepository) SetDoctorNote(ctx context.Context, id uuid.UUID, note string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE appointments SET doctor_note = $2, updated_at = NOW() WHERE id = $1`,
		id, note)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Appointment not found.")
	}
	return nil
}

func (r *PGRepository) CountActiveByWindow(ctx context.Context, windowID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
        SELECT COUNT(*) FROM appointments
        WHERE window_id = $1 AND status IN `+slotHoldingStatusList,
		windowID).Scan(&n)
	return n, err
}

func (r *PGRepository) ExpirePendingBefore(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `
        UPDATE appointments SET status = $1, updated_at = NOW()
        WHERE status = $2 AND created_at < $3
        RETURNING id`,
		StatusExpired, StatusPendingPayment, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
