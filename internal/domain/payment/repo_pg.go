package payment

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

const paymentColumns = `id, appointment_id, amount, currency, status, intent_id,
    paid_at, invoice_generated, created_at, updated_at`

const invoiceColumns = `id, payment_id, number, amount, currency, file_path, created_at`

const defaultCurrency = "BDT"

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

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID, &p.AppointmentID, &p.Amount, &p.Currency, &p.Status, &p.IntentID,
		&p.PaidAt, &p.InvoiceGenerated, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PGRepository) CreatePending(ctx context.Context, appointmentID uuid.UUID, amount int64) error {
	now := time.Now().UTC()
	_, err := r.conn(ctx).Exec(ctx, `
        INSERT INTO payments
            (id, appointment_id, amount, currency, status, invoice_generated, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, FALSE, $6, $6)`,
		uuid.New(), appointmentID, amount, defaultCurrency, StatusPending, now,
	)
	return err
}

func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return r.get(ctx, `id = $1`, id)
}

func (r *PGRepository) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Payment, error) {
	return r.get(ctx, `appointment_id = $1`, appointmentID)
}

func (r *PGRepository) GetByIntent(ctx context.Context, intentID string) (*Payment, error) {
	return r.get(ctx, `intent_id = $1`, intentID)
}

func (r *PGRepository) get(ctx context.Context, where string, arg interface{}) (*Payment, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE `+where, arg)
	p, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("Payment not found.")
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *PGRepository) IsPaid(ctx context.Context, appointmentID uuid.UUID) (bool, error) {
	var paid bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT status = $2 FROM payments WHERE appointment_id = $1`,
		appointmentID, StatusPaid).Scan(&paid)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return paid, err
}

// MarkPaid flips a pending payment to Paid. The status guard makes the
// database authoritative under concurrent settles: the loser updates zero
// rows and gets ErrAlreadySettled instead of racing toward a duplicate
// invoice.
func (r *PGRepository) MarkPaid(ctx context.Context, id uuid.UUID, intentID string, paidAt time.Time) error {
	var intent *string
	if intentID != "" {
		intent = &intentID
	}
	tag, err := r.conn(ctx).Exec(ctx, `
        UPDATE payments
        SET status = $2, intent_id = COALESCE($3, intent_id), paid_at = $4, updated_at = NOW()
        WHERE id = $1 AND status <> $2`,
		id, StatusPaid, intent, paidAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var status Status
		err := r.conn(ctx).QueryRow(ctx,
			`SELECT status FROM payments WHERE id = $1`, id).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("Payment not found.")
		}
		if err != nil {
			return err
		}
		return ErrAlreadySettled
	}
	return nil
}

func (r *PGRepository) SetInvoiceGenerated(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE payments SET invoice_generated = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Payment not found.")
	}
	return nil
}

func (r *PGRepository) ListAll(ctx context.Context, limit, offset int) ([]*Payment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM payments`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+paymentColumns+` FROM payments ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func (r *PGRepository) CreateInvoice(ctx context.Context, inv *Invoice) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	inv.CreatedAt = time.Now().UTC()
	_, err := r.conn(ctx).Exec(ctx, `
        INSERT INTO invoices (id, payment_id, number, amount, currency, file_path, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		inv.ID, inv.PaymentID, inv.Number, inv.Amount, inv.Currency, inv.FilePath, inv.CreatedAt,
	)
	return err
}

func (r *PGRepository) GetInvoiceByPayment(ctx context.Context, paymentID uuid.UUID) (*Invoice, error) {
	var inv Invoice
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE payment_id = $1`, paymentID,
	).Scan(&inv.ID, &inv.PaymentID, &inv.Number, &inv.Amount, &inv.Currency, &inv.FilePath, &inv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("Invoice not found.")
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *PGRepository) SetInvoiceFile(ctx context.Context, invoiceID uuid.UUID, path string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE invoices SET file_path = $2 WHERE id = $1`, invoiceID, path)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Invoice not found.")
	}
	return nil
}

func (r *PGRepository) Participants(ctx context.Context, appointmentID uuid.UUID) (*Participants, error) {
	var p Participants
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT patient_id, doctor_id FROM appointments WHERE id = $1`, appointmentID,
	).Scan(&p.PatientID, &p.DoctorID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("Appointment not found.")
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// InvoiceParties is the billing projection behind invoice rendering: the
// patient's name and email, the doctor's name and the appointment's civil
// slot key, one join away from the appointment id.
func (r *PGRepository) InvoiceParties(ctx context.Context, appointmentID uuid.UUID) (*Parties, error) {
	var p Parties
	err := r.conn(ctx).QueryRow(ctx, `
        SELECT pt.name, pt.email, d.name, a.slot_key
        FROM appointments a
        JOIN patients pt ON pt.id = a.patient_id
        JOIN doctors d ON d.id = a.doctor_id
        WHERE a.id = $1`, appointmentID,
	).Scan(&p.PatientName, &p.PatientEmail, &p.DoctorName, &p.SlotKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("Appointment not found.")
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
