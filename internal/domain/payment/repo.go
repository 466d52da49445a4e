package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence interface for payments and their invoices.
// MarkPaid returns ErrAlreadySettled when the payment is no longer Pending.
type Repository interface {
	CreatePending(ctx context.Context, appointmentID uuid.UUID, amount int64) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Payment, error)
	GetByIntent(ctx context.Context, intentID string) (*Payment, error)
	IsPaid(ctx context.Context, appointmentID uuid.UUID) (bool, error)
	MarkPaid(ctx context.Context, id uuid.UUID, intentID string, paidAt time.Time) error
	SetInvoiceGenerated(ctx context.Context, id uuid.UUID) error
	ListAll(ctx context.Context, limit, offset int) ([]*Payment, int, error)
	Participants(ctx context.Context, appointmentID uuid.UUID) (*Participants, error)

	CreateInvoice(ctx context.Context, inv *Invoice) error
	GetInvoiceByPayment(ctx context.Context, paymentID uuid.UUID) (*Invoice, error)
	SetInvoiceFile(ctx context.Context, invoiceID uuid.UUID, path string) error
}
