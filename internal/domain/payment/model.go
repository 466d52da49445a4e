package payment

import (
	"time"

	"github.com/google/uuid"

	"github.com/telemed/telemed/internal/platform/apperr"
)

// ErrAlreadySettled is reported by MarkPaid when the payment has already
// left the Pending state. Settle paths treat it as idempotent success.
var ErrAlreadySettled = apperr.Conflict("Payment has already been settled.")

type Status string

const (
	StatusPending Status = "Pending"
	StatusPaid    Status = "Paid"
)

// Payment is the 1:1 financial record of an appointment. Amount is in the
// smallest currency unit. IntentID is the external gateway reference, set
// when the gateway first reports on the payment.
type Payment struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	AppointmentID    uuid.UUID  `db:"appointment_id" json:"appointment_id"`
	Amount           int64      `db:"amount" json:"amount"`
	Currency         string     `db:"currency" json:"currency"`
	Status           Status     `db:"status" json:"status"`
	IntentID         *string    `db:"intent_id" json:"intent_id,omitempty"`
	PaidAt           *time.Time `db:"paid_at" json:"paid_at,omitempty"`
	InvoiceGenerated bool       `db:"invoice_generated" json:"invoice_generated"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// Participants are the two accounts attached to an appointment, used to
// authorize access to its payment.
type Participants struct {
	PatientID uuid.UUID `db:"patient_id"`
	DoctorID  uuid.UUID `db:"doctor_id"`
}

// Invoice is the billing document row created when a payment settles. The
// PDF file reference is attached after rendering.
type Invoice struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PaymentID uuid.UUID `db:"payment_id" json:"payment_id"`
	Number    string    `db:"number" json:"number"`
	Amount    int64     `db:"amount" json:"amount"`
	Currency  string    `db:"currency" json:"currency"`
	FilePath  string    `db:"file_path" json:"file_path,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
