package appointment

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPendingPayment         Status = "PendingPayment"
	StatusAwaitingDoctorApproval Status = "AwaitingDoctorApproval"
	StatusApproved               Status = "Approved"
	StatusRejected               Status = "Rejected"
	StatusRescheduled            Status = "Rescheduled"
	StatusCompleted              Status = "Completed"
	StatusExpired                Status = "Expired"
)

// SlotHoldingStatuses are the statuses that keep a slot occupied. Rejected,
// rescheduled and expired appointments release their slot for rebooking.
var SlotHoldingStatuses = []Status{
	StatusPendingPayment,
	StatusAwaitingDoctorApproval,
	StatusApproved,
	StatusCompleted,
}

// HoldsSlot reports whether an appointment in this status occupies its slot.
func (s Status) HoldsSlot() bool {
	for _, h := range SlotHoldingStatuses {
		if s == h {
			return true
		}
	}
	return false
}

// Appointment is a patient's booking of one slot with one doctor.
// ScheduledAt is stored in UTC; SlotKey is the canonical civil-zone key and,
// together with DoctorID, the slot's identity.
type Appointment struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID    uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	WindowID    *uuid.UUID `db:"window_id" json:"window_id,omitempty"`
	ScheduledAt time.Time  `db:"scheduled_at" json:"scheduled_at"`
	SlotKey     string     `db:"slot_key" json:"slot_key"`
	SlotIndex   int        `db:"slot_index" json:"slot_index"`
	Status      Status     `db:"status" json:"status"`
	PatientNote string     `db:"patient_note" json:"patient_note"`
	DoctorNote  string     `db:"doctor_note" json:"doctor_note"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}
