package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence interface for appointments. Create must
// enforce slot uniqueness per doctor over slot-holding statuses and report a
// taken slot as ErrSlotAlreadyBooked.
type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
	ListAll(ctx context.Context, limit, offset int) ([]*Appointment, int, error)
	ListActiveUTCByDoctor(ctx context.Context, doctorID uuid.UUID, fromUTC, toUTC time.Time) ([]time.Time, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	SetWindowID(ctx context.Context, id, windowID uuid.UUID) error
	SetDoctorNote(ctx context.Context, id uuid.UUID, note string) error
	CountActiveByWindow(ctx context.Context, windowID uuid.UUID) (int, error)
	// ExpirePendingBefore flips PendingPayment appointments created before
	// cutoff to Expired and returns their ids.
	ExpirePendingBefore(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}
