package schedule

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence interface for availability windows.
type Repository interface {
	Create(ctx context.Context, w *Window) error
	GetByID(ctx context.Context, id uuid.UUID) (*Window, error)
	// GetByDoctorDate returns the window for one doctor and calendar date,
	// or a not-found error. Uniqueness of (doctor, date) is maintained by
	// the create path, not a storage constraint.
	GetByDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) (*Window, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Window, int, error)
	ListPending(ctx context.Context, limit, offset int) ([]*Window, int, error)
	Update(ctx context.Context, w *Window) error
	SetApproved(ctx context.Context, id uuid.UUID, approved bool) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// AppointmentCounter reports how many slot-holding appointments reference a
// window. Implemented by the appointment repository; declared here so the
// schedule service does not import the appointment domain.
type AppointmentCounter interface {
	CountActiveByWindow(ctx context.Context, windowID uuid.UUID) (int, error)
}
