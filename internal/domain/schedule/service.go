package schedule

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/telemed/telemed/internal/platform/apperr"
)

// DefaultMinMinutesPerPatient is the floor on per-patient consultation time.
const DefaultMinMinutesPerPatient = 10

type Service struct {
	windows      Repository
	appointments AppointmentCounter
	minMinutes   int
}

func NewService(windows Repository, appointments AppointmentCounter, minMinutesPerPatient int) *Service {
	if minMinutesPerPatient <= 0 {
		minMinutesPerPatient = DefaultMinMinutesPerPatient
	}
	return &Service{windows: windows, appointments: appointments, minMinutes: minMinutesPerPatient}
}

// ValidateWindow applies the availability invariants. It fails the operation
// rather than clamping: end after start, positive capacity, and at least
// minMinutes of consultation time per patient. The capacity message reports
// the largest capacity the range could hold.
func (s *Service) ValidateWindow(start, end TimeOfDay, maxPatients int) error {
	if end <= start {
		return apperr.Validation("End time must be after start time.")
	}
	if maxPatients <= 0 {
		return apperr.Validation("Max patients per day must be greater than zero.")
	}
	total := end.Minutes() - start.Minutes()
	if total/maxPatients < s.minMinutes {
		allowed := total / s.minMinutes
		return apperr.Validationf(
			"Each patient must have at least %d minutes. With the selected time range (%s - %s) you can schedule at most %d patients per day.",
			s.minMinutes, start, end, allowed)
	}
	return nil
}

// CreateRange creates one window per calendar date in [startDate, endDate],
// skipping dates the doctor already covers. New windows are unapproved until
// an administrator signs off.
func (s *Service) CreateRange(ctx context.Context, doctorID uuid.UUID, startDate, endDate time.Time, start, end TimeOfDay, maxPatients int, videoCallLink string) ([]*Window, error) {
	if err := s.ValidateWindow(start, end, maxPatients); err != nil {
		return nil, err
	}
	first, last := DateOnly(startDate), DateOnly(endDate)
	if last.Before(first) {
		return nil, apperr.Validation("End date must not be before start date.")
	}

	var created []*Window
	for date := first; !date.After(last); date = date.AddDate(0, 0, 1) {
		if _, err := s.windows.GetByDoctorDate(ctx, doctorID, date); err == nil {
			continue
		}
		w := &Window{
			DoctorID:          doctorID,
			Date:              date,
			Start:             start,
			End:               end,
			MaxPatientsPerDay: maxPatients,
			Approved:          false,
		}
		if videoCallLink != "" {
			w.VideoCallLink = &videoCallLink
		}
		if err := s.windows.Create(ctx, w); err != nil {
			return created, err
		}
		created = append(created, w)
	}
	return created, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Window, error) {
	w, err := s.windows.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.NotFound("Schedule not found.")
	}
	return w, nil
}

func (s *Service) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Window, int, error) {
	return s.windows.ListByDoctor(ctx, doctorID, limit, offset)
}

func (s *Service) ListPending(ctx context.Context, limit, offset int) ([]*Window, int, error) {
	return s.windows.ListPending(ctx, limit, offset)
}

// Edit replaces a window's hours and capacity. Only the owning doctor may
// edit, the result must re-validate, and a window referenced by any
// slot-holding appointment cannot change at all — confirmed bookings would
// be silently invalidated otherwise. Edits reset approval.
func (s *Service) Edit(ctx context.Context, id, doctorID uuid.UUID, start, end TimeOfDay, maxPatients int) (*Window, error) {
	w, err := s.windows.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.NotFound("Schedule not found.")
	}
	if w.DoctorID != doctorID {
		return nil, apperr.Forbidden("Only the owning doctor may edit this schedule.")
	}
	if err := s.ValidateWindow(start, end, maxPatients); err != nil {
		return nil, err
	}
	n, err := s.appointments.CountActiveByWindow(ctx, id)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, apperr.Conflict("Cannot edit a schedule with existing appointments.")
	}

	w.Start = start
	w.End = end
	w.MaxPatientsPerDay = maxPatients
	w.Approved = false // re-approval required after any edit
	w.UpdatedAt = time.Now().UTC()
	if err := s.windows.Update(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Approve marks a window bookable. Admin only, enforced at the route.
func (s *Service) Approve(ctx context.Context, id uuid.UUID) (*Window, error) {
	w, err := s.windows.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.NotFound("Schedule not found.")
	}
	if err := s.windows.SetApproved(ctx, id, true); err != nil {
		return nil, err
	}
	w.Approved = true
	return w, nil
}

// Reject removes an unapproved window. A referenced window is left in place
// unapproved, reported as a conflict.
func (s *Service) Reject(ctx context.Context, id uuid.UUID) error {
	if _, err := s.windows.GetByID(ctx, id); err != nil {
		return apperr.NotFound("Schedule not found.")
	}
	n, err := s.appointments.CountActiveByWindow(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return apperr.Conflict("Cannot reject a schedule with existing appointments.")
	}
	return s.windows.Delete(ctx, id)
}

// Delete removes a window. Rejected while any appointment references it.
func (s *Service) Delete(ctx context.Context, id, doctorID uuid.UUID) error {
	w, err := s.windows.GetByID(ctx, id)
	if err != nil {
		return apperr.NotFound("Schedule not found.")
	}
	if w.DoctorID != doctorID {
		return apperr.Forbidden("Only the owning doctor may delete this schedule.")
	}
	n, err := s.appointments.CountActiveByWindow(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return apperr.Conflict("Cannot delete schedule with existing appointments.")
	}
	return s.windows.Delete(ctx, id)
}
