package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telemed/telemed/internal/domain/schedule"
	"github.com/telemed/telemed/internal/platform/apperr"
	"github.com/telemed/telemed/internal/platform/civiltime"
)

const (
	joinEarlyMinutes       = 5
	fallbackSlotMinutes    = 30
	minJoinWindowSlotChunk = 5
)

// FeeSource resolves a doctor's consultation fee. Implemented by the doctor
// repository.
type FeeSource interface {
	Fee(ctx context.Context, doctorID uuid.UUID) (int64, error)
}

// PaymentCreator opens a pending payment for a freshly booked appointment.
// Implemented by the payment repository; declared here so booking stays a
// single transaction without importing the payment domain.
type PaymentCreator interface {
	CreatePending(ctx context.Context, appointmentID uuid.UUID, amount int64) error
}

// PaymentChecker reports whether an appointment's payment has settled.
type PaymentChecker interface {
	IsPaid(ctx context.Context, appointmentID uuid.UUID) (bool, error)
}

// TxRunner executes fn atomically. Production wires db.RunInTx; tests pass
// the function through.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// Notifier emails the patient about booking lifecycle events. Delivery is
// best-effort: implementations swallow their own failures and must never
// unwind the operation that triggered them.
type Notifier interface {
	AppointmentBooked(ctx context.Context, appt *Appointment)
	AppointmentRejected(ctx context.Context, appt *Appointment)
}

type Service struct {
	repo             Repository
	windows          WindowSource
	fees             FeeSource
	payments         PaymentCreator
	paymentStatus    PaymentChecker
	allocator        *Allocator
	zone             civiltime.Zone
	inTx             TxRunner
	notifier         Notifier
	fullApprovalFlow bool
	pendingTTL       time.Duration
	log              zerolog.Logger
}

// SetNotifier enables booking lifecycle emails. Left unset they are
// skipped.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

type ServiceConfig struct {
	FullApprovalFlow bool
	PendingTTL       time.Duration
}

func NewService(
	repo Repository,
	windows WindowSource,
	fees FeeSource,
	payments PaymentCreator,
	paymentStatus PaymentChecker,
	zone civiltime.Zone,
	inTx TxRunner,
	cfg ServiceConfig,
	log zerolog.Logger,
) *Service {
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 24 * time.Hour
	}
	return &Service{
		repo:             repo,
		windows:          windows,
		fees:             fees,
		payments:         payments,
		paymentStatus:    paymentStatus,
		allocator:        NewAllocator(windows, repo, zone),
		zone:             zone,
		inTx:             inTx,
		fullApprovalFlow: cfg.FullApprovalFlow,
		pendingTTL:       cfg.PendingTTL,
		log:              log,
	}
}

// Book allocates the slot containing requestedCivil and creates the
// appointment together with its pending payment in one transaction. The
// slot uniqueness constraint decides races: a concurrent booking of the
// same slot surfaces as ErrSlotAlreadyBooked from the insert.
func (s *Service) Book(ctx context.Context, patientID, doctorID uuid.UUID, requestedCivil time.Time, patientNote string) (*Appointment, error) {
	slot, err := s.allocator.Allocate(ctx, doctorID, requestedCivil)
	if err != nil {
		return nil, err
	}

	fee, err := s.fees.Fee(ctx, doctorID)
	if err != nil {
		return nil, apperr.NotFound("Doctor not found.")
	}

	windowID := slot.WindowID
	appt := &Appointment{
		PatientID:   patientID,
		DoctorID:    doctorID,
		WindowID:    &windowID,
		ScheduledAt: slot.UTC,
		SlotKey:     slot.Key,
		SlotIndex:   slot.SlotIndex,
		Status:      StatusPendingPayment,
		PatientNote: patientNote,
	}

	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, appt); err != nil {
			return err
		}
		return s.payments.CreatePending(ctx, appt.ID, fee)
	})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.AppointmentBooked(ctx, appt)
	}
	return appt, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.ListByDoctor(ctx, doctorID, limit, offset)
}

func (s *Service) ListAll(ctx context.Context, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.ListAll(ctx, limit, offset)
}

// AvailableSlots exposes the allocator's day grid together with the fee the
// patient would pay for any of the slots.
func (s *Service) AvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]SlotInfo, int64, error) {
	slots, err := s.allocator.AvailableSlots(ctx, doctorID, date)
	if err != nil {
		return nil, 0, err
	}
	fee, err := s.fees.Fee(ctx, doctorID)
	if err != nil {
		return nil, 0, apperr.NotFound("Doctor not found.")
	}
	return slots, fee, nil
}

// Approve moves a paid appointment from AwaitingDoctorApproval to Approved.
// Only the owning doctor may approve. Appointments booked before the window
// link existed get it back-filled here.
func (s *Service) Approve(ctx context.Context, id, doctorID uuid.UUID, doctorNote string) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.DoctorID != doctorID {
		return nil, apperr.Forbidden("Only the appointment's doctor may approve it.")
	}
	if appt.Status != StatusAwaitingDoctorApproval {
		return nil, apperr.Conflict(fmt.Sprintf("Cannot approve an appointment in status %s.", appt.Status))
	}

	if appt.WindowID == nil {
		civil := s.zone.ToCivil(appt.ScheduledAt)
		if w, err := s.windows.GetByDoctorDate(ctx, appt.DoctorID, schedule.DateOnly(civil)); err == nil {
			if err := s.repo.SetWindowID(ctx, id, w.ID); err == nil {
				appt.WindowID = &w.ID
			}
		}
	}

	if doctorNote != "" {
		if err := s.repo.SetDoctorNote(ctx, id, doctorNote); err != nil {
			return nil, err
		}
		appt.DoctorNote = doctorNote
	}
	if err := s.repo.UpdateStatus(ctx, id, StatusApproved); err != nil {
		return nil, err
	}
	appt.Status = StatusApproved
	return appt, nil
}

// Reject declines an appointment, releasing its slot. Only the owning
// doctor may reject, and terminal appointments stay as they are.
func (s *Service) Reject(ctx context.Context, id, doctorID uuid.UUID, doctorNote string) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.DoctorID != doctorID {
		return nil, apperr.Forbidden("Only the appointment's doctor may reject it.")
	}
	switch appt.Status {
	case StatusCompleted, StatusRejected, StatusRescheduled, StatusExpired:
		return nil, apperr.Conflict(fmt.Sprintf("Cannot reject an appointment in status %s.", appt.Status))
	}

	if doctorNote != "" {
		if err := s.repo.SetDoctorNote(ctx, id, doctorNote); err != nil {
			return nil, err
		}
		appt.DoctorNote = doctorNote
	}
	if err := s.repo.UpdateStatus(ctx, id, StatusRejected); err != nil {
		return nil, err
	}
	appt.Status = StatusRejected

	if s.notifier != nil {
		s.notifier.AppointmentRejected(ctx, appt)
	}
	return appt, nil
}

// OnPaid is the payment domain's callback once a payment settles. The
// appointment completes immediately, or waits for the doctor when the full
// approval flow is enabled. Already-terminal appointments are left alone so
// the payment path stays idempotent.
func (s *Service) OnPaid(ctx context.Context, appointmentID uuid.UUID) error {
	appt, err := s.repo.GetByID(ctx, appointmentID)
	if err != nil {
		return err
	}
	if appt.Status != StatusPendingPayment {
		return nil
	}
	next := StatusCompleted
	if s.fullApprovalFlow {
		next = StatusAwaitingDoctorApproval
	}
	return s.repo.UpdateStatus(ctx, appointmentID, next)
}

// JoinLink returns the video call link for an appointment when the caller
// may join: owning patient or doctor, payment settled, and the current time
// inside [scheduled−5m, scheduled+slotDuration].
func (s *Service) JoinLink(ctx context.Context, id, userID uuid.UUID, now time.Time) (string, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if userID != appt.PatientID && userID != appt.DoctorID {
		return "", apperr.Forbidden("You are not a participant of this appointment.")
	}

	paid, err := s.paymentStatus.IsPaid(ctx, id)
	if err != nil {
		return "", err
	}
	if !paid {
		return "", apperr.Conflict("Payment has not been completed for this appointment.")
	}

	var link string
	slotMinutes := fallbackSlotMinutes
	if appt.WindowID != nil {
		civil := s.zone.ToCivil(appt.ScheduledAt)
		if w, err := s.windows.GetByDoctorDate(ctx, appt.DoctorID, schedule.DateOnly(civil)); err == nil {
			if w.VideoCallLink != nil {
				link = *w.VideoCallLink
			}
			if m := w.SlotMinutes(); m > 0 {
				slotMinutes = m
			}
		}
	}
	if slotMinutes < minJoinWindowSlotChunk {
		slotMinutes = minJoinWindowSlotChunk
	}
	if link == "" {
		return "", apperr.NotFound("No video call link is set for this appointment.")
	}

	opens := appt.ScheduledAt.Add(-joinEarlyMinutes * time.Minute)
	closes := appt.ScheduledAt.Add(time.Duration(slotMinutes) * time.Minute)
	if now.Before(opens) || now.After(closes) {
		return "", apperr.Conflict("The video call can only be joined around the scheduled time.")
	}
	return link, nil
}

// ExpirePending flips stale PendingPayment appointments to Expired, freeing
// their slots. Run periodically by the server.
func (s *Service) ExpirePending(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.repo.ExpirePendingBefore(ctx, now.Add(-s.pendingTTL))
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		s.log.Info().Str("appointment_id", id.String()).Msg("expired unpaid appointment")
	}
	return len(ids), nil
}
