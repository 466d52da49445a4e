package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telemed/telemed/internal/platform/apperr"
	"github.com/telemed/telemed/internal/platform/invoice"
	"github.com/telemed/telemed/internal/platform/notification"
)

// AppointmentCompleter advances an appointment once its payment settles.
// Implemented by the appointment service.
type AppointmentCompleter interface {
	OnPaid(ctx context.Context, appointmentID uuid.UUID) error
}

// Parties is the billing projection of an appointment: who gets the invoice
// and what it says.
type Parties struct {
	PatientName  string
	PatientEmail string
	DoctorName   string
	SlotKey      string
}

// PartySource resolves the billing parties of an appointment.
type PartySource interface {
	InvoiceParties(ctx context.Context, appointmentID uuid.UUID) (*Parties, error)
}

// TxRunner executes fn atomically.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

type Service struct {
	repo         Repository
	appointments AppointmentCompleter
	parties      PartySource
	renderer     *invoice.Renderer
	sender       notification.Sender
	templates    *notification.TemplateEngine
	inTx         TxRunner
	log          zerolog.Logger
}

func NewService(
	repo Repository,
	appointments AppointmentCompleter,
	parties PartySource,
	renderer *invoice.Renderer,
	sender notification.Sender,
	templates *notification.TemplateEngine,
	inTx TxRunner,
	log zerolog.Logger,
) *Service {
	return &Service{
		repo:         repo,
		appointments: appointments,
		parties:      parties,
		renderer:     renderer,
		sender:       sender,
		templates:    templates,
		inTx:         inTx,
		log:          log,
	}
}

// Get returns a payment to one of its appointment's participants. Admins
// see every payment.
func (s *Service) Get(ctx context.Context, id, callerID uuid.UUID, role string) (*Payment, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if role != "admin" {
		parts, err := s.repo.Participants(ctx, p.AppointmentID)
		if err != nil {
			return nil, err
		}
		if callerID != parts.PatientID && callerID != parts.DoctorID {
			return nil, apperr.Forbidden("You are not a participant of this appointment.")
		}
	}
	return p, nil
}

func (s *Service) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Payment, error) {
	return s.repo.GetByAppointment(ctx, appointmentID)
}

func (s *Service) ListAll(ctx context.Context, limit, offset int) ([]*Payment, int, error) {
	return s.repo.ListAll(ctx, limit, offset)
}

// Confirm settles a payment from the synchronous confirmation endpoint.
// Only the patient who owns the appointment may confirm. Calling it on an
// already-paid payment is a no-op.
func (s *Service) Confirm(ctx context.Context, paymentID uuid.UUID, intentID string, callerID uuid.UUID) (*Payment, error) {
	p, err := s.repo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	parts, err := s.repo.Participants(ctx, p.AppointmentID)
	if err != nil {
		return nil, err
	}
	if callerID != parts.PatientID {
		return nil, apperr.Forbidden("You can only confirm your own payments.")
	}
	return s.settle(ctx, p, intentID)
}

// settle performs the paid transition: payment status, invoice row, the
// idempotency flag and the appointment transition commit atomically. A
// payment that is already Paid passes through untouched, which makes both
// the confirm endpoint and webhook retries safe.
func (s *Service) settle(ctx context.Context, p *Payment, intentID string) (*Payment, error) {
	if p.Status == StatusPaid {
		return p, nil
	}

	now := time.Now().UTC()
	inv := &Invoice{
		PaymentID: p.ID,
		Number:    invoice.NewNumber(now),
		Amount:    p.Amount,
		Currency:  p.Currency,
	}

	err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.MarkPaid(ctx, p.ID, intentID, now); err != nil {
			return err
		}
		if !p.InvoiceGenerated {
			if err := s.repo.CreateInvoice(ctx, inv); err != nil {
				return err
			}
			if err := s.repo.SetInvoiceGenerated(ctx, p.ID); err != nil {
				return err
			}
		}
		return s.appointments.OnPaid(ctx, p.AppointmentID)
	})
	if errors.Is(err, ErrAlreadySettled) {
		// A concurrent settle won the row; report its outcome.
		return s.repo.GetByID(ctx, p.ID)
	}
	if err != nil {
		return nil, err
	}

	// Rendering and delivery never unwind a settled payment.
	s.finalizeInvoice(ctx, p, inv, now)

	return s.repo.GetByID(ctx, p.ID)
}

// finalizeInvoice renders the PDF, stores it and emails it to the patient.
// Failures are logged and swallowed.
func (s *Service) finalizeInvoice(ctx context.Context, p *Payment, inv *Invoice, issuedAt time.Time) {
	parties, err := s.parties.InvoiceParties(ctx, p.AppointmentID)
	if err != nil {
		s.log.Error().Err(err).Str("payment_id", p.ID.String()).Msg("invoice parties lookup failed")
		return
	}

	pdfBytes, err := s.renderer.Render(invoice.Data{
		Number:        inv.Number,
		IssuedAt:      issuedAt,
		PatientName:   parties.PatientName,
		PatientEmail:  parties.PatientEmail,
		DoctorName:    parties.DoctorName,
		AppointmentID: p.AppointmentID,
		ScheduledAt:   parties.SlotKey,
		Subtotal:      p.Amount,
		Tax:           0,
		Total:         p.Amount,
		Currency:      p.Currency,
	})
	if err != nil {
		s.log.Error().Err(err).Str("invoice", inv.Number).Msg("invoice rendering failed")
		return
	}

	if path, err := s.renderer.Store(inv.Number, pdfBytes); err != nil {
		s.log.Error().Err(err).Str("invoice", inv.Number).Msg("invoice storage failed")
	} else if path != "" {
		if err := s.repo.SetInvoiceFile(ctx, inv.ID, path); err != nil {
			s.log.Error().Err(err).Str("invoice", inv.Number).Msg("invoice file reference update failed")
		}
	}

	if parties.PatientEmail == "" {
		return
	}
	subject, body, err := s.templates.Render("payment_confirmed", map[string]string{
		"patient_name":   parties.PatientName,
		"doctor_name":    parties.DoctorName,
		"scheduled_at":   parties.SlotKey,
		"amount":         formatAmount(p.Amount, p.Currency),
		"invoice_number": inv.Number,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("invoice email template failed")
		return
	}
	err = s.sender.Send(ctx, notification.Message{
		To:             parties.PatientEmail,
		Subject:        subject,
		Body:           body,
		AttachmentName: inv.Number + ".pdf",
		Attachment:     pdfBytes,
	})
	if err != nil {
		s.log.Error().Err(err).Str("invoice", inv.Number).Msg("invoice email delivery failed")
	}
}

func formatAmount(amount int64, currency string) string {
	return fmt.Sprintf("%s %d.%02d", currency, amount/100, amount%100)
}
