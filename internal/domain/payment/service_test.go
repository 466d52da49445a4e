package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telemed/telemed/internal/platform/apperr"
	"github.com/telemed/telemed/internal/platform/invoice"
	"github.com/telemed/telemed/internal/platform/notification"
)

type mockPaymentRepo struct {
	payments     map[uuid.UUID]*Payment
	invoices     map[uuid.UUID]*Invoice
	participants map[uuid.UUID]*Participants

	// lookupErr, when set, is returned by the intent and appointment
	// lookups to simulate a database outage.
	lookupErr error
}

func newMockPaymentRepo() *mockPaymentRepo {
	return &mockPaymentRepo{
		payments:     make(map[uuid.UUID]*Payment),
		invoices:     make(map[uuid.UUID]*Invoice),
		participants: make(map[uuid.UUID]*Participants),
	}
}

func (m *mockPaymentRepo) CreatePending(_ context.Context, appointmentID uuid.UUID, amount int64) error {
	p := &Payment{
		ID:            uuid.New(),
		AppointmentID: appointmentID,
		Amount:        amount,
		Currency:      "BDT",
		Status:        StatusPending,
		CreatedAt:     time.Now().UTC(),
	}
	m.payments[p.ID] = p
	return nil
}

func (m *mockPaymentRepo) GetByID(_ context.Context, id uuid.UUID) (*Payment, error) {
	p, ok := m.payments[id]
	if !ok {
		return nil, apperr.NotFound("Payment not found.")
	}
	cp := *p
	return &cp, nil
}

func (m *mockPaymentRepo) GetByAppointment(_ context.Context, appointmentID uuid.UUID) (*Payment, error) {
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	for _, p := range m.payments {
		if p.AppointmentID == appointmentID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("Payment not found.")
}

func (m *mockPaymentRepo) GetByIntent(_ context.Context, intentID string) (*Payment, error) {
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	for _, p := range m.payments {
		if p.IntentID != nil && *p.IntentID == intentID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("Payment not found.")
}

func (m *mockPaymentRepo) IsPaid(_ context.Context, appointmentID uuid.UUID) (bool, error) {
	for _, p := range m.payments {
		if p.AppointmentID == appointmentID {
			return p.Status == StatusPaid, nil
		}
	}
	return false, nil
}

func (m *mockPaymentRepo) MarkPaid(_ context.Context, id uuid.UUID, intentID string, paidAt time.Time) error {
	p, ok := m.payments[id]
	if !ok {
		return apperr.NotFound("Payment not found.")
	}
	if p.Status == StatusPaid {
		return ErrAlreadySettled
	}
	p.Status = StatusPaid
	if intentID != "" {
		p.IntentID = &intentID
	}
	at := paidAt
	p.PaidAt = &at
	return nil
}

func (m *mockPaymentRepo) SetInvoiceGenerated(_ context.Context, id uuid.UUID) error {
	p, ok := m.payments[id]
	if !ok {
		return apperr.NotFound("Payment not found.")
	}
	p.InvoiceGenerated = true
	return nil
}

func (m *mockPaymentRepo) ListAll(_ context.Context, limit, offset int) ([]*Payment, int, error) {
	var out []*Payment
	for _, p := range m.payments {
		cp := *p
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (m *mockPaymentRepo) Participants(_ context.Context, appointmentID uuid.UUID) (*Participants, error) {
	parts, ok := m.participants[appointmentID]
	if !ok {
		return nil, apperr.NotFound("Appointment not found.")
	}
	cp := *parts
	return &cp, nil
}

func (m *mockPaymentRepo) CreateInvoice(_ context.Context, inv *Invoice) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	cp := *inv
	m.invoices[inv.ID] = &cp
	return nil
}

func (m *mockPaymentRepo) GetInvoiceByPayment(_ context.Context, paymentID uuid.UUID) (*Invoice, error) {
	for _, inv := range m.invoices {
		if inv.PaymentID == paymentID {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("Invoice not found.")
}

func (m *mockPaymentRepo) SetInvoiceFile(_ context.Context, invoiceID uuid.UUID, path string) error {
	inv, ok := m.invoices[invoiceID]
	if !ok {
		return apperr.NotFound("Invoice not found.")
	}
	inv.FilePath = path
	return nil
}

type mockCompleter struct {
	calls []uuid.UUID
}

func (m *mockCompleter) OnPaid(_ context.Context, appointmentID uuid.UUID) error {
	m.calls = append(m.calls, appointmentID)
	return nil
}

type mockParties struct{}

func (mockParties) InvoiceParties(_ context.Context, _ uuid.UUID) (*Parties, error) {
	return &Parties{
		PatientName:  "Aisha Rahman",
		PatientEmail: "aisha@example.com",
		DoctorName:   "Dr. Karim",
		SlotKey:      "2024-06-01 09:30",
	}, nil
}

type recordingSender struct {
	sent []notification.Message
}

func (r *recordingSender) Send(_ context.Context, msg notification.Message) error {
	r.sent = append(r.sent, msg)
	return nil
}

func passthroughTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type paymentFixture struct {
	svc       *Service
	repo      *mockPaymentRepo
	completer *mockCompleter
	sender    *recordingSender
	patientID uuid.UUID
	doctorID  uuid.UUID
}

func newPaymentTest(t *testing.T) *paymentFixture {
	t.Helper()
	repo := newMockPaymentRepo()
	completer := &mockCompleter{}
	sender := &recordingSender{}
	svc := NewService(repo, completer, mockParties{},
		invoice.NewRenderer("Telemed", ""), sender, notification.NewTemplateEngine(),
		passthroughTx, zerolog.Nop())
	return &paymentFixture{
		svc: svc, repo: repo, completer: completer, sender: sender,
		patientID: uuid.New(), doctorID: uuid.New(),
	}
}

func pendingPayment(t *testing.T, f *paymentFixture) *Payment {
	t.Helper()
	apptID := uuid.New()
	f.repo.participants[apptID] = &Participants{PatientID: f.patientID, DoctorID: f.doctorID}
	if err := f.repo.CreatePending(context.Background(), apptID, 50000); err != nil {
		t.Fatalf("CreatePending: %v", err)
	}
	p, err := f.repo.GetByAppointment(context.Background(), apptID)
	if err != nil {
		t.Fatalf("GetByAppointment: %v", err)
	}
	return p
}

func TestConfirmSettlesPayment(t *testing.T) {
	f := newPaymentTest(t)
	p := pendingPayment(t, f)

	settled, err := f.svc.Confirm(context.Background(), p.ID, "pi_123", f.patientID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if settled.Status != StatusPaid {
		t.Errorf("status = %s, want Paid", settled.Status)
	}
	if settled.PaidAt == nil {
		t.Error("paid_at not set")
	}
	if settled.IntentID == nil || *settled.IntentID != "pi_123" {
		t.Error("intent id not recorded")
	}
	if !settled.InvoiceGenerated {
		t.Error("invoice flag not set")
	}
	if len(f.completer.calls) != 1 || f.completer.calls[0] != p.AppointmentID {
		t.Errorf("appointment transition calls = %v", f.completer.calls)
	}

	inv, err := f.repo.GetInvoiceByPayment(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("invoice row missing: %v", err)
	}
	if inv.Amount != 50000 {
		t.Errorf("invoice amount = %d, want 50000", inv.Amount)
	}

	if len(f.sender.sent) != 1 {
		t.Fatalf("sent %d emails, want 1", len(f.sender.sent))
	}
	msg := f.sender.sent[0]
	if msg.To != "aisha@example.com" {
		t.Errorf("email to = %q", msg.To)
	}
	if len(msg.Attachment) == 0 || msg.AttachmentName == "" {
		t.Error("invoice attachment missing")
	}
}

func TestConfirmIsIdempotent(t *testing.T) {
	f := newPaymentTest(t)
	p := pendingPayment(t, f)

	first, err := f.svc.Confirm(context.Background(), p.ID, "pi_123", f.patientID)
	if err != nil {
		t.Fatalf("first Confirm: %v", err)
	}
	second, err := f.svc.Confirm(context.Background(), p.ID, "pi_123", f.patientID)
	if err != nil {
		t.Fatalf("second Confirm: %v", err)
	}
	if second.Status != StatusPaid {
		t.Errorf("status = %s, want Paid", second.Status)
	}
	if !second.PaidAt.Equal(*first.PaidAt) {
		t.Error("repeated confirm moved paid_at")
	}
	if len(f.completer.calls) != 1 {
		t.Errorf("appointment transitioned %d times, want 1", len(f.completer.calls))
	}
	if len(f.repo.invoices) != 1 {
		t.Errorf("invoice rows = %d, want 1", len(f.repo.invoices))
	}
	if len(f.sender.sent) != 1 {
		t.Errorf("emails = %d, want 1", len(f.sender.sent))
	}
}

func TestConfirmRejectsOtherPatients(t *testing.T) {
	f := newPaymentTest(t)
	p := pendingPayment(t, f)

	_, err := f.svc.Confirm(context.Background(), p.ID, "pi_123", uuid.New())
	if !apperr.IsForbidden(err) {
		t.Fatalf("err = %v, want forbidden", err)
	}
	got, _ := f.repo.GetByID(context.Background(), p.ID)
	if got.Status != StatusPending {
		t.Errorf("status = %s, want Pending", got.Status)
	}
	if len(f.sender.sent) != 0 {
		t.Errorf("emails = %d, want 0", len(f.sender.sent))
	}
}

func TestGetRestrictedToParticipants(t *testing.T) {
	f := newPaymentTest(t)
	p := pendingPayment(t, f)

	if _, err := f.svc.Get(context.Background(), p.ID, f.patientID, "patient"); err != nil {
		t.Errorf("patient read: %v", err)
	}
	if _, err := f.svc.Get(context.Background(), p.ID, f.doctorID, "doctor"); err != nil {
		t.Errorf("doctor read: %v", err)
	}
	if _, err := f.svc.Get(context.Background(), p.ID, uuid.New(), "patient"); !apperr.IsForbidden(err) {
		t.Errorf("stranger read err = %v, want forbidden", err)
	}
	if _, err := f.svc.Get(context.Background(), p.ID, uuid.New(), "admin"); err != nil {
		t.Errorf("admin read: %v", err)
	}
}

func TestSettleLosingRaceIsANoOp(t *testing.T) {
	f := newPaymentTest(t)
	p := pendingPayment(t, f)

	if _, err := f.svc.Confirm(context.Background(), p.ID, "pi_123", f.patientID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	// A second settler holding a stale Pending snapshot hits the status
	// guard in MarkPaid and must come away with the winner's outcome.
	stale := *p
	settled, err := f.svc.settle(context.Background(), &stale, "pi_456")
	if err != nil {
		t.Fatalf("stale settle: %v", err)
	}
	if settled.Status != StatusPaid {
		t.Errorf("status = %s, want Paid", settled.Status)
	}
	if len(f.repo.invoices) != 1 {
		t.Errorf("invoice rows = %d, want 1", len(f.repo.invoices))
	}
	if len(f.completer.calls) != 1 {
		t.Errorf("appointment transitioned %d times, want 1", len(f.completer.calls))
	}
	if len(f.sender.sent) != 1 {
		t.Errorf("emails = %d, want 1", len(f.sender.sent))
	}
}

func TestHandleEventByIntent(t *testing.T) {
	f := newPaymentTest(t)
	p := pendingPayment(t, f)
	intent := "pi_settle"
	f.repo.payments[p.ID].IntentID = &intent

	err := f.svc.HandleEvent(context.Background(), &Event{
		Type: EventPaymentSucceeded,
		Data: EventData{ID: intent},
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	got, _ := f.repo.GetByID(context.Background(), p.ID)
	if got.Status != StatusPaid {
		t.Errorf("status = %s, want Paid", got.Status)
	}
}

func TestHandleEventByAppointmentMetadata(t *testing.T) {
	f := newPaymentTest(t)
	p := pendingPayment(t, f)

	err := f.svc.HandleEvent(context.Background(), &Event{
		Type: EventPaymentSucceeded,
		Data: EventData{
			ID:       "pi_unknown",
			Metadata: map[string]string{"appointment_id": p.AppointmentID.String()},
		},
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	got, _ := f.repo.GetByID(context.Background(), p.ID)
	if got.Status != StatusPaid {
		t.Errorf("status = %s, want Paid", got.Status)
	}
	if got.IntentID == nil || *got.IntentID != "pi_unknown" {
		t.Error("intent id from event not recorded")
	}
}

func TestHandleEventUnknownMappingIsAccepted(t *testing.T) {
	f := newPaymentTest(t)
	err := f.svc.HandleEvent(context.Background(), &Event{
		Type: EventPaymentSucceeded,
		Data: EventData{ID: "pi_nobody", Metadata: map[string]string{"appointment_id": uuid.NewString()}},
	})
	if err != nil {
		t.Errorf("unknown mapping must be swallowed, got %v", err)
	}
}

func TestHandleEventLookupFailurePropagates(t *testing.T) {
	f := newPaymentTest(t)
	p := pendingPayment(t, f)
	f.repo.lookupErr = errors.New("connection reset by peer")

	err := f.svc.HandleEvent(context.Background(), &Event{
		Type: EventPaymentSucceeded,
		Data: EventData{
			ID:       "pi_outage",
			Metadata: map[string]string{"appointment_id": p.AppointmentID.String()},
		},
	})
	if err == nil {
		t.Fatal("lookup outage must surface so the gateway redelivers")
	}
	got, _ := f.repo.GetByID(context.Background(), p.ID)
	if got.Status != StatusPending {
		t.Errorf("status = %s, want Pending", got.Status)
	}
}

func TestHandleEventIgnoresOtherTypes(t *testing.T) {
	f := newPaymentTest(t)
	p := pendingPayment(t, f)
	intent := "pi_x"
	f.repo.payments[p.ID].IntentID = &intent

	err := f.svc.HandleEvent(context.Background(), &Event{
		Type: "payment_intent.created",
		Data: EventData{ID: intent},
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	got, _ := f.repo.GetByID(context.Background(), p.ID)
	if got.Status != StatusPending {
		t.Errorf("status = %s, want Pending", got.Status)
	}
}
