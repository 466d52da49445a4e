package appointment

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telemed/telemed/internal/domain/schedule"
	"github.com/telemed/telemed/internal/platform/apperr"
	"github.com/telemed/telemed/internal/platform/civiltime"
)

type mockApptRepo struct {
	appts map[uuid.UUID]*Appointment
}

func newMockApptRepo() *mockApptRepo {
	return &mockApptRepo{appts: make(map[uuid.UUID]*Appointment)}
}

// Create enforces the same uniqueness as the partial index: one slot-holding
// appointment per (doctor, slot key).
func (m *mockApptRepo) Create(_ context.Context, a *Appointment) error {
	for _, ex := range m.appts {
		if ex.DoctorID == a.DoctorID && ex.SlotKey == a.SlotKey && ex.Status.HoldsSlot() {
			return ErrSlotAlreadyBooked
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now().UTC()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.appts[a.ID] = &cp
	return nil
}

func (m *mockApptRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := m.appts[id]
	if !ok {
		return nil, apperr.NotFound("Appointment not found.")
	}
	cp := *a
	return &cp, nil
}

func (m *mockApptRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return m.filter(func(a *Appointment) bool { return a.PatientID == patientID })
}

func (m *mockApptRepo) ListByDoctor(_ context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return m.filter(func(a *Appointment) bool { return a.DoctorID == doctorID })
}

func (m *mockApptRepo) ListAll(_ context.Context, limit, offset int) ([]*Appointment, int, error) {
	return m.filter(func(*Appointment) bool { return true })
}

func (m *mockApptRepo) filter(keep func(*Appointment) bool) ([]*Appointment, int, error) {
	var out []*Appointment
	for _, a := range m.appts {
		if keep(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.After(out[j].ScheduledAt) })
	return out, len(out), nil
}

func (m *mockApptRepo) ListActiveUTCByDoctor(_ context.Context, doctorID uuid.UUID, fromUTC, toUTC time.Time) ([]time.Time, error) {
	var out []time.Time
	for _, a := range m.appts {
		if a.DoctorID == doctorID && a.Status.HoldsSlot() &&
			!a.ScheduledAt.Before(fromUTC) && a.ScheduledAt.Before(toUTC) {
			out = append(out, a.ScheduledAt)
		}
	}
	return out, nil
}

func (m *mockApptRepo) UpdateStatus(_ context.Context, id uuid.UUID, status Status) error {
	a, ok := m.appts[id]
	if !ok {
		return apperr.NotFound("Appointment not found.")
	}
	a.Status = status
	return nil
}

func (m *mockApptRepo) SetWindowID(_ context.Context, id, windowID uuid.UUID) error {
	a, ok := m.appts[id]
	if !ok {
		return apperr.NotFound("Appointment not found.")
	}
	w := windowID
	a.WindowID = &w
	return nil
}

func (m *mockApptRepo) SetDoctorNote(_ context.Context, id uuid.UUID, note string) error {
	a, ok := m.appts[id]
	if !ok {
		return apperr.NotFound("Appointment not found.")
	}
	a.DoctorNote = note
	return nil
}

func (m *mockApptRepo) CountActiveByWindow(_ context.Context, windowID uuid.UUID) (int, error) {
	n := 0
	for _, a := range m.appts {
		if a.WindowID != nil && *a.WindowID == windowID && a.Status.HoldsSlot() {
			n++
		}
	}
	return n, nil
}

func (m *mockApptRepo) ExpirePendingBefore(_ context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, a := range m.appts {
		if a.Status == StatusPendingPayment && a.CreatedAt.Before(cutoff) {
			a.Status = StatusExpired
			ids = append(ids, a.ID)
		}
	}
	return ids, nil
}

type mockFees struct {
	fees map[uuid.UUID]int64
}

func (m *mockFees) Fee(_ context.Context, doctorID uuid.UUID) (int64, error) {
	fee, ok := m.fees[doctorID]
	if !ok {
		return 0, apperr.NotFound("Doctor not found.")
	}
	return fee, nil
}

type mockPayments struct {
	pending map[uuid.UUID]int64
	paid    map[uuid.UUID]bool
	fail    bool
}

func newMockPayments() *mockPayments {
	return &mockPayments{pending: make(map[uuid.UUID]int64), paid: make(map[uuid.UUID]bool)}
}

func (m *mockPayments) CreatePending(_ context.Context, appointmentID uuid.UUID, amount int64) error {
	if m.fail {
		return errors.New("payment storage unavailable")
	}
	m.pending[appointmentID] = amount
	return nil
}

func (m *mockPayments) IsPaid(_ context.Context, appointmentID uuid.UUID) (bool, error) {
	return m.paid[appointmentID], nil
}

type svcFixture struct {
	svc      *Service
	repo     *mockApptRepo
	windows  *mockWindows
	payments *mockPayments
	doctorID uuid.UUID
	windowID uuid.UUID
	zone     civiltime.Zone
}

func passthroughTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newServiceTest(t *testing.T, cfg ServiceConfig) *svcFixture {
	t.Helper()
	zone := civiltime.FixedZone("UTC+6", 6*60)
	doctorID := uuid.New()
	link := "https://meet.example/room"
	windowID := uuid.New()
	windows := &mockWindows{windows: []*schedule.Window{{
		ID:       windowID,
		DoctorID: doctorID,
		Date:     time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Start:    mustTOD(t, "09:00"), End: mustTOD(t, "10:00"),
		MaxPatientsPerDay: 6, Approved: true,
		VideoCallLink: &link,
	}}}
	repo := newMockApptRepo()
	payments := newMockPayments()
	fees := &mockFees{fees: map[uuid.UUID]int64{doctorID: 50000}}
	svc := NewService(repo, windows, fees, payments, payments, zone, passthroughTx, cfg, zerolog.Nop())
	return &svcFixture{
		svc: svc, repo: repo, windows: windows, payments: payments,
		doctorID: doctorID, windowID: windowID, zone: zone,
	}
}

func TestBookCreatesAppointmentAndPendingPayment(t *testing.T) {
	f := newServiceTest(t, ServiceConfig{})
	patientID := uuid.New()

	appt, err := f.svc.Book(context.Background(), patientID, f.doctorID, civil(9, 15), "sore throat")
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if appt.Status != StatusPendingPayment {
		t.Errorf("status = %s, want PendingPayment", appt.Status)
	}
	if appt.SlotKey != "2024-06-01 09:10" {
		t.Errorf("slot key = %q, want snap to 09:10", appt.SlotKey)
	}
	wantUTC := time.Date(2024, 6, 1, 3, 10, 0, 0, time.UTC)
	if !appt.ScheduledAt.Equal(wantUTC) {
		t.Errorf("scheduled at = %v, want %v", appt.ScheduledAt, wantUTC)
	}
	if appt.WindowID == nil || *appt.WindowID != f.windowID {
		t.Error("window link not set")
	}
	if amount := f.payments.pending[appt.ID]; amount != 50000 {
		t.Errorf("pending payment amount = %d, want 50000", amount)
	}
}

func TestBookSameSlotConflicts(t *testing.T) {
	f := newServiceTest(t, ServiceConfig{})

	if _, err := f.svc.Book(context.Background(), uuid.New(), f.doctorID, civil(9, 15), ""); err != nil {
		t.Fatalf("first booking: %v", err)
	}
	// A second patient asking for any time inside the same slot conflicts.
	_, err := f.svc.Book(context.Background(), uuid.New(), f.doctorID, civil(9, 12), "")
	if !errors.Is(err, ErrSlotAlreadyBooked) {
		t.Errorf("error = %v, want ErrSlotAlreadyBooked", err)
	}
}

func TestBookRolledBackPaymentFreesNothing(t *testing.T) {
	// When the pending payment insert fails the whole booking fails.
	f := newServiceTest(t, ServiceConfig{})
	f.payments.fail = true

	_, err := f.svc.Book(context.Background(), uuid.New(), f.doctorID, civil(9, 0), "")
	if err == nil {
		t.Fatal("expected booking failure")
	}
}

func TestBookUnknownDoctor(t *testing.T) {
	f := newServiceTest(t, ServiceConfig{})
	_, err := f.svc.Book(context.Background(), uuid.New(), uuid.New(), civil(9, 0), "")
	if !apperr.IsNotFound(err) {
		t.Errorf("error = %v, want not-found", err)
	}
}

func bookPaidAppointment(t *testing.T, f *svcFixture, cfg ServiceConfig) *Appointment {
	t.Helper()
	appt, err := f.svc.Book(context.Background(), uuid.New(), f.doctorID, civil(9, 0), "")
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if err := f.svc.OnPaid(context.Background(), appt.ID); err != nil {
		t.Fatalf("OnPaid: %v", err)
	}
	f.payments.paid[appt.ID] = true
	got, err := f.svc.Get(context.Background(), appt.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return got
}

func TestOnPaidCompletesByDefault(t *testing.T) {
	f := newServiceTest(t, ServiceConfig{})
	appt := bookPaidAppointment(t, f, ServiceConfig{})
	if appt.Status != StatusCompleted {
		t.Errorf("status = %s, want Completed", appt.Status)
	}
}

func TestOnPaidIsIdempotent(t *testing.T) {
	f := newServiceTest(t, ServiceConfig{})
	appt := bookPaidAppointment(t, f, ServiceConfig{})
	if err := f.svc.OnPaid(context.Background(), appt.ID); err != nil {
		t.Fatalf("second OnPaid: %v", err)
	}
	got, _ := f.svc.Get(context.Background(), appt.ID)
	if got.Status != StatusCompleted {
		t.Errorf("status after repeat = %s, want Completed", got.Status)
	}
}

func TestOnPaidFullApprovalFlow(t *testing.T) {
	f := newServiceTest(t, ServiceConfig{FullApprovalFlow: true})
	appt := bookPaidAppointment(t, f, ServiceConfig{FullApprovalFlow: true})
	if appt.Status != StatusAwaitingDoctorApproval {
		t.Fatalf("status = %s, want AwaitingDoctorApproval", appt.Status)
	}

	approved, err := f.svc.Approve(context.Background(), appt.ID, f.doctorID, "see you then")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approved.Status != StatusApproved {
		t.Errorf("status = %s, want Approved", approved.Status)
	}
	if approved.DoctorNote != "see you then" {
		t.Errorf("doctor note = %q", approved.DoctorNote)
	}
}

func TestApproveRequiresOwningDoctor(t *testing.T) {
	f := newServiceTest(t, ServiceConfig{FullApprovalFlow: true})
	appt := bookPaidAppointment(t, f, ServiceConfig{FullApprovalFlow: true})

	_, err := f.svc.Approve(context.Background(), appt.ID, uuid.New(), "")
	if !apperr.IsForbidden(err) {
		t.Errorf("error = %v, want forbidden", err)
	}
}

func TestRejectReleasesSlot(t *testing.T) {
	f := newServiceTest(t, ServiceConfig{FullApprovalFlow: true})
	appt := bookPaidAppointment(t, f, ServiceConfig{FullApprovalFlow: true})

	rejected, err := f.svc.Reject(context.Background(), appt.ID, f.doctorID, "unavailable")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if rejected.Status != StatusRejected {
		t.Errorf("status = %s, want Rejected", rejected.Status)
	}

	// The slot is free again for another patient.
	if _, err := f.svc.Book(context.Background(), uuid.New(), f.doctorID, civil(9, 0), ""); err != nil {
		t.Errorf("rebooking released slot: %v", err)
	}
}

func TestJoinLink(t *testing.T) {
	f := newServiceTest(t, ServiceConfig{})
	patientID := uuid.New()
	appt, err := f.svc.Book(context.Background(), patientID, f.doctorID, civil(9, 0), "")
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	inWindow := appt.ScheduledAt.Add(2 * time.Minute)

	// Unpaid appointments cannot be joined.
	if _, err := f.svc.JoinLink(context.Background(), appt.ID, patientID, inWindow); !apperr.IsConflict(err) {
		t.Errorf("unpaid join error = %v, want conflict", err)
	}

	f.payments.paid[appt.ID] = true

	link, err := f.svc.JoinLink(context.Background(), appt.ID, patientID, inWindow)
	if err != nil {
		t.Fatalf("JoinLink: %v", err)
	}
	if link != "https://meet.example/room" {
		t.Errorf("link = %q", link)
	}

	// Five minutes early is allowed; too early or after the slot is not.
	if _, err := f.svc.JoinLink(context.Background(), appt.ID, patientID, appt.ScheduledAt.Add(-5*time.Minute)); err != nil {
		t.Errorf("join 5 minutes early: %v", err)
	}
	if _, err := f.svc.JoinLink(context.Background(), appt.ID, patientID, appt.ScheduledAt.Add(-6*time.Minute)); !apperr.IsConflict(err) {
		t.Errorf("join too early error = %v, want conflict", err)
	}
	if _, err := f.svc.JoinLink(context.Background(), appt.ID, patientID, appt.ScheduledAt.Add(11*time.Minute)); !apperr.IsConflict(err) {
		t.Errorf("join after slot error = %v, want conflict", err)
	}

	// Strangers cannot join.
	if _, err := f.svc.JoinLink(context.Background(), appt.ID, uuid.New(), inWindow); !apperr.IsForbidden(err) {
		t.Errorf("stranger join error = %v, want forbidden", err)
	}
}

func TestExpirePending(t *testing.T) {
	f := newServiceTest(t, ServiceConfig{PendingTTL: time.Hour})
	appt, err := f.svc.Book(context.Background(), uuid.New(), f.doctorID, civil(9, 0), "")
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	// Young appointments are untouched.
	n, err := f.svc.ExpirePending(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("ExpirePending: %v", err)
	}
	if n != 0 {
		t.Errorf("expired %d young appointments", n)
	}

	n, err = f.svc.ExpirePending(context.Background(), time.Now().UTC().Add(2*time.Hour))
	if err != nil {
		t.Fatalf("ExpirePending: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired %d appointments, want 1", n)
	}
	got, _ := f.svc.Get(context.Background(), appt.ID)
	if got.Status != StatusExpired {
		t.Errorf("status = %s, want Expired", got.Status)
	}

	// The expired slot can be rebooked.
	if _, err := f.svc.Book(context.Background(), uuid.New(), f.doctorID, civil(9, 0), ""); err != nil {
		t.Errorf("rebooking expired slot: %v", err)
	}
}

type recordingNotifier struct {
	booked   []uuid.UUID
	rejected []uuid.UUID
}

func (n *recordingNotifier) AppointmentBooked(_ context.Context, a *Appointment) {
	n.booked = append(n.booked, a.ID)
}

func (n *recordingNotifier) AppointmentRejected(_ context.Context, a *Appointment) {
	n.rejected = append(n.rejected, a.ID)
}

func TestBookingLifecycleNotifications(t *testing.T) {
	f := newServiceTest(t, ServiceConfig{FullApprovalFlow: true})
	n := &recordingNotifier{}
	f.svc.SetNotifier(n)

	appt := bookPaidAppointment(t, f, ServiceConfig{FullApprovalFlow: true})
	if len(n.booked) != 1 || n.booked[0] != appt.ID {
		t.Errorf("booked notifications = %v, want one for %s", n.booked, appt.ID)
	}

	if _, err := f.svc.Reject(context.Background(), appt.ID, f.doctorID, "fully booked that day"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if len(n.rejected) != 1 || n.rejected[0] != appt.ID {
		t.Errorf("rejected notifications = %v, want one for %s", n.rejected, appt.ID)
	}
}
