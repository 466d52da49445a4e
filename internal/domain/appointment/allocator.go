package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/telemed/telemed/internal/domain/schedule"
	"github.com/telemed/telemed/internal/platform/apperr"
	"github.com/telemed/telemed/internal/platform/civiltime"
)

// Allocation failures, in the order the allocator checks them. The insert
// path can also surface ErrSlotAlreadyBooked from the storage constraint,
// which is the authoritative check under concurrency.
var (
	ErrNoScheduleForDate = apperr.NotFound("Doctor has no schedule on this date.")
	ErrInvalidWindow     = apperr.Validation("Invalid schedule: End time must be after start time.")
	ErrWindowTooShort    = apperr.Validation("Doctor's available time is too short to create valid slots.")
	ErrOutsideWindow     = apperr.Validation("Selected time is outside the doctor's schedule.")
	ErrSlotAlreadyBooked = apperr.Conflict("This slot is already booked. Please choose another.")
)

// WindowSource looks up a doctor's availability window for a calendar date.
type WindowSource interface {
	GetByDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) (*schedule.Window, error)
}

// SlotOccupancy lists the UTC start times of slot-holding appointments for
// one doctor in a UTC range.
type SlotOccupancy interface {
	ListActiveUTCByDoctor(ctx context.Context, doctorID uuid.UUID, fromUTC, toUTC time.Time) ([]time.Time, error)
}

// AllocatedSlot is the outcome of a successful allocation: the slot the
// request snapped to, in both civil and UTC form.
type AllocatedSlot struct {
	Civil           time.Time
	UTC             time.Time
	Key             string
	SlotIndex       int
	DurationMinutes int
	WindowID        uuid.UUID
}

// Allocator maps a requested civil time onto a free slot. It holds no state
// beyond its collaborators and performs no writes.
type Allocator struct {
	windows   WindowSource
	occupancy SlotOccupancy
	zone      civiltime.Zone
}

func NewAllocator(windows WindowSource, occupancy SlotOccupancy, zone civiltime.Zone) *Allocator {
	return &Allocator{windows: windows, occupancy: occupancy, zone: zone}
}

// Allocate resolves a requested civil time to a concrete free slot.
//
// The request is truncated to the minute and snapped DOWN to the start of
// the slot containing it: a 10:05 request against 10-minute slots starting
// at 10:00 books the 10:00 slot. Exactly the window end is outside the
// window; exactly the window start is slot 0.
func (a *Allocator) Allocate(ctx context.Context, doctorID uuid.UUID, requestedCivil time.Time) (*AllocatedSlot, error) {
	requested := a.zone.ToCivil(a.zone.ToUTC(requestedCivil))
	date := schedule.DateOnly(requested)

	w, err := a.windows.GetByDoctorDate(ctx, doctorID, date)
	if err != nil {
		return nil, ErrNoScheduleForDate
	}
	if w.End <= w.Start {
		return nil, ErrInvalidWindow
	}
	if w.TotalMinutes() < 1 || w.SlotMinutes() < 1 {
		return nil, ErrWindowTooShort
	}

	start := w.StartCivil(a.zone)
	end := w.EndCivil(a.zone)
	if requested.Before(start) || !requested.Before(end) {
		return nil, ErrOutsideWindow
	}

	slotMinutes := w.SlotMinutes()
	slotIndex := int(requested.Sub(start).Minutes()) / slotMinutes
	if slotIndex < 0 {
		slotIndex = 0
	}
	civil := start.Add(time.Duration(slotIndex*slotMinutes) * time.Minute)
	key := a.zone.SlotKey(civil)

	// Occupancy fast path: fetch the civil day's bookings (UTC range, since
	// appointments are stored in UTC) and compare re-derived keys. The
	// storage unique constraint remains the authority under races.
	fromUTC, toUTC := a.zone.DayRangeUTC(date)
	booked, err := a.occupancy.ListActiveUTCByDoctor(ctx, doctorID, fromUTC, toUTC)
	if err != nil {
		return nil, err
	}
	for _, utc := range booked {
		if a.zone.SlotKeyUTC(utc) == key {
			return nil, ErrSlotAlreadyBooked
		}
	}

	return &AllocatedSlot{
		Civil:           civil,
		UTC:             a.zone.ToUTC(civil),
		Key:             key,
		SlotIndex:       slotIndex,
		DurationMinutes: slotMinutes,
		WindowID:        w.ID,
	}, nil
}

// AvailableSlots returns every slot of the doctor's window on date with its
// occupancy. Used by the booking UI to render the day grid.
type SlotInfo struct {
	Time      time.Time `json:"-"`
	Key       string    `json:"slot"`
	Available bool      `json:"available"`
}

func (a *Allocator) AvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]SlotInfo, error) {
	w, err := a.windows.GetByDoctorDate(ctx, doctorID, schedule.DateOnly(date))
	if err != nil {
		return nil, ErrNoScheduleForDate
	}
	if w.End <= w.Start {
		return nil, ErrInvalidWindow
	}
	if w.TotalMinutes() < 1 || w.SlotMinutes() < 1 {
		return nil, ErrWindowTooShort
	}

	fromUTC, toUTC := a.zone.DayRangeUTC(schedule.DateOnly(date))
	booked, err := a.occupancy.ListActiveUTCByDoctor(ctx, doctorID, fromUTC, toUTC)
	if err != nil {
		return nil, err
	}
	bookedKeys := make(map[string]struct{}, len(booked))
	for _, utc := range booked {
		bookedKeys[a.zone.SlotKeyUTC(utc)] = struct{}{}
	}

	var out []SlotInfo
	for _, civil := range schedule.DeriveSlots(w, a.zone) {
		key := a.zone.SlotKey(civil)
		_, taken := bookedKeys[key]
		out = append(out, SlotInfo{Time: civil, Key: key, Available: !taken})
	}
	return out, nil
}
