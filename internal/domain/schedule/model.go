package schedule

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/telemed/telemed/internal/platform/civiltime"
)

// TimeOfDay is a wall-clock time within a day, minute precision, carried as
// minutes from midnight. It marshals as "HH:MM".
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

func (t TimeOfDay) Hour() int    { return int(t) / 60 }
func (t TimeOfDay) Minute() int  { return int(t) % 60 }
func (t TimeOfDay) Minutes() int { return int(t) }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Window is a doctor's declared working hours and patient capacity for one
// calendar date. Maps to the availability_windows table.
type Window struct {
	ID                uuid.UUID `db:"id" json:"id"`
	DoctorID          uuid.UUID `db:"doctor_id" json:"doctor_id"`
	Date              time.Time `db:"date" json:"date"`
	Start             TimeOfDay `db:"start_minutes" json:"start"`
	End               TimeOfDay `db:"end_minutes" json:"end"`
	MaxPatientsPerDay int       `db:"max_patients_per_day" json:"max_patients_per_day"`
	Approved          bool      `db:"approved" json:"approved"`
	VideoCallLink     *string   `db:"video_call_link" json:"video_call_link,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// TotalMinutes is the length of the window's working day.
func (w *Window) TotalMinutes() int { return w.End.Minutes() - w.Start.Minutes() }

// SlotMinutes is the duration of one bookable slot: the window divided
// evenly by capacity, floored, never below one minute.
func (w *Window) SlotMinutes() int {
	if w.MaxPatientsPerDay <= 0 {
		return 0
	}
	d := w.TotalMinutes() / w.MaxPatientsPerDay
	if d < 1 {
		d = 1
	}
	return d
}

// StartCivil returns the window opening as a civil instant on its date.
func (w *Window) StartCivil(zone civiltime.Zone) time.Time {
	return zone.Date(w.Date.Year(), w.Date.Month(), w.Date.Day(), w.Start.Hour(), w.Start.Minute())
}

// EndCivil returns the window closing as a civil instant on its date.
func (w *Window) EndCivil(zone civiltime.Zone) time.Time {
	return zone.Date(w.Date.Year(), w.Date.Month(), w.Date.Day(), w.End.Hour(), w.End.Minute())
}

// DeriveSlots produces the ordered civil start times of every bookable slot
// in the window. The sequence is a pure function of the window: it begins at
// the opening time, steps by the slot duration and drops any partial
// trailing slot. Length is bounded by MaxPatientsPerDay.
func DeriveSlots(w *Window, zone civiltime.Zone) []time.Time {
	slot := time.Duration(w.SlotMinutes()) * time.Minute
	if slot <= 0 {
		return nil
	}
	start := w.StartCivil(zone)
	end := w.EndCivil(zone)

	var slots []time.Time
	for cur := start; !cur.Add(slot).After(end) && len(slots) < w.MaxPatientsPerDay; cur = cur.Add(slot) {
		slots = append(slots, cur)
	}
	return slots
}

// DateOnly normalizes t to a bare calendar date (midnight UTC) for storage
// and lookup of window rows.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
