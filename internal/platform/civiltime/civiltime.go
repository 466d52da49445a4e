// Package civiltime converts between the platform's civil (wall-clock)
// timezone and UTC at minute granularity, and produces the canonical slot
// key used as the sole identity of a bookable time slot.
package civiltime

import (
	"time"
)

// KeyLayout is the canonical slot key format, minute precision, civil zone.
const KeyLayout = "2006-01-02 15:04"

// Zone is a fixed civil timezone handed to the scheduling components at
// construction. It is never read from ambient process state.
type Zone struct {
	loc *time.Location
}

// NewZone resolves the named IANA zone, falling back to a fixed offset when
// the runtime's timezone database does not know the name.
func NewZone(name string, fallbackOffsetMinutes int) Zone {
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = time.FixedZone(name, fallbackOffsetMinutes*60)
	}
	return Zone{loc: loc}
}

// FixedZone builds a Zone from an explicit offset, used in tests and in
// deployments pinned to a single offset.
func FixedZone(name string, offsetMinutes int) Zone {
	return Zone{loc: time.FixedZone(name, offsetMinutes*60)}
}

// Location exposes the underlying *time.Location.
func (z Zone) Location() *time.Location { return z.loc }

// ToUTC treats t as a wall-clock time in the zone, truncates it to the
// minute and returns the corresponding UTC instant.
func (z Zone) ToUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, z.loc).UTC()
}

// ToCivil converts a UTC instant to the zone's wall clock, truncated to the
// minute. The result carries the zone's location.
func (z Zone) ToCivil(utc time.Time) time.Time {
	t := utc.In(z.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, z.loc)
}

// SlotKey renders a civil time as the canonical minute-precision key.
// Callers must pass a civil time (use ToCivil for stored UTC instants).
func (z Zone) SlotKey(civil time.Time) string {
	return time.Date(civil.Year(), civil.Month(), civil.Day(), civil.Hour(), civil.Minute(), 0, 0, z.loc).Format(KeyLayout)
}

// SlotKeyUTC derives the canonical key for a stored UTC instant.
func (z Zone) SlotKeyUTC(utc time.Time) string {
	return z.ToCivil(utc).Format(KeyLayout)
}

// Date constructs a civil time within the zone at minute precision.
func (z Zone) Date(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, z.loc)
}

// DayRangeUTC returns the half-open UTC range covering one civil calendar
// date: [date@00:00, date+1@00:00) converted to UTC. Appointments are stored
// in UTC, so day-scoped queries must use this range rather than a UTC date
// boundary, which would misclassify bookings near local midnight.
func (z Zone) DayRangeUTC(date time.Time) (time.Time, time.Time) {
	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, z.loc)
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}
