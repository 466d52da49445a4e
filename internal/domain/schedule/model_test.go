package schedule

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/telemed/telemed/internal/platform/civiltime"
)

func TestParseTimeOfDay(t *testing.T) {
	got, err := ParseTimeOfDay("09:30")
	if err != nil {
		t.Fatalf("ParseTimeOfDay: %v", err)
	}
	if got.Minutes() != 9*60+30 {
		t.Errorf("minutes = %d, want %d", got.Minutes(), 9*60+30)
	}
	if got.String() != "09:30" {
		t.Errorf("String() = %q, want %q", got.String(), "09:30")
	}

	if _, err := ParseTimeOfDay("25:00"); err == nil {
		t.Error("expected error for 25:00")
	}
	if _, err := ParseTimeOfDay("bogus"); err == nil {
		t.Error("expected error for bogus input")
	}
}

func TestTimeOfDayJSON(t *testing.T) {
	tod, _ := ParseTimeOfDay("14:05")
	b, err := json.Marshal(tod)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `"14:05"` {
		t.Errorf("marshal = %s, want %q", b, `"14:05"`)
	}

	var back TimeOfDay
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != tod {
		t.Errorf("round trip = %v, want %v", back, tod)
	}
}

func TestSlotMinutes(t *testing.T) {
	tests := []struct {
		name  string
		start string
		end   string
		cap   int
		want  int
	}{
		{"even split", "09:00", "10:00", 6, 10},
		{"floored split", "09:00", "10:00", 7, 8},
		{"single patient", "09:00", "12:00", 1, 180},
		{"zero capacity", "09:00", "10:00", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, _ := ParseTimeOfDay(tt.start)
			end, _ := ParseTimeOfDay(tt.end)
			w := &Window{Start: start, End: end, MaxPatientsPerDay: tt.cap}
			if got := w.SlotMinutes(); got != tt.want {
				t.Errorf("SlotMinutes() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDeriveSlots(t *testing.T) {
	zone := civiltime.FixedZone("UTC+6", 6*60)
	start, _ := ParseTimeOfDay("09:00")
	end, _ := ParseTimeOfDay("10:00")
	w := &Window{
		Date:              time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Start:             start,
		End:               end,
		MaxPatientsPerDay: 6,
	}

	slots := DeriveSlots(w, zone)
	if len(slots) != 6 {
		t.Fatalf("len(slots) = %d, want 6", len(slots))
	}
	if got := zone.SlotKey(slots[0]); got != "2024-06-01 09:00" {
		t.Errorf("first slot = %q, want %q", got, "2024-06-01 09:00")
	}
	if got := zone.SlotKey(slots[5]); got != "2024-06-01 09:50" {
		t.Errorf("last slot = %q, want %q", got, "2024-06-01 09:50")
	}
	// No slot may start at or past the window close.
	for _, s := range slots {
		if !s.Before(w.EndCivil(zone)) {
			t.Errorf("slot %v not before window end", s)
		}
	}
}

func TestDeriveSlotsBoundedByCapacity(t *testing.T) {
	zone := civiltime.FixedZone("UTC", 0)
	start, _ := ParseTimeOfDay("09:00")
	end, _ := ParseTimeOfDay("09:12")
	// 12 minutes at capacity 5 gives 2-minute slots; without the bound the
	// window would fit 6 of them.
	w := &Window{
		Date:              time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Start:             start,
		End:               end,
		MaxPatientsPerDay: 5,
	}
	if slots := DeriveSlots(w, zone); len(slots) != 5 {
		t.Errorf("len(slots) = %d, want 5", len(slots))
	}
}

func TestDeriveSlotsDropsPartialTrailingSlot(t *testing.T) {
	zone := civiltime.FixedZone("UTC", 0)
	start, _ := ParseTimeOfDay("09:00")
	end, _ := ParseTimeOfDay("10:00")
	w := &Window{
		Date:              time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Start:             start,
		End:               end,
		MaxPatientsPerDay: 7, // 8-minute slots, 09:56 would overrun
	}
	slots := DeriveSlots(w, zone)
	if len(slots) != 7 {
		t.Fatalf("len(slots) = %d, want 7", len(slots))
	}
	last := slots[len(slots)-1]
	if last.Add(8 * time.Minute).After(w.EndCivil(zone)) {
		t.Errorf("last slot %v overruns the window", last)
	}
}

func TestWindowColumnTags(t *testing.T) {
	// Tags must name the availability_windows columns from the migration.
	want := map[string]string{
		"Start": "start_minutes",
		"End":   "end_minutes",
	}
	typ := reflect.TypeOf(Window{})
	for field, col := range want {
		f, ok := typ.FieldByName(field)
		if !ok {
			t.Fatalf("Window has no field %s", field)
		}
		if got := f.Tag.Get("db"); got != col {
			t.Errorf("Window.%s db tag = %q, want %q", field, got, col)
		}
	}
}
