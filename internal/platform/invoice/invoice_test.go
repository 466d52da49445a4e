package invoice

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewNumber(t *testing.T) {
	issued := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	pattern := regexp.MustCompile(`^INV-20240601-[0-9A-F]{8}$`)

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		n := NewNumber(issued)
		if !pattern.MatchString(n) {
			t.Fatalf("number %q does not match pattern", n)
		}
		if seen[n] {
			t.Fatalf("duplicate number %q", n)
		}
		seen[n] = true
	}
}

func testData() Data {
	return Data{
		Number:        NewNumber(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)),
		IssuedAt:      time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
		PatientName:   "Aisha Rahman",
		DoctorName:    "Dr. Karim",
		AppointmentID: uuid.New(),
		ScheduledAt:   "2024-06-01 09:30",
		Subtotal:      50000,
		Tax:           0,
		Total:         50000,
		Currency:      "BDT",
	}
}

func TestRenderProducesPDF(t *testing.T) {
	r := NewRenderer("Telemed", "")
	b, err := r.Render(testData())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !bytes.HasPrefix(b, []byte("%PDF")) {
		t.Error("output is not a PDF document")
	}
}

func TestStore(t *testing.T) {
	dir := t.TempDir()
	r := NewRenderer("Telemed", dir)
	d := testData()
	b, err := r.Render(d)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	path, err := r.Store(d.Number, b)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("stored outside output dir: %s", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("stored file missing: %v", err)
	}
}

func TestStoreWithoutDirIsNoop(t *testing.T) {
	r := NewRenderer("Telemed", "")
	path, err := r.Store("INV-20240601-AAAAAAA1", []byte("%PDF"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if path != "" {
		t.Errorf("path = %q, want empty", path)
	}
}
