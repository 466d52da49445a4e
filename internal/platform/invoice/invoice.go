// Package invoice renders payment invoices as PDF documents.
package invoice

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jung-kurt/gofpdf"
)

// Data is everything that appears on one invoice.
type Data struct {
	Number        string
	IssuedAt      time.Time
	PatientName   string
	PatientEmail  string
	DoctorName    string
	AppointmentID uuid.UUID
	ScheduledAt   string
	// Amounts in the smallest currency unit.
	Subtotal int64
	Tax      int64
	Total    int64
	Currency string
}

// NewNumber generates an invoice number of the form INV-YYYYMMDD-XXXXXXXX.
func NewNumber(issuedAt time.Time) string {
	suffix := strings.ToUpper(uuid.NewString()[:8])
	return fmt.Sprintf("INV-%s-%s", issuedAt.Format("20060102"), suffix)
}

// Renderer produces invoice PDFs and optionally persists them to a
// directory.
type Renderer struct {
	businessName string
	outputDir    string
}

func NewRenderer(businessName, outputDir string) *Renderer {
	if businessName == "" {
		businessName = "Telemed Appointments"
	}
	return &Renderer{businessName: businessName, outputDir: outputDir}
}

func formatAmount(amount int64, currency string) string {
	return fmt.Sprintf("%s %d.%02d", currency, amount/100, amount%100)
}

// Render produces the invoice as A4 PDF bytes.
func (r *Renderer) Render(d Data) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 10, r.businessName, "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 7, "Telemedicine consultation invoice", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 10, "Invoice "+d.Number, "1", 1, "C", false, 0, "")

	row(pdf, "Issued", d.IssuedAt.Format("2006-01-02"))
	row(pdf, "Patient", d.PatientName)
	row(pdf, "Doctor", d.DoctorName)
	row(pdf, "Appointment", d.AppointmentID.String())
	row(pdf, "Scheduled", d.ScheduledAt)
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 10, "Amount", "1", 1, "C", false, 0, "")
	row(pdf, "Consultation fee", formatAmount(d.Subtotal, d.Currency))
	row(pdf, "Tax", formatAmount(d.Tax, d.Currency))
	row(pdf, "Total", formatAmount(d.Total, d.Currency))
	pdf.Ln(6)

	pdf.SetFont("Arial", "", 10)
	pdf.MultiCell(0, 5, "Thank you for using our service.", "", "L", false)
	pdf.CellFormat(0, 10, "This is a computer generated invoice", "", 1, "R", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render invoice %s: %w", d.Number, err)
	}
	return buf.Bytes(), nil
}

// Store writes rendered PDF bytes under the output directory and returns the
// stored path. With no directory configured the invoice is not persisted.
func (r *Renderer) Store(number string, pdfBytes []byte) (string, error) {
	if r.outputDir == "" {
		return "", nil
	}
	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create invoice directory: %w", err)
	}
	path := filepath.Join(r.outputDir, number+".pdf")
	if err := os.WriteFile(path, pdfBytes, 0o644); err != nil {
		return "", fmt.Errorf("write invoice file: %w", err)
	}
	return path, nil
}

func row(pdf *gofpdf.Fpdf, label, value string) {
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(45, 10, label, "1", 0, "", false, 0, "")
	pdf.CellFormat(0, 10, value, "1", 1, "", false, 0, "")
}
