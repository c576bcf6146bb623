package report

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

type pdfColumn struct {
	title string
	width float64
	align string
}

// Widths sum to the 190mm printable width of A4 portrait.
var pdfColumns = []pdfColumn{
	{"Time (UTC)", 40, "L"},
	{"Action", 38, "L"},
	{"Mode", 16, "C"},
	{"Delivered", 20, "C"},
	{"Reason", 36, "L"},
	{"Error", 40, "L"},
}

// BuildPDF renders an A4 report with a header block and one table row per
// entry. Long error texts are truncated to fit the column.
func BuildPDF(log CommandLog) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	d := log.Device

	pdf.SetTitle("FireWatch command history "+d.Code, true)
	pdf.SetFont("Arial", "B", 14)
	pdf.AddPage()
	pdf.Cell(0, 8, "FireWatch command history")
	pdf.Ln(10)

	pdf.SetFont("Arial", "", 10)
	header := []string{
		fmt.Sprintf("Device: %s", d.Code),
		fmt.Sprintf("Name: %s", d.Name),
		fmt.Sprintf("Status: %s", d.Status),
		fmt.Sprintf("Thresholds: safety %g, warning %g, danger %g", d.Thresholds.Safety, d.Thresholds.Warning, d.Thresholds.Danger),
		fmt.Sprintf("Action filter: %s", actionLabel(log.Action)),
		fmt.Sprintf("Entries: %d of %d", len(log.Entries), log.Total),
		fmt.Sprintf("Generated: %s UTC", log.GeneratedAt.UTC().Format(timeLayout)),
	}
	for _, line := range header {
		pdf.Cell(0, 6, tr(line))
		pdf.Ln(5)
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 9)
	for _, c := range pdfColumns {
		pdf.CellFormat(c.width, 6, c.title, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 8)
	for _, e := range log.Entries {
		values := []string{
			e.CreatedAt.UTC().Format(timeLayout),
			e.Action,
			e.Mode,
			deliveredLabel(e),
			e.Reason,
			e.Error,
		}
		for i, c := range pdfColumns {
			pdf.CellFormat(c.width, 5, tr(fit(pdf, values[i], c.width-2)), "1", 0, c.align, false, 0, "")
		}
		pdf.Ln(-1)
	}
	if len(log.Entries) == 0 {
		pdf.CellFormat(0, 6, "No commands recorded.", "1", 1, "C", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("report: write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// fit shortens s with a trailing "..." until it is at most width mm wide.
func fit(pdf *gofpdf.Fpdf, s string, width float64) string {
	if pdf.GetStringWidth(s) <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		if candidate := string(runes) + "..."; pdf.GetStringWidth(candidate) <= width {
			return candidate
		}
	}
	return ""
}
