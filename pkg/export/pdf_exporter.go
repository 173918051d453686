package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// Sheet is a labelled grid, one page of a timetable export.
type Sheet struct {
	Title     string
	Columns   []string
	RowLabels []string
	// Cells is indexed [row][column]. Multi-line text is separated by "\n".
	Cells [][]string
	// Shaded marks cells rendered with a grey background, such as blackouts.
	Shaded [][]bool
}

// PDFExporter renders tables and timetable grids into PDF documents.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// RenderTable writes the table on landscape pages under its title.
func (e *PDFExporter) RenderTable(data Table) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 12, 10)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	if data.Title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, tr(strings.ToUpper(data.Title)), "", 1, "C", false, 0, "")
		pdf.Ln(3)
	}

	pdf.SetFont("Arial", "B", 9)
	colWidth := 277.0 / float64(len(data.Headers))
	for _, header := range data.Headers {
		pdf.CellFormat(colWidth, 8, tr(header), "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 8)
	for _, row := range data.Rows {
		for _, header := range data.Headers {
			pdf.CellFormat(colWidth, 6, tr(row[header]), "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	return output(pdf)
}

// RenderGrid writes one landscape page per sheet with row labels down the left edge.
func (e *PDFExporter) RenderGrid(sheets []Sheet) ([]byte, error) {
	if len(sheets) == 0 {
		return nil, fmt.Errorf("pdf grid requires at least one sheet")
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(8, 10, 8)
	pdf.SetAutoPageBreak(false, 8)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	for _, sheet := range sheets {
		if len(sheet.Columns) == 0 {
			return nil, fmt.Errorf("sheet %q has no columns", sheet.Title)
		}
		pdf.AddPage()
		pdf.SetFont("Arial", "B", 13)
		pdf.CellFormat(0, 8, tr(sheet.Title), "", 1, "C", false, 0, "")
		pdf.Ln(2)

		const labelWidth = 16.0
		pageW, pageH := pdf.GetPageSize()
		left, top, right, _ := pdf.GetMargins()
		colWidth := (pageW - left - right - labelWidth) / float64(len(sheet.Columns))
		rowHeight := (pageH - pdf.GetY() - top - 8) / float64(len(sheet.RowLabels))
		if rowHeight > 14 {
			rowHeight = 14
		}

		pdf.SetFont("Arial", "B", 8)
		pdf.SetFillColor(220, 220, 220)
		pdf.CellFormat(labelWidth, 7, "", "1", 0, "C", true, 0, "")
		for _, col := range sheet.Columns {
			pdf.CellFormat(colWidth, 7, tr(col), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)

		for r, label := range sheet.RowLabels {
			y := pdf.GetY()
			pdf.SetFont("Arial", "B", 8)
			pdf.SetFillColor(220, 220, 220)
			pdf.CellFormat(labelWidth, rowHeight, tr(label), "1", 0, "C", true, 0, "")
			pdf.SetFont("Arial", "", 6.5)
			for c := range sheet.Columns {
				x := left + labelWidth + float64(c)*colWidth
				shaded := cellShaded(sheet, r, c)
				if shaded {
					pdf.SetFillColor(235, 235, 235)
				}
				pdf.Rect(x, y, colWidth, rowHeight, drawStyle(shaded))
				text := cellText(sheet, r, c)
				if text == "" {
					continue
				}
				lines := strings.Split(text, "\n")
				lineHeight := 3.0
				offset := (rowHeight - lineHeight*float64(len(lines))) / 2
				if offset < 0 {
					offset = 0
				}
				pdf.SetXY(x, y+offset)
				pdf.MultiCell(colWidth, lineHeight, tr(text), "", "C", false)
			}
			pdf.SetXY(left, y+rowHeight)
		}
	}

	return output(pdf)
}

func cellText(sheet Sheet, r, c int) string {
	if r >= len(sheet.Cells) || c >= len(sheet.Cells[r]) {
		return ""
	}
	return sheet.Cells[r][c]
}

func cellShaded(sheet Sheet, r, c int) bool {
	if r >= len(sheet.Shaded) || c >= len(sheet.Shaded[r]) {
		return false
	}
	return sheet.Shaded[r][c]
}

func drawStyle(filled bool) string {
	if filled {
		return "FD"
	}
	return "D"
}

func output(pdf *gofpdf.Fpdf) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
