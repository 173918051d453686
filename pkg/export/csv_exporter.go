package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
)

// Table is a flat listing, such as the unplaced tasks of a run. Rows are keyed by header.
type Table struct {
	Title   string
	Headers []string
	Rows    []map[string]string
}

// CSVExporter renders Dataset records into CSV bytes.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// RenderTable writes the header row followed by one record per row. The title is not written.
func (e *CSVExporter) RenderTable(data Table) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("csv requires at least one header")
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(data.Headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	for _, row := range data.Rows {
		record := make([]string, len(data.Headers))
		for i, header := range data.Headers {
			record[i] = row[header]
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderGrid writes sheets one after another, each introduced by its title row and separated by a
// blank line. Multi-line cell text is joined with " | ".
func (e *CSVExporter) RenderGrid(sheets []Sheet) ([]byte, error) {
	if len(sheets) == 0 {
		return nil, fmt.Errorf("csv grid requires at least one sheet")
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	for i, sheet := range sheets {
		if i > 0 {
			if err := writer.Write([]string{}); err != nil {
				return nil, fmt.Errorf("write csv separator: %w", err)
			}
		}
		if err := writer.Write([]string{sheet.Title}); err != nil {
			return nil, fmt.Errorf("write csv title: %w", err)
		}
		if err := writer.Write(append([]string{""}, sheet.Columns...)); err != nil {
			return nil, fmt.Errorf("write csv headers: %w", err)
		}
		for r, label := range sheet.RowLabels {
			record := make([]string, 0, len(sheet.Columns)+1)
			record = append(record, label)
			for c := range sheet.Columns {
				record = append(record, strings.ReplaceAll(cellText(sheet, r, c), "\n", " | "))
			}
			if err := writer.Write(record); err != nil {
				return nil, fmt.Errorf("write csv row: %w", err)
			}
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
