package report

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

const (
	summarySheet  = "summary"
	commandsSheet = "commands"
)

var commandColumns = []string{"Time (UTC)", "Action", "Mode", "Delivered", "Reason", "Error", "ID"}

// BuildXLSX renders a workbook with a summary sheet and one row per entry.
func BuildXLSX(log CommandLog) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, fmt.Errorf("report: rename sheet: %w", err)
	}
	if _, err := f.NewSheet(commandsSheet); err != nil {
		return nil, fmt.Errorf("report: add sheet: %w", err)
	}

	d := log.Device
	summary := [][2]any{
		{"FireWatch command history", nil},
		{nil, nil},
		{"Device", d.Code},
		{"Name", d.Name},
		{"Status", string(d.Status)},
		{"Thresholds", fmt.Sprintf("%g / %g / %g", d.Thresholds.Safety, d.Thresholds.Warning, d.Thresholds.Danger)},
		{"Action filter", actionLabel(log.Action)},
		{"Entries", len(log.Entries)},
		{"Total matching", log.Total},
		{"Generated (UTC)", log.GeneratedAt.UTC().Format(timeLayout)},
	}
	for i, row := range summary {
		for col, v := range row {
			if v == nil {
				continue
			}
			if err := setCell(f, summarySheet, col+1, i+1, v); err != nil {
				return nil, err
			}
		}
	}

	for col, name := range commandColumns {
		if err := setCell(f, commandsSheet, col+1, 1, name); err != nil {
			return nil, err
		}
	}
	for i, e := range log.Entries {
		row := []any{
			e.CreatedAt.UTC().Format(timeLayout),
			e.Action,
			e.Mode,
			deliveredLabel(e),
			e.Reason,
			e.Error,
			e.ID,
		}
		for col, v := range row {
			if err := setCell(f, commandsSheet, col+1, i+2, v); err != nil {
				return nil, err
			}
		}
	}
	_ = f.SetColWidth(summarySheet, "A", "B", 24)
	_ = f.SetColWidth(commandsSheet, "A", "A", 20)
	_ = f.SetColWidth(commandsSheet, "B", "G", 16)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("report: write xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

func setCell(f *excelize.File, sheet string, col, row int, v any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return fmt.Errorf("report: cell %d,%d: %w", col, row, err)
	}
	if err := f.SetCellValue(sheet, cell, v); err != nil {
		return fmt.Errorf("report: set %s!%s: %w", sheet, cell, err)
	}
	return nil
}
