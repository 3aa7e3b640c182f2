// Package template produces the downloadable upload workbook for an entity type.
package template

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/fleetload/internal/schema"
)

// ErrTemplateGeneration wraps every failure while building a template.
var ErrTemplateGeneration = errors.New("template generation failed")

const (
	// validationRows is how far enum dropdowns extend below the header.
	validationRows = 5000

	colorHeader   = "1F4E78"
	colorRequired = "C00000"
)

type styles struct {
	header   int
	required int
	title    int
	wrap     int
}

// Build renders the descriptor's sheets with headers, bundled sample rows and a
// trailing protected Instructions sheet.
func Build(desc schema.Descriptor) ([]byte, error) {
	payload, err := build(desc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTemplateGeneration, desc.EntityType, err)
	}
	return payload, nil
}

// FileName is the suggested download name for an entity type's template.
func FileName(desc schema.Descriptor) string {
	return fmt.Sprintf("%s_upload_template.xlsx", desc.EntityType)
}

func build(desc schema.Descriptor) ([]byte, error) {
	if len(desc.Sheets) == 0 {
		return nil, errors.New("descriptor has no sheets")
	}

	f := excelize.NewFile()
	defer f.Close()

	st, err := newStyles(f)
	if err != nil {
		return nil, err
	}

	for i, sheet := range desc.Sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet.Name); err != nil {
				return nil, err
			}
		} else if _, err := f.NewSheet(sheet.Name); err != nil {
			return nil, err
		}
		if err := writeDataSheet(f, st, sheet); err != nil {
			return nil, fmt.Errorf("sheet %s: %w", sheet.Name, err)
		}
	}

	if _, err := f.NewSheet(schema.SheetInstructions); err != nil {
		return nil, err
	}
	if err := writeInstructions(f, st, desc); err != nil {
		return nil, fmt.Errorf("instructions: %w", err)
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func newStyles(f *excelize.File) (styles, error) {
	var st styles
	var err error
	if st.header, err = f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{colorHeader}, Pattern: 1},
	}); err != nil {
		return st, err
	}
	if st.required, err = f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{colorRequired}, Pattern: 1},
	}); err != nil {
		return st, err
	}
	if st.title, err = f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 14},
	}); err != nil {
		return st, err
	}
	if st.wrap, err = f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	}); err != nil {
		return st, err
	}
	return st, nil
}

func writeDataSheet(f *excelize.File, st styles, sheet schema.SheetDescriptor) error {
	for i, column := range sheet.Columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet.Name, cell, column.Header); err != nil {
			return err
		}
		style := st.header
		if column.Required {
			style = st.required
		}
		if err := f.SetCellStyle(sheet.Name, cell, cell, style); err != nil {
			return err
		}

		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheet.Name, name, name, columnWidth(column)); err != nil {
			return err
		}
		if column.Type == schema.TypeEnum && len(column.Enum) > 0 {
			if err := addDropdown(f, sheet.Name, name, column); err != nil {
				return err
			}
		}
	}

	for r, sample := range sheet.Samples {
		for c, column := range sheet.Columns {
			value, ok := sample[column.Header]
			if !ok || value == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet.Name, cell, value); err != nil {
				return err
			}
		}
	}

	return f.SetPanes(sheet.Name, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func addDropdown(f *excelize.File, sheet, column string, desc schema.Column) error {
	dv := excelize.NewDataValidation(true)
	dv.Sqref = fmt.Sprintf("%s2:%s%d", column, column, validationRows+1)
	if err := dv.SetDropList(desc.Enum); err != nil {
		return err
	}
	dv.SetError(excelize.DataValidationErrorStyleStop, desc.Header, "Choose one of: "+strings.Join(desc.Enum, ", "))
	return f.AddDataValidation(sheet, dv)
}

func columnWidth(column schema.Column) float64 {
	width := float64(len(column.Header)) + 4
	if width < 14 {
		width = 14
	}
	if width > 40 {
		width = 40
	}
	return width
}

func writeInstructions(f *excelize.File, st styles, desc schema.Descriptor) error {
	sheet := schema.SheetInstructions
	rows := [][]any{
		{fmt.Sprintf("%s upload template", desc.Label)},
		{fmt.Sprintf("Every sheet is keyed by %s. Each %s needs exactly one row on %s; other sheets may repeat the same ID.", desc.ReferenceColumn, strings.ToLower(desc.Label), desc.Basic().Name)},
		{},
		{"Sheet", "Column", "Type", "Required", "Format", "Allowed values", "Description"},
	}
	columnsHeader := len(rows)

	for _, s := range desc.Sheets {
		for _, column := range s.Columns {
			rows = append(rows, []any{
				s.Name,
				column.Header,
				typeLabel(column),
				yesNo(column.Required),
				formatHint(column),
				allowedValues(column),
				describe(s, column),
			})
		}
		if s.MinRows > 0 {
			rows = append(rows, []any{s.Name, "", "", "", "", "", fmt.Sprintf("At least %d row(s) per %s.", s.MinRows, desc.ReferenceColumn)})
		}
	}

	rows = append(rows, []any{}, []any{"Upload steps"})
	stepsHeader := len(rows)
	for i, step := range desc.Steps {
		rows = append(rows, []any{fmt.Sprintf("%d.", i+1), step})
	}

	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}

	if err := f.SetCellStyle(sheet, "A1", "A1", st.title); err != nil {
		return err
	}
	headerCell := fmt.Sprintf("A%d", columnsHeader)
	if err := f.SetCellStyle(sheet, headerCell, fmt.Sprintf("G%d", columnsHeader), st.header); err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, fmt.Sprintf("A%d", stepsHeader), fmt.Sprintf("A%d", stepsHeader), st.title); err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "G1", fmt.Sprintf("G%d", len(rows)), st.wrap); err != nil {
		return err
	}

	widths := map[string]float64{"A": 22, "B": 26, "C": 12, "D": 10, "E": 28, "F": 36, "G": 60}
	cols := make([]string, 0, len(widths))
	for col := range widths {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	for _, col := range cols {
		if err := f.SetColWidth(sheet, col, col, widths[col]); err != nil {
			return err
		}
	}

	return f.ProtectSheet(sheet, &excelize.SheetProtectionOptions{
		SelectLockedCells:   true,
		SelectUnlockedCells: true,
	})
}

func typeLabel(column schema.Column) string {
	switch column.Type {
	case schema.TypeNumber:
		return "Number"
	case schema.TypeInteger:
		return "Whole number"
	case schema.TypeDate:
		return "Date"
	case schema.TypeBoolean:
		return "TRUE/FALSE"
	case schema.TypeEnum:
		return "List"
	case schema.TypeCode:
		return "Code"
	}
	return "Text"
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

func formatHint(column schema.Column) string {
	switch {
	case column.Format != "":
		return column.Format
	case column.Type == schema.TypeDate:
		return "YYYY-MM-DD"
	case column.Length > 0:
		return fmt.Sprintf("exactly %d characters", column.Length)
	case column.MaxLength > 0:
		return fmt.Sprintf("up to %d characters", column.MaxLength)
	}
	return column.RangeText()
}

func allowedValues(column schema.Column) string {
	switch {
	case len(column.Enum) > 0:
		return strings.Join(column.Enum, ", ")
	case column.MasterData != "":
		return "Master data: " + column.MasterData
	}
	if column.Type == schema.TypeNumber || column.Type == schema.TypeInteger {
		return column.RangeText()
	}
	return ""
}

func describe(sheet schema.SheetDescriptor, column schema.Column) string {
	parts := make([]string, 0, 3)
	if column.Description != "" {
		parts = append(parts, column.Description)
	}
	if column.Unique {
		parts = append(parts, "Must be unique within the upload and across existing records.")
	}
	for _, pair := range sheet.Ranges {
		if pair.Low == column.Header {
			parts = append(parts, fmt.Sprintf("Must not be greater than %s.", pair.High))
		}
	}
	return strings.Join(parts, " ")
}
