package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rpattn/fleetload/internal/workbook"
)

var comparableTypes = map[ColumnType]struct{}{
	TypeNumber:  {},
	TypeInteger: {},
	TypeDate:    {},
}

// Validate ensures a descriptor is internally consistent: every sheet is keyed by the
// reference column, stored columns name a table column, range pairs compare like types
// and bundled samples conform to the column constraints.
func Validate(desc Descriptor) error {
	if strings.TrimSpace(string(desc.EntityType)) == "" {
		return errors.New("entity type is required")
	}
	if strings.TrimSpace(desc.ReferenceColumn) == "" {
		return fmt.Errorf("%s: reference column is required", desc.EntityType)
	}

	basicSheets := 0
	seenSheets := make(map[string]struct{})
	for idx, sheet := range desc.Sheets {
		if _, dup := seenSheets[sheet.Name]; dup {
			return fmt.Errorf("%s: duplicate sheet %s", desc.EntityType, sheet.Name)
		}
		seenSheets[sheet.Name] = struct{}{}
		if sheet.Name == SheetInstructions {
			return fmt.Errorf("%s: sheet name %s is reserved", desc.EntityType, sheet.Name)
		}
		if sheet.Basic {
			basicSheets++
			if idx != 0 {
				return fmt.Errorf("%s: basic sheet %s must come first", desc.EntityType, sheet.Name)
			}
		} else if sheet.ParentColumn == "" {
			return fmt.Errorf("%s: child sheet %s needs a parent column", desc.EntityType, sheet.Name)
		}
		if sheet.Table == "" {
			return fmt.Errorf("%s: sheet %s has no table", desc.EntityType, sheet.Name)
		}
		if err := validateColumns(desc, sheet); err != nil {
			return err
		}
		if err := validateRanges(desc, sheet); err != nil {
			return err
		}
		if err := validateSamples(desc, sheet); err != nil {
			return err
		}
	}
	if basicSheets != 1 {
		return fmt.Errorf("%s: exactly one basic sheet required, found %d", desc.EntityType, basicSheets)
	}

	for _, rule := range desc.Consistency {
		if _, ok := desc.Sheet(rule.Sheet); !ok {
			return fmt.Errorf("%s: consistency rule %q targets unknown sheet %s", desc.EntityType, rule.Name, rule.Sheet)
		}
		if rule.Check == nil {
			return fmt.Errorf("%s: consistency rule %q has no check", desc.EntityType, rule.Name)
		}
	}
	return nil
}

func validateColumns(desc Descriptor, sheet SheetDescriptor) error {
	if len(sheet.Columns) == 0 || workbook.NormalizeHeader(sheet.Columns[0].Header) != workbook.NormalizeHeader(desc.ReferenceColumn) {
		return fmt.Errorf("%s: sheet %s must start with %s", desc.EntityType, sheet.Name, desc.ReferenceColumn)
	}
	seen := make(map[string]struct{})
	for idx, column := range sheet.Columns {
		key := workbook.NormalizeHeader(column.Header)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%s: sheet %s repeats column %s", desc.EntityType, sheet.Name, column.Header)
		}
		seen[key] = struct{}{}
		if idx > 0 && column.DBColumn == "" {
			return fmt.Errorf("%s: column %s.%s has no table column", desc.EntityType, sheet.Name, column.Header)
		}
		if column.Type == TypeEnum && len(column.Enum) == 0 {
			return fmt.Errorf("%s: enum column %s has no options", desc.EntityType, column.Header)
		}
		if column.Type == TypeCode && column.MasterData == "" {
			return fmt.Errorf("%s: code column %s has no master data collection", desc.EntityType, column.Header)
		}
		if column.Unique && column.Type != TypeString {
			return fmt.Errorf("%s: unique column %s must be a string column", desc.EntityType, column.Header)
		}
		if column.Min != nil && column.Max != nil && *column.Min > *column.Max {
			return fmt.Errorf("%s: column %s has min greater than max", desc.EntityType, column.Header)
		}
	}
	return nil
}

func validateRanges(desc Descriptor, sheet SheetDescriptor) error {
	for _, pair := range sheet.Ranges {
		low, okLow := sheet.Column(pair.Low)
		high, okHigh := sheet.Column(pair.High)
		if !okLow || !okHigh {
			return fmt.Errorf("%s: range %s <= %s references unknown columns on %s", desc.EntityType, pair.Low, pair.High, sheet.Name)
		}
		_, lowComparable := comparableTypes[low.Type]
		_, highComparable := comparableTypes[high.Type]
		if !lowComparable || !highComparable || (low.Type == TypeDate) != (high.Type == TypeDate) {
			return fmt.Errorf("%s: range %s <= %s compares incompatible types", desc.EntityType, pair.Low, pair.High)
		}
	}
	return nil
}

func validateSamples(desc Descriptor, sheet SheetDescriptor) error {
	if sheet.Basic && len(sheet.Samples) == 0 {
		return fmt.Errorf("%s: basic sheet needs sample rows", desc.EntityType)
	}
	for idx, sample := range sheet.Samples {
		if _, ok := sample[desc.ReferenceColumn]; !ok {
			return fmt.Errorf("%s: sample %d on %s has no reference", desc.EntityType, idx+1, sheet.Name)
		}
		for header, value := range sample {
			column, ok := sheet.Column(header)
			if !ok {
				return fmt.Errorf("%s: sample %d on %s uses unknown column %s", desc.EntityType, idx+1, sheet.Name, header)
			}
			if _, err := column.Convert(SampleCell(value)); err != nil {
				return fmt.Errorf("%s: sample %d on %s: %w", desc.EntityType, idx+1, sheet.Name, err)
			}
		}
	}
	return nil
}

// SampleCell maps a bundled sample value to the cell kind it is written as.
func SampleCell(value any) workbook.Cell {
	switch v := value.(type) {
	case nil:
		return workbook.Empty{}
	case bool:
		return workbook.Boolean{Value: v}
	case int:
		return workbook.Number{Value: float64(v)}
	case float64:
		return workbook.Number{Value: v}
	case string:
		return workbook.Text{Value: v}
	default:
		return workbook.Text{Value: fmt.Sprint(v)}
	}
}
