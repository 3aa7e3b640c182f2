package validation

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rpattn/fleetload/internal/domain"
	"github.com/rpattn/fleetload/internal/schema"
	"github.com/rpattn/fleetload/internal/workbook"
)

func checkFields(state *draftState) {
	for _, rs := range state.rows {
		for idx, column := range rs.sheet.Columns {
			if idx == 0 {
				continue // reference column, handled structurally
			}
			checkCell(state, rs, column)
		}
		checkRanges(state, rs)
	}
}

func checkCell(state *draftState, rs *rowState, column schema.Column) {
	cell := rs.row.Cell(column.Header)
	received := workbook.Display(cell)
	if workbook.IsEmpty(cell) {
		if column.Required {
			state.add(rs.row, column.Header, domain.SeverityHigh, domain.CategoryField,
				fmt.Sprintf("%s is required", column.Header), column.Format, "")
		}
		return
	}

	value, err := column.Convert(cell)
	if err != nil {
		expected := ""
		var convErr *schema.ConversionError
		if errors.As(err, &convErr) {
			expected = convErr.Expected
		}
		state.add(rs.row, column.Header, domain.SeverityHigh, domain.CategoryField, err.Error(), expected, received)
		return
	}

	switch column.Type {
	case schema.TypeString:
		text, _ := value.(string)
		if _, isNumber := cell.(workbook.Number); isNumber && column.Pattern != nil {
			state.add(rs.row, column.Header, domain.SeverityLow, domain.CategoryField,
				fmt.Sprintf("%s was stored as a number; format the column as text to keep leading zeros", column.Header), "text", received)
		}
		if column.Length > 0 && utf8.RuneCountInString(text) != column.Length {
			state.add(rs.row, column.Header, domain.SeverityHigh, domain.CategoryField,
				fmt.Sprintf("%s must be exactly %d characters", column.Header, column.Length), column.Format, received)
			return
		}
		if column.MaxLength > 0 && utf8.RuneCountInString(text) > column.MaxLength {
			state.add(rs.row, column.Header, domain.SeverityHigh, domain.CategoryField,
				fmt.Sprintf("%s must be at most %d characters", column.Header, column.MaxLength), "", received)
			return
		}
		if column.Pattern != nil && !column.Pattern.MatchString(text) {
			state.add(rs.row, column.Header, domain.SeverityHigh, domain.CategoryField,
				fmt.Sprintf("%s has an invalid format", column.Header), column.Format, received)
			return
		}
	case schema.TypeNumber, schema.TypeInteger:
		number, _ := schema.Numeric(value)
		if column.Min != nil && number < *column.Min {
			state.add(rs.row, column.Header, domain.SeverityHigh, domain.CategoryField,
				fmt.Sprintf("%s must be at least %s", column.Header, workbook.FormatNumber(*column.Min)), column.RangeText(), received)
			return
		}
		if column.Max != nil && number > *column.Max {
			state.add(rs.row, column.Header, domain.SeverityHigh, domain.CategoryField,
				fmt.Sprintf("%s must be at most %s", column.Header, workbook.FormatNumber(*column.Max)), column.RangeText(), received)
			return
		}
	}
	rs.values[column.Header] = value
}

func checkRanges(state *draftState, rs *rowState) {
	for _, pair := range rs.sheet.Ranges {
		low, okLow := rs.values[pair.Low]
		high, okHigh := rs.values[pair.High]
		if !okLow || !okHigh {
			continue
		}
		if !greater(low, high) {
			continue
		}
		state.add(rs.row, pair.Low, domain.SeverityHigh, domain.CategoryField,
			fmt.Sprintf("%s must not be greater than %s", pair.Low, pair.High),
			fmt.Sprintf("<= %s", display(high)), display(low))
	}
}

func greater(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.After(tb)
	}
	fa, okA := schema.Numeric(a)
	fb, okB := schema.Numeric(b)
	return okA && okB && fa > fb
}

func display(value any) string {
	switch v := value.(type) {
	case time.Time:
		return v.Format(workbook.DateLayout)
	case float64:
		return workbook.FormatNumber(v)
	case int64:
		return workbook.FormatNumber(float64(v))
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
