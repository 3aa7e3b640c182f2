package workbook

import (
	"strconv"
	"strings"
	"time"
)

// DateLayout is the textual date format accepted in upload sheets.
const DateLayout = "2006-01-02"

// Cell is the closed set of scalar kinds a spreadsheet cell can hold.
// Rules switch on the concrete type so the original representation is never lost.
type Cell interface {
	isCell()
}

// Text is a cell the authoring tool stored as a string.
type Text struct {
	Value string
}

// Number is a numeric cell. Raw keeps the stored representation.
type Number struct {
	Value float64
	Raw   string
}

// DateValue is a cell stored as a date (typed or number-formatted).
type DateValue struct {
	Time time.Time
}

// Boolean is a TRUE/FALSE cell.
type Boolean struct {
	Value bool
}

// Empty is a missing or blank cell.
type Empty struct{}

func (Text) isCell()      {}
func (Number) isCell()    {}
func (DateValue) isCell() {}
func (Boolean) isCell()   {}
func (Empty) isCell()     {}

// IsEmpty reports whether the cell carries no value.
func IsEmpty(c Cell) bool {
	switch v := c.(type) {
	case nil, Empty:
		return true
	case Text:
		return strings.TrimSpace(v.Value) == ""
	}
	return false
}

// Display renders a cell the way it should appear in messages and reports.
func Display(c Cell) string {
	switch v := c.(type) {
	case Text:
		return v.Value
	case Number:
		return FormatNumber(v.Value)
	case DateValue:
		return v.Time.Format(DateLayout)
	case Boolean:
		if v.Value {
			return "TRUE"
		}
		return "FALSE"
	}
	return ""
}

// FormatNumber prints integers without a fractional part.
func FormatNumber(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
