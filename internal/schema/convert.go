package schema

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/fleetload/internal/workbook"
)

// ConversionError explains why a cell does not conform to its column type.
type ConversionError struct {
	Message  string
	Expected string
}

func (e *ConversionError) Error() string {
	return e.Message
}

// decimalPattern accepts plain decimal notation with an optional exponent.
var decimalPattern = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

var booleanWords = map[string]bool{
	"true": true, "yes": true, "y": true, "1": true,
	"false": false, "no": false, "n": false, "0": false,
}

// Convert turns a cell into the Go value stored for the column.
// Empty cells convert to nil without error; presence is checked separately.
func (c Column) Convert(cell workbook.Cell) (any, error) {
	if workbook.IsEmpty(cell) {
		return nil, nil
	}
	switch c.Type {
	case TypeNumber, TypeInteger:
		return c.convertNumber(cell)
	case TypeDate:
		return c.convertDate(cell)
	case TypeBoolean:
		return c.convertBoolean(cell)
	case TypeEnum:
		text := strings.TrimSpace(workbook.Display(cell))
		for _, option := range c.Enum {
			if strings.EqualFold(option, text) {
				return option, nil
			}
		}
		return nil, &ConversionError{
			Message:  fmt.Sprintf("%s must be one of %s", c.Header, strings.Join(c.Enum, ", ")),
			Expected: strings.Join(c.Enum, " | "),
		}
	case TypeCode:
		return strings.ToUpper(strings.TrimSpace(workbook.Display(cell))), nil
	default:
		text := strings.TrimSpace(workbook.Display(cell))
		if c.Upper {
			text = strings.ToUpper(text)
		}
		return text, nil
	}
}

func (c Column) convertNumber(cell workbook.Cell) (any, error) {
	var value float64
	switch v := cell.(type) {
	case workbook.Number:
		value = v.Value
	case workbook.Text:
		cleaned := strings.ReplaceAll(strings.TrimSpace(v.Value), ",", "")
		if !decimalPattern.MatchString(cleaned) {
			return nil, &ConversionError{Message: fmt.Sprintf("%s must be a number", c.Header), Expected: "number"}
		}
		parsed, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return nil, &ConversionError{Message: fmt.Sprintf("%s must be a number", c.Header), Expected: "number"}
		}
		value = parsed
	default:
		return nil, &ConversionError{Message: fmt.Sprintf("%s must be a number", c.Header), Expected: "number"}
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, &ConversionError{Message: fmt.Sprintf("%s must be a finite number", c.Header), Expected: "number"}
	}
	if c.Type == TypeInteger {
		if value != float64(int64(value)) {
			return nil, &ConversionError{Message: fmt.Sprintf("%s must be a whole number", c.Header), Expected: "whole number"}
		}
		return int64(value), nil
	}
	return value, nil
}

func (c Column) convertDate(cell workbook.Cell) (any, error) {
	switch v := cell.(type) {
	case workbook.DateValue:
		y, m, d := v.Time.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	case workbook.Text:
		ts, err := time.Parse(workbook.DateLayout, strings.TrimSpace(v.Value))
		if err == nil {
			return ts, nil
		}
	}
	return nil, &ConversionError{Message: fmt.Sprintf("%s must be a date in YYYY-MM-DD format", c.Header), Expected: "YYYY-MM-DD"}
}

func (c Column) convertBoolean(cell workbook.Cell) (any, error) {
	switch v := cell.(type) {
	case workbook.Boolean:
		return v.Value, nil
	case workbook.Number:
		if v.Value == 0 || v.Value == 1 {
			return v.Value == 1, nil
		}
	case workbook.Text:
		if value, ok := booleanWords[strings.ToLower(strings.TrimSpace(v.Value))]; ok {
			return value, nil
		}
	}
	return nil, &ConversionError{Message: fmt.Sprintf("%s must be TRUE or FALSE", c.Header), Expected: "TRUE | FALSE"}
}

// Normalize returns the comparison key used for uniqueness checks.
func Normalize(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.ToUpper(strings.TrimSpace(v))
	case time.Time:
		return v.Format(workbook.DateLayout)
	case float64:
		return workbook.FormatNumber(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return strings.ToUpper(strings.TrimSpace(fmt.Sprint(v)))
	}
}

// Numeric extracts a float from converted number or integer values.
func Numeric(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	}
	return 0, false
}
