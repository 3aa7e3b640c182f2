package workbook

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

var (
	// ErrMissingSheet is wrapped in a ParseError when a required sheet is absent.
	ErrMissingSheet = errors.New("required sheet is missing")
	// ErrTooManyRows is wrapped in a ParseError when the row ceiling is exceeded.
	ErrTooManyRows = errors.New("row limit exceeded")

	isoLayouts = []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		DateLayout,
	}
)

// ParseError is fatal to a whole batch; no row-level detail is available.
type ParseError struct {
	Sheet string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Sheet != "" {
		return fmt.Sprintf("sheet %q: %v", e.Sheet, e.Err)
	}
	return e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// SheetSpec is the parser's view of one expected sheet.
type SheetSpec struct {
	Name      string
	Columns   []string
	KeyColumn string
	Required  bool
}

// Layout lists the sheets to read, in order.
type Layout struct {
	Sheets []SheetSpec
}

// Workbook holds the parsed sheets keyed by their layout name.
type Workbook struct {
	Order  []string
	Sheets map[string]*Sheet
}

// Sheet returns the named sheet or nil.
func (w *Workbook) Sheet(name string) *Sheet {
	if w == nil {
		return nil
	}
	return w.Sheets[name]
}

// RowCount returns the number of data rows across all sheets.
func (w *Workbook) RowCount() int {
	total := 0
	for _, sheet := range w.Sheets {
		total += len(sheet.Rows)
	}
	return total
}

// Sheet is one parsed sheet. Headers keep the file's own column order.
type Sheet struct {
	Name    string
	Headers []string
	Rows    []Row
	index   map[string]int
}

// Column returns the position of a header, matched case-insensitively.
func (s *Sheet) Column(name string) (int, bool) {
	idx, ok := s.index[NormalizeHeader(name)]
	return idx, ok
}

// Row is one data row. Number is the 1-based row number in the sheet.
type Row struct {
	Sheet  string
	Number int
	Values []Cell
	index  map[string]int
}

// Cell returns the value under the given header or Empty.
func (r Row) Cell(column string) Cell {
	idx, ok := r.index[NormalizeHeader(column)]
	if !ok || idx >= len(r.Values) || r.Values[idx] == nil {
		return Empty{}
	}
	return r.Values[idx]
}

// NewRow builds a row outside of parsing, mostly for tests and fixtures.
func NewRow(sheet string, number int, values map[string]Cell) Row {
	row := Row{Sheet: sheet, Number: number, index: make(map[string]int, len(values))}
	for header, value := range values {
		row.index[NormalizeHeader(header)] = len(row.Values)
		row.Values = append(row.Values, value)
	}
	return row
}

// NormalizeHeader folds case, spacing and hyphens so "Vehicle Ref ID" matches "Vehicle_Ref_ID".
func NormalizeHeader(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	value = strings.NewReplacer(" ", "_", "-", "_").Replace(value)
	return value
}

// Option customises parsing.
type Option func(*parser)

// WithMaxRows caps the number of data rows across all sheets.
func WithMaxRows(limit int) Option {
	return func(p *parser) {
		if limit > 0 {
			p.maxRows = limit
		}
	}
}

type parser struct {
	file       *excelize.File
	maxRows    int
	rowsSeen   int
	dateStyles map[int]bool
}

// Parse reads the sheets described by layout from an xlsx payload.
// Cells keep their native scalar kind; coercion is left to validation.
func Parse(payload []byte, layout Layout, opts ...Option) (*Workbook, error) {
	if len(payload) == 0 {
		return nil, &ParseError{Err: errors.New("file is empty")}
	}
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, &ParseError{Err: fmt.Errorf("failed to open xlsx: %w", err)}
	}
	defer func() { _ = f.Close() }()

	p := &parser{file: f, dateStyles: make(map[int]bool)}
	for _, opt := range opts {
		opt(p)
	}

	present := make(map[string]string)
	for _, name := range f.GetSheetList() {
		present[NormalizeHeader(name)] = name
	}

	wb := &Workbook{Sheets: make(map[string]*Sheet, len(layout.Sheets))}
	for _, spec := range layout.Sheets {
		actual, ok := present[NormalizeHeader(spec.Name)]
		if !ok {
			if spec.Required {
				return nil, &ParseError{Sheet: spec.Name, Err: ErrMissingSheet}
			}
			wb.Order = append(wb.Order, spec.Name)
			wb.Sheets[spec.Name] = emptySheet(spec)
			continue
		}
		sheet, err := p.readSheet(actual, spec)
		if err != nil {
			return nil, err
		}
		wb.Order = append(wb.Order, spec.Name)
		wb.Sheets[spec.Name] = sheet
	}
	return wb, nil
}

func emptySheet(spec SheetSpec) *Sheet {
	sheet := &Sheet{Name: spec.Name, Headers: append([]string(nil), spec.Columns...)}
	sheet.index = buildIndex(sheet.Headers)
	return sheet
}

func (p *parser) readSheet(actual string, spec SheetSpec) (*Sheet, error) {
	records, err := p.file.GetRows(actual, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, &ParseError{Sheet: spec.Name, Err: fmt.Errorf("failed to read rows: %w", err)}
	}

	headerIdx := -1
	for idx, record := range records {
		if len(cleanRow(record)) > 0 {
			headerIdx = idx
			break
		}
	}
	if headerIdx < 0 {
		if spec.Required {
			return nil, &ParseError{Sheet: spec.Name, Err: errors.New("no header row found")}
		}
		return emptySheet(spec), nil
	}

	sheet := &Sheet{Name: spec.Name}
	for _, header := range records[headerIdx] {
		sheet.Headers = append(sheet.Headers, strings.TrimSpace(header))
	}
	sheet.index = buildIndex(sheet.Headers)
	if spec.KeyColumn != "" {
		if _, ok := sheet.index[NormalizeHeader(spec.KeyColumn)]; !ok {
			return nil, &ParseError{Sheet: spec.Name, Err: fmt.Errorf("missing column %s", spec.KeyColumn)}
		}
	}

	for idx := headerIdx + 1; idx < len(records); idx++ {
		record := records[idx]
		if len(cleanRow(record)) == 0 {
			continue
		}
		p.rowsSeen++
		if p.maxRows > 0 && p.rowsSeen > p.maxRows {
			return nil, &ParseError{Sheet: spec.Name, Err: fmt.Errorf("%w: more than %d rows", ErrTooManyRows, p.maxRows)}
		}
		row := Row{Sheet: spec.Name, Number: idx + 1, index: sheet.index, Values: make([]Cell, len(sheet.Headers))}
		for col := range row.Values {
			if col >= len(record) {
				row.Values[col] = Empty{}
				continue
			}
			cell, err := p.readCell(actual, col, idx, record[col])
			if err != nil {
				return nil, &ParseError{Sheet: spec.Name, Err: err}
			}
			row.Values[col] = cell
		}
		sheet.Rows = append(sheet.Rows, row)
	}
	return sheet, nil
}

func (p *parser) readCell(sheet string, col, rowIdx int, raw string) (Cell, error) {
	if strings.TrimSpace(raw) == "" {
		return Empty{}, nil
	}
	axis, err := excelize.CoordinatesToCellName(col+1, rowIdx+1)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cell position: %w", err)
	}
	cellType, err := p.file.GetCellType(sheet, axis)
	if err != nil {
		return nil, fmt.Errorf("failed to read cell %s type: %w", axis, err)
	}

	switch cellType {
	case excelize.CellTypeBool:
		return Boolean{Value: raw == "1" || strings.EqualFold(raw, "true")}, nil
	case excelize.CellTypeDate:
		if ts, ok := parseISO(raw); ok {
			return DateValue{Time: ts}, nil
		}
		return Text{Value: raw}, nil
	case excelize.CellTypeNumber, excelize.CellTypeUnset:
		value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return Text{Value: raw}, nil
		}
		if p.isDateStyled(sheet, axis) {
			ts, err := excelize.ExcelDateToTime(value, false)
			if err == nil {
				return DateValue{Time: ts}, nil
			}
		}
		return Number{Value: value, Raw: strings.TrimSpace(raw)}, nil
	default:
		return Text{Value: raw}, nil
	}
}

func (p *parser) isDateStyled(sheet, axis string) bool {
	styleID, err := p.file.GetCellStyle(sheet, axis)
	if err != nil || styleID == 0 {
		return false
	}
	if cached, ok := p.dateStyles[styleID]; ok {
		return cached
	}
	isDate := false
	if style, err := p.file.GetStyle(styleID); err == nil && style != nil {
		isDate = isDateNumFmt(style.NumFmt)
		if !isDate && style.CustomNumFmt != nil {
			isDate = isDateFormatCode(*style.CustomNumFmt)
		}
	}
	p.dateStyles[styleID] = isDate
	return isDate
}

func isDateNumFmt(id int) bool {
	switch {
	case id >= 14 && id <= 22:
		return true
	case id >= 27 && id <= 36:
		return true
	case id >= 45 && id <= 47:
		return true
	case id >= 50 && id <= 58:
		return true
	}
	return false
}

// isDateFormatCode looks for date tokens outside quoted literals and bracketed sections.
func isDateFormatCode(code string) bool {
	var b strings.Builder
	inQuote, inBracket := false, false
	for _, r := range strings.ToLower(code) {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == '[' && !inQuote:
			inBracket = true
		case r == ']' && !inQuote:
			inBracket = false
		case !inQuote && !inBracket:
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	return strings.ContainsAny(cleaned, "yd")
}

func parseISO(raw string) (time.Time, bool) {
	for _, layout := range isoLayouts {
		if ts, err := time.Parse(layout, strings.TrimSpace(raw)); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func buildIndex(headers []string) map[string]int {
	index := make(map[string]int, len(headers))
	for idx, header := range headers {
		key := NormalizeHeader(header)
		if key == "" {
			continue
		}
		if _, exists := index[key]; !exists {
			index[key] = idx
		}
	}
	return index
}

func cleanRow(row []string) []string {
	cleaned := make([]string, 0, len(row))
	for _, value := range row {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}
