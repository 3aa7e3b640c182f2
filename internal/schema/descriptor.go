package schema

import (
	"regexp"

	"github.com/rpattn/fleetload/internal/domain"
	"github.com/rpattn/fleetload/internal/workbook"
)

// SheetBasicInformation is the name of the sheet every entity shape starts with.
const SheetBasicInformation = "Basic Information"

// SheetInstructions is the trailing read-only sheet in templates.
const SheetInstructions = "Instructions"

// ColumnType is the semantic type of a sheet column.
type ColumnType string

const (
	TypeString  ColumnType = "string"
	TypeNumber  ColumnType = "number"
	TypeInteger ColumnType = "integer"
	TypeDate    ColumnType = "date"
	TypeBoolean ColumnType = "boolean"
	TypeEnum    ColumnType = "enum"
	TypeCode    ColumnType = "code"
)

// Column describes one expected column and its constraints.
type Column struct {
	Header      string
	DBColumn    string
	Type        ColumnType
	Required    bool
	Upper       bool
	Unique      bool
	Pattern     *regexp.Regexp
	Format      string
	Length      int
	MaxLength   int
	Min         *float64
	Max         *float64
	Enum        []string
	MasterData  string
	Description string
}

// RangePair requires Low <= High when both cells hold values.
type RangePair struct {
	Low  string
	High string
}

// SheetDescriptor describes one record group and the table it is stored in.
type SheetDescriptor struct {
	Name         string
	Table        string
	ParentColumn string
	Basic        bool
	MinRows      int
	Columns      []Column
	Ranges       []RangePair
	Samples      []map[string]any
}

// Column returns the column with the given header.
func (s SheetDescriptor) Column(header string) (Column, bool) {
	key := workbook.NormalizeHeader(header)
	for _, column := range s.Columns {
		if workbook.NormalizeHeader(column.Header) == key {
			return column, true
		}
	}
	return Column{}, false
}

// Headers lists the sheet's column headers in order.
func (s SheetDescriptor) Headers() []string {
	headers := make([]string, len(s.Columns))
	for i, column := range s.Columns {
		headers[i] = column.Header
	}
	return headers
}

// Violation is reported by a consistency rule.
type Violation struct {
	Field    string
	Message  string
	Expected string
}

// ConsistencyRule checks derived or dependent fields on a single sheet row.
// Values holds converted cell values keyed by header; absent or invalid cells are missing.
type ConsistencyRule struct {
	Name     string
	Sheet    string
	Severity domain.Severity
	Check    func(values map[string]any) *Violation
}

// Descriptor is the full shape of one entity type's upload workbook.
type Descriptor struct {
	EntityType      domain.EntityType
	Label           string
	ReferenceColumn string
	Sheets          []SheetDescriptor
	Consistency     []ConsistencyRule
	Steps           []string
}

// Basic returns the basic-info sheet.
func (d Descriptor) Basic() SheetDescriptor {
	for _, sheet := range d.Sheets {
		if sheet.Basic {
			return sheet
		}
	}
	return SheetDescriptor{}
}

// Children returns the child sheets in order.
func (d Descriptor) Children() []SheetDescriptor {
	children := make([]SheetDescriptor, 0, len(d.Sheets))
	for _, sheet := range d.Sheets {
		if !sheet.Basic {
			children = append(children, sheet)
		}
	}
	return children
}

// Sheet returns a sheet descriptor by name.
func (d Descriptor) Sheet(name string) (SheetDescriptor, bool) {
	for _, sheet := range d.Sheets {
		if sheet.Name == name {
			return sheet, true
		}
	}
	return SheetDescriptor{}, false
}

// Layout derives the parser layout.
func (d Descriptor) Layout() workbook.Layout {
	layout := workbook.Layout{Sheets: make([]workbook.SheetSpec, 0, len(d.Sheets))}
	for _, sheet := range d.Sheets {
		layout.Sheets = append(layout.Sheets, workbook.SheetSpec{
			Name:      sheet.Name,
			Columns:   sheet.Headers(),
			KeyColumn: d.ReferenceColumn,
			Required:  sheet.Basic || sheet.MinRows > 0,
		})
	}
	return layout
}

// UniqueField identifies a globally unique column and where it is persisted.
type UniqueField struct {
	Sheet  string
	Table  string
	Column Column
}

// UniqueFields lists every globally unique column.
func (d Descriptor) UniqueFields() []UniqueField {
	var fields []UniqueField
	for _, sheet := range d.Sheets {
		for _, column := range sheet.Columns {
			if column.Unique {
				fields = append(fields, UniqueField{Sheet: sheet.Name, Table: sheet.Table, Column: column})
			}
		}
	}
	return fields
}

// MasterCollections lists the master-data collections referenced by the shape.
func (d Descriptor) MasterCollections() []string {
	seen := make(map[string]struct{})
	var collections []string
	for _, sheet := range d.Sheets {
		for _, column := range sheet.Columns {
			if column.MasterData == "" {
				continue
			}
			if _, ok := seen[column.MasterData]; ok {
				continue
			}
			seen[column.MasterData] = struct{}{}
			collections = append(collections, column.MasterData)
		}
	}
	return collections
}

func refColumn(header string) Column {
	return Column{
		Header:      header,
		Type:        TypeString,
		Required:    true,
		Upper:       true,
		Description: "Batch-local key linking rows across sheets",
		Format:      "any unique text, e.g. REF001",
	}
}

func limit(v float64) *float64 {
	return &v
}
