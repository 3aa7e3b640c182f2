package schema

import (
	"fmt"
	"math"
	"regexp"

	"github.com/rpattn/fleetload/internal/workbook"
)

var (
	postalCodePattern = regexp.MustCompile(`^[0-9]{6}$`)
	phonePattern      = regexp.MustCompile(`^[0-9]{10}$`)
	emailPattern      = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

var uploadSteps = []string{
	"Download the template for the entity type you want to create.",
	"Fill the Basic Information sheet first; every row needs a unique reference ID.",
	"Use the same reference ID on the other sheets to attach details to that record.",
	"Dates must be entered as YYYY-MM-DD. Codes must exist in master data.",
	"Do not rename sheets or header columns. Remove the sample rows before uploading real data.",
	"Upload the file (max 10 MB). Progress is shown live; the batch history keeps the final result.",
	"If rows are rejected, download the error report, fix the highlighted cells and upload those rows again.",
}

func documentsSheet(ref, table, parent string, samples []map[string]any) SheetDescriptor {
	return SheetDescriptor{
		Name:         "Documents",
		Table:        table,
		ParentColumn: parent,
		Columns: []Column{
			refColumn(ref),
			{Header: "Document_Type", DBColumn: "document_type", Type: TypeCode, Required: true, MasterData: "document_types", Description: "Document category code"},
			{Header: "Document_Number", DBColumn: "document_number", Type: TypeString, Required: true, Upper: true, MaxLength: 64},
			{Header: "Issue_Date", DBColumn: "issue_date", Type: TypeDate, Format: "YYYY-MM-DD"},
			{Header: "Expiry_Date", DBColumn: "expiry_date", Type: TypeDate, Format: "YYYY-MM-DD"},
		},
		Ranges:  []RangePair{{Low: "Issue_Date", High: "Expiry_Date"}},
		Samples: samples,
	}
}

func addressColumns(ref string) []Column {
	return []Column{
		refColumn(ref),
		{Header: "Address_Line1", DBColumn: "address_line1", Type: TypeString, Required: true, MaxLength: 200},
		{Header: "Address_Line2", DBColumn: "address_line2", Type: TypeString, MaxLength: 200},
		{Header: "City", DBColumn: "city", Type: TypeString, Required: true, MaxLength: 100},
		{Header: "State", DBColumn: "state", Type: TypeString, Required: true, MaxLength: 100},
		{Header: "Postal_Code", DBColumn: "postal_code", Type: TypeString, Required: true, Pattern: postalCodePattern, Format: "6 digits"},
		{Header: "Country", DBColumn: "country", Type: TypeString, Required: true, MaxLength: 100},
	}
}

func formatQuantity(v float64) string {
	return workbook.FormatNumber(math.Round(v*100) / 100)
}

// RangeText describes the numeric bounds of a column, or "" when unbounded.
func (c Column) RangeText() string {
	switch {
	case c.Min != nil && c.Max != nil:
		return fmt.Sprintf("%s to %s", formatQuantity(*c.Min), formatQuantity(*c.Max))
	case c.Min != nil:
		return fmt.Sprintf(">= %s", formatQuantity(*c.Min))
	case c.Max != nil:
		return fmt.Sprintf("<= %s", formatQuantity(*c.Max))
	}
	return ""
}
