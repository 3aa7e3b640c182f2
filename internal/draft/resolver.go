// Package draft groups parsed sheet rows into composite entity drafts by reference ID.
package draft

import (
	"strings"

	"github.com/rpattn/fleetload/internal/schema"
	"github.com/rpattn/fleetload/internal/workbook"
)

// Draft is one logical entity assembled from all rows sharing a reference ID.
type Draft struct {
	Index    int
	RefID    string
	Basic    workbook.Row
	Children map[string][]workbook.Row

	// DuplicateOf is the row number of the first basic-info row that declared RefID.
	DuplicateOf int
}

// Key identifies the draft uniquely within a batch, even for duplicate or blank reference IDs.
func (d *Draft) Key() int {
	return d.Index
}

// MissingRef reports whether the basic-info row has no reference ID.
func (d *Draft) MissingRef() bool {
	return d.RefID == ""
}

// Rows returns the basic row followed by child rows in sheet order.
func (d *Draft) Rows(desc schema.Descriptor) []workbook.Row {
	rows := []workbook.Row{d.Basic}
	for _, sheet := range desc.Children() {
		rows = append(rows, d.Children[sheet.Name]...)
	}
	return rows
}

// Orphan is a child row whose reference ID does not resolve to a basic-info row.
type Orphan struct {
	RefID string
	Row   workbook.Row
}

// Set is the resolver output for one batch.
type Set struct {
	Drafts  []*Draft
	Orphans []Orphan
}

// Resolve assembles drafts in basic-info order. Child rows attach to the first draft that
// declared their reference ID; rows with blank or unknown IDs are returned as orphans.
func Resolve(wb *workbook.Workbook, desc schema.Descriptor) Set {
	var set Set
	basic := desc.Basic()
	byRef := make(map[string]*Draft)

	if sheet := wb.Sheet(basic.Name); sheet != nil {
		for _, row := range sheet.Rows {
			d := &Draft{
				Index:    len(set.Drafts),
				RefID:    ReferenceOf(row, desc.ReferenceColumn),
				Basic:    row,
				Children: make(map[string][]workbook.Row),
			}
			if d.RefID != "" {
				if first, seen := byRef[d.RefID]; seen {
					d.DuplicateOf = first.Basic.Number
				} else {
					byRef[d.RefID] = d
				}
			}
			set.Drafts = append(set.Drafts, d)
		}
	}

	for _, child := range desc.Children() {
		sheet := wb.Sheet(child.Name)
		if sheet == nil {
			continue
		}
		for _, row := range sheet.Rows {
			ref := ReferenceOf(row, desc.ReferenceColumn)
			owner, ok := byRef[ref]
			if ref == "" || !ok {
				set.Orphans = append(set.Orphans, Orphan{RefID: ref, Row: row})
				continue
			}
			owner.Children[child.Name] = append(owner.Children[child.Name], row)
		}
	}
	return set
}

// ReferenceOf returns the normalized reference ID of a row.
func ReferenceOf(row workbook.Row, column string) string {
	return strings.ToUpper(strings.TrimSpace(workbook.Display(row.Cell(column))))
}
