package validation

import (
	"fmt"

	"github.com/rpattn/fleetload/internal/domain"
	"github.com/rpattn/fleetload/internal/draft"
	"github.com/rpattn/fleetload/internal/schema"
)

func checkStructure(desc schema.Descriptor, state *draftState) {
	d := state.draft
	basic := d.Basic
	switch {
	case d.MissingRef():
		state.add(basic, desc.ReferenceColumn, domain.SeverityCritical, domain.CategoryStructural,
			fmt.Sprintf("%s is required", desc.ReferenceColumn), "", "")
		return
	case d.DuplicateOf > 0:
		state.add(basic, desc.ReferenceColumn, domain.SeverityCritical, domain.CategoryStructural,
			fmt.Sprintf("reference ID %s is already used on row %d", d.RefID, d.DuplicateOf), "unique reference ID", d.RefID)
		return
	}

	for _, child := range desc.Children() {
		if child.MinRows == 0 {
			continue
		}
		if got := len(d.Children[child.Name]); got < child.MinRows {
			state.add(basic, child.Name, domain.SeverityHigh, domain.CategoryStructural,
				fmt.Sprintf("at least %d row(s) on sheet %s are required for %s", child.MinRows, child.Name, d.RefID),
				fmt.Sprintf("%d row(s)", child.MinRows), fmt.Sprintf("%d row(s)", got))
		}
	}
}

func orphanFindings(desc schema.Descriptor, orphans []draft.Orphan) []domain.Finding {
	findings := make([]domain.Finding, 0, len(orphans))
	basic := desc.Basic().Name
	for _, orphan := range orphans {
		finding := domain.Finding{
			RefID:     orphan.RefID,
			Sheet:     orphan.Row.Sheet,
			RowNumber: orphan.Row.Number,
			Field:     desc.ReferenceColumn,
			Severity:  domain.SeverityHigh,
			Category:  domain.CategoryStructural,
		}
		if orphan.RefID == "" {
			finding.Message = fmt.Sprintf("%s is required", desc.ReferenceColumn)
		} else {
			finding.Message = fmt.Sprintf("reference ID %s has no matching row on sheet %s", orphan.RefID, basic)
			received := orphan.RefID
			finding.Received = &received
		}
		findings = append(findings, finding)
	}
	return findings
}
