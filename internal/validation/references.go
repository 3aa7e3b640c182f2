package validation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rpattn/fleetload/internal/domain"
	"github.com/rpattn/fleetload/internal/schema"
)

const maxListedCodes = 10

// codeSet holds the valid codes per master-data collection for one batch.
type codeSet map[string]map[string]struct{}

func (e *Engine) loadCodes(ctx context.Context, desc schema.Descriptor) (codeSet, error) {
	codes := make(codeSet)
	if e.master == nil {
		return codes, nil
	}
	for _, collection := range desc.MasterCollections() {
		values, err := e.master.Codes(ctx, collection)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", collection, err)
		}
		set := make(map[string]struct{}, len(values))
		for _, value := range values {
			set[strings.ToUpper(strings.TrimSpace(value))] = struct{}{}
		}
		codes[collection] = set
	}
	return codes, nil
}

func (c codeSet) hint(collection string) string {
	set := c[collection]
	if len(set) == 0 || len(set) > maxListedCodes {
		return "a code from " + collection
	}
	listed := make([]string, 0, len(set))
	for code := range set {
		listed = append(listed, code)
	}
	sort.Strings(listed)
	return strings.Join(listed, " | ")
}

func checkReferences(codes codeSet, state *draftState) {
	if len(codes) == 0 {
		return
	}
	for _, rs := range state.rows {
		for _, column := range rs.sheet.Columns {
			if column.MasterData == "" {
				continue
			}
			value, ok := rs.values[column.Header].(string)
			if !ok || value == "" {
				continue
			}
			valid, loaded := codes[column.MasterData]
			if !loaded {
				continue
			}
			if _, exists := valid[value]; exists {
				continue
			}
			state.add(rs.row, column.Header, domain.SeverityHigh, domain.CategoryReferential,
				fmt.Sprintf("%s %s does not exist in master data", column.Header, value),
				codes.hint(column.MasterData), value)
		}
	}
}

func checkConsistency(desc schema.Descriptor, state *draftState) {
	for _, rule := range desc.Consistency {
		for _, rs := range state.rows {
			if rs.sheet.Name != rule.Sheet {
				continue
			}
			violation := rule.Check(rs.values)
			if violation == nil {
				continue
			}
			state.add(rs.row, violation.Field, rule.Severity, domain.CategoryConsistency,
				violation.Message, violation.Expected, display(rs.values[violation.Field]))
		}
	}
}
