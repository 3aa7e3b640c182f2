package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/graph-gophers/dataloader"

	"github.com/rpattn/fleetload/internal/domain"
	"github.com/rpattn/fleetload/internal/schema"
)

type fieldKey struct {
	sheet  string
	header string
}

type holder struct {
	draft int
	row   int
}

// uniqueIndex maps each unique field's normalized value to its first holder.
// It is built once, sequentially, and only read afterwards.
type uniqueIndex map[fieldKey]map[string]holder

func buildUniqueIndex(desc schema.Descriptor, states []*draftState) uniqueIndex {
	index := make(uniqueIndex)
	for _, field := range desc.UniqueFields() {
		index[fieldKey{field.Sheet, field.Column.Header}] = make(map[string]holder)
	}
	for _, state := range states {
		for _, rs := range state.rows {
			for _, field := range desc.UniqueFields() {
				if field.Sheet != rs.sheet.Name {
					continue
				}
				value := schema.Normalize(rs.values[field.Column.Header])
				if value == "" {
					continue
				}
				owners := index[fieldKey{field.Sheet, field.Column.Header}]
				if _, taken := owners[value]; !taken {
					owners[value] = holder{draft: state.draft.Index, row: rs.row.Number}
				}
			}
		}
	}
	return index
}

func checkBatchUniqueness(desc schema.Descriptor, index uniqueIndex, state *draftState) {
	for _, rs := range state.rows {
		for _, field := range desc.UniqueFields() {
			if field.Sheet != rs.sheet.Name {
				continue
			}
			value := schema.Normalize(rs.values[field.Column.Header])
			if value == "" {
				continue
			}
			owner, ok := index[fieldKey{field.Sheet, field.Column.Header}][value]
			if !ok || (owner.draft == state.draft.Index && owner.row == rs.row.Number) {
				continue
			}
			state.add(rs.row, field.Column.Header, domain.SeverityHigh, domain.CategoryUniqueness,
				fmt.Sprintf("%s %s is repeated in this upload; first used on row %d", field.Column.Header, value, owner.row),
				"unique value", value)
		}
	}
}

// existingValues holds, per unique field, the values already present in the store.
type existingValues map[fieldKey]map[string]struct{}

// loadExisting looks up the values of drafts that are still creatable. Every unique
// field goes through one loader, so the whole run is a single dispatch issuing
// one query per table column.
func (e *Engine) loadExisting(ctx context.Context, desc schema.Descriptor, states []*draftState) (existingValues, error) {
	existing := make(existingValues)
	if e.store == nil {
		return existing, nil
	}

	type candidate struct {
		field fieldKey
		value string
	}
	var (
		keys       dataloader.Keys
		candidates []candidate
	)
	for _, field := range desc.UniqueFields() {
		key := fieldKey{field.Sheet, field.Column.Header}
		existing[key] = make(map[string]struct{})
		seen := make(map[string]struct{})
		for _, state := range states {
			if state.blocked() {
				continue
			}
			for _, rs := range state.rows {
				if rs.sheet.Name != field.Sheet {
					continue
				}
				value := schema.Normalize(rs.values[field.Column.Header])
				if value == "" {
					continue
				}
				if _, dup := seen[value]; dup {
					continue
				}
				seen[value] = struct{}{}
				keys = append(keys, existenceKey{table: field.Table, column: field.Column.DBColumn, value: value})
				candidates = append(candidates, candidate{field: key, value: value})
			}
		}
	}
	if len(keys) == 0 {
		return existing, nil
	}

	loader := newExistenceLoader(e.store, len(keys))
	results, errs := loader.LoadMany(ctx, keys)()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	for i, result := range results {
		if found, _ := result.(bool); found {
			existing[candidates[i].field][candidates[i].value] = struct{}{}
		}
	}
	return existing, nil
}

// existenceKey asks whether value is present in table.column.
type existenceKey struct {
	table  string
	column string
	value  string
}

func (k existenceKey) String() string   { return k.table + "." + k.column + "=" + k.value }
func (k existenceKey) Raw() interface{} { return k }

// newExistenceLoader groups a dispatch's keys by table column and runs one store
// lookup per group. Repeated keys within a run are served from the loader cache.
func newExistenceLoader(store StoreLookup, capacity int) *dataloader.Loader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		type column struct{ table, name string }
		groups := make(map[column][]int)
		var order []column
		for i, key := range keys {
			k := key.Raw().(existenceKey)
			c := column{k.table, k.column}
			if _, ok := groups[c]; !ok {
				order = append(order, c)
			}
			groups[c] = append(groups[c], i)
		}

		results := make([]*dataloader.Result, len(keys))
		for _, c := range order {
			indexes := groups[c]
			values := make([]string, len(indexes))
			for j, i := range indexes {
				values[j] = keys[i].Raw().(existenceKey).value
			}
			found, err := store.ExistingValues(ctx, c.table, c.name, values)
			if err != nil {
				err = fmt.Errorf("%s.%s: %w", c.table, c.name, err)
				for _, i := range indexes {
					results[i] = &dataloader.Result{Error: err}
				}
				continue
			}
			present := make(map[string]struct{}, len(found))
			for _, value := range found {
				present[schema.Normalize(value)] = struct{}{}
			}
			for j, i := range indexes {
				_, ok := present[values[j]]
				results[i] = &dataloader.Result{Data: ok}
			}
		}
		return results
	}
	return dataloader.NewBatchedLoader(batchFn,
		dataloader.WithBatchCapacity(capacity),
		dataloader.WithWait(time.Millisecond),
	)
}

func checkStoreUniqueness(desc schema.Descriptor, existing existingValues, state *draftState) {
	if state.blocked() {
		return
	}
	for _, rs := range state.rows {
		for _, field := range desc.UniqueFields() {
			if field.Sheet != rs.sheet.Name {
				continue
			}
			value := schema.Normalize(rs.values[field.Column.Header])
			if value == "" {
				continue
			}
			if _, taken := existing[fieldKey{field.Sheet, field.Column.Header}][value]; taken {
				state.add(rs.row, field.Column.Header, domain.SeverityHigh, domain.CategoryStoreUnique,
					fmt.Sprintf("%s %s already exists", field.Column.Header, value), "unique value", value)
			}
		}
	}
}
