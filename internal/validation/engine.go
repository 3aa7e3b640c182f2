// Package validation runs the ordered rule categories over composite drafts.
//
// Rules run cheapest first: structural checks, field-level checks, intra-batch
// uniqueness, persisted-store uniqueness, master-data existence and finally
// cross-field consistency. Store lookups are only issued for drafts that are
// still creatable after the local rules.
package validation

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rpattn/fleetload/internal/domain"
	"github.com/rpattn/fleetload/internal/draft"
	"github.com/rpattn/fleetload/internal/schema"
	"github.com/rpattn/fleetload/internal/workbook"
)

// StoreLookup reports which candidate values already exist in a table column.
type StoreLookup interface {
	ExistingValues(ctx context.Context, table, column string, values []string) ([]string, error)
}

// MasterData returns every valid code of a master-data collection.
type MasterData interface {
	Codes(ctx context.Context, collection string) ([]string, error)
}

// Stage names the part of validation an observer update belongs to.
type Stage string

const (
	StageFields Stage = "fields"
	StageRules  Stage = "rules"
)

// Observer is told how many drafts have finished a stage.
type Observer func(stage Stage, done, total int)

// Record is one row of a draft with the values that converted cleanly.
type Record struct {
	Sheet  schema.SheetDescriptor
	Row    workbook.Row
	Values map[string]any
}

// Outcome is the validation verdict for one draft. Records starts with the
// basic-info row.
type Outcome struct {
	Draft     *draft.Draft
	Records   []Record
	Findings  []domain.Finding
	Creatable bool
}

// Result is the validation output for one batch.
type Result struct {
	Outcomes []Outcome
	Orphans  []domain.Finding
}

// Findings flattens every finding, draft findings first.
func (r Result) Findings() []domain.Finding {
	var all []domain.Finding
	for _, outcome := range r.Outcomes {
		all = append(all, outcome.Findings...)
	}
	return append(all, r.Orphans...)
}

// Creatable returns outcomes without blocking findings, in upload order.
func (r Result) Creatable() []Outcome {
	var outcomes []Outcome
	for _, outcome := range r.Outcomes {
		if outcome.Creatable {
			outcomes = append(outcomes, outcome)
		}
	}
	return outcomes
}

// Counts returns the valid and invalid draft tallies.
func (r Result) Counts() (valid, invalid int) {
	for _, outcome := range r.Outcomes {
		if outcome.Creatable {
			valid++
		} else {
			invalid++
		}
	}
	return valid, invalid
}

// Engine validates drafts against an entity shape.
type Engine struct {
	store   StoreLookup
	master  MasterData
	workers int
	logger  *zap.Logger
}

// Option customises an Engine.
type Option func(*Engine)

// WithWorkers bounds per-draft fan-out.
func WithWorkers(workers int) Option {
	return func(e *Engine) {
		if workers > 0 {
			e.workers = workers
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates a validation engine.
func NewEngine(store StoreLookup, master MasterData, opts ...Option) *Engine {
	engine := &Engine{
		store:   store,
		master:  master,
		workers: runtime.NumCPU(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// rowState holds the converted values of one row. Values only contains cells that
// converted cleanly.
type rowState struct {
	row    workbook.Row
	sheet  schema.SheetDescriptor
	values map[string]any
}

// draftState is only touched by one goroutine at a time.
type draftState struct {
	draft    *draft.Draft
	rows     []*rowState
	findings []domain.Finding
}

func (s *draftState) blocked() bool {
	return domain.HasBlocking(s.findings)
}

func (s *draftState) add(row workbook.Row, field string, severity domain.Severity, category domain.FindingCategory, message, expected, received string) {
	finding := domain.Finding{
		RefID:     s.draft.RefID,
		Sheet:     row.Sheet,
		RowNumber: row.Number,
		Field:     field,
		Message:   message,
		Severity:  severity,
		Category:  category,
	}
	if expected != "" {
		finding.Expected = &expected
	}
	if received != "" {
		finding.Received = &received
	}
	s.findings = append(s.findings, finding)
}

// Validate runs every rule category over the drafts of one batch.
func (e *Engine) Validate(ctx context.Context, desc schema.Descriptor, set draft.Set, observe Observer) (Result, error) {
	if observe == nil {
		observe = func(Stage, int, int) {}
	}
	states := make([]*draftState, len(set.Drafts))
	for i, d := range set.Drafts {
		states[i] = newDraftState(desc, d)
		checkStructure(desc, states[i])
	}
	orphans := orphanFindings(desc, set.Orphans)

	if err := e.forEach(ctx, states, StageFields, observe, func(state *draftState) {
		checkFields(state)
	}); err != nil {
		return Result{}, err
	}

	index := buildUniqueIndex(desc, states)
	if err := e.forEach(ctx, states, "", nil, func(state *draftState) {
		checkBatchUniqueness(desc, index, state)
	}); err != nil {
		return Result{}, err
	}

	existing, err := e.loadExisting(ctx, desc, states)
	if err != nil {
		return Result{}, fmt.Errorf("failed to look up existing values: %w", err)
	}
	codes, err := e.loadCodes(ctx, desc)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load master data: %w", err)
	}

	if err := e.forEach(ctx, states, StageRules, observe, func(state *draftState) {
		checkStoreUniqueness(desc, existing, state)
		checkReferences(codes, state)
		checkConsistency(desc, state)
	}); err != nil {
		return Result{}, err
	}

	result := Result{Outcomes: make([]Outcome, len(states)), Orphans: orphans}
	for i, state := range states {
		records := make([]Record, len(state.rows))
		for j, rs := range state.rows {
			records[j] = Record{Sheet: rs.sheet, Row: rs.row, Values: rs.values}
		}
		result.Outcomes[i] = Outcome{
			Draft:     state.draft,
			Records:   records,
			Findings:  state.findings,
			Creatable: !state.blocked(),
		}
	}
	valid, invalid := result.Counts()
	e.logger.Debug("validation finished",
		zap.String("entity_type", string(desc.EntityType)),
		zap.Int("valid", valid),
		zap.Int("invalid", invalid),
		zap.Int("orphans", len(orphans)),
	)
	return result, nil
}

func (e *Engine) forEach(ctx context.Context, states []*draftState, stage Stage, observe Observer, fn func(*draftState)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	var done atomic.Int64
	total := len(states)
	for _, state := range states {
		if err := gctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fn(state)
			n := done.Add(1)
			if observe != nil {
				observe(stage, int(n), total)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func newDraftState(desc schema.Descriptor, d *draft.Draft) *draftState {
	state := &draftState{draft: d}
	basic := desc.Basic()
	state.rows = append(state.rows, &rowState{row: d.Basic, sheet: basic, values: map[string]any{}})
	for _, child := range desc.Children() {
		for _, row := range d.Children[child.Name] {
			state.rows = append(state.rows, &rowState{row: row, sheet: child, values: map[string]any{}})
		}
	}
	return state
}
