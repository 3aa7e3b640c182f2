// Package creation persists creatable drafts, one transaction per draft.
package creation

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rpattn/fleetload/internal/domain"
	"github.com/rpattn/fleetload/internal/repository"
	"github.com/rpattn/fleetload/internal/schema"
	"github.com/rpattn/fleetload/internal/validation"
)

const maxMessageLength = 200

// Store writes one draft atomically and returns the new parent identifier.
type Store interface {
	CreateDraft(ctx context.Context, target repository.DraftTarget, rows []repository.DraftRow) (uuid.UUID, error)
}

// Observer is told how many drafts have been attempted.
type Observer func(done, total int)

// Scope identifies the batch drafts are created for.
type Scope struct {
	OrganizationID uuid.UUID
	BatchID        uuid.UUID
}

// Summary is the creation outcome of one batch.
type Summary struct {
	Created  int
	Failed   int
	Findings []domain.Finding
	// EntityIDs maps reference IDs to the identifiers of created parents.
	EntityIDs map[string]uuid.UUID
}

type Engine struct {
	store   Store
	workers int
	logger  *zap.Logger
}

type Option func(*Engine)

// WithWorkers bounds the number of concurrent draft transactions.
func WithWorkers(workers int) Option {
	return func(e *Engine) {
		if workers > 0 {
			e.workers = workers
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func NewEngine(store Store, opts ...Option) *Engine {
	engine := &Engine{store: store, workers: 4, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

type attempt struct {
	id      uuid.UUID
	err     error
	skipped bool
}

// Run attempts every outcome. A draft's failure never affects its siblings; the
// returned error is only set when ctx ends before every draft was attempted.
func (e *Engine) Run(ctx context.Context, scope Scope, outcomes []validation.Outcome, observe Observer) (Summary, error) {
	if observe == nil {
		observe = func(int, int) {}
	}
	attempts := make([]attempt, len(outcomes))
	for i := range attempts {
		attempts[i].skipped = true
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	var done atomic.Int64
	total := len(outcomes)

	for i, outcome := range outcomes {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			target := repository.DraftTarget{
				OrganizationID: scope.OrganizationID,
				BatchID:        scope.BatchID,
				RefID:          outcome.Draft.RefID,
			}
			id, err := e.store.CreateDraft(gctx, target, draftRows(outcome.Records))
			attempts[i] = attempt{id: id, err: err}
			if err != nil {
				e.logger.Debug("draft creation failed",
					zap.String("ref_id", outcome.Draft.RefID),
					zap.Error(err),
				)
			}
			observe(int(done.Add(1)), total)
			return nil
		})
	}
	waitErr := g.Wait()

	summary := Summary{EntityIDs: make(map[string]uuid.UUID)}
	for i, a := range attempts {
		if a.skipped {
			continue
		}
		if a.err != nil {
			summary.Failed++
			summary.Findings = append(summary.Findings, failureFinding(outcomes[i], a.err))
			continue
		}
		summary.Created++
		summary.EntityIDs[outcomes[i].Draft.RefID] = a.id
	}

	if waitErr != nil {
		return summary, waitErr
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// draftRows maps converted cell values onto table columns. The reference column
// has no table column and is carried through DraftTarget instead.
func draftRows(records []validation.Record) []repository.DraftRow {
	rows := make([]repository.DraftRow, 0, len(records))
	for _, record := range records {
		values := make(map[string]any, len(record.Values))
		for _, column := range record.Sheet.Columns {
			if column.DBColumn == "" {
				continue
			}
			if value, ok := record.Values[column.Header]; ok && value != nil {
				values[column.DBColumn] = value
			}
		}
		rows = append(rows, repository.DraftRow{
			Table:        record.Sheet.Table,
			ParentColumn: record.Sheet.ParentColumn,
			Values:       values,
		})
	}
	return rows
}

// failureFinding points a store rejection at the row and column that caused it when
// the store can tell, and at the basic-info row otherwise.
func failureFinding(outcome validation.Outcome, err error) domain.Finding {
	var record validation.Record
	if len(outcome.Records) > 0 {
		record = outcome.Records[0]
	} else {
		record.Row = outcome.Draft.Basic
	}

	field := ""
	message := "record could not be created: " + truncate(err.Error())
	var received *string

	var constraintErr *repository.ConstraintError
	if errors.As(err, &constraintErr) {
		if located, column, ok := locate(outcome.Records, constraintErr); ok {
			record = located
			field = column.Header
			if value, present := record.Values[column.Header]; present {
				text := schema.Normalize(value)
				received = &text
			}
		}
		message = constraintMessage(constraintErr, field, received)
	}

	return domain.Finding{
		RefID:     outcome.Draft.RefID,
		Sheet:     record.Row.Sheet,
		RowNumber: record.Row.Number,
		Field:     field,
		Message:   message,
		Severity:  domain.SeverityHigh,
		Category:  domain.CategoryCreation,
		Received:  received,
	}
}

func locate(records []validation.Record, constraintErr *repository.ConstraintError) (validation.Record, schema.Column, bool) {
	for _, record := range records {
		if record.Sheet.Table != constraintErr.Table {
			continue
		}
		for _, column := range record.Sheet.Columns {
			if column.DBColumn != "" && column.DBColumn == constraintErr.Column {
				return record, column, true
			}
		}
		if constraintErr.Column == "" {
			return record, schema.Column{}, true
		}
	}
	return validation.Record{}, schema.Column{}, false
}

func constraintMessage(constraintErr *repository.ConstraintError, field string, received *string) string {
	subject := field
	if subject == "" {
		subject = "record"
	}
	switch constraintErr.Kind {
	case repository.ConstraintUnique:
		if received != nil && *received != "" {
			return fmt.Sprintf("%s %s already exists", subject, *received)
		}
		return fmt.Sprintf("%s already exists", subject)
	case repository.ConstraintForeignKey:
		return fmt.Sprintf("%s refers to a record that does not exist", subject)
	case repository.ConstraintNotNull:
		return fmt.Sprintf("%s is required", subject)
	case repository.ConstraintCheck:
		return fmt.Sprintf("%s was rejected by a data rule (%s)", subject, constraintErr.Constraint)
	}
	return "record could not be created: " + truncate(constraintErr.Error())
}

func truncate(message string) string {
	if len(message) <= maxMessageLength {
		return message
	}
	return message[:maxMessageLength-3] + "..."
}
