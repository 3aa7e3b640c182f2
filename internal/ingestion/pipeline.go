package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rpattn/fleetload/internal/creation"
	"github.com/rpattn/fleetload/internal/domain"
	"github.com/rpattn/fleetload/internal/draft"
	"github.com/rpattn/fleetload/internal/metrics"
	"github.com/rpattn/fleetload/internal/repository"
	"github.com/rpattn/fleetload/internal/schema"
	"github.com/rpattn/fleetload/internal/validation"
	"github.com/rpattn/fleetload/internal/workbook"
)

const maxNoteLength = 512

// Progress bands per phase.
const (
	pctParsing      = 5
	pctValidating   = 20
	pctRules        = 40
	pctValidateSpan = 20
	pctCreating     = 60
	pctCreatingSpan = 35
	pctDone         = 100
)

// batchRun is the single writer of one batch's status while its pipeline runs.
type batchRun struct {
	s            *Service
	desc         schema.Descriptor
	batch        domain.Batch
	counters     domain.BatchCounters
	findingCount int
	notes        []string
	started      time.Time
	logger       *zap.Logger
}

func (s *Service) launch(batch domain.Batch, desc schema.Descriptor, payload []byte) {
	ctx, done := s.runs.start(batch.ID, s.timeout)
	r := &batchRun{
		s:       s,
		desc:    desc,
		batch:   batch,
		started: s.now(),
		logger: s.logger.With(
			zap.String("batch_id", batch.ID.String()),
			zap.String("entity_type", string(desc.EntityType)),
		),
	}
	go func() {
		defer done()
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("panic while processing batch", zap.Any("panic", rec), zap.Stack("stack"))
				r.fail(fmt.Errorf("panic: %v", rec))
			}
		}()
		if err := r.execute(ctx, payload); err != nil {
			if errors.Is(err, repository.ErrBatchStatusConflict) {
				r.logger.Warn("batch status changed by another writer, stopping", zap.Error(err))
				return
			}
			r.fail(err)
		}
	}()
}

func (r *batchRun) execute(ctx context.Context, payload []byte) error {
	if err := r.transition(ctx, domain.BatchStatusParsing, domain.BatchUpdate{}); err != nil {
		return err
	}
	r.publish(domain.BatchStatusParsing, pctParsing, "Reading workbook", domain.ProgressInfo)

	phase := r.s.now()
	wb, err := workbook.Parse(payload, r.desc.Layout(), workbook.WithMaxRows(r.s.maxRows))
	if err != nil {
		return fmt.Errorf("failed to parse workbook: %w", err)
	}
	set := draft.Resolve(wb, r.desc)
	metrics.RecordPhase(domain.BatchStatusParsing, r.s.now().Sub(phase).Seconds())

	r.counters.TotalRows = len(set.Drafts)
	if err := r.transition(ctx, domain.BatchStatusValidating, domain.BatchUpdate{Counters: &r.counters}); err != nil {
		return err
	}
	r.publish(domain.BatchStatusValidating, pctValidating,
		fmt.Sprintf("Validating %d records", len(set.Drafts)), domain.ProgressInfo)

	phase = r.s.now()
	result, err := r.s.validationEngine().Validate(ctx, r.desc, set, r.validationObserver(ctx))
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	r.counters.ValidCount, r.counters.InvalidCount = result.Counts()
	findings := result.Findings()
	if err := r.saveFindings(ctx, findings); err != nil {
		return err
	}
	metrics.RecordPhase(domain.BatchStatusValidating, r.s.now().Sub(phase).Seconds())
	metrics.RecordDrafts(r.desc.EntityType, "invalid", r.counters.InvalidCount)

	if r.counters.ValidCount == 0 {
		r.prepareReport(ctx, wb, findings)
		return r.finish(ctx, domain.BatchStatusValidationErrors)
	}

	if err := r.transition(ctx, domain.BatchStatusCreating, domain.BatchUpdate{
		Counters:     &r.counters,
		FindingCount: &r.findingCount,
	}); err != nil {
		return err
	}
	r.publish(domain.BatchStatusCreating, pctCreating,
		fmt.Sprintf("Creating %d records", r.counters.ValidCount), domain.ProgressInfo)

	phase = r.s.now()
	scope := creation.Scope{OrganizationID: r.batch.OrganizationID, BatchID: r.batch.ID}
	summary, runErr := r.s.creationEngine().Run(ctx, scope, result.Creatable(), r.creationObserver(ctx))
	r.counters.CreatedCount = summary.Created
	r.counters.CreationFailedCount = summary.Failed
	if err := r.saveFindings(ctx, summary.Findings); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("creation stopped after %d of %d records: %w",
			summary.Created+summary.Failed, r.counters.ValidCount, runErr)
	}
	metrics.RecordPhase(domain.BatchStatusCreating, r.s.now().Sub(phase).Seconds())
	metrics.RecordDrafts(r.desc.EntityType, "created", summary.Created)
	metrics.RecordDrafts(r.desc.EntityType, "creation_failed", summary.Failed)

	r.prepareReport(ctx, wb, append(findings, summary.Findings...))
	return r.finish(ctx, domain.BatchStatusCompleted)
}

func (r *batchRun) transition(ctx context.Context, to domain.BatchStatus, update domain.BatchUpdate) error {
	updated, err := r.s.batches.Transition(ctx, r.batch.ID, r.batch.Status, to, update)
	if err != nil {
		return err
	}
	r.logger.Debug("batch transitioned", zap.String("from", string(r.batch.Status)), zap.String("to", string(to)))
	r.batch = updated
	return nil
}

func (r *batchRun) saveFindings(ctx context.Context, findings []domain.Finding) error {
	if len(findings) == 0 {
		return nil
	}
	for i := range findings {
		findings[i].BatchID = r.batch.ID
	}
	if _, err := r.s.findings.InsertMany(ctx, r.batch.ID, findings); err != nil {
		return fmt.Errorf("failed to store findings: %w", err)
	}
	r.findingCount += len(findings)
	metrics.RecordFindings(findings)
	return nil
}

// prepareReport renders the error workbook up front. Failures only cost the
// cached copy; the download path regenerates on demand.
func (r *batchRun) prepareReport(ctx context.Context, wb *workbook.Workbook, findings []domain.Finding) {
	if len(findings) == 0 {
		return
	}
	if _, err := r.s.renderReport(ctx, r.batch, r.desc, wb, findings); err != nil {
		r.logger.Warn("failed to prepare error report", zap.Error(err))
		r.notes = append(r.notes, "error report will be generated on first download")
	}
}

func (r *batchRun) finish(ctx context.Context, status domain.BatchStatus) error {
	update := domain.BatchUpdate{Counters: &r.counters, FindingCount: &r.findingCount}
	if len(r.notes) > 0 {
		note := truncateNote(strings.Join(r.notes, "; "))
		update.ProcessingNotes = &note
	}
	if err := r.transition(ctx, status, update); err != nil {
		return err
	}

	kind := domain.ProgressSuccess
	message := fmt.Sprintf("Created %d of %d records", r.counters.CreatedCount, r.counters.TotalRows)
	switch {
	case status == domain.BatchStatusValidationErrors:
		kind = domain.ProgressError
		message = fmt.Sprintf("No records could be created; %d findings reported", r.findingCount)
	case r.findingCount > 0:
		kind = domain.ProgressWarning
		message = fmt.Sprintf("%s; %d findings reported", message, r.findingCount)
	}
	r.complete(kind, message)
	return nil
}

// fail moves the batch to failed with a note. It runs on a fresh context since
// the run's own context may be what ended.
func (r *batchRun) fail(cause error) {
	if r.batch.Status.IsTerminal() {
		r.logger.Error("error after batch finished", zap.Error(cause))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	note := truncateNote(cause.Error())
	updated, err := r.s.batches.Transition(ctx, r.batch.ID, r.batch.Status, domain.BatchStatusFailed, domain.BatchUpdate{
		Counters:        &r.counters,
		FindingCount:    &r.findingCount,
		ProcessingNotes: &note,
	})
	if err != nil {
		r.logger.Error("failed to mark batch failed", zap.Error(err), zap.NamedError("cause", cause))
		return
	}
	r.batch = updated
	r.logger.Error("batch failed", zap.Error(cause))
	r.complete(domain.ProgressError, "Processing failed: "+note)
}

// complete announces a terminal status to subscribers, metrics and downstream consumers.
func (r *batchRun) complete(kind domain.ProgressType, message string) {
	r.s.progress.Publish(domain.ProgressEvent{
		BatchID:    r.batch.ID,
		Phase:      r.batch.Status,
		Percentage: pctDone,
		Message:    message,
		Type:       kind,
		Final:      true,
	})
	metrics.RecordBatch(r.desc.EntityType, r.batch.Status, r.s.now().Sub(r.started).Seconds())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.s.emitter.Emit(ctx, r.batch); err != nil {
		r.logger.Warn("failed to emit batch event", zap.Error(err))
	}

	r.logger.Info("batch finished",
		zap.String("status", string(r.batch.Status)),
		zap.Int("total_rows", r.counters.TotalRows),
		zap.Int("valid", r.counters.ValidCount),
		zap.Int("invalid", r.counters.InvalidCount),
		zap.Int("created", r.counters.CreatedCount),
		zap.Int("creation_failed", r.counters.CreationFailedCount),
		zap.Int("findings", r.findingCount),
	)
}

func (r *batchRun) publish(phase domain.BatchStatus, percentage int, message string, kind domain.ProgressType) {
	r.s.progress.Publish(domain.ProgressEvent{
		BatchID:    r.batch.ID,
		Phase:      phase,
		Percentage: percentage,
		Message:    message,
		Type:       kind,
	})
}

// heartbeatInterval paces updated_at refreshes while a phase makes progress, so
// sweepers on other instances keep seeing the batch as alive.
const heartbeatInterval = 30 * time.Second

// stepper publishes at most one event per whole percentage point.
type stepper struct {
	mu   sync.Mutex
	last int
	beat time.Time
}

// step runs emit under the lock when pct moved past the last published value or
// final is set, so events leave in percentage order. It reports whether a
// heartbeat is due at now.
func (st *stepper) step(pct int, final bool, now time.Time, emit func()) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if pct > st.last || final {
		st.last = max(st.last, pct)
		emit()
	}
	if now.Sub(st.beat) < heartbeatInterval {
		return false
	}
	st.beat = now
	return true
}

func (r *batchRun) heartbeat(ctx context.Context, status domain.BatchStatus) {
	if err := r.s.batches.Touch(ctx, r.batch.ID, status); err != nil {
		r.logger.Warn("failed to refresh batch heartbeat", zap.Error(err))
	}
}

func (r *batchRun) validationObserver(ctx context.Context) validation.Observer {
	st := &stepper{last: pctValidating, beat: r.s.now()}
	return func(stage validation.Stage, done, total int) {
		if total == 0 {
			return
		}
		base, label := pctValidating, "Checked fields of"
		if stage == validation.StageRules {
			base, label = pctRules, "Checked rules for"
		}
		pct := base + pctValidateSpan*done/total
		due := st.step(pct, done == total, r.s.now(), func() {
			r.publish(domain.BatchStatusValidating, pct,
				fmt.Sprintf("%s %d of %d records", label, done, total), domain.ProgressInfo)
		})
		if due {
			r.heartbeat(ctx, domain.BatchStatusValidating)
		}
	}
}

func (r *batchRun) creationObserver(ctx context.Context) creation.Observer {
	st := &stepper{last: pctCreating, beat: r.s.now()}
	return func(done, total int) {
		if total == 0 {
			return
		}
		pct := pctCreating + pctCreatingSpan*done/total
		due := st.step(pct, done == total, r.s.now(), func() {
			r.publish(domain.BatchStatusCreating, pct,
				fmt.Sprintf("Attempted %d of %d records", done, total), domain.ProgressInfo)
		})
		if due {
			r.heartbeat(ctx, domain.BatchStatusCreating)
		}
	}
}

func truncateNote(note string) string {
	if len(note) > maxNoteLength {
		return note[:maxNoteLength]
	}
	return note
}
