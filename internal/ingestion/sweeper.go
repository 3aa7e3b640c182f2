package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/rpattn/fleetload/internal/domain"
	"github.com/rpattn/fleetload/internal/metrics"
	"github.com/rpattn/fleetload/internal/repository"
)

const (
	interruptedNote = "processing interrupted"
	sweepBatchSize  = 100
)

// Sweeper fails batches whose pipeline died with the process that ran it.
// Batches still running in this process are left alone.
type Sweeper struct {
	service    *Service
	staleAfter time.Duration
	cron       *cron.Cron
	logger     *zap.Logger
}

// NewSweeper schedules Sweep on a cron spec such as "@every 5m".
func NewSweeper(service *Service, schedule string, staleAfter time.Duration) (*Sweeper, error) {
	sw := &Sweeper{
		service:    service,
		staleAfter: staleAfter,
		cron:       cron.New(),
		logger:     service.logger.Named("sweeper"),
	}
	if _, err := sw.cron.AddFunc(schedule, sw.tick); err != nil {
		return nil, fmt.Errorf("invalid sweeper schedule %q: %w", schedule, err)
	}
	return sw, nil
}

func (sw *Sweeper) Start() {
	sw.cron.Start()
}

// Stop halts scheduling and waits for a running sweep.
func (sw *Sweeper) Stop() {
	<-sw.cron.Stop().Done()
}

func (sw *Sweeper) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	swept, err := sw.service.Sweep(ctx, sw.staleAfter)
	if err != nil {
		sw.logger.Error("stale batch sweep failed", zap.Error(err))
		return
	}
	if swept > 0 {
		sw.logger.Info("marked stale batches failed", zap.Int("batches", swept))
	}
}

// Sweep fails non-terminal batches untouched for longer than staleAfter that are
// not running in this process. It returns how many batches were failed.
func (s *Service) Sweep(ctx context.Context, staleAfter time.Duration) (int, error) {
	stale, err := s.batches.ListStale(ctx, s.now().Add(-staleAfter), sweepBatchSize)
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, batch := range stale {
		if s.runs.active(batch.ID) {
			continue
		}
		note := interruptedNote
		updated, err := s.batches.Transition(ctx, batch.ID, batch.Status, domain.BatchStatusFailed, domain.BatchUpdate{
			ProcessingNotes: &note,
		})
		if err != nil {
			if errors.Is(err, repository.ErrBatchStatusConflict) {
				continue
			}
			return swept, err
		}
		swept++
		metrics.SweptBatches.Inc()
		metrics.RecordBatch(updated.EntityType, updated.Status, s.now().Sub(updated.UploadedAt).Seconds())
		s.progress.Publish(domain.ProgressEvent{
			BatchID:    updated.ID,
			Phase:      updated.Status,
			Percentage: pctDone,
			Message:    "Processing failed: " + interruptedNote,
			Type:       domain.ProgressError,
			Final:      true,
		})
		if err := s.emitter.Emit(ctx, updated); err != nil {
			s.logger.Warn("failed to emit batch event", zap.String("batch_id", updated.ID.String()), zap.Error(err))
		}
	}
	return swept, nil
}
