package ingestion

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type run struct {
	cancel  context.CancelFunc
	started time.Time
}

// runRegistry tracks the batches this process is currently running. Entries
// are removed when their pipeline returns.
type runRegistry struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*run
	wg   sync.WaitGroup
}

func newRunRegistry() *runRegistry {
	return &runRegistry{runs: make(map[uuid.UUID]*run)}
}

// start registers a run and returns its context together with the teardown func
// the pipeline must call when it finishes.
func (r *runRegistry) start(batchID uuid.UUID, timeout time.Duration) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	if timeout > 0 {
		timeoutCtx, timeoutCancel := context.WithTimeout(ctx, timeout)
		baseCancel := cancel
		ctx = timeoutCtx
		cancel = func() {
			timeoutCancel()
			baseCancel()
		}
	}

	r.mu.Lock()
	r.runs[batchID] = &run{cancel: cancel, started: time.Now()}
	r.wg.Add(1)
	r.mu.Unlock()

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			cancel()
			r.mu.Lock()
			delete(r.runs, batchID)
			r.mu.Unlock()
			r.wg.Done()
		})
	}
}

func (r *runRegistry) active(batchID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.runs[batchID]
	return ok
}

func (r *runRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func (r *runRegistry) cancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, run := range r.runs {
		run.cancel()
	}
}

// wait blocks until every registered run has finished or ctx ends.
func (r *runRegistry) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
