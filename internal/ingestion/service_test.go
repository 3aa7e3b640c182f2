package ingestion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/fleetload/internal/domain"
	"github.com/rpattn/fleetload/internal/repository"
	"github.com/rpattn/fleetload/internal/schema"
	"github.com/rpattn/fleetload/internal/template"
)

func TestUploadTemplateRoundTripCompletes(t *testing.T) {
	env := newTestEnv(t)
	desc := schema.Vehicle()

	batch := env.upload(t, "vehicle", "vehicles.xlsx", buildTemplate(t, desc))
	if batch.Status != domain.BatchStatusReceived {
		t.Fatalf("expected upload to return status received, got %s", batch.Status)
	}
	env.wait(t)

	final := env.batches.get(batch.ID)
	if final.Status != domain.BatchStatusCompleted {
		t.Fatalf("expected completed, got %s (notes: %v)", final.Status, deref(final.ProcessingNotes))
	}
	samples := len(desc.Basic().Samples)
	if final.TotalRows != samples || final.ValidCount != samples || final.InvalidCount != 0 {
		t.Fatalf("unexpected counters: %+v", final.BatchCounters)
	}
	if final.CreatedCount != samples || final.CreationFailedCount != 0 {
		t.Fatalf("expected every draft created, got %+v", final.BatchCounters)
	}
	if final.FindingCount != 0 || len(env.findings.all(batch.ID)) != 0 {
		t.Fatalf("expected no findings, got %d", final.FindingCount)
	}
	if final.HasReport() {
		t.Fatalf("clean batch must not offer an error report")
	}
	if _, _, err := env.service.ErrorReport(context.Background(), batch.ID); !errors.Is(err, ErrReportNotAvailable) {
		t.Fatalf("expected ErrReportNotAvailable, got %v", err)
	}
	if len(env.store.created) != samples {
		t.Fatalf("expected %d drafts written, got %d", samples, len(env.store.created))
	}

	events := env.progress.forBatch(batch.ID)
	if len(events) == 0 {
		t.Fatalf("expected progress events")
	}
	last := events[len(events)-1]
	if !last.Final || last.Percentage != 100 || last.Phase != domain.BatchStatusCompleted {
		t.Fatalf("unexpected final event: %+v", last)
	}
	if env.emitter.count() != 1 {
		t.Fatalf("expected one lifecycle event, got %d", env.emitter.count())
	}
}

func TestUploadCorruptedFileFails(t *testing.T) {
	env := newTestEnv(t)

	batch := env.upload(t, "vehicle", "broken.xlsx", []byte("definitely not a zip archive"))
	env.wait(t)

	final := env.batches.get(batch.ID)
	if final.Status != domain.BatchStatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	if strings.TrimSpace(deref(final.ProcessingNotes)) == "" {
		t.Fatalf("expected processing notes on a failed batch")
	}
	if final.FindingCount != 0 || len(env.findings.all(batch.ID)) != 0 {
		t.Fatalf("parse failures must not produce findings")
	}
	if _, _, err := env.service.ErrorReport(context.Background(), batch.ID); !errors.Is(err, ErrReportNotAvailable) {
		t.Fatalf("expected ErrReportNotAvailable, got %v", err)
	}
}

func TestUploadRejectsInvalidRequests(t *testing.T) {
	env := newTestEnv(t, WithLimits(64, 0))
	orgID := uuid.New()
	tests := []struct {
		name string
		req  UploadRequest
		want error
	}{
		{"missing organization", UploadRequest{EntityType: "vehicle", FileName: "a.xlsx", Data: strings.NewReader("x")}, ErrOrganizationRequired},
		{"unknown entity type", UploadRequest{OrganizationID: orgID, EntityType: "ship", FileName: "a.xlsx", Data: strings.NewReader("x")}, schema.ErrUnknownEntityType},
		{"wrong extension", UploadRequest{OrganizationID: orgID, EntityType: "vehicle", FileName: "a.csv", Data: strings.NewReader("x")}, ErrUnsupportedFormat},
		{"empty file", UploadRequest{OrganizationID: orgID, EntityType: "vehicle", FileName: "a.xlsx", Data: strings.NewReader("")}, ErrEmptyFile},
		{"too large", UploadRequest{OrganizationID: orgID, EntityType: "vehicle", FileName: "a.xlsx", Data: strings.NewReader(strings.Repeat("x", 65))}, ErrFileTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.service.Upload(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if env.batches.len() != 0 {
		t.Fatalf("rejected uploads must not create batches")
	}
}

func TestAllInvalidBatchEndsInValidationErrors(t *testing.T) {
	env := newTestEnv(t)
	desc := schema.Vehicle()
	payload := withBasicColumn(t, desc, buildTemplate(t, desc), "VIN", "BAD-VIN")

	batch := env.upload(t, "vehicle", "vehicles.xlsx", payload)
	env.wait(t)

	final := env.batches.get(batch.ID)
	if final.Status != domain.BatchStatusValidationErrors {
		t.Fatalf("expected validation_errors, got %s (notes: %v)", final.Status, deref(final.ProcessingNotes))
	}
	if final.ValidCount != 0 || final.InvalidCount != final.TotalRows || final.CreatedCount != 0 {
		t.Fatalf("unexpected counters: %+v", final.BatchCounters)
	}
	if len(env.store.created) != 0 {
		t.Fatalf("creation must be skipped when nothing is creatable")
	}
	if final.ErrorReportPath == nil {
		t.Fatalf("expected the error report to be prepared eagerly")
	}

	report, name, err := env.service.ErrorReport(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("error report: %v", err)
	}
	if len(report) == 0 || name != "vehicles_errors.xlsx" {
		t.Fatalf("unexpected report %q (%d bytes)", name, len(report))
	}

	// A missing cached copy is regenerated from stored findings.
	if err := os.Remove(*final.ErrorReportPath); err != nil {
		t.Fatalf("remove report: %v", err)
	}
	regenerated, _, err := env.service.ErrorReport(context.Background(), batch.ID)
	if err != nil || len(regenerated) == 0 {
		t.Fatalf("expected regenerated report, got %v", err)
	}
}

func TestCreationFailureIsIsolatedAndBatchCompletes(t *testing.T) {
	env := newTestEnv(t)
	env.store.failRefs = map[string]error{"VR002": &repository.ConstraintError{
		Kind: repository.ConstraintUnique, Table: "vehicles", Column: "vin", Constraint: "vehicles_vin_key",
	}}
	desc := schema.Vehicle()

	batch := env.upload(t, "vehicle", "vehicles.xlsx", buildTemplate(t, desc))
	env.wait(t)

	final := env.batches.get(batch.ID)
	if final.Status != domain.BatchStatusCompleted {
		t.Fatalf("expected completed despite creation failure, got %s", final.Status)
	}
	if final.CreatedCount != final.ValidCount-1 || final.CreationFailedCount != 1 {
		t.Fatalf("unexpected counters: %+v", final.BatchCounters)
	}
	if final.CreatedCount+final.CreationFailedCount > final.ValidCount {
		t.Fatalf("created + failed exceeds valid: %+v", final.BatchCounters)
	}

	findings := env.findings.all(batch.ID)
	if len(findings) != 1 || findings[0].Category != domain.CategoryCreation || findings[0].Severity != domain.SeverityHigh {
		t.Fatalf("expected one high creation finding, got %+v", findings)
	}
	if findings[0].RefID != "VR002" || findings[0].Field != "VIN" {
		t.Fatalf("expected finding on VR002 VIN, got %+v", findings[0])
	}
	if !final.HasReport() {
		t.Fatalf("expected an error report for the creation failure")
	}
}

func TestSecondUploadSeesValuesCreatedByFirst(t *testing.T) {
	env := newTestEnv(t)
	desc := schema.Vehicle()
	payload := buildTemplate(t, desc)

	first := env.upload(t, "vehicle", "vehicles.xlsx", payload)
	env.wait(t)
	second := env.upload(t, "vehicle", "vehicles.xlsx", payload)
	env.wait(t)

	if got := env.batches.get(first.ID).Status; got != domain.BatchStatusCompleted {
		t.Fatalf("expected first batch completed, got %s", got)
	}
	again := env.batches.get(second.ID)
	if again.Status != domain.BatchStatusValidationErrors {
		t.Fatalf("expected second batch to be rejected by store uniqueness, got %s", again.Status)
	}
	var storeUnique int
	for _, f := range env.findings.all(second.ID) {
		if f.Category == domain.CategoryStoreUnique {
			storeUnique++
		}
		if f.Category == domain.CategoryUniqueness {
			t.Fatalf("intra-batch uniqueness must not see rows of another batch: %+v", f)
		}
	}
	if storeUnique == 0 {
		t.Fatalf("expected store uniqueness findings on the second upload")
	}
}

func TestSweepFailsInterruptedBatches(t *testing.T) {
	env := newTestEnv(t)
	stale := domain.Batch{
		ID:             uuid.New(),
		OrganizationID: uuid.New(),
		EntityType:     domain.EntityTypeWarehouse,
		Status:         domain.BatchStatusValidating,
		UploadedAt:     time.Now().Add(-3 * time.Hour),
		UpdatedAt:      time.Now().Add(-2 * time.Hour),
	}
	fresh := stale
	fresh.ID = uuid.New()
	fresh.UpdatedAt = time.Now()
	env.batches.put(stale)
	env.batches.put(fresh)

	swept, err := env.service.Sweep(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 batch swept, got %d", swept)
	}
	got := env.batches.get(stale.ID)
	if got.Status != domain.BatchStatusFailed || deref(got.ProcessingNotes) != interruptedNote {
		t.Fatalf("unexpected swept batch: %s %q", got.Status, deref(got.ProcessingNotes))
	}
	if env.batches.get(fresh.ID).Status != domain.BatchStatusValidating {
		t.Fatalf("fresh batch must not be swept")
	}
}

func TestSweepSkipsBatchesRunningLocally(t *testing.T) {
	env := newTestEnv(t)
	stale := domain.Batch{
		ID:        uuid.New(),
		Status:    domain.BatchStatusCreating,
		UpdatedAt: time.Now().Add(-2 * time.Hour),
	}
	env.batches.put(stale)
	_, done := env.service.runs.start(stale.ID, 0)
	defer done()

	swept, err := env.service.Sweep(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 0 || env.batches.get(stale.ID).Status != domain.BatchStatusCreating {
		t.Fatalf("expected locally running batch to be left alone")
	}
}

func TestCreationProgressKeepsBatchAliveForOtherSweepers(t *testing.T) {
	env := newTestEnv(t)
	batch := domain.Batch{
		ID:        uuid.New(),
		Status:    domain.BatchStatusCreating,
		UpdatedAt: time.Now().Add(-2 * time.Hour),
	}
	env.batches.put(batch)
	clock := time.Now()
	env.service.now = func() time.Time { return clock }

	run := &batchRun{s: env.service, batch: batch, logger: env.service.logger}
	observe := run.creationObserver(context.Background())
	observe(1, 100)
	if env.batches.touches != 0 {
		t.Fatalf("expected no heartbeat before the interval elapsed, got %d", env.batches.touches)
	}
	clock = clock.Add(heartbeatInterval)
	observe(2, 100)
	if env.batches.touches != 1 {
		t.Fatalf("expected one heartbeat, got %d", env.batches.touches)
	}

	// The batch is not registered as running here, as on a sweeping peer.
	swept, err := env.service.Sweep(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 0 || env.batches.get(batch.ID).Status != domain.BatchStatusCreating {
		t.Fatalf("expected batch with recent progress to survive the sweep")
	}
}

func TestConcurrentProgressIsPublishedInOrder(t *testing.T) {
	env := newTestEnv(t)
	batch := domain.Batch{ID: uuid.New(), Status: domain.BatchStatusCreating}
	env.batches.put(batch)
	run := &batchRun{s: env.service, batch: batch, logger: env.service.logger}
	observe := run.creationObserver(context.Background())

	const total = 200
	var wg sync.WaitGroup
	for done := 1; done <= total; done++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			observe(done, total)
		}()
	}
	wg.Wait()

	events := env.progress.forBatch(batch.ID)
	if len(events) == 0 {
		t.Fatalf("expected progress events")
	}
	for i := 1; i < len(events); i++ {
		if events[i].Percentage <= events[i-1].Percentage {
			t.Fatalf("event %d went from %d%% to %d%%", i, events[i-1].Percentage, events[i].Percentage)
		}
	}
	if last := events[len(events)-1]; last.Percentage != pctCreating+pctCreatingSpan {
		t.Fatalf("expected final event at %d%%, got %d%%", pctCreating+pctCreatingSpan, last.Percentage)
	}
}

func TestHistoryRequiresOrganization(t *testing.T) {
	env := newTestEnv(t)
	if _, _, err := env.service.History(context.Background(), uuid.Nil, 10, 0); !errors.Is(err, ErrOrganizationRequired) {
		t.Fatalf("expected ErrOrganizationRequired, got %v", err)
	}
}

// --- helpers ---

type testEnv struct {
	service  *Service
	batches  *stubBatchRepo
	findings *stubFindingRepo
	store    *stubEntityStore
	progress *recordingPublisher
	emitter  *recordingEmitter
	orgID    uuid.UUID
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		batches:  newStubBatchRepo(),
		findings: &stubFindingRepo{},
		store:    &stubEntityStore{existing: map[string]map[string]bool{}},
		progress: &recordingPublisher{},
		emitter:  &recordingEmitter{},
		orgID:    uuid.New(),
	}
	base := []Option{
		WithStorageDirectory(t.TempDir()),
		WithWorkers(2, 2),
		WithProgress(env.progress),
		WithEmitter(env.emitter),
	}
	env.service = NewService(env.batches, env.findings, env.store, stubMaster{}, schema.DefaultRegistry(), append(base, opts...)...)
	return env
}

func (e *testEnv) upload(t *testing.T, entityType, name string, payload []byte) domain.Batch {
	t.Helper()
	batch, err := e.service.Upload(context.Background(), UploadRequest{
		OrganizationID: e.orgID,
		UploadedBy:     "tester",
		EntityType:     entityType,
		FileName:       name,
		Data:           bytes.NewReader(payload),
	})
	if err != nil {
		t.Fatalf("upload returned error: %v", err)
	}
	return batch
}

func (e *testEnv) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.service.Shutdown(ctx); err != nil {
		t.Fatalf("pipeline did not finish: %v", err)
	}
}

func buildTemplate(t *testing.T, desc schema.Descriptor) []byte {
	t.Helper()
	payload, err := template.Build(desc)
	if err != nil {
		t.Fatalf("build template: %v", err)
	}
	return payload
}

// withBasicColumn overwrites one basic-info column on every sample row.
func withBasicColumn(t *testing.T, desc schema.Descriptor, payload []byte, header, value string) []byte {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("open template: %v", err)
	}
	defer f.Close()

	basic := desc.Basic()
	col := -1
	for i, h := range basic.Headers() {
		if h == header {
			col = i + 1
		}
	}
	if col < 0 {
		t.Fatalf("column %s not found", header)
	}
	for i := range basic.Samples {
		cell, _ := excelize.CoordinatesToCellName(col, i+2)
		if err := f.SetCellValue(basic.Name, cell, value); err != nil {
			t.Fatalf("set cell: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

type stubBatchRepo struct {
	mu      sync.Mutex
	batches map[uuid.UUID]domain.Batch
	touches int
}

func newStubBatchRepo() *stubBatchRepo {
	return &stubBatchRepo{batches: map[uuid.UUID]domain.Batch{}}
}

func (s *stubBatchRepo) put(batch domain.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[batch.ID] = batch
}

func (s *stubBatchRepo) get(id uuid.UUID) domain.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches[id]
}

func (s *stubBatchRepo) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func (s *stubBatchRepo) Create(ctx context.Context, batch domain.Batch) (domain.Batch, error) {
	now := time.Now()
	batch.UploadedAt, batch.UpdatedAt = now, now
	s.put(batch)
	return batch, nil
}

func (s *stubBatchRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[id]
	if !ok {
		return domain.Batch{}, repository.ErrBatchNotFound
	}
	return batch, nil
}

func (s *stubBatchRepo) List(ctx context.Context, organizationID uuid.UUID, limit int, offset int) ([]domain.Batch, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []domain.Batch
	for _, batch := range s.batches {
		if batch.OrganizationID == organizationID {
			matched = append(matched, batch)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].UploadedAt.After(matched[j].UploadedAt) })
	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := min(offset+limit, total)
	return matched[offset:end], total, nil
}

func (s *stubBatchRepo) Transition(ctx context.Context, id uuid.UUID, from, to domain.BatchStatus, update domain.BatchUpdate) (domain.Batch, error) {
	if !from.CanTransitionTo(to) {
		return domain.Batch{}, fmt.Errorf("%w: %s -> %s", repository.ErrInvalidTransition, from, to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[id]
	if !ok {
		return domain.Batch{}, repository.ErrBatchNotFound
	}
	if batch.Status != from {
		return domain.Batch{}, fmt.Errorf("%w: expected %s, found %s", repository.ErrBatchStatusConflict, from, batch.Status)
	}
	batch.Status = to
	batch.UpdatedAt = time.Now()
	if update.Counters != nil {
		batch.BatchCounters = *update.Counters
	}
	if update.FindingCount != nil {
		batch.FindingCount = *update.FindingCount
	}
	if update.ProcessingNotes != nil {
		note := *update.ProcessingNotes
		batch.ProcessingNotes = &note
	}
	if to.IsTerminal() {
		now := time.Now()
		batch.CompletedAt = &now
	}
	s.batches[id] = batch
	return batch, nil
}

func (s *stubBatchRepo) SetErrorReportPath(ctx context.Context, id uuid.UUID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[id]
	if !ok {
		return repository.ErrBatchNotFound
	}
	batch.ErrorReportPath = &path
	s.batches[id] = batch
	return nil
}

func (s *stubBatchRepo) Touch(ctx context.Context, id uuid.UUID, status domain.BatchStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[id]
	if !ok || batch.Status != status {
		return repository.ErrBatchStatusConflict
	}
	batch.UpdatedAt = time.Now()
	s.touches++
	s.batches[id] = batch
	return nil
}

func (s *stubBatchRepo) ListStale(ctx context.Context, before time.Time, limit int) ([]domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []domain.Batch
	for _, batch := range s.batches {
		if !batch.Status.IsTerminal() && batch.UpdatedAt.Before(before) {
			stale = append(stale, batch)
		}
	}
	return stale, nil
}

type stubFindingRepo struct {
	mu       sync.Mutex
	findings []domain.Finding
}

func (s *stubFindingRepo) InsertMany(ctx context.Context, batchID uuid.UUID, findings []domain.Finding) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range findings {
		f.BatchID = batchID
		f.ID = int64(len(s.findings) + 1)
		s.findings = append(s.findings, f)
	}
	return int64(len(findings)), nil
}

func (s *stubFindingRepo) List(ctx context.Context, batchID uuid.UUID, filter domain.FindingFilter, limit int, offset int) ([]domain.Finding, int, error) {
	all := s.all(batchID)
	var matched []domain.Finding
	for _, f := range all {
		if filter.Sheet != "" && f.Sheet != filter.Sheet {
			continue
		}
		if filter.Severity != "" && f.Severity != filter.Severity {
			continue
		}
		matched = append(matched, f)
	}
	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	return matched[offset:min(offset+limit, total)], total, nil
}

func (s *stubFindingRepo) ListAll(ctx context.Context, batchID uuid.UUID) ([]domain.Finding, error) {
	return s.all(batchID), nil
}

func (s *stubFindingRepo) all(batchID uuid.UUID) []domain.Finding {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Finding
	for _, f := range s.findings {
		if f.BatchID == batchID {
			out = append(out, f)
		}
	}
	return out
}

// stubEntityStore remembers written values so later batches see them as existing.
type stubEntityStore struct {
	mu       sync.Mutex
	existing map[string]map[string]bool
	created  []repository.DraftTarget
	failRefs map[string]error
}

func (s *stubEntityStore) ExistingValues(ctx context.Context, table, column string, values []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found []string
	for _, v := range values {
		if s.existing[table+"."+column][v] {
			found = append(found, v)
		}
	}
	return found, nil
}

func (s *stubEntityStore) CreateDraft(ctx context.Context, target repository.DraftTarget, rows []repository.DraftRow) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failRefs[target.RefID]; err != nil {
		return uuid.Nil, err
	}
	for _, row := range rows {
		for column, value := range row.Values {
			key := row.Table + "." + column
			if s.existing[key] == nil {
				s.existing[key] = map[string]bool{}
			}
			s.existing[key][schema.Normalize(value)] = true
		}
	}
	s.created = append(s.created, target)
	return uuid.New(), nil
}

type stubMaster struct{}

func (stubMaster) Codes(ctx context.Context, collection string) ([]string, error) {
	codes := map[string][]string{
		"vehicle_types":     {"TRUCK", "TRAILER", "TANKER", "LCV", "CONTAINER"},
		"fuel_types":        {"DIESEL", "PETROL", "CNG", "LNG", "ELECTRIC"},
		"document_types":    {"RC", "INSURANCE", "PUC", "FITNESS", "PERMIT", "GST_CERTIFICATE", "PAN_CARD", "TRADE_LICENSE", "FIRE_NOC", "LEASE_DEED"},
		"transporter_types": {"FLEET_OWNER", "BROKER", "CARRIER", "THIRD_PARTY"},
		"warehouse_types":   {"DISTRIBUTION", "COLD_STORAGE", "BONDED", "CROSS_DOCK", "FULFILLMENT"},
	}
	return codes[collection], nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
}

func (p *recordingPublisher) Publish(event domain.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) forBatch(batchID uuid.UUID) []domain.ProgressEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.ProgressEvent
	for _, e := range p.events {
		if e.BatchID == batchID {
			out = append(out, e)
		}
	}
	return out
}

type recordingEmitter struct {
	mu      sync.Mutex
	batches []domain.Batch
}

func (e *recordingEmitter) Emit(ctx context.Context, batch domain.Batch) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batches = append(e.batches, batch)
	return nil
}

func (e *recordingEmitter) Close() error { return nil }

func (e *recordingEmitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.batches)
}

var _ repository.BatchRepository = (*stubBatchRepo)(nil)
var _ repository.FindingRepository = (*stubFindingRepo)(nil)
var _ repository.EntityStore = (*stubEntityStore)(nil)
var _ repository.MasterDataRepository = stubMaster{}
