// Package ingestion runs uploaded workbooks through parsing, validation and
// creation, and is the single writer of batch status.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rpattn/fleetload/internal/creation"
	"github.com/rpattn/fleetload/internal/domain"
	"github.com/rpattn/fleetload/internal/events"
	"github.com/rpattn/fleetload/internal/metrics"
	"github.com/rpattn/fleetload/internal/progress"
	"github.com/rpattn/fleetload/internal/report"
	"github.com/rpattn/fleetload/internal/repository"
	"github.com/rpattn/fleetload/internal/schema"
	"github.com/rpattn/fleetload/internal/template"
	"github.com/rpattn/fleetload/internal/validation"
	"github.com/rpattn/fleetload/internal/workbook"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not an xlsx workbook.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrEmptyFile is returned for zero-byte uploads.
	ErrEmptyFile = errors.New("uploaded file is empty")
	// ErrFileTooLarge is returned when an upload exceeds the size ceiling.
	ErrFileTooLarge = errors.New("uploaded file is too large")
	// ErrReportNotAvailable is returned when a batch has nothing to report.
	ErrReportNotAvailable = errors.New("error report not available")
	// ErrOrganizationRequired is returned when a request carries no organization scope.
	ErrOrganizationRequired = errors.New("organization is required")
)

const (
	defaultMaxFileSize = 10 << 20
	defaultMaxRows     = 5000
	uploadExtension    = ".xlsx"
)

// Service owns the batch lifecycle.
type Service struct {
	batches  repository.BatchRepository
	findings repository.FindingRepository
	store    repository.EntityStore
	master   repository.MasterDataRepository
	schemas  *schema.Registry

	progress progress.Publisher
	emitter  events.Emitter
	reports  *report.Generator

	storageDir        string
	maxFileSize       int64
	maxRows           int
	validationWorkers int
	creationWorkers   int
	timeout           time.Duration

	runs   *runRegistry
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Service)

// WithStorageDirectory sets where uploads and error reports are kept.
func WithStorageDirectory(dir string) Option {
	return func(s *Service) {
		if strings.TrimSpace(dir) != "" {
			s.storageDir = filepath.Clean(dir)
		}
	}
}

// WithLimits sets the upload size and row ceilings.
func WithLimits(maxFileSize int64, maxRows int) Option {
	return func(s *Service) {
		if maxFileSize > 0 {
			s.maxFileSize = maxFileSize
		}
		if maxRows > 0 {
			s.maxRows = maxRows
		}
	}
}

// WithWorkers sizes the validation and creation pools independently.
func WithWorkers(validationWorkers, creationWorkers int) Option {
	return func(s *Service) {
		if validationWorkers > 0 {
			s.validationWorkers = validationWorkers
		}
		if creationWorkers > 0 {
			s.creationWorkers = creationWorkers
		}
	}
}

// WithPipelineTimeout bounds a whole batch run. Zero leaves runs unbounded.
func WithPipelineTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout >= 0 {
			s.timeout = timeout
		}
	}
}

func WithProgress(publisher progress.Publisher) Option {
	return func(s *Service) {
		if publisher != nil {
			s.progress = publisher
		}
	}
}

func WithEmitter(emitter events.Emitter) Option {
	return func(s *Service) {
		if emitter != nil {
			s.emitter = emitter
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(
	batches repository.BatchRepository,
	findings repository.FindingRepository,
	store repository.EntityStore,
	master repository.MasterDataRepository,
	schemas *schema.Registry,
	opts ...Option,
) *Service {
	service := &Service{
		batches:           batches,
		findings:          findings,
		store:             store,
		master:            master,
		schemas:           schemas,
		progress:          progress.NewHub(),
		emitter:           events.Nop{},
		reports:           report.NewGenerator(),
		storageDir:        filepath.Join(os.TempDir(), "fleetload"),
		maxFileSize:       defaultMaxFileSize,
		maxRows:           defaultMaxRows,
		validationWorkers: 8,
		creationWorkers:   4,
		runs:              newRunRegistry(),
		logger:            zap.NewNop(),
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	if service.schemas == nil {
		service.schemas = schema.DefaultRegistry()
	}
	return service
}

// UploadRequest describes one accepted upload.
type UploadRequest struct {
	OrganizationID uuid.UUID
	UploadedBy     string
	EntityType     string
	FileName       string
	Data           io.Reader
}

// Upload checks the file, records a received batch and starts its pipeline in
// the background. It returns as soon as the batch is persisted.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (domain.Batch, error) {
	if req.OrganizationID == uuid.Nil {
		return domain.Batch{}, ErrOrganizationRequired
	}
	desc, err := s.schemas.Lookup(req.EntityType)
	if err != nil {
		return domain.Batch{}, err
	}
	fileName := filepath.Base(strings.TrimSpace(req.FileName))
	if !strings.EqualFold(filepath.Ext(fileName), uploadExtension) {
		return domain.Batch{}, fmt.Errorf("%w: %q, expected %s", ErrUnsupportedFormat, fileName, uploadExtension)
	}
	if req.Data == nil {
		return domain.Batch{}, ErrEmptyFile
	}

	payload, err := io.ReadAll(io.LimitReader(req.Data, s.maxFileSize+1))
	if err != nil {
		return domain.Batch{}, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(payload) == 0 {
		return domain.Batch{}, ErrEmptyFile
	}
	if int64(len(payload)) > s.maxFileSize {
		return domain.Batch{}, fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, s.maxFileSize)
	}
	metrics.UploadBytes.Observe(float64(len(payload)))

	batchID := uuid.New()
	sourcePath, err := s.writeFile(batchID.String()+uploadExtension, payload)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("failed to store upload: %w", err)
	}

	batch, err := s.batches.Create(ctx, domain.Batch{
		ID:             batchID,
		OrganizationID: req.OrganizationID,
		EntityType:     desc.EntityType,
		FileName:       fileName,
		UploadedBy:     req.UploadedBy,
		Status:         domain.BatchStatusReceived,
		SourcePath:     sourcePath,
	})
	if err != nil {
		_ = os.Remove(sourcePath)
		return domain.Batch{}, err
	}

	s.logger.Info("batch received",
		zap.String("batch_id", batch.ID.String()),
		zap.String("entity_type", string(desc.EntityType)),
		zap.String("file_name", fileName),
		zap.Int("bytes", len(payload)),
	)
	s.launch(batch, desc, payload)
	return batch, nil
}

// Status returns the persisted batch.
func (s *Service) Status(ctx context.Context, batchID uuid.UUID) (domain.Batch, error) {
	return s.batches.GetByID(ctx, batchID)
}

// History lists an organization's batches, newest first, with the total count.
func (s *Service) History(ctx context.Context, organizationID uuid.UUID, limit, offset int) ([]domain.Batch, int, error) {
	if organizationID == uuid.Nil {
		return nil, 0, ErrOrganizationRequired
	}
	return s.batches.List(ctx, organizationID, limit, offset)
}

// Findings pages through a batch's findings.
func (s *Service) Findings(ctx context.Context, batchID uuid.UUID, filter domain.FindingFilter, limit, offset int) ([]domain.Finding, int, error) {
	if _, err := s.batches.GetByID(ctx, batchID); err != nil {
		return nil, 0, err
	}
	return s.findings.List(ctx, batchID, filter, limit, offset)
}

// ErrorReport returns the batch's error workbook, regenerating it when the stored
// copy is missing.
func (s *Service) ErrorReport(ctx context.Context, batchID uuid.UUID) ([]byte, string, error) {
	batch, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, "", err
	}
	if !batch.HasReport() {
		return nil, "", ErrReportNotAvailable
	}
	name := reportFileName(batch)

	if batch.ErrorReportPath != nil {
		payload, readErr := os.ReadFile(*batch.ErrorReportPath)
		if readErr == nil {
			return payload, name, nil
		}
		s.logger.Warn("stored error report unreadable, regenerating",
			zap.String("batch_id", batch.ID.String()),
			zap.Error(readErr),
		)
	}

	desc, err := s.schemas.Lookup(string(batch.EntityType))
	if err != nil {
		return nil, "", err
	}
	findings, err := s.findings.ListAll(ctx, batch.ID)
	if err != nil {
		return nil, "", err
	}
	payload, err := s.renderReport(ctx, batch, desc, s.loadSource(batch, desc), findings)
	if err != nil {
		if errors.Is(err, report.ErrNothingToReport) {
			return nil, "", ErrReportNotAvailable
		}
		return nil, "", err
	}
	return payload, name, nil
}

// Template builds the upload workbook for an entity type.
func (s *Service) Template(entityType string) ([]byte, string, error) {
	desc, err := s.schemas.Lookup(entityType)
	if err != nil {
		return nil, "", err
	}
	payload, err := template.Build(desc)
	if err != nil {
		return nil, "", err
	}
	return payload, template.FileName(desc), nil
}

// EntityTypes lists the accepted entity types.
func (s *Service) EntityTypes() []domain.EntityType {
	return s.schemas.EntityTypes()
}

// Shutdown waits for in-flight batches. When ctx ends first the remaining runs
// are cancelled and left for the stale sweeper.
func (s *Service) Shutdown(ctx context.Context) error {
	if err := s.runs.wait(ctx); err != nil {
		s.logger.Warn("cancelling in-flight batches", zap.Int("batches", s.runs.len()))
		s.runs.cancelAll()
		return err
	}
	return nil
}

// renderReport writes the report next to the upload and records its path.
func (s *Service) renderReport(ctx context.Context, batch domain.Batch, desc schema.Descriptor, wb *workbook.Workbook, findings []domain.Finding) ([]byte, error) {
	payload, err := s.reports.Render(desc, wb, findings)
	if err != nil {
		return nil, err
	}
	path, err := s.writeFile(batch.ID.String()+"_errors"+uploadExtension, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to store error report: %w", err)
	}
	if err := s.batches.SetErrorReportPath(ctx, batch.ID, path); err != nil {
		return nil, err
	}
	return payload, nil
}

// loadSource re-reads the stored upload. A report without the original cell
// values is still useful, so failures yield nil.
func (s *Service) loadSource(batch domain.Batch, desc schema.Descriptor) *workbook.Workbook {
	if batch.SourcePath == "" {
		return nil
	}
	payload, err := os.ReadFile(batch.SourcePath)
	if err != nil {
		return nil
	}
	wb, err := workbook.Parse(payload, desc.Layout())
	if err != nil {
		return nil
	}
	return wb
}

func (s *Service) writeFile(name string, payload []byte) (string, error) {
	if err := os.MkdirAll(s.storageDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(s.storageDir, name)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func reportFileName(batch domain.Batch) string {
	base := strings.TrimSuffix(batch.FileName, filepath.Ext(batch.FileName))
	if base == "" {
		base = batch.ID.String()
	}
	return base + "_errors" + uploadExtension
}

func (s *Service) validationEngine() *validation.Engine {
	return validation.NewEngine(s.store, s.master,
		validation.WithWorkers(s.validationWorkers),
		validation.WithLogger(s.logger),
	)
}

func (s *Service) creationEngine() *creation.Engine {
	return creation.NewEngine(s.store,
		creation.WithWorkers(s.creationWorkers),
		creation.WithLogger(s.logger),
	)
}
