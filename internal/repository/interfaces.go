package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/fleetload/internal/domain"
)

// BatchRepository persists batch lifecycle records.
type BatchRepository interface {
	Create(ctx context.Context, batch domain.Batch) (domain.Batch, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Batch, error)
	List(ctx context.Context, organizationID uuid.UUID, limit int, offset int) ([]domain.Batch, int, error)
	// Transition moves a batch from one status to another, failing with ErrBatchStatusConflict
	// when the stored status is no longer from.
	Transition(ctx context.Context, id uuid.UUID, from, to domain.BatchStatus, update domain.BatchUpdate) (domain.Batch, error)
	SetErrorReportPath(ctx context.Context, id uuid.UUID, path string) error
	// Touch refreshes updated_at while the batch is still in status, failing with
	// ErrBatchStatusConflict otherwise.
	Touch(ctx context.Context, id uuid.UUID, status domain.BatchStatus) error
	ListStale(ctx context.Context, before time.Time, limit int) ([]domain.Batch, error)
}

// FindingRepository persists validation and creation findings.
type FindingRepository interface {
	InsertMany(ctx context.Context, batchID uuid.UUID, findings []domain.Finding) (int64, error)
	List(ctx context.Context, batchID uuid.UUID, filter domain.FindingFilter, limit int, offset int) ([]domain.Finding, int, error)
	ListAll(ctx context.Context, batchID uuid.UUID) ([]domain.Finding, error)
}

// MasterDataRepository exposes the valid codes of each master-data collection.
type MasterDataRepository interface {
	Codes(ctx context.Context, collection string) ([]string, error)
}

// EntityStore reads and writes the entity tables described by schema descriptors.
type EntityStore interface {
	ExistingValues(ctx context.Context, table, column string, values []string) ([]string, error)
	CreateDraft(ctx context.Context, target DraftTarget, rows []DraftRow) (uuid.UUID, error)
}

// DraftTarget scopes the rows of one draft.
type DraftTarget struct {
	OrganizationID uuid.UUID
	BatchID        uuid.UUID
	RefID          string
}

// DraftRow is one table row of a draft. The first row is the parent record; later rows
// reference it through ParentColumn.
type DraftRow struct {
	Table        string
	ParentColumn string
	Values       map[string]any
}
