package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlbuilder "github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/fleetload/internal/domain"
)

const batchTable = "ingest_batches"

var batchColumns = []string{
	"id", "organization_id", "entity_type", "file_name", "uploaded_by", "status",
	"source_path", "error_report_path", "processing_notes", "finding_count",
	"total_rows", "valid_count", "invalid_count", "created_count", "creation_failed_count",
	"uploaded_at", "updated_at", "completed_at",
}

type batchRepository struct {
	pool *pgxpool.Pool
}

// NewBatchRepository wires a repository backed by pgxpool.
func NewBatchRepository(pool *pgxpool.Pool) BatchRepository {
	return &batchRepository{pool: pool}
}

func (r *batchRepository) Create(ctx context.Context, batch domain.Batch) (domain.Batch, error) {
	if r.pool == nil {
		return domain.Batch{}, fmt.Errorf("batch repository not initialized")
	}
	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	if batch.Status == "" {
		batch.Status = domain.BatchStatusReceived
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(batchTable)
	ib.Cols("id", "organization_id", "entity_type", "file_name", "uploaded_by", "status", "source_path")
	ib.Values(batch.ID, batch.OrganizationID, string(batch.EntityType), batch.FileName, batch.UploadedBy, string(batch.Status), batch.SourcePath)
	ib.Returning(batchColumns...)

	query, args := ib.Build()
	created, err := scanBatch(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return domain.Batch{}, fmt.Errorf("failed to create batch: %w", err)
	}
	return created, nil
}

func (r *batchRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Batch, error) {
	if r.pool == nil {
		return domain.Batch{}, fmt.Errorf("batch repository not initialized")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(batchColumns...)
	sb.From(batchTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	batch, err := scanBatch(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Batch{}, ErrBatchNotFound
		}
		return domain.Batch{}, fmt.Errorf("failed to get batch: %w", err)
	}
	return batch, nil
}

func (r *batchRepository) List(ctx context.Context, organizationID uuid.UUID, limit int, offset int) ([]domain.Batch, int, error) {
	if r.pool == nil {
		return nil, 0, fmt.Errorf("batch repository not initialized")
	}
	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From(batchTable)
	countSb.Where(countSb.Equal("organization_id", organizationID))

	countQuery, countArgs := countSb.Build()
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count batches: %w", err)
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(batchColumns...)
	sb.From(batchTable)
	sb.Where(sb.Equal("organization_id", organizationID))
	sb.OrderBy("uploaded_at DESC", "id DESC")
	sb.Limit(limit).Offset(offset)

	query, args := sb.Build()
	batches, err := r.queryBatches(ctx, query, args)
	if err != nil {
		return nil, 0, err
	}
	return batches, total, nil
}

func (r *batchRepository) Transition(ctx context.Context, id uuid.UUID, from, to domain.BatchStatus, update domain.BatchUpdate) (domain.Batch, error) {
	if r.pool == nil {
		return domain.Batch{}, fmt.Errorf("batch repository not initialized")
	}
	if !from.CanTransitionTo(to) {
		return domain.Batch{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(batchTable)
	assignments := []string{
		ub.Assign("status", string(to)),
		"updated_at = now()",
	}
	if update.Counters != nil {
		assignments = append(assignments,
			ub.Assign("total_rows", update.Counters.TotalRows),
			ub.Assign("valid_count", update.Counters.ValidCount),
			ub.Assign("invalid_count", update.Counters.InvalidCount),
			ub.Assign("created_count", update.Counters.CreatedCount),
			ub.Assign("creation_failed_count", update.Counters.CreationFailedCount),
		)
	}
	if update.FindingCount != nil {
		assignments = append(assignments, ub.Assign("finding_count", *update.FindingCount))
	}
	if update.ProcessingNotes != nil {
		assignments = append(assignments, ub.Assign("processing_notes", *update.ProcessingNotes))
	}
	if to.IsTerminal() {
		assignments = append(assignments, "completed_at = now()")
	}
	ub.Set(assignments...)
	ub.Where(ub.Equal("id", id), ub.Equal("status", string(from)))

	query, args := ub.Build()
	query += " RETURNING " + strings.Join(batchColumns, ", ")

	batch, err := scanBatch(r.pool.QueryRow(ctx, query, args...))
	if err == nil {
		return batch, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Batch{}, fmt.Errorf("failed to transition batch: %w", err)
	}

	current, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return domain.Batch{}, getErr
	}
	return domain.Batch{}, fmt.Errorf("%w: expected %s, found %s", ErrBatchStatusConflict, from, current.Status)
}

func (r *batchRepository) SetErrorReportPath(ctx context.Context, id uuid.UUID, path string) error {
	if r.pool == nil {
		return fmt.Errorf("batch repository not initialized")
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(batchTable)
	ub.Set(ub.Assign("error_report_path", path), "updated_at = now()")
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to set error report path: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

func (r *batchRepository) Touch(ctx context.Context, id uuid.UUID, status domain.BatchStatus) error {
	if r.pool == nil {
		return fmt.Errorf("batch repository not initialized")
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(batchTable)
	ub.Set("updated_at = now()")
	ub.Where(ub.Equal("id", id), ub.Equal("status", string(status)))

	query, args := ub.Build()
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to touch batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: batch is no longer %s", ErrBatchStatusConflict, status)
	}
	return nil
}

func (r *batchRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]domain.Batch, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("batch repository not initialized")
	}
	if limit <= 0 {
		limit = 200
	}

	active := domain.ActiveBatchStatuses()
	statuses := make([]any, len(active))
	for i, status := range active {
		statuses[i] = string(status)
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(batchColumns...)
	sb.From(batchTable)
	sb.Where(
		sb.In("status", statuses...),
		sb.LessThan("updated_at", before),
	)
	sb.OrderBy("updated_at ASC")
	sb.Limit(limit)

	query, args := sb.Build()
	return r.queryBatches(ctx, query, args)
}

func (r *batchRepository) queryBatches(ctx context.Context, query string, args []any) ([]domain.Batch, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	batches := []domain.Batch{}
	for rows.Next() {
		batch, scanErr := scanBatch(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", scanErr)
		}
		batches = append(batches, batch)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate batches: %w", rowsErr)
	}
	return batches, nil
}

func scanBatch(row pgx.Row) (domain.Batch, error) {
	var (
		batch       domain.Batch
		entityType  string
		status      string
		reportPath  pgtype.Text
		notes       pgtype.Text
		uploadedAt  pgtype.Timestamptz
		updatedAt   pgtype.Timestamptz
		completedAt pgtype.Timestamptz
	)
	if err := row.Scan(
		&batch.ID,
		&batch.OrganizationID,
		&entityType,
		&batch.FileName,
		&batch.UploadedBy,
		&status,
		&batch.SourcePath,
		&reportPath,
		&notes,
		&batch.FindingCount,
		&batch.TotalRows,
		&batch.ValidCount,
		&batch.InvalidCount,
		&batch.CreatedCount,
		&batch.CreationFailedCount,
		&uploadedAt,
		&updatedAt,
		&completedAt,
	); err != nil {
		return domain.Batch{}, err
	}

	batch.EntityType = domain.EntityType(entityType)
	batch.Status = domain.BatchStatus(status)
	if reportPath.Valid {
		value := reportPath.String
		batch.ErrorReportPath = &value
	}
	if notes.Valid {
		value := notes.String
		batch.ProcessingNotes = &value
	}
	if uploadedAt.Valid {
		batch.UploadedAt = uploadedAt.Time
	}
	if updatedAt.Valid {
		batch.UpdatedAt = updatedAt.Time
	}
	if completedAt.Valid {
		value := completedAt.Time
		batch.CompletedAt = &value
	}
	return batch, nil
}
