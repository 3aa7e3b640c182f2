package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	sqlbuilder "github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/fleetload/internal/domain"
)

const findingTable = "ingest_findings"

var findingCopyColumns = []string{
	"batch_id", "ref_id", "sheet", "row_number", "field", "message", "severity", "category", "expected", "received",
}

type findingRepository struct {
	pool *pgxpool.Pool
}

// NewFindingRepository wires a repository backed by pgxpool.
func NewFindingRepository(pool *pgxpool.Pool) FindingRepository {
	return &findingRepository{pool: pool}
}

// InsertMany streams findings with COPY; order is preserved through the serial id.
func (r *findingRepository) InsertMany(ctx context.Context, batchID uuid.UUID, findings []domain.Finding) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("finding repository not initialized")
	}
	if len(findings) == 0 {
		return 0, nil
	}

	copied, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{findingTable},
		findingCopyColumns,
		pgx.CopyFromSlice(len(findings), func(i int) ([]any, error) {
			f := findings[i]
			return []any{
				batchID,
				f.RefID,
				f.Sheet,
				int32(f.RowNumber),
				f.Field,
				f.Message,
				string(f.Severity),
				string(f.Category),
				f.Expected,
				f.Received,
			}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert findings: %w", err)
	}
	return copied, nil
}

func (r *findingRepository) List(ctx context.Context, batchID uuid.UUID, filter domain.FindingFilter, limit int, offset int) ([]domain.Finding, int, error) {
	if r.pool == nil {
		return nil, 0, fmt.Errorf("finding repository not initialized")
	}
	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	where := func(sb *sqlbuilder.SelectBuilder) []string {
		conds := []string{sb.Equal("batch_id", batchID)}
		if filter.Sheet != "" {
			conds = append(conds, sb.Equal("sheet", filter.Sheet))
		}
		if filter.Severity != "" {
			conds = append(conds, sb.Equal("severity", string(filter.Severity)))
		}
		return conds
	}

	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From(findingTable)
	countSb.Where(where(countSb)...)

	countQuery, countArgs := countSb.Build()
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count findings: %w", err)
	}

	sb := findingSelect()
	sb.Where(where(sb)...)
	sb.OrderBy("id ASC")
	sb.Limit(limit).Offset(offset)

	query, args := sb.Build()
	findings, err := r.query(ctx, query, args)
	if err != nil {
		return nil, 0, err
	}
	return findings, total, nil
}

func (r *findingRepository) ListAll(ctx context.Context, batchID uuid.UUID) ([]domain.Finding, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("finding repository not initialized")
	}

	sb := findingSelect()
	sb.Where(sb.Equal("batch_id", batchID))
	sb.OrderBy("id ASC")

	query, args := sb.Build()
	return r.query(ctx, query, args)
}

func findingSelect() *sqlbuilder.SelectBuilder {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "batch_id", "ref_id", "sheet", "row_number", "field", "message", "severity", "category", "expected", "received", "created_at")
	sb.From(findingTable)
	return sb
}

func (r *findingRepository) query(ctx context.Context, query string, args []any) ([]domain.Finding, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	defer rows.Close()

	findings := []domain.Finding{}
	for rows.Next() {
		var (
			finding   domain.Finding
			rowNumber pgtype.Int4
			severity  string
			category  string
			expected  pgtype.Text
			received  pgtype.Text
			createdAt pgtype.Timestamptz
		)
		if scanErr := rows.Scan(
			&finding.ID,
			&finding.BatchID,
			&finding.RefID,
			&finding.Sheet,
			&rowNumber,
			&finding.Field,
			&finding.Message,
			&severity,
			&category,
			&expected,
			&received,
			&createdAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", scanErr)
		}

		finding.Severity = domain.Severity(severity)
		finding.Category = domain.FindingCategory(category)
		if rowNumber.Valid {
			finding.RowNumber = int(rowNumber.Int32)
		}
		if expected.Valid {
			value := expected.String
			finding.Expected = &value
		}
		if received.Valid {
			value := received.String
			finding.Received = &value
		}
		if createdAt.Valid {
			finding.CreatedAt = createdAt.Time
		}
		findings = append(findings, finding)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate findings: %w", rowsErr)
	}
	return findings, nil
}
