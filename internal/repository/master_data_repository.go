package repository

import (
	"context"
	"fmt"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5/pgxpool"
)

type masterDataRepository struct {
	pool *pgxpool.Pool
}

// NewMasterDataRepository wires a repository backed by pgxpool.
func NewMasterDataRepository(pool *pgxpool.Pool) MasterDataRepository {
	return &masterDataRepository{pool: pool}
}

func (r *masterDataRepository) Codes(ctx context.Context, collection string) ([]string, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("master data repository not initialized")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("code")
	sb.From("master_data")
	sb.Where(sb.Equal("collection", collection), "active")
	sb.OrderBy("code")

	query, args := sb.Build()
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list master data codes: %w", err)
	}
	defer rows.Close()

	codes := []string{}
	for rows.Next() {
		var code string
		if scanErr := rows.Scan(&code); scanErr != nil {
			return nil, fmt.Errorf("failed to scan master data code: %w", scanErr)
		}
		codes = append(codes, code)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate master data codes: %w", rowsErr)
	}
	return codes, nil
}
