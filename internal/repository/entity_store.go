package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	sqlbuilder "github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"

	"github.com/rpattn/fleetload/internal/db"
)

type entityStore struct {
	conn *db.Connection
}

// NewEntityStore wires the entity tables behind the connection's pool.
func NewEntityStore(conn *db.Connection) EntityStore {
	return &entityStore{conn: conn}
}

// ExistingValues compares case-insensitively and returns matches upper-cased.
func (s *entityStore) ExistingValues(ctx context.Context, table, column string, values []string) ([]string, error) {
	if s.conn == nil || s.conn.Pool == nil {
		return nil, fmt.Errorf("entity store not initialized")
	}
	if len(values) == 0 {
		return nil, nil
	}

	query, args := buildExistenceQuery(table, column, values)
	rows, err := s.conn.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s.%s: %w", table, column, err)
	}
	defer rows.Close()

	found := []string{}
	for rows.Next() {
		var value string
		if scanErr := rows.Scan(&value); scanErr != nil {
			return nil, fmt.Errorf("failed to scan %s.%s: %w", table, column, scanErr)
		}
		found = append(found, value)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate %s.%s: %w", table, column, rowsErr)
	}
	return found, nil
}

// CreateDraft inserts the parent row and its children in one transaction.
func (s *entityStore) CreateDraft(ctx context.Context, target DraftTarget, rows []DraftRow) (uuid.UUID, error) {
	if s.conn == nil {
		return uuid.Nil, fmt.Errorf("entity store not initialized")
	}
	if len(rows) == 0 {
		return uuid.Nil, fmt.Errorf("draft %s has no rows", target.RefID)
	}

	var id uuid.UUID
	err := s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		parent := rows[0]
		values := withColumns(parent.Values, map[string]any{
			"organization_id": target.OrganizationID,
			"batch_id":        target.BatchID,
			"source_ref":      target.RefID,
		})
		query, args := buildInsert(parent.Table, values, "id")
		if err := tx.QueryRow(ctx, query, args...).Scan(&id); err != nil {
			return translateError(err)
		}

		for _, child := range rows[1:] {
			query, args := buildInsert(child.Table, withColumns(child.Values, map[string]any{child.ParentColumn: id}))
			if _, err := tx.Exec(ctx, query, args...); err != nil {
				return translateError(err)
			}
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create draft %s: %w", target.RefID, err)
	}
	return id, nil
}

func withColumns(values map[string]any, extra map[string]any) map[string]any {
	merged := make(map[string]any, len(values)+len(extra))
	for column, value := range values {
		merged[column] = value
	}
	for column, value := range extra {
		merged[column] = value
	}
	return merged
}

// buildInsert renders a single-row insert with columns in sorted order.
func buildInsert(table string, values map[string]any, returning ...string) (string, []any) {
	columns := make([]string, 0, len(values))
	for column := range values {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	row := make([]any, len(columns))
	for i, column := range columns {
		row[i] = values[column]
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols(columns...)
	ib.Values(row...)
	if len(returning) > 0 {
		ib.Returning(returning...)
	}
	return ib.Build()
}

func buildExistenceQuery(table, column string, values []string) (string, []any) {
	expr := "upper(" + column + ")"
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(expr).Distinct()
	sb.From(table)
	sb.Where(sb.In(expr, sqlbuilder.Flatten(values)...))
	return sb.Build()
}
