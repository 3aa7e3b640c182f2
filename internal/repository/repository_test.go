package repository

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestTranslateErrorUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{
		Code:           "23505",
		TableName:      "vehicles",
		ConstraintName: "vehicles_vin_key",
		Detail:         "Key (vin)=(MAT123456789ABCDE) already exists.",
	}

	err := translateError(fmt.Errorf("insert: %w", pgErr))

	var constraintErr *ConstraintError
	if !errors.As(err, &constraintErr) {
		t.Fatalf("expected ConstraintError, got %T", err)
	}
	if constraintErr.Kind != ConstraintUnique {
		t.Fatalf("expected unique kind, got %s", constraintErr.Kind)
	}
	if constraintErr.Column != "vin" {
		t.Fatalf("expected column derived from constraint name, got %q", constraintErr.Column)
	}
	if !errors.Is(err, pgErr) {
		t.Fatalf("expected wrapped pg error to remain reachable")
	}
}

func TestTranslateErrorPrefersReportedColumn(t *testing.T) {
	err := translateError(&pgconn.PgError{Code: "23502", TableName: "vehicles", ColumnName: "make"})

	var constraintErr *ConstraintError
	if !errors.As(err, &constraintErr) {
		t.Fatalf("expected ConstraintError, got %T", err)
	}
	if constraintErr.Kind != ConstraintNotNull || constraintErr.Column != "make" {
		t.Fatalf("unexpected constraint error: %+v", constraintErr)
	}
}

func TestTranslateErrorLeavesOtherErrors(t *testing.T) {
	serialization := &pgconn.PgError{Code: "40001"}
	if err := translateError(serialization); err != serialization {
		t.Fatalf("expected error untouched, got %v", err)
	}

	plain := errors.New("connection reset")
	if err := translateError(plain); err != plain {
		t.Fatalf("expected error untouched, got %v", err)
	}
}

func TestBuildInsertSortsColumnsAndReturns(t *testing.T) {
	query, args := buildInsert("vehicles", map[string]any{
		"vin":                 "MAT123456789ABCDE",
		"make":                "Tata",
		"registration_number": "MH12AB1234",
	}, "id")

	if !strings.HasPrefix(query, "INSERT INTO vehicles (make, registration_number, vin)") {
		t.Fatalf("expected sorted columns, got %s", query)
	}
	if !strings.HasSuffix(query, "RETURNING id") {
		t.Fatalf("expected RETURNING clause, got %s", query)
	}
	if len(args) != 3 || args[0] != "Tata" || args[2] != "MAT123456789ABCDE" {
		t.Fatalf("unexpected args: %#v", args)
	}
}

func TestBuildExistenceQueryUsesSingleStatement(t *testing.T) {
	query, args := buildExistenceQuery("vehicles", "vin", []string{"A", "B", "C"})

	if !strings.Contains(query, "upper(vin) IN ($1, $2, $3)") {
		t.Fatalf("expected case-insensitive IN clause, got %s", query)
	}
	if !strings.HasPrefix(query, "SELECT DISTINCT upper(vin) FROM vehicles") {
		t.Fatalf("unexpected select: %s", query)
	}
	if len(args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(args))
	}
}
