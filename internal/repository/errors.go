package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrBatchNotFound is returned when a batch does not exist.
	ErrBatchNotFound = errors.New("batch not found")
	// ErrBatchStatusConflict is returned when a transition's source status no longer matches.
	ErrBatchStatusConflict = errors.New("batch status changed concurrently")
)

// Postgres SQLSTATE codes translated into ConstraintError.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
	codeNotNullViolation    = "23502"
)

// ConstraintKind classifies a store-level rejection.
type ConstraintKind string

const (
	ConstraintUnique     ConstraintKind = "unique"
	ConstraintForeignKey ConstraintKind = "foreign_key"
	ConstraintCheck      ConstraintKind = "check"
	ConstraintNotNull    ConstraintKind = "not_null"
)

// ConstraintError is a store-level rejection discovered at insert time.
type ConstraintError struct {
	Kind       ConstraintKind
	Table      string
	Column     string
	Constraint string
	Detail     string
	Err        error
}

func (e *ConstraintError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("%s constraint %s violated on %s.%s", e.Kind, e.Constraint, e.Table, e.Column)
	}
	return fmt.Sprintf("%s constraint %s violated on %s", e.Kind, e.Constraint, e.Table)
}

func (e *ConstraintError) Unwrap() error {
	return e.Err
}

// translateError turns integrity violations into ConstraintError and leaves other errors untouched.
func translateError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	var kind ConstraintKind
	switch pgErr.Code {
	case codeUniqueViolation:
		kind = ConstraintUnique
	case codeForeignKeyViolation:
		kind = ConstraintForeignKey
	case codeCheckViolation:
		kind = ConstraintCheck
	case codeNotNullViolation:
		kind = ConstraintNotNull
	default:
		return err
	}
	return &ConstraintError{
		Kind:       kind,
		Table:      pgErr.TableName,
		Column:     constraintColumn(pgErr),
		Constraint: pgErr.ConstraintName,
		Detail:     pgErr.Detail,
		Err:        err,
	}
}

// constraintColumn prefers the reported column and falls back to the
// "<table>_<column>_key" naming used by the migrations.
func constraintColumn(pgErr *pgconn.PgError) string {
	if pgErr.ColumnName != "" {
		return pgErr.ColumnName
	}
	name := pgErr.ConstraintName
	prefix := pgErr.TableName + "_"
	for _, suffix := range []string{"_key", "_fkey", "_check"} {
		if len(name) > len(prefix)+len(suffix) && name[:len(prefix)] == prefix && name[len(name)-len(suffix):] == suffix {
			return name[len(prefix) : len(name)-len(suffix)]
		}
	}
	return ""
}

// ErrInvalidTransition is returned for status changes the batch state machine does not allow.
var ErrInvalidTransition = errors.New("invalid batch status transition")
