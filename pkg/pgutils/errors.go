// Package pgutils classifies PostgreSQL errors.
package pgutils

import (
	"errors"
	"regexp"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL error codes
// See: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	// Class 23: integrity constraint violation
	CodeUniqueViolation     = "23505"
	CodeForeignKeyViolation = "23503"
	CodeNotNullViolation    = "23502"
	CodeCheckViolation      = "23514"

	CodeUndefinedTable    = "42P01"
	CodeUndefinedColumn   = "42703"
	CodeInvalidSchemaName = "3F000"
	CodeAdminShutdown     = "57P01"

	ClassConnectionException   = "08"
	ClassInsufficientResources = "53"
)

var sqlStatePattern = regexp.MustCompile(`SQLSTATE ([0-9A-Z]{5})`)

// SQLState returns the PostgreSQL error code carried by err, or "" when err
// is not a server error. Errors that lost their type on the way (wrapped in
// a plain string) are recognized by their "SQLSTATE xxxxx" suffix.
func SQLState(err error) string {
	if err == nil {
		return ""
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	if m := sqlStatePattern.FindStringSubmatch(err.Error()); m != nil {
		return m[1]
	}
	return ""
}

// SQLStateClass returns the two-character class of err's code.
func SQLStateClass(err error) string {
	code := SQLState(err)
	if len(code) < 2 {
		return ""
	}
	return code[:2]
}

// IsUniqueViolation checks if the error is a PostgreSQL unique constraint violation (23505).
func IsUniqueViolation(err error) bool {
	return SQLState(err) == CodeUniqueViolation
}

// IsForeignKeyViolation checks if the error is a PostgreSQL foreign key violation (23503).
func IsForeignKeyViolation(err error) bool {
	return SQLState(err) == CodeForeignKeyViolation
}

// IsNotNullViolation checks if the error is a PostgreSQL not-null constraint violation (23502).
func IsNotNullViolation(err error) bool {
	return SQLState(err) == CodeNotNullViolation
}

// IsCheckViolation checks if the error is a PostgreSQL check constraint violation (23514).
func IsCheckViolation(err error) bool {
	return SQLState(err) == CodeCheckViolation
}
