package pgutils

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestSQLState(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil error", nil, ""},
		{"plain error", errors.New("some other error"), ""},
		{"pg error", &pgconn.PgError{Code: CodeUniqueViolation}, CodeUniqueViolation},
		{"wrapped pg error", fmt.Errorf("insert: %w", &pgconn.PgError{Code: CodeUndefinedTable}), CodeUndefinedTable},
		{"string form", errors.New("ERROR: duplicate key value violates unique constraint (SQLSTATE 23505)"), CodeUniqueViolation},
		{"bare number is not a code", errors.New("Error 23505 occurred"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SQLState(tt.err))
		})
	}
}

func TestSQLStateClass(t *testing.T) {
	assert.Equal(t, ClassConnectionException, SQLStateClass(&pgconn.PgError{Code: "08006"}))
	assert.Equal(t, "", SQLStateClass(errors.New("boom")))
}

func TestViolationHelpers(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: CodeUniqueViolation}))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: CodeForeignKeyViolation}))
	assert.True(t, IsForeignKeyViolation(&pgconn.PgError{Code: CodeForeignKeyViolation}))
	assert.True(t, IsNotNullViolation(&pgconn.PgError{Code: CodeNotNullViolation}))
	assert.True(t, IsCheckViolation(fmt.Errorf("x: %w", &pgconn.PgError{Code: CodeCheckViolation})))
	assert.False(t, IsCheckViolation(nil))
}
