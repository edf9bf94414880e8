package postgres_test

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/compliance-tasks/internal/platform/postgres"
	"github.com/phrazzld/compliance-tasks/internal/store"
	"github.com/stretchr/testify/assert"
)

func newPgError(code string) *pgconn.PgError {
	return &pgconn.PgError{
		Code:           code,
		Message:        "error message",
		TableName:      "agent_tasks",
		ColumnName:     "title",
		ConstraintName: "agent_tasks_progress_check",
	}
}

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		notFound error
		want     error
	}{
		{name: "no rows default", err: sql.ErrNoRows, want: store.ErrNotFound},
		{name: "no rows entity", err: sql.ErrNoRows, notFound: store.ErrTaskNotFound, want: store.ErrTaskNotFound},
		{name: "wrapped no rows", err: fmt.Errorf("scan: %w", sql.ErrNoRows), notFound: store.ErrProjectNotFound, want: store.ErrProjectNotFound},
		{name: "unique violation", err: newPgError("23505"), want: store.ErrDuplicate},
		{name: "foreign key violation", err: newPgError("23503"), want: store.ErrInvalidEntity},
		{name: "check violation", err: newPgError("23514"), want: store.ErrInvalidEntity},
		{name: "not null violation", err: newPgError("23502"), want: store.ErrInvalidEntity},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := postgres.MapError(tc.err, tc.notFound)
			assert.True(t, errors.Is(got, tc.want), "got %v", got)
		})
	}

	t.Run("nil", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, postgres.MapError(nil, nil))
	})

	t.Run("unmapped passes through", func(t *testing.T) {
		t.Parallel()
		orig := errors.New("connection refused")
		assert.Same(t, orig, postgres.MapError(orig, nil))
	})
}

func TestViolationHelpers(t *testing.T) {
	t.Parallel()

	assert.True(t, postgres.IsUniqueViolation(fmt.Errorf("insert: %w", newPgError("23505"))))
	assert.False(t, postgres.IsUniqueViolation(newPgError("23514")))
	assert.True(t, postgres.IsCheckConstraintViolation(newPgError("23514")))
	assert.False(t, postgres.IsCheckConstraintViolation(errors.New("plain")))
}
