package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	serialization := &pgconn.PgError{Code: codeSerializationFailure}
	deadlock := &pgconn.PgError{Code: codeDeadlockDetected}
	unique := &pgconn.PgError{Code: codeUniqueViolation, ConstraintName: "quotation_documents_share_token_key"}

	assert.True(t, IsRetryable(serialization))
	assert.True(t, IsRetryable(fmt.Errorf("insert header: %w", deadlock)))
	assert.False(t, IsRetryable(unique))
	assert.False(t, IsRetryable(errors.New("boom")))

	assert.True(t, IsUniqueViolation(fmt.Errorf("wrap: %w", unique)))
	assert.Equal(t, "quotation_documents_share_token_key", ConstraintName(unique))
	assert.Empty(t, ConstraintName(serialization))
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@localhost:5432/db?sslmode=disable", migrateURL("postgres://u:p@localhost:5432/db?sslmode=disable"))
	assert.Equal(t, "pgx5://h/db", migrateURL("postgresql://h/db"))
	assert.Equal(t, "pgx5://h/db", migrateURL("pgx5://h/db"))
}
