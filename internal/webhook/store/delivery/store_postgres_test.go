package delivery

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestIsUniqueViolation(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505", ConstraintName: "webhook_deliveries_pkey"}

	require.True(t, isUniqueViolation(dup))
	// Drivers hand errors back wrapped; classification must unwrap.
	require.True(t, isUniqueViolation(fmt.Errorf("insert delivery: %w", dup)))

	require.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	require.False(t, isUniqueViolation(fmt.Errorf("connection refused")))
	require.False(t, isUniqueViolation(nil))
}
