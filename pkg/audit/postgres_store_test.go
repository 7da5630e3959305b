package audit

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("POSTGRES_URL")
	if dsn == "" {
		t.Skip("POSTGRES_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))

	_, err = s.DB().ExecContext(ctx, "DELETE FROM risk_evaluations")
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = s.DB().ExecContext(ctx, "DELETE FROM risk_evaluations")
		_ = s.Close()
	})

	exerciseStore(t, s)
}
