package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("postgres container tests are skipped in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("cardbook_test"),
		postgres.WithUsername("test_user"),
		postgres.WithPassword("test_password"),
		postgres.BasicWaitStrategies(),
		testcontainers.WithLabels(map[string]string{
			"test":      "cardbook-repository",
			"timestamp": time.Now().Format("20060102-150405"),
		}),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	storeSuite(t, func(t *testing.T) Store {
		t.Helper()

		s, err := Open(ctx, dsn)
		require.NoError(t, err)

		pg := s.(*PostgresStore)
		_, err = pg.pool.Exec(ctx, `TRUNCATE credits, cards, users`)
		require.NoError(t, err)

		t.Cleanup(func() { s.Close() })
		return s
	})
}
