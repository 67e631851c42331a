// Package pgtest поднимает временный PostgreSQL в контейнере для интеграционных тестов.
package pgtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// SkipEnv переменная окружения, отключающая тесты с контейнерами.
const SkipEnv = "SKIP_DOCKER_TESTS"

// Start запускает контейнер postgres:15-alpine и возвращает строку подключения.
// Если задан TEST_POSTGRES_DSN, используется внешняя база. Контейнер
// останавливается в t.Cleanup.
func Start(t *testing.T) string {
	t.Helper()
	if testing.Short() || os.Getenv(SkipEnv) != "" {
		t.Skip("skipping postgres integration test")
	}
	if dsn := os.Getenv("TEST_POSTGRES_DSN"); dsn != "" {
		return dsn
	}

	ctx := context.Background()
	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("billing"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}
