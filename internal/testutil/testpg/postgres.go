// Package testpg boots a throwaway Postgres for store and route tests.
// The pgvector image is used so the same container serves the embedding
// table tests without a second fixture.
package testpg

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	image          = "pgvector/pgvector:pg18"
	database       = "memories"
	startupTimeout = 60 * time.Second
)

// StartPostgres starts a disposable Postgres container, terminated with
// the test, and returns its DSN once the server accepts queries.
func StartPostgres(tb testing.TB) string {
	tb.Helper()

	ctx := context.Background()
	container, err := postgres.Run(
		ctx,
		image,
		postgres.WithDatabase(database),
		postgres.WithUsername("memories"),
		postgres.WithPassword("memories"),
		testcontainers.WithWaitStrategy(
			wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				// The entrypoint restarts the server once after initdb.
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2),
			).WithStartupTimeout(startupTimeout),
		),
	)
	if err != nil {
		tb.Fatalf("start postgres container: %v", err)
	}
	tb.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			tb.Errorf("terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		tb.Fatalf("build postgres connection string: %v", err)
	}
	if err := pingUntilReady(ctx, dsn); err != nil {
		tb.Fatalf("postgres is not ready for connections: %v", err)
	}
	return dsn
}

// pingUntilReady polls with short connections. The log-based wait above can
// race the final restart, so a successful ping is the real readiness signal.
func pingUntilReady(ctx context.Context, dsn string) error {
	deadline, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	var lastErr error
	for {
		attempt, attemptCancel := context.WithTimeout(deadline, 2*time.Second)
		conn, err := pgx.Connect(attempt, dsn)
		if err == nil {
			lastErr = conn.Ping(attempt)
			_ = conn.Close(attempt)
		} else {
			lastErr = err
		}
		attemptCancel()
		if lastErr == nil {
			return nil
		}
		select {
		case <-deadline.Done():
			return lastErr
		case <-time.After(250 * time.Millisecond):
		}
	}
}
