package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	registrystore "github.com/tessellated-ai/temporal-memory-service/internal/registry/store"
)

// Re-export error types from registry/store for convenience.
type NotFoundError = registrystore.NotFoundError
type InvariantViolationError = registrystore.InvariantViolationError
type ConflictError = registrystore.ConflictError
type BackendUnavailableError = registrystore.BackendUnavailableError

// wrapDBError classifies a failed query. Connection-level failures become
// BackendUnavailableError so the API answers 503 instead of 500; everything
// else is wrapped with the operation for context.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUnavailable(err) {
		return &BackendUnavailableError{Backend: "postgres", Err: fmt.Errorf("%s: %w", op, err)}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUnavailable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exceptions, class 57 operator intervention
		// (server shutdown), 53300 too many connections.
		return strings.HasPrefix(pgErr.Code, "08") ||
			strings.HasPrefix(pgErr.Code, "57") ||
			pgErr.Code == "53300"
	}
	return false
}
