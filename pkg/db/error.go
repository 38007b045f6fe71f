package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/smallbiznis/agrisubsidy/internal/errs"
	"gorm.io/gorm"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	if hasPGCode(err, "23505") {
		return true
	}

	// PostgreSQL (error code 23505)
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsContentionErr reports lock timeouts, deadlocks and serialization failures,
// all of which are safe for the caller to retry.
func IsContentionErr(err error) bool {
	if err == nil {
		return false
	}
	if hasPGCode(err, "55P03") || hasPGCode(err, "40001") || hasPGCode(err, "40P01") {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Error 1213") ||
		strings.Contains(msg, "Error 1205") ||
		strings.Contains(msg, "database is locked")
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

// ClassifyContention turns retryable lock and serialization failures into
// a concurrency conflict. Other errors pass through unchanged.
func ClassifyContention(err error) error {
	if IsContentionErr(err) {
		return errs.ErrConcurrencyConflict.With("%v", err)
	}
	return err
}
