package gormstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/yungbote/persona-council/internal/store"
)

// MapError folds driver failures into the store error taxonomy. Serialization
// and lock failures become conflicts so callers re-read and retry.
func MapError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if store.IsConflict(err) || errors.Is(err, store.ErrNotFound) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", op, store.ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch strings.TrimSpace(pgErr.Code) {
		case "23505", // unique_violation
			"40001", "40P01", "55P03": // serialization/deadlock/lock_not_available
			return store.Conflict(op, key)
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique constraint failed"),
		strings.Contains(msg, "duplicate key"),
		strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "deadlock"),
		strings.Contains(msg, "serialization"):
		return store.Conflict(op, key)
	}
	return fmt.Errorf("%s: %w", op, err)
}
