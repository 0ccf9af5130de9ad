// Package store is the durable record of users, conversations, memberships
// and messages. All access goes through an injected *gorm.DB so tests can run
// the same code against an in-memory sqlite database.
package store

import (
	"errors"
	"fmt"
	"strings"

	"sizero-service/apperror"

	"gorm.io/gorm"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// retryable marks a storage failure as transient for the caller.
func retryable(err error) error {
	return fmt.Errorf("%w: %v", apperror.ErrRetryable, err)
}

// isDuplicate reports whether err is a unique-constraint violation. The
// Postgres driver translates these to gorm.ErrDuplicatedKey; the sqlite
// driver used in tests surfaces the raw constraint message.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") ||
		strings.Contains(strings.ToLower(msg), "duplicate key")
}
