// Package repository is the persistence boundary of the service. Every read
// of a tenant-owned record is filtered by tenant id; a record belonging to
// another tenant is reported as not found.
package repository

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"workflow-service/internal/apperr"
	"workflow-service/prometheus"

	"gorm.io/gorm"
)

// Store wraps a gorm handle, either the pool or an open transaction
type Store struct {
	db *gorm.DB
}

// New creates a Store on top of db
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for health checks
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn in a transaction. Calling Transaction on a Store that
// is already inside a transaction opens a savepoint, so a failing inner
// function rolls back only its own writes.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	defer prometheus.TrackDBOperation("transaction")(time.Now())
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// LockKey serializes concurrent transactions on the same key until the
// surrounding transaction ends. It relies on PostgreSQL advisory locks and is
// a no-op on other dialects, which already serialize writers.
func (s *Store) LockKey(ctx context.Context, key string) error {
	if s.db.Dialector.Name() != "postgres" {
		return nil
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	if err := s.db.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(?)", int64(h.Sum64())).Error; err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}
	return nil
}

func (s *Store) ctx(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// notFound converts gorm.ErrRecordNotFound into the application error
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(format, args...)
	}
	return err
}
