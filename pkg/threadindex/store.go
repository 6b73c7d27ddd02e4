// Package threadindex keeps the user → thread mapping used for tenant-scoped
// history lookup. Entries are created lazily, appended to and never removed.
package threadindex

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/agentgate/internal/config"
	"github.com/harun/agentgate/internal/observability"
)

var (
	// ErrUserNotFound is returned when a user has no recorded threads.
	ErrUserNotFound = errors.New("user not found")
	// ErrEmpty is returned when the index holds no users at all.
	ErrEmpty = errors.New("thread index is empty")
	// ErrInvalidKey is returned for user or thread ids the index cannot store.
	ErrInvalidKey = errors.New("invalid key")
)

const maxKeyLength = 256

// Store is a durable user → ordered set of thread ids mapping.
//
// Append must be safe for concurrent use: two concurrent appends of distinct
// thread ids for the same user must both survive.
type Store interface {
	// Append records threadID for userID if not already present. The
	// mutation is durable when Append returns.
	Append(ctx context.Context, userID, threadID string) error
	// Threads returns the user's thread ids in insertion order.
	Threads(ctx context.Context, userID string) ([]string, error)
	// Users returns all known user ids, sorted.
	Users(ctx context.Context) ([]string, error)
	Close() error
}

// Open builds the store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		store Store
		err   error
	)

	switch cfg.Backend {
	case "", "json":
		store, err = NewFileStore(cfg.Path)
	case "sqlite":
		store, err = NewSQLiteStore(cfg.Path)
	case "redis":
		store, err = NewRedisStore(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
	default:
		return nil, fmt.Errorf("unknown thread index backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	backend := cfg.Backend
	if backend == "" {
		backend = "json"
	}
	return Instrument(store, backend), nil
}

// validateKey validates a user or thread id
func validateKey(kind, key string) error {
	if key == "" {
		return fmt.Errorf("%w: %s cannot be empty", ErrInvalidKey, kind)
	}
	if len(key) > maxKeyLength {
		return fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidKey, kind, maxKeyLength)
	}
	if strings.Contains(key, "\x00") {
		return fmt.Errorf("%w: %s cannot contain null bytes", ErrInvalidKey, kind)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// instrumented records operation latency and the known users gauge.
type instrumented struct {
	Store
	backend string
}

// Instrument wraps a store with Prometheus instrumentation.
func Instrument(store Store, backend string) Store {
	observability.EnsureRegistered()
	return &instrumented{Store: store, backend: backend}
}

func (s *instrumented) Append(ctx context.Context, userID, threadID string) error {
	start := time.Now()
	err := s.Store.Append(ctx, userID, threadID)
	observability.RecordIndexOp(s.backend, "append", time.Since(start))
	if err == nil {
		if users, uerr := s.Store.Users(ctx); uerr == nil {
			observability.SetKnownUsers(len(users))
		}
	}
	return err
}

func (s *instrumented) Threads(ctx context.Context, userID string) ([]string, error) {
	start := time.Now()
	threads, err := s.Store.Threads(ctx, userID)
	observability.RecordIndexOp(s.backend, "threads", time.Since(start))
	return threads, err
}

func (s *instrumented) Users(ctx context.Context) ([]string, error) {
	start := time.Now()
	users, err := s.Store.Users(ctx)
	observability.RecordIndexOp(s.backend, "users", time.Since(start))
	return users, err
}
