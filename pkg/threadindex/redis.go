package threadindex

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// A failed WATCH means another append to the same list committed, so the
// budget bounds how many appends for one user may race a single call.
const maxWatchRetries = 64

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisStore keeps one list per user (`<prefix>user:<id>`) and a set of all
// users (`<prefix>users`). Appends use WATCH/MULTI so a concurrent append to
// the same list forces a retry instead of a lost update.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("Redis thread index connected")
	return NewRedisStoreFromClient(client, opts.Prefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) userKey(userID string) string {
	return s.prefix + "user:" + userID
}

func (s *RedisStore) usersKey() string {
	return s.prefix + "users"
}

// Append pushes threadID onto the user's list unless already present.
func (s *RedisStore) Append(ctx context.Context, userID, threadID string) error {
	if err := validateKey("user id", userID); err != nil {
		return err
	}
	if err := validateKey("thread id", threadID); err != nil {
		return err
	}

	key := s.userKey(userID)
	txf := func(tx *redis.Tx) error {
		existing, err := tx.LRange(ctx, key, 0, -1).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if contains(existing, threadID) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, key, threadID)
			pipe.SAdd(ctx, s.usersKey(), userID)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			select {
			case <-ctx.Done():
				return fmt.Errorf("failed to append thread: %w", ctx.Err())
			case <-time.After(time.Duration(attempt%4) * time.Millisecond):
			}
			continue
		}
		return fmt.Errorf("failed to append thread: %w", err)
	}
	return fmt.Errorf("failed to append thread after %d attempts: %w", maxWatchRetries, redis.TxFailedErr)
}

// Threads returns the user's thread ids in insertion order.
func (s *RedisStore) Threads(ctx context.Context, userID string) ([]string, error) {
	threads, err := s.client.LRange(ctx, s.userKey(userID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read threads: %w", err)
	}
	if len(threads) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	return threads, nil
}

// Users returns all user ids, sorted.
func (s *RedisStore) Users(ctx context.Context) ([]string, error) {
	users, err := s.client.SMembers(ctx, s.usersKey()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read users: %w", err)
	}
	if len(users) == 0 {
		return nil, ErrEmpty
	}
	sort.Strings(users)
	return users, nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
