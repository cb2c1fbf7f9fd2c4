// Package database owns the shared persistence primitives: the
// Postgres/Redis connection pair, the per-date advisory lock that
// serializes schedule mutations, and the serialization-failure retry
// policy for concurrent writers.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/gravelroot/dispatch-core/internal/apperr"
	"github.com/gravelroot/dispatch-core/internal/config"
)

// Connection holds the database and Redis handles the process shares.
type Connection struct {
	DB          *sql.DB
	RedisClient *redis.Client
}

// NewConnection opens, configures, and pings both backends.
func NewConnection(cfg *config.Config) (*Connection, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.DatabaseMaxConnections)
	db.SetMaxIdleConns(cfg.DatabaseMaxIdle)
	db.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.RedisPassword != "" {
		redisOpts.Password = cfg.RedisPassword
	}
	redisOpts.DB = cfg.RedisDB
	redisClient := redis.NewClient(redisOpts)
	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Connection{DB: db, RedisClient: redisClient}, nil
}

// Close releases both backends.
func (c *Connection) Close() error {
	var errs []error
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// HealthCheck pings both backends.
func (c *Connection) HealthCheck(ctx context.Context) error {
	if err := c.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	if _, err := c.RedisClient.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}
	return nil
}

// WithDateLock runs fn inside tx holding a transaction-scoped Postgres
// advisory lock keyed on the schedule date, serializing every mutation
// of a single day's schedule without taking a table lock. The lock
// releases automatically at commit or rollback.
func WithDateLock(ctx context.Context, tx *sql.Tx, date time.Time, fn func() error) error {
	key := fmt.Sprintf("schedule:%s", date.Format("2006-01-02"))
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", key); err != nil {
		return fmt.Errorf("acquire date lock: %w", err)
	}
	return fn()
}

// serializationFailure is Postgres SQLSTATE 40001.
const serializationFailure = "40001"

// RetrySerialization retries fn up to maxAttempts times when it fails
// with serialization_failure, the optimistic-retry policy for
// concurrent schedule writers. Any other error surfaces immediately.
func RetrySerialization(maxAttempts int, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isSerializationFailure(lastErr) {
			return lastErr
		}
	}
	return apperr.Transient(fmt.Sprintf("serialization failure after %d attempts", maxAttempts), lastErr)
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == serializationFailure
	}
	return false
}
