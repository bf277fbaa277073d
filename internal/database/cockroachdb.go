package database

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"callsignal-backend/pkg/config"
	"callsignal-backend/pkg/logger"
)

const (
	connectBaseDelay = time.Second
	connectMaxDelay  = 30 * time.Second
)

// NewCockroachDB opens a pgx pool and verifies it with a ping
func NewCockroachDB(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.CockroachURL())
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// ConnectCockroachWithRetry retries NewCockroachDB with exponential backoff
func ConnectCockroachWithRetry(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	attempts := cfg.ConnectRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		pool, err := NewCockroachDB(ctx, cfg)
		if err == nil {
			logger.Info("Connected to CockroachDB",
				zap.String("host", cfg.Host),
				zap.Int("attempt", attempt))
			return pool, nil
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		delay := backoffDelay(attempt)
		logger.Warn("CockroachDB connection attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("failed to connect to CockroachDB after %d attempts: %w", attempts, lastErr)
}

func backoffDelay(attempt int) time.Duration {
	delay := time.Duration(float64(connectBaseDelay) * math.Pow(2, float64(attempt-1)))
	if delay > connectMaxDelay {
		return connectMaxDelay
	}
	return delay
}
