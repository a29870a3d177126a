package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PoolConfig sizes the pool and sets the slow query threshold.
type PoolConfig struct {
	DSN       string
	MaxConns  int32
	SlowQuery time.Duration // 0 disables slow query logging
}

// NewPostgresPool creates a pgx connection pool for PostgreSQL.
func NewPostgresPool(ctx context.Context, cfg PoolConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	if cfg.MaxConns > 0 {
		config.MaxConns = cfg.MaxConns
	}
	if cfg.SlowQuery > 0 {
		config.ConnConfig.Tracer = &slowQueryTracer{threshold: cfg.SlowQuery, logger: logger}
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("PostgreSQL connection pool established", zap.Int32("max_conns", config.MaxConns))
	return pool, nil
}

type queryStartKey struct{}

type queryStart struct {
	sql string
	at  time.Time
}

// slowQueryTracer logs statements slower than threshold and failed statements.
type slowQueryTracer struct {
	threshold time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func (t *slowQueryTracer) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

func (t *slowQueryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey{}, queryStart{sql: data.SQL, at: t.clock()})
}

func (t *slowQueryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok {
		return
	}
	elapsed := t.clock().Sub(start.at)
	switch {
	case data.Err != nil && !errors.Is(data.Err, pgx.ErrNoRows):
		t.logger.Warn("query failed", zap.String("sql", start.sql), zap.Duration("elapsed", elapsed), zap.Error(data.Err))
	case elapsed >= t.threshold:
		t.logger.Warn("slow query", zap.String("sql", start.sql), zap.Duration("elapsed", elapsed), zap.String("command", data.CommandTag.String()))
	}
}
