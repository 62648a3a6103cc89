package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ConnectConfig configures the pool used to reach the Postgres instance
// backing the vector memory store.
type ConnectConfig struct {
	URL             string
	MaxConns        int32
	ConnectTimeout  time.Duration
}

// DefaultConnectConfig returns sane pool sizing for a single agent-core
// process talking to one Postgres instance.
func DefaultConnectConfig(url string) ConnectConfig {
	return ConnectConfig{
		URL:            url,
		MaxConns:       10,
		ConnectTimeout: 10 * time.Second,
	}
}

// Connect parses cfg.URL, forces UTC session timezone, attaches an
// otelpgx tracer so every query carries a span, and verifies
// connectivity with a ping before returning.
func Connect(ctx context.Context, cfg ConnectConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.ConnConfig.RuntimeParams["timezone"] = "UTC"
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer(otelpgx.WithTrimSQLInSpanName())

	connectCtx := ctx
	var cancel context.CancelFunc
	if cfg.ConnectTimeout > 0 {
		connectCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}
