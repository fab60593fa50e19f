// Package postgres persists products, competitors, crawl edges, crawl logs and
// subscriptions in Postgres, reconnecting and retrying on connection loss.
package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/price-sentinel/internal/crawler"
	"github.com/JakeFAU/price-sentinel/internal/logging"
)

// DB is the query surface shared by pgxpool.Pool, the direct-connection
// fallback and pgxmock.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Connector opens a fresh DB handle.
type Connector func(ctx context.Context) (DB, error)

// Config controls the connection pool and retry behavior.
type Config struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	RetryAttempts   int
	RetryBaseDelay  time.Duration
}

// Store implements the store repositories on top of Postgres.
type Store struct {
	mu        sync.RWMutex
	db        DB
	connect   Connector
	retry     Retrier
	logger    *zap.Logger
	now       func() time.Time
	skuSuffix func() string
}

// Open dials Postgres, preferring a pool and falling back to a single direct
// connection when the pool cannot be established.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database.url is required")
	}
	logger = logging.Component(logger, "postgres")
	connect := func(ctx context.Context) (DB, error) {
		return dial(ctx, cfg, logger)
	}
	db, err := connect(ctx)
	if err != nil {
		return nil, err
	}
	return NewWithDB(db, connect, cfg, logger), nil
}

// NewWithDB builds a Store around an existing handle. connect may be nil, in
// which case a lost connection cannot be replaced.
func NewWithDB(db DB, connect Connector, cfg Config, logger *zap.Logger) *Store {
	return &Store{
		db:        db,
		connect:   connect,
		retry:     NewRetrier(cfg.RetryAttempts, cfg.RetryBaseDelay),
		logger:    logging.Component(logger, "postgres"),
		now:       time.Now,
		skuSuffix: randomSuffix,
	}
}

func dial(ctx context.Context, cfg Config, logger *zap.Logger) (DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, crawler.E(crawler.KindConfigMissing, "postgres.dial", fmt.Errorf("parse postgres url: %w", err))
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, poolErr := pgxpool.NewWithConfig(ctx, poolCfg)
	if poolErr == nil {
		if poolErr = pool.Ping(ctx); poolErr == nil {
			return pool, nil
		}
		pool.Close()
	}
	logger.Warn("connection pool unavailable, trying direct connection", zap.Error(poolErr))

	conn, err := pgx.ConnectConfig(ctx, poolCfg.ConnConfig)
	if err != nil {
		return nil, crawler.E(crawler.KindTransientConnectivity, "postgres.dial",
			fmt.Errorf("connect postgres: pool: %v: direct: %w", poolErr, err))
	}
	return &directConn{conn: conn}, nil
}

// directConn adapts a single pgx.Conn to DB. Calls are serialized because a
// pgx.Conn is not safe for concurrent use; rows returned by Query must be
// closed before the next call on the same handle.
type directConn struct {
	mu   sync.Mutex
	conn *pgx.Conn
}

func (d *directConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn.Exec(ctx, sql, args...)
}

func (d *directConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn.Query(ctx, sql, args...)
}

func (d *directConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn.QueryRow(ctx, sql, args...)
}

func (d *directConn) Begin(ctx context.Context) (pgx.Tx, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn.Begin(ctx)
}

func (d *directConn) Ping(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn.Ping(ctx)
}

func (d *directConn) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = d.conn.Close(ctx) //nolint:errcheck // closing a dead connection
}

// Close releases the active handle.
func (s *Store) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		s.db.Close()
		s.db = nil
	}
}

// Ping checks that the database is reachable, reconnecting if needed.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.handle(ctx)
	return err
}

// handle returns a live DB, replacing a dead one.
func (s *Store) handle(ctx context.Context) (DB, error) {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()
	if db != nil {
		err := db.Ping(ctx)
		if err == nil {
			return db, nil
		}
		if ctx.Err() != nil {
			return nil, crawler.E(crawler.KindTimeout, "postgres.handle", ctx.Err())
		}
		s.logger.Warn("database ping failed, reconnecting", zap.Error(err))
	}
	return s.reconnect(ctx, db)
}

// reconnect swaps stale for a fresh handle. Concurrent callers holding the
// same stale handle reconnect once; later callers reuse the new handle.
func (s *Store) reconnect(ctx context.Context, stale DB) (DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil && s.db != stale {
		return s.db, nil
	}
	if s.connect == nil {
		return nil, crawler.E(crawler.KindTransientConnectivity, "postgres.reconnect", fmt.Errorf("database connection lost"))
	}
	fresh, err := s.connect(ctx)
	if err != nil {
		return nil, crawler.E(crawler.KindTransientConnectivity, "postgres.reconnect", err)
	}
	if stale != nil {
		stale.Close()
	}
	s.db = fresh
	s.logger.Info("database connection re-established")
	return fresh, nil
}

// run executes fn against a live handle under the retry policy.
func (s *Store) run(ctx context.Context, op string, fn func(ctx context.Context, db DB) error) error {
	return s.retry.Do(ctx, op, func(ctx context.Context) error {
		db, err := s.handle(ctx)
		if err != nil {
			return err
		}
		return fn(ctx, db)
	}, func(attempt int, err error) {
		s.logger.Warn("transient database error, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	})
}

// inTx runs fn in a transaction under the retry policy. Any error rolls the
// transaction back before the retry decision is made.
func (s *Store) inTx(ctx context.Context, op string, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return s.run(ctx, op, func(ctx context.Context, db DB) error {
		tx, err := db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		if err := fn(ctx, tx); err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !isTransient(rbErr) {
				s.logger.Warn("rollback failed", zap.String("op", op), zap.Error(rbErr))
			}
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	})
}
