package sqlite

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	constant "github.com/LerianStudio/lib-transact/transact/constants"
	"github.com/LerianStudio/lib-transact/transact/log"
	libOpentelemetry "github.com/LerianStudio/lib-transact/transact/opentelemetry"
	"github.com/LerianStudio/lib-transact/transact/transaction"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// DefaultTable is the table used when Config.Table is empty.
const DefaultTable = "transact_records"

const (
	defaultPoolSize    = 4
	defaultBusyTimeout = 5 * time.Second
)

var (
	// ErrInvalidConfig indicates the provided sqlite configuration is invalid.
	ErrInvalidConfig = errors.New("invalid sqlite config")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("sqlite store closed")

	tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)
)

// Config configures a Store.
type Config struct {
	// Path is a file path or SQLite URI, e.g. "file:transact.db".
	Path        string
	Table       string
	KeyPrefix   string
	PoolSize    int
	BusyTimeout time.Duration
	Logger      log.Logger
}

// Store implements transaction.Store on a pooled SQLite database.
type Store struct {
	mu     sync.RWMutex
	pool   *sqlitex.Pool
	table  string
	prefix string
	logger log.Logger

	getSQL    string
	upsertSQL string
	deleteSQL string
}

var _ transaction.Store = (*Store)(nil)

// Open opens (creating when needed) the database at cfg.Path and ensures the
// records table exists.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: path is required", ErrInvalidConfig)
	}

	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}

	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("%w: table name %q", ErrInvalidConfig, table)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}

	busyTimeout := cfg.BusyTimeout
	if busyTimeout <= 0 {
		busyTimeout = defaultBusyTimeout
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteTransient(conn,
				fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()), nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
	}

	s := &Store{
		pool:      pool,
		table:     table,
		prefix:    cfg.KeyPrefix,
		logger:    log.OrNop(cfg.Logger),
		getSQL:    fmt.Sprintf(`SELECT value FROM %s WHERE id = ?`, table),
		upsertSQL: fmt.Sprintf(`INSERT INTO %s (id, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(id) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`, table),
		deleteSQL: fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table),
	}

	if err := s.migrate(ctx); err != nil {
		_ = pool.Close()

		return nil, err
	}

	s.logger.Log(ctx, log.LevelInfo, "sqlite transaction store ready",
		log.String("path", cfg.Path), log.String("table", table))

	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite take conn: %w", err)
	}
	defer s.pool.Put(conn)

	createSQL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, value BLOB NOT NULL, updated_at INTEGER NOT NULL)`, s.table)

	if err := sqlitex.ExecuteTransient(conn, createSQL, nil); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}

	return nil
}

// Get implements transaction.Store.
func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	ctx, span := s.startSpan(ctx, "sqlite.get")
	defer span.End()

	var (
		value []byte
		found bool
	)

	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, s.getSQL, &sqlitex.ExecOptions{
			Args: []any{s.prefix + id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				value = make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, value)
				found = true

				return nil
			},
		})
	})
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "sqlite get failed", err)

		return nil, fmt.Errorf("sqlite get: %w", err)
	}

	if !found {
		return nil, transaction.ErrNotFound
	}

	return value, nil
}

// Set implements transaction.Store.
func (s *Store) Set(ctx context.Context, id string, value []byte) error {
	ctx, span := s.startSpan(ctx, "sqlite.set")
	defer span.End()

	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, s.upsertSQL, &sqlitex.ExecOptions{
			Args: []any{s.prefix + id, value, time.Now().UnixMilli()},
		})
	})
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "sqlite set failed", err)

		return fmt.Errorf("sqlite set: %w", err)
	}

	return nil
}

// Delete implements transaction.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	ctx, span := s.startSpan(ctx, "sqlite.delete")
	defer span.End()

	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, s.deleteSQL, &sqlitex.ExecOptions{
			Args: []any{s.prefix + id},
		})
	})
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "sqlite delete failed", err)

		return fmt.Errorf("sqlite delete: %w", err)
	}

	return nil
}

// Ping checks that a connection can run a trivial query.
func (s *Store) Ping(ctx context.Context) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteTransient(conn, "SELECT 1", nil)
	})
}

// Close closes every pooled connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pool == nil {
		return nil
	}

	err := s.pool.Close()
	s.pool = nil

	if err != nil {
		return fmt.Errorf("sqlite close: %w", err)
	}

	return nil
}

func (s *Store) withConn(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.pool == nil {
		return ErrClosed
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return fn(conn)
}

func (s *Store) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return libOpentelemetry.Tracer("sqlite").Start(ctx, name, trace.WithAttributes(
		attribute.String(constant.AttrDBSystem, constant.DBSystemSQLite),
		attribute.String(constant.AttrDBCollection, s.table),
	))
}
