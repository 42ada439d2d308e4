package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"bookrental/internal/storage"
)

const (
	defaultMaxConnections    = int32(8)
	defaultMinConnections    = int32(1)
	defaultMaxConnLifetime   = time.Hour
	defaultMaxConnIdleTime   = time.Minute * 5
	defaultHealthCheckPeriod = time.Minute
	defaultConnectTimeout    = time.Second * 5
)

// dbtx is the subset of pgx shared by *pgxpool.Pool and pgx.Tx
type dbtx interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresDB is the PostgreSQL implementation of storage.Storage
type PostgresDB struct {
	queries
	pool        *pgxpool.Pool
	autoMigrate bool
}

// NewPostgresDB creates a new PostgreSQL connection pool for the given DSN.
// When autoMigrate is set, Initialize applies pending migrations.
func NewPostgresDB(ctx context.Context, dsn string, autoMigrate bool) (*PostgresDB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL DSN: %w", err)
	}

	cfg.MaxConns = defaultMaxConnections
	cfg.MinConns = defaultMinConnections
	cfg.MaxConnLifetime = defaultMaxConnLifetime
	cfg.MaxConnIdleTime = defaultMaxConnIdleTime
	cfg.HealthCheckPeriod = defaultHealthCheckPeriod
	cfg.ConnConfig.ConnectTimeout = defaultConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	return &PostgresDB{
		queries:     queries{db: pool},
		pool:        pool,
		autoMigrate: autoMigrate,
	}, nil
}

// Initialize applies the embedded migrations when auto-migration is enabled.
// Otherwise the schema is managed with cmd/migrate.
func (db *PostgresDB) Initialize(ctx context.Context) error {
	if !db.autoMigrate {
		return nil
	}
	return Migrate(ctx, db.pool)
}

// InTx runs fn inside a READ COMMITTED transaction. Rent and return serialize on
// the book row through LockBook.
func (db *PostgresDB) InTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	return pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		return fn(ctx, &transaction{queries: queries{db: tx}})
	})
}

// Close closes the connection pool
func (db *PostgresDB) Close() error {
	if db.pool != nil {
		db.pool.Close()
	}
	return nil
}

// transaction implements storage.Tx on top of a pgx.Tx
type transaction struct {
	queries
}
