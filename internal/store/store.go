package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema/*.sql
var schemas embed.FS

// Schema names, one per owned database.
const (
	SchemaBooking   = "booking"
	SchemaPayment   = "payment"
	SchemaEquipment = "equipment"
)

// Postgres error codes the store translates.
const (
	codeUniqueViolation    pq.ErrorCode = "23505"
	codeExclusionViolation pq.ErrorCode = "23P01"
)

type Store struct {
	db *sqlx.DB
}

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewStore creates a new database store
func NewStore(databaseURL string, pool PoolConfig) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an open connection.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the named schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context, schema string) error {
	ddl, err := schemas.ReadFile("schema/" + schema + ".sql")
	if err != nil {
		return fmt.Errorf("unknown schema %q: %w", schema, err)
	}

	if _, err := s.db.ExecContext(ctx, string(ddl)); err != nil {
		return fmt.Errorf("failed to apply %s schema: %w", schema, err)
	}
	return nil
}

func pqCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}
