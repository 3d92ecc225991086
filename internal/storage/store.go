package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	pq "github.com/lib/pq"

	"recipebox/internal/config"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert violates a uniqueness constraint,
// e.g. a duplicate username or tag name.
var ErrConflict = errors.New("already exists")

// Store persists users, recipes, tags, and usage events in Postgres.
type Store struct {
	db          *sql.DB
	autoMigrate bool
}

// NewStore opens the database described by cfg, optionally creating the
// database itself and applying the schema.
func NewStore(cfg config.SQLConfig) (*Store, error) {
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, errors.New("sql config missing driver or dsn")
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		if cfg.CreateIfMissing && shouldAttemptCreateDatabase(cfg.Driver, err) {
			_ = db.Close()
			if err := createDatabase(ctx, cfg); err != nil {
				return nil, err
			}
			db, err = sql.Open(cfg.Driver, cfg.DSN)
			if err != nil {
				return nil, fmt.Errorf("open sql connection: %w", err)
			}
			if err := db.PingContext(ctx); err != nil {
				return nil, fmt.Errorf("ping sql connection: %w", err)
			}
		} else {
			return nil, fmt.Errorf("ping sql connection: %w", err)
		}
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}
	store := &Store{
		db:          db,
		autoMigrate: cfg.AutoMigrate,
	}
	if cfg.AutoMigrate {
		if err := store.ensureSchema(context.Background()); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// Close closes the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func shouldAttemptCreateDatabase(driver string, err error) bool {
	if !strings.EqualFold(driver, "postgres") {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "3D000"
	}
	return strings.Contains(strings.ToLower(err.Error()), "does not exist")
}

func createDatabase(ctx context.Context, cfg config.SQLConfig) error {
	parsed, err := url.Parse(cfg.DSN)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}
	dbName := strings.TrimPrefix(parsed.Path, "/")
	if dbName == "" {
		return errors.New("dsn missing database name")
	}
	if strings.EqualFold(dbName, "postgres") {
		return fmt.Errorf("target database %q cannot be auto-created", dbName)
	}
	parsed.Path = "/postgres"
	adminDSN := parsed.String()
	adminDB, err := sql.Open(cfg.Driver, adminDSN)
	if err != nil {
		return fmt.Errorf("connect admin database: %w", err)
	}
	defer adminDB.Close()
	if err := adminDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping admin database: %w", err)
	}
	stmt := fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName))
	if _, err := adminDB.ExecContext(ctx, stmt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "42P04" {
			return nil
		}
		return fmt.Errorf("create database %q: %w", dbName, err)
	}
	return nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil || !s.autoMigrate {
		return nil
	}
	schemaCtx := ctx
	if schemaCtx == nil || schemaCtx.Err() != nil {
		schemaCtx = context.Background()
	}
	schemaCtx, cancel := context.WithTimeout(schemaCtx, 10*time.Second)
	defer cancel()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
		    id UUID PRIMARY KEY,
		    username TEXT NOT NULL UNIQUE,
		    email TEXT NOT NULL UNIQUE,
		    token TEXT NOT NULL UNIQUE,
		    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS recipes (
		    id UUID PRIMARY KEY,
		    user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		    name TEXT NOT NULL,
		    description TEXT,
		    prep_time INT,
		    cook_time INT,
		    total_time INT,
		    servings INT,
		    ingredients JSONB NOT NULL,
		    instructions JSONB NOT NULL,
		    macros JSONB,
		    is_pinned BOOLEAN NOT NULL DEFAULT FALSE,
		    source_url TEXT,
		    import_method TEXT,
		    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		// Upgrades for tables created before these columns existed.
		`ALTER TABLE recipes ADD COLUMN IF NOT EXISTS macros JSONB`,
		`ALTER TABLE recipes ADD COLUMN IF NOT EXISTS is_pinned BOOLEAN NOT NULL DEFAULT FALSE`,
		`CREATE INDEX IF NOT EXISTS idx_recipes_user_created ON recipes (user_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS tags (
		    id UUID PRIMARY KEY,
		    name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS recipe_tags (
		    recipe_id UUID NOT NULL REFERENCES recipes(id) ON DELETE CASCADE,
		    tag_id UUID NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
		    PRIMARY KEY (recipe_id, tag_id)
		)`,
		`CREATE TABLE IF NOT EXISTS usage_events (
		    id UUID PRIMARY KEY,
		    user_id UUID NOT NULL,
		    request_type TEXT NOT NULL,
		    tokens_used INT,
		    success BOOLEAN NOT NULL,
		    created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_events_created ON usage_events (created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(schemaCtx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// withRetry runs op, and on an undefined-table error under auto-migrate,
// applies the schema and retries once. Keeps first boot order-independent.
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	err := op()
	if err == nil {
		return nil
	}
	if s.autoMigrate && isUndefinedTableErr(err) {
		if schemaErr := s.ensureSchema(ctx); schemaErr != nil {
			return fmt.Errorf("ensure schema: %w", schemaErr)
		}
		return op()
	}
	return err
}

func isUndefinedTableErr(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "relation") && strings.Contains(lower, "does not exist")
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
