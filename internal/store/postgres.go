// Package store provides storage backends for the chatbot.
//
// This file implements a PostgreSQL-backed store for contact records.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/11996262609/CrossFit-ChatBot/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore keeps contact records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, addr models.Address) (*models.UserRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM contacts WHERE address = $1`, string(addr))
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetUser failed", "error", err, "address", addr)
		return nil, fmt.Errorf("failed to get contact %s: %w", addr, err)
	}
	return u, nil
}

func (s *PostgresStore) RecordAttachment(ctx context.Context, addr models.Address, displayName string, at time.Time) error {
	if addr == "" {
		return models.ErrEmptyAddress
	}
	now := toMillis(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts (address, display_name, last_attachment_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (address) DO UPDATE SET
			last_attachment_at = EXCLUDED.last_attachment_at,
			display_name = CASE WHEN contacts.display_name = '' THEN EXCLUDED.display_name ELSE contacts.display_name END,
			updated_at = EXCLUDED.updated_at`,
		string(addr), displayName, toMillis(at), now,
	)
	if err != nil {
		slog.Error("PostgresStore RecordAttachment failed", "error", err, "address", addr)
		return fmt.Errorf("failed to record attachment for %s: %w", addr, err)
	}
	slog.Debug("PostgresStore RecordAttachment succeeded", "address", addr, "at", at)
	return nil
}

func (s *PostgresStore) MarkReminded(ctx context.Context, addr models.Address, attachmentAt, remindedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE contacts SET last_reminder_at = $1, updated_at = $2
		WHERE address = $3 AND last_attachment_at = $4
			AND (last_reminder_at IS NULL OR last_reminder_at < last_attachment_at)`,
		toMillis(remindedAt), toMillis(time.Now()), string(addr), toMillis(attachmentAt),
	)
	if err != nil {
		slog.Error("PostgresStore MarkReminded failed", "error", err, "address", addr)
		return false, fmt.Errorf("failed to mark reminder for %s: %w", addr, err)
	}
	return affectedOne(res)
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]models.UserRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM contacts ORDER BY address`)
	if err != nil {
		slog.Error("PostgresStore ListUsers query failed", "error", err)
		return nil, fmt.Errorf("failed to query contacts: %w", err)
	}
	return collectUsers(rows)
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
