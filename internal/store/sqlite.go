// Package store provides storage backends for the chatbot.
//
// This file implements an SQLite-backed store for contact records.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	"github.com/11996262609/CrossFit-ChatBot/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore keeps contact records in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(strings.TrimPrefix(strings.SplitN(dsn, "?", 2)[0], "file:"))
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single writer connection avoids SQLITE_BUSY between concurrent conversations.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "dir", dir)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, addr models.Address) (*models.UserRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM contacts WHERE address = ?`, string(addr))
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetUser failed", "error", err, "address", addr)
		return nil, fmt.Errorf("failed to get contact %s: %w", addr, err)
	}
	return u, nil
}

func (s *SQLiteStore) RecordAttachment(ctx context.Context, addr models.Address, displayName string, at time.Time) error {
	if addr == "" {
		return models.ErrEmptyAddress
	}
	now := toMillis(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts (address, display_name, last_attachment_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			last_attachment_at = excluded.last_attachment_at,
			display_name = CASE WHEN contacts.display_name = '' THEN excluded.display_name ELSE contacts.display_name END,
			updated_at = excluded.updated_at`,
		string(addr), displayName, toMillis(at), now, now,
	)
	if err != nil {
		slog.Error("SQLiteStore RecordAttachment failed", "error", err, "address", addr)
		return fmt.Errorf("failed to record attachment for %s: %w", addr, err)
	}
	slog.Debug("SQLiteStore RecordAttachment succeeded", "address", addr, "at", at)
	return nil
}

func (s *SQLiteStore) MarkReminded(ctx context.Context, addr models.Address, attachmentAt, remindedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE contacts SET last_reminder_at = ?, updated_at = ?
		WHERE address = ? AND last_attachment_at = ?
			AND (last_reminder_at IS NULL OR last_reminder_at < last_attachment_at)`,
		toMillis(remindedAt), toMillis(time.Now()), string(addr), toMillis(attachmentAt),
	)
	if err != nil {
		slog.Error("SQLiteStore MarkReminded failed", "error", err, "address", addr)
		return false, fmt.Errorf("failed to mark reminder for %s: %w", addr, err)
	}
	return affectedOne(res)
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]models.UserRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM contacts ORDER BY address`)
	if err != nil {
		slog.Error("SQLiteStore ListUsers query failed", "error", err)
		return nil, fmt.Errorf("failed to query contacts: %w", err)
	}
	return collectUsers(rows)
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
