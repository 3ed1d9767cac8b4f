// Package store provides storage backends for the ReactPipe reaction registry.
//
// This file implements an SQLite-backed store for the registry snapshot.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/ReactPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

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
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	slog.Debug("SQLite database opened")

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}
	slog.Debug("SQLite ping successful")

	// Run migrations to ensure tables exist
	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// SaveRegistry replaces the stored snapshot inside a single transaction.
// Expiry times are stored as Unix seconds.
func (s *SQLiteStore) SaveRegistry(snapshot models.RegistrySnapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("SQLiteStore SaveRegistry begin failed", "error", err)
		return fmt.Errorf("failed to begin registry save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM reactions`); err != nil {
		slog.Error("SQLiteStore SaveRegistry clear reactions failed", "error", err)
		return fmt.Errorf("failed to clear reactions: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM used_emojis`); err != nil {
		slog.Error("SQLiteStore SaveRegistry clear used emojis failed", "error", err)
		return fmt.Errorf("failed to clear used emojis: %w", err)
	}

	for owner, emojis := range snapshot.Reactions {
		for emoji, expiresAt := range emojis {
			if _, err := tx.Exec(`INSERT INTO reactions (owner, emoji, expires_at) VALUES (?, ?, ?)`, owner, emoji, expiresAt.Unix()); err != nil {
				slog.Error("SQLiteStore SaveRegistry insert failed", "error", err, "owner", owner)
				return fmt.Errorf("failed to insert reaction for %s: %w", owner, err)
			}
		}
	}
	for _, emoji := range snapshot.UsedEmojis {
		if _, err := tx.Exec(`INSERT INTO used_emojis (emoji) VALUES (?)`, emoji); err != nil {
			slog.Error("SQLiteStore SaveRegistry insert used emoji failed", "error", err)
			return fmt.Errorf("failed to insert used emoji: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		slog.Error("SQLiteStore SaveRegistry commit failed", "error", err)
		return fmt.Errorf("failed to commit registry save: %w", err)
	}
	slog.Debug("SQLiteStore SaveRegistry succeeded", "owners", len(snapshot.Reactions), "pool_size", len(snapshot.UsedEmojis))
	return nil
}

func (s *SQLiteStore) LoadRegistry() (models.RegistrySnapshot, error) {
	snapshot := models.NewRegistrySnapshot()

	rows, err := s.db.Query(`SELECT owner, emoji, expires_at FROM reactions`)
	if err != nil {
		slog.Error("SQLiteStore LoadRegistry query failed", "error", err)
		return snapshot, fmt.Errorf("failed to query reactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var owner, emoji string
		var expiresAt int64
		if err := rows.Scan(&owner, &emoji, &expiresAt); err != nil {
			slog.Error("SQLiteStore LoadRegistry scan failed", "error", err)
			return snapshot, fmt.Errorf("failed to scan reaction row: %w", err)
		}
		if snapshot.Reactions[owner] == nil {
			snapshot.Reactions[owner] = make(map[string]time.Time)
		}
		snapshot.Reactions[owner][emoji] = time.Unix(expiresAt, 0)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore LoadRegistry rows iteration failed", "error", err)
		return snapshot, fmt.Errorf("failed to iterate reaction rows: %w", err)
	}

	emojiRows, err := s.db.Query(`SELECT emoji FROM used_emojis`)
	if err != nil {
		slog.Error("SQLiteStore LoadRegistry used emoji query failed", "error", err)
		return snapshot, fmt.Errorf("failed to query used emojis: %w", err)
	}
	defer emojiRows.Close()

	for emojiRows.Next() {
		var emoji string
		if err := emojiRows.Scan(&emoji); err != nil {
			slog.Error("SQLiteStore LoadRegistry used emoji scan failed", "error", err)
			return snapshot, fmt.Errorf("failed to scan used emoji row: %w", err)
		}
		snapshot.UsedEmojis = append(snapshot.UsedEmojis, emoji)
	}
	if err := emojiRows.Err(); err != nil {
		slog.Error("SQLiteStore LoadRegistry used emoji rows iteration failed", "error", err)
		return snapshot, fmt.Errorf("failed to iterate used emoji rows: %w", err)
	}

	slog.Debug("SQLiteStore LoadRegistry succeeded", "owners", len(snapshot.Reactions), "pool_size", len(snapshot.UsedEmojis))
	return snapshot, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
