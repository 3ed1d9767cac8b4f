// Package store provides storage backends for the ReactPipe reaction registry.
//
// This file implements a PostgreSQL-backed store for the registry snapshot.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/ReactPipe/internal/models"
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

	slog.Debug("Opening Postgres database connection")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	slog.Debug("Postgres database opened")

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	slog.Debug("Postgres ping successful")
	// Run migrations to ensure registry tables exist
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// SaveRegistry replaces the stored snapshot inside a single transaction.
func (s *PostgresStore) SaveRegistry(snapshot models.RegistrySnapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("PostgresStore SaveRegistry begin failed", "error", err)
		return fmt.Errorf("failed to begin registry save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM reactions`); err != nil {
		slog.Error("PostgresStore SaveRegistry clear reactions failed", "error", err)
		return fmt.Errorf("failed to clear reactions: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM used_emojis`); err != nil {
		slog.Error("PostgresStore SaveRegistry clear used emojis failed", "error", err)
		return fmt.Errorf("failed to clear used emojis: %w", err)
	}

	for owner, emojis := range snapshot.Reactions {
		for emoji, expiresAt := range emojis {
			if _, err := tx.Exec(`INSERT INTO reactions (owner, emoji, expires_at) VALUES ($1, $2, $3)`, owner, emoji, expiresAt); err != nil {
				slog.Error("PostgresStore SaveRegistry insert failed", "error", err, "owner", owner)
				return fmt.Errorf("failed to insert reaction for %s: %w", owner, err)
			}
		}
	}
	for _, emoji := range snapshot.UsedEmojis {
		if _, err := tx.Exec(`INSERT INTO used_emojis (emoji) VALUES ($1)`, emoji); err != nil {
			slog.Error("PostgresStore SaveRegistry insert used emoji failed", "error", err)
			return fmt.Errorf("failed to insert used emoji: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		slog.Error("PostgresStore SaveRegistry commit failed", "error", err)
		return fmt.Errorf("failed to commit registry save: %w", err)
	}
	slog.Debug("PostgresStore SaveRegistry succeeded", "owners", len(snapshot.Reactions), "pool_size", len(snapshot.UsedEmojis))
	return nil
}

func (s *PostgresStore) LoadRegistry() (models.RegistrySnapshot, error) {
	snapshot := models.NewRegistrySnapshot()

	rows, err := s.db.Query(`SELECT owner, emoji, expires_at FROM reactions`)
	if err != nil {
		slog.Error("PostgresStore LoadRegistry query failed", "error", err)
		return snapshot, fmt.Errorf("failed to query reactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var owner, emoji string
		var expiresAt time.Time
		if err := rows.Scan(&owner, &emoji, &expiresAt); err != nil {
			slog.Error("PostgresStore LoadRegistry scan failed", "error", err)
			return snapshot, fmt.Errorf("failed to scan reaction row: %w", err)
		}
		if snapshot.Reactions[owner] == nil {
			snapshot.Reactions[owner] = make(map[string]time.Time)
		}
		snapshot.Reactions[owner][emoji] = expiresAt
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore LoadRegistry rows iteration failed", "error", err)
		return snapshot, fmt.Errorf("failed to iterate reaction rows: %w", err)
	}

	emojiRows, err := s.db.Query(`SELECT emoji FROM used_emojis`)
	if err != nil {
		slog.Error("PostgresStore LoadRegistry used emoji query failed", "error", err)
		return snapshot, fmt.Errorf("failed to query used emojis: %w", err)
	}
	defer emojiRows.Close()

	for emojiRows.Next() {
		var emoji string
		if err := emojiRows.Scan(&emoji); err != nil {
			slog.Error("PostgresStore LoadRegistry used emoji scan failed", "error", err)
			return snapshot, fmt.Errorf("failed to scan used emoji row: %w", err)
		}
		snapshot.UsedEmojis = append(snapshot.UsedEmojis, emoji)
	}
	if err := emojiRows.Err(); err != nil {
		slog.Error("PostgresStore LoadRegistry used emoji rows iteration failed", "error", err)
		return snapshot, fmt.Errorf("failed to iterate used emoji rows: %w", err)
	}

	slog.Debug("PostgresStore LoadRegistry succeeded", "owners", len(snapshot.Reactions), "pool_size", len(snapshot.UsedEmojis))
	return snapshot, nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
