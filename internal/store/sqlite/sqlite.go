// Package sqlite implements store.Repository on an embedded SQLite database
// (modernc.org/sqlite, no cgo). Amounts are stored as fixed two-place text
// and timestamps as RFC 3339 text.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JonMunkholm/txnetl/internal/store"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var schemaSQL string

// timeLayout is how timestamps are written, always in UTC so text order is
// time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store is the SQLite engine.
type Store struct {
	db *sql.DB
}

var _ store.Repository = (*Store)(nil)

// Open opens (or creates) the database at path. Pass MemoryPath for an
// in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	file := dbFile(path)
	if file != "" {
		if dir := filepath.Dir(file); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection: temp staging tables and in-memory databases are
	// per-connection, and SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if file != "" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", strings.TrimPrefix(p, "PRAGMA "), err)
		}
	}

	return &Store{db: db}, nil
}

// dbFile returns the file behind a path or "file:" URI, without its query
// string. It returns "" for in-memory databases.
func dbFile(path string) string {
	file, query, _ := strings.Cut(strings.TrimPrefix(path, "file:"), "?")
	if file == "" || file == MemoryPath || strings.Contains(query, "mode=memory") {
		return ""
	}
	return file
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() {
	s.db.Close()
}

// EnsureSchema runs the embedded DDL. Every statement is IF NOT EXISTS.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// mapError turns a unique or primary-key violation into store.ErrDuplicateKey.
func mapError(err error) error {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return fmt.Errorf("%w: %s", store.ErrDuplicateKey, sqliteErr.Error())
	}
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
