// Gatekeeper - Multi-Tenant Authorization Decision Engine
// Copyright 2026 VisData Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/visdata/gatekeeper

// Package store provides the DuckDB-backed relational store for RBAC
// state: roles, permission grants, role assignments, groups, group
// links and memberships, and the mutation audit log.
//
// Thread safety: reads go straight to the connection pool; mutations
// serialize on an internal mutex so existence checks and inserts are
// atomic with respect to each other.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/visdata/gatekeeper/internal/config"
	"github.com/visdata/gatekeeper/internal/logging"
)

// Sentinel errors returned by store operations.
var (
	// ErrRoleNotFound is returned when a role does not exist in the org.
	ErrRoleNotFound = errors.New("role not found")

	// ErrGroupNotFound is returned when a group does not exist in the org.
	ErrGroupNotFound = errors.New("group not found")

	// ErrDuplicateEntry is returned when a create collides with an
	// existing row under a uniqueness constraint.
	ErrDuplicateEntry = errors.New("duplicate entry")

	// ErrUnavailable is returned when the underlying database cannot be
	// reached. Callers use this to trigger fallback policy.
	ErrUnavailable = errors.New("store unavailable")
)

// DB wraps the DuckDB connection and provides RBAC data access.
type DB struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig

	// mu serializes mutations so check-then-insert sequences cannot
	// interleave.
	mu sync.Mutex
}

// New opens the DuckDB database at cfg.Path and initializes the schema.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	// Ensure the parent directory exists. 0750 per gosec G301.
	dbDir := filepath.Dir(cfg.Path)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, numThreads, cfg.MaxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn, cfg: cfg}

	// DuckDB is an embedded single-writer engine. A small pool avoids
	// write contention while still allowing concurrent reads.
	conn.SetMaxOpenConns(numThreads + 1)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(0)

	if err := db.initSchema(); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Int("threads", numThreads).
		Msg("RBAC store opened")

	return db, nil
}

// NewInMemory opens an in-memory store, used by tests.
func NewInMemory() (*DB, error) {
	conn, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	db := &DB{conn: conn, cfg: &config.DatabaseConfig{Path: ":memory:"}}
	if err := db.initSchema(); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

// Conn exposes the raw connection for health checks.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Ping verifies database connectivity.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func closeQuietly(conn *sql.DB) {
	if err := conn.Close(); err != nil {
		logging.Warn().Err(err).Msg("Failed to close database connection")
	}
}

// schemaStatements defines the RBAC schema. "groups" is a reserved word
// in DuckDB's window frame syntax, so group tables carry a user_ prefix.
var schemaStatements = []string{
	`CREATE SEQUENCE IF NOT EXISTS seq_roles START 1`,
	`CREATE SEQUENCE IF NOT EXISTS seq_role_grants START 1`,
	`CREATE SEQUENCE IF NOT EXISTS seq_role_assignments START 1`,
	`CREATE SEQUENCE IF NOT EXISTS seq_user_groups START 1`,
	`CREATE TABLE IF NOT EXISTS roles (
		id BIGINT PRIMARY KEY,
		org_id VARCHAR NOT NULL,
		name VARCHAR NOT NULL,
		is_system BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (org_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS role_grants (
		id BIGINT PRIMARY KEY,
		role_id BIGINT NOT NULL,
		object_pattern VARCHAR NOT NULL,
		permission VARCHAR NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (role_id, object_pattern, permission)
	)`,
	`CREATE TABLE IF NOT EXISTS role_assignments (
		id BIGINT PRIMARY KEY,
		org_id VARCHAR NOT NULL,
		role_id BIGINT NOT NULL,
		user_id VARCHAR NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (role_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS user_groups (
		id BIGINT PRIMARY KEY,
		org_id VARCHAR NOT NULL,
		name VARCHAR NOT NULL,
		external_id VARCHAR,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (org_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS user_group_roles (
		group_id BIGINT NOT NULL,
		role_id BIGINT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (group_id, role_id)
	)`,
	`CREATE TABLE IF NOT EXISTS user_group_members (
		group_id BIGINT NOT NULL,
		user_id VARCHAR NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (group_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS rbac_audit_log (
		id VARCHAR PRIMARY KEY,
		ts TIMESTAMP NOT NULL,
		actor VARCHAR NOT NULL,
		action VARCHAR NOT NULL,
		org_id VARCHAR NOT NULL,
		target VARCHAR NOT NULL,
		detail VARCHAR
	)`,
	`CREATE INDEX IF NOT EXISTS idx_role_assignments_user ON role_assignments (org_id, user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_group_members_user ON user_group_members (user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_org_ts ON rbac_audit_log (org_id, ts)`,
}

func (db *DB) initSchema() error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

// wrapQueryErr maps low-level driver failures to ErrUnavailable so the
// decision engine can apply its fallback policy. Not-found conditions
// are handled by callers before reaching here.
func wrapQueryErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

func now() time.Time {
	return time.Now().UTC()
}
