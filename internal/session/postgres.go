package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/offerscout/offerscout/internal/scout"
)

// PostgresConfig controls the connection pool behind the Postgres store.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore persists session records in a sessions table:
//
//	CREATE TABLE sessions (
//		owner       TEXT PRIMARY KEY,
//		session_id  TEXT NOT NULL,
//		cookies     JSONB NOT NULL,
//		fingerprint JSONB,
//		created_at  TIMESTAMPTZ NOT NULL,
//		expires_at  TIMESTAMPTZ NOT NULL,
//		status      TEXT NOT NULL
//	);
type PostgresStore struct {
	pool  pgxPool
	clock scout.Clock
}

// NewPostgresStore connects a pool from cfg.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig, clock scout.Clock) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresStore{pool: pool, clock: clock}, nil
}

// NewPostgresStoreWithPool constructs a store from an existing pool,
// primarily for testing.
func NewPostgresStoreWithPool(pool pgxPool, clock scout.Clock) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PostgresStore{pool: pool, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Get loads the owner's record, applying the lazy-expiry check.
func (s *PostgresStore) Get(ctx context.Context, owner string) (scout.SessionRecord, error) {
	row := s.pool.QueryRow(ctx, `
SELECT session_id, owner, cookies, fingerprint, created_at, expires_at, status
FROM sessions
WHERE owner = $1`, owner)

	var (
		record          scout.SessionRecord
		cookiesJSON     []byte
		fingerprintJSON []byte
		status          string
	)
	err := row.Scan(
		&record.SessionID,
		&record.Owner,
		&cookiesJSON,
		&fingerprintJSON,
		&record.CreatedAt,
		&record.ExpiresAt,
		&status,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return scout.SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return scout.SessionRecord{}, fmt.Errorf("query session: %w", err)
	}

	record.Status = scout.SessionStatus(status)
	if err := json.Unmarshal(cookiesJSON, &record.Cookies); err != nil {
		return scout.SessionRecord{}, fmt.Errorf("decode cookies: %w", err)
	}
	if len(fingerprintJSON) > 0 {
		if err := json.Unmarshal(fingerprintJSON, &record.Fingerprint); err != nil {
			return scout.SessionRecord{}, fmt.Errorf("decode fingerprint: %w", err)
		}
	}
	if !s.clock.Now().Before(record.ExpiresAt) {
		return scout.SessionRecord{}, ErrNotFound
	}
	return record, nil
}

// Put upserts the owner's record.
func (s *PostgresStore) Put(ctx context.Context, record scout.SessionRecord) error {
	cookiesJSON, err := json.Marshal(record.Cookies)
	if err != nil {
		return fmt.Errorf("encode cookies: %w", err)
	}
	fingerprintJSON, err := json.Marshal(record.Fingerprint)
	if err != nil {
		return fmt.Errorf("encode fingerprint: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO sessions (owner, session_id, cookies, fingerprint, created_at, expires_at, status)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (owner) DO UPDATE SET
	session_id = EXCLUDED.session_id,
	cookies = EXCLUDED.cookies,
	fingerprint = EXCLUDED.fingerprint,
	created_at = EXCLUDED.created_at,
	expires_at = EXCLUDED.expires_at,
	status = EXCLUDED.status`,
		record.Owner,
		record.SessionID,
		cookiesJSON,
		fingerprintJSON,
		record.CreatedAt,
		record.ExpiresAt,
		string(record.Status),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// Delete removes the owner's record. Deleting a missing owner is not an
// error.
func (s *PostgresStore) Delete(ctx context.Context, owner string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE owner = $1`, owner); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
