package credstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PGPoolConfig tunes the underlying pgx pool. Zero values keep pgx defaults.
type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// PostgresStore is the durable Store backed by a pgx pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

const createCredentialsTable = `
CREATE TABLE IF NOT EXISTS credentials (
	tenant_key         TEXT PRIMARY KEY,
	client_secret      TEXT NOT NULL,
	refresh_token      TEXT NOT NULL,
	default_account_id TEXT NOT NULL DEFAULT '',
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// NewPostgres connects to pgURL and ensures the credentials table exists.
func NewPostgres(ctx context.Context, pgURL string, poolCfg PGPoolConfig, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg, err := pgxpool.ParseConfig(pgURL)
	if err != nil {
		return nil, fmt.Errorf("invalid pg config: %w", err)
	}
	if poolCfg.MaxConns > 0 {
		cfg.MaxConns = poolCfg.MaxConns
	}
	if poolCfg.MinConns > 0 {
		cfg.MinConns = poolCfg.MinConns
	}
	if poolCfg.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = poolCfg.MaxConnLifetime
	}
	if poolCfg.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = poolCfg.MaxConnIdleTime
	}
	if poolCfg.HealthCheckPeriod > 0 {
		cfg.HealthCheckPeriod = poolCfg.HealthCheckPeriod
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, createCredentialsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init credentials table: %w", err)
	}

	return &PostgresStore{pool: pool, logger: logger}, nil
}

func (s *PostgresStore) Put(ctx context.Context, cred Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO credentials (tenant_key, client_secret, refresh_token, default_account_id, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (tenant_key)
		DO UPDATE SET
			client_secret      = EXCLUDED.client_secret,
			refresh_token      = EXCLUDED.refresh_token,
			default_account_id = EXCLUDED.default_account_id,
			updated_at         = EXCLUDED.updated_at;
	`, cred.TenantKey, cred.ClientSecret, cred.RefreshToken, cred.DefaultAccountID)
	if err != nil {
		s.logger.Error("credstore.pg.put_failed", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, tenantKey string) (*Credential, error) {
	var cred Credential
	err := s.pool.QueryRow(ctx, `
		SELECT tenant_key, client_secret, refresh_token, default_account_id
		FROM credentials
		WHERE tenant_key = $1;
	`, tenantKey).Scan(&cred.TenantKey, &cred.ClientSecret, &cred.RefreshToken, &cred.DefaultAccountID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return &cred, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tenant_key, client_secret <> '' AND refresh_token <> ''
		FROM credentials
		ORDER BY tenant_key;
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.TenantKey, &e.Configured); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, tenantKey string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM credentials WHERE tenant_key = $1;`, tenantKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
