// Package postgres implements IdentityLookup against the users table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	gw "authgate/internal/gateway"
)

const findInternalIDQuery = `SELECT id FROM users WHERE external_id = $1`

// PoolConfig sizes the connection pool.
type PoolConfig struct {
	MaxConns    int32
	MinConns    int32
	MaxConnIdle time.Duration
}

// IdentityStore resolves external ids with a single indexed query.
type IdentityStore struct {
	pool *pgxpool.Pool
}

var _ gw.IdentityLookup = (*IdentityStore)(nil)

// Connect opens a pool to databaseURL. The pool is not verified; call Ping.
func Connect(ctx context.Context, databaseURL string, pc PoolConfig) (*IdentityStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	if pc.MaxConns > 0 {
		cfg.MaxConns = pc.MaxConns
	}
	if pc.MinConns > 0 {
		cfg.MinConns = pc.MinConns
	}
	if pc.MaxConnIdle > 0 {
		cfg.MaxConnIdleTime = pc.MaxConnIdle
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	return &IdentityStore{pool: pool}, nil
}

// FindInternalID returns found=false when no user has externalID.
func (s *IdentityStore) FindInternalID(ctx context.Context, externalID string) (uuid.UUID, bool, error) {
	var id pgtype.UUID
	err := s.pool.QueryRow(ctx, findInternalIDQuery, externalID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("querying internal id: %w", err)
	}
	if !id.Valid {
		return uuid.Nil, false, nil
	}
	return uuid.UUID(id.Bytes), true, nil
}

// Ping checks that a connection can be acquired and used.
func (s *IdentityStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Stats reports pool connection counts for startup logging.
func (s *IdentityStore) Stats() (total, idle int32) {
	st := s.pool.Stat()
	return st.TotalConns(), st.IdleConns()
}

func (s *IdentityStore) Close() {
	s.pool.Close()
}
