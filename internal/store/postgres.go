// Package store is the Postgres implementation of repo.Store.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/web3-frozen/staking-offers/internal/repo"
)

var _ repo.Store = (*Store)(nil)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// repos binds repositories to the pool or to an open transaction. tx is
// set only inside WithTx and enables per-row savepoints.
type repos struct {
	q  querier
	tx pgx.Tx
}

func (r repos) Chains() repo.ChainRepository { return chainRepo(r) }
func (r repos) Coins() repo.CoinRepository   { return coinRepo(r) }
func (r repos) Pools() repo.PoolRepository   { return poolRepo(r) }
func (r repos) Offers() repo.OfferRepository { return offerRepo(r) }
func (r repos) Prices() repo.PriceRepository { return priceRepo(r) }

func (s *Store) Chains() repo.ChainRepository { return chainRepo{q: s.pool} }
func (s *Store) Coins() repo.CoinRepository   { return coinRepo{q: s.pool} }
func (s *Store) Pools() repo.PoolRepository   { return poolRepo{q: s.pool} }
func (s *Store) Offers() repo.OfferRepository { return offerRepo{q: s.pool} }
func (s *Store) Prices() repo.PriceRepository { return priceRepo{q: s.pool} }

func (s *Store) WithTx(ctx context.Context, fn func(repo.Repositories) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(repos{q: tx, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// classify maps driver errors onto repo sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repo.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23502", "23503", "23514":
			return fmt.Errorf("%w: %s", repo.ErrConstraint, pgErr.Message)
		}
	}
	return err
}

// savepoint runs fn inside a nested transaction when r is transactional,
// so a rejected row does not abort the enclosing transaction.
func (r repos) savepoint(ctx context.Context, fn func(q querier) error) error {
	if r.tx == nil {
		return fn(r.q)
	}
	sp, err := r.tx.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(sp); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}
