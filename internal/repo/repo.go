// Package repo declares the storage contracts the pipeline and the read
// side depend on. Implementations live in internal/store (Postgres) and
// internal/repo/memory.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/web3-frozen/staking-offers/internal/domain"
)

var (
	// ErrNotFound is returned by Find* lookups with no match.
	ErrNotFound = domain.ErrNotFound
	// ErrConstraint is a row-level constraint violation (foreign key,
	// check, not null). It rejects one row, not the transaction.
	ErrConstraint = errors.New("constraint violation")
)

// Store is the entry point to persisted state.
type Store interface {
	Repositories
	// WithTx runs fn in one transaction. fn's repositories must not be
	// used after it returns. The transaction commits when fn returns nil.
	WithTx(ctx context.Context, fn func(Repositories) error) error
	Ping(ctx context.Context) error
}

// Repositories groups the per-entity repositories sharing one
// connection or transaction.
type Repositories interface {
	Chains() ChainRepository
	Coins() CoinRepository
	Pools() PoolRepository
	Offers() OfferRepository
	Prices() PriceRepository
}

type ChainRepository interface {
	// FindByName returns ErrNotFound if no chain has that name.
	FindByName(ctx context.Context, name string) (domain.Chain, error)
	// Ensure returns the chain named name, creating it active if missing.
	Ensure(ctx context.Context, name string) (domain.Chain, bool, error)
	List(ctx context.Context, activeOnly bool) ([]domain.Chain, error)
	// LinkCoin associates a coin with a chain; created is false when the
	// association already existed.
	LinkCoin(ctx context.Context, coinID, chainID uuid.UUID) (bool, error)
}

type CoinRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (domain.Coin, error)
	FindByCode(ctx context.Context, code string) (domain.Coin, error)
	// Ensure returns the coin with c.Code, creating it from c if missing.
	// An existing coin with no price key adopts c.PriceKey.
	Ensure(ctx context.Context, c domain.Coin) (domain.Coin, bool, error)
	List(ctx context.Context, activeOnly bool) ([]domain.Coin, error)
}

type PoolRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (domain.Pool, error)
	ListBySource(ctx context.Context, source string) ([]domain.Pool, error)
	// Ensure returns the pool with (p.Source, p.Name), creating it from p
	// if missing. An existing pool is returned unchanged.
	Ensure(ctx context.Context, p domain.Pool) (domain.Pool, bool, error)
	// SetActive sets is_active on the given pools and returns how many
	// rows changed.
	SetActive(ctx context.Context, ids []uuid.UUID, active bool) (int, error)
	List(ctx context.Context, activeOnly bool) ([]domain.Pool, error)
}

type OfferRepository interface {
	// Append inserts a new snapshot and returns it with ID, Seq and
	// CreatedAt set. A zero CreatedAt means "now".
	Append(ctx context.Context, o domain.Offer) (domain.Offer, error)
	FindByID(ctx context.Context, id uuid.UUID) (domain.Offer, error)
	// LatestPerKey returns the newest snapshot of every grouping key.
	LatestPerKey(ctx context.Context) ([]domain.Offer, error)
	LatestByKey(ctx context.Context, key domain.OfferKey) (domain.Offer, error)
	// History returns snapshots of key created at or after since, newest first.
	History(ctx context.Context, key domain.OfferKey, since time.Time) ([]domain.Offer, error)
}

type PriceRepository interface {
	Append(ctx context.Context, p domain.CoinPrice) (domain.CoinPrice, error)
	// AtOrBefore returns the newest price with created_at <= ts, or nil.
	AtOrBefore(ctx context.Context, coinID uuid.UUID, ts time.Time) (*domain.CoinPrice, error)
	// Latest returns the newest price of the coin, or nil.
	Latest(ctx context.Context, coinID uuid.UUID) (*domain.CoinPrice, error)
}
