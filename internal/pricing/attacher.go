// Package pricing annotates offers with coin prices and keeps the price
// series up to date.
package pricing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/web3-frozen/staking-offers/internal/cache"
	"github.com/web3-frozen/staking-offers/internal/domain"
	"github.com/web3-frozen/staking-offers/internal/repo"
)

type pointKey struct {
	coin uuid.UUID
	ts   int64
}

// Attacher resolves the price a coin had at a given moment.
type Attacher struct {
	prices repo.PriceRepository
	cache  *cache.Cache[pointKey, *domain.CoinPrice]
}

// NewAttacher caches up to size point-in-time lookups for ttl each.
func NewAttacher(prices repo.PriceRepository, size int, ttl time.Duration) *Attacher {
	return &Attacher{prices: prices, cache: cache.New[pointKey, *domain.CoinPrice](size, ttl)}
}

// At returns the newest price recorded at or before ts, or nil when the
// coin had no price yet. A later price is never returned.
func (a *Attacher) At(ctx context.Context, coinID uuid.UUID, ts time.Time) (*domain.CoinPrice, error) {
	k := pointKey{coin: coinID, ts: ts.UnixNano()}
	if p, ok := a.cache.Get(k); ok {
		return p, nil
	}
	p, err := a.prices.AtOrBefore(ctx, coinID, ts)
	if err != nil {
		return nil, err
	}
	// A miss may be filled by a price transaction that commits later.
	if p != nil {
		a.cache.Put(k, p)
	}
	return p, nil
}

// Current returns the coin's latest price, or nil.
func (a *Attacher) Current(ctx context.Context, coinID uuid.UUID) (*domain.CoinPrice, error) {
	return a.prices.Latest(ctx, coinID)
}
