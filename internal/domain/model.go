// Package domain holds the identity and snapshot types shared by the
// ingestion pipeline and the read side.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Chain is a blockchain network an offer is made on.
type Chain struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Coin is a stakeable asset. PriceKey is the identifier used by the
// external price source, nil when the coin is not priced.
type Coin struct {
	ID        uuid.UUID `json:"id"`
	Code      string    `json:"code"`
	Name      *string   `json:"name"`
	PriceKey  *string   `json:"price_key,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Pool is a validator or staking pool. Pools are unique per (Source, Name).
type Pool struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Source     string    `json:"source"`
	WebsiteURL *string   `json:"website_url"`
	Logo       *string   `json:"logo"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}

// OfferKey groups offer snapshots into one logical offer.
type OfferKey struct {
	CoinID     uuid.UUID
	PoolID     uuid.UUID
	ChainID    uuid.UUID
	LockPeriod int
}

// Offer is one immutable observation of a pool's staking terms.
// Seq is assigned at insert and only breaks ties on CreatedAt.
type Offer struct {
	ID                 uuid.UUID `json:"id"`
	Seq                int64     `json:"-"`
	CoinID             uuid.UUID `json:"coin_id"`
	PoolID             uuid.UUID `json:"pool_id"`
	ChainID            uuid.UUID `json:"chain_id"`
	LockPeriod         int       `json:"lock_period"`
	APR                *float64  `json:"apr"`
	Fee                *float64  `json:"fee"`
	AmountFrom         *float64  `json:"amount_from"`
	PoolShare          *float64  `json:"pool_share"`
	LiquidityToken     bool      `json:"liquidity_token"`
	LiquidityTokenName *string   `json:"liquidity_token_name"`
	CreatedAt          time.Time `json:"created_at"`
}

// Key returns the grouping key of the offer.
func (o Offer) Key() OfferKey {
	return OfferKey{CoinID: o.CoinID, PoolID: o.PoolID, ChainID: o.ChainID, LockPeriod: o.LockPeriod}
}

// Newer reports whether o was observed after other.
func (o Offer) Newer(other Offer) bool {
	if !o.CreatedAt.Equal(other.CreatedAt) {
		return o.CreatedAt.After(other.CreatedAt)
	}
	return o.Seq > other.Seq
}

// CoinPrice is one immutable USD price observation for a coin.
type CoinPrice struct {
	ID        uuid.UUID `json:"id"`
	Seq       int64     `json:"-"`
	CoinID    uuid.UUID `json:"coin_id"`
	Price     float64   `json:"price"`
	CreatedAt time.Time `json:"created_at"`
}

// Newer reports whether p was observed after other.
func (p CoinPrice) Newer(other CoinPrice) bool {
	if !p.CreatedAt.Equal(other.CreatedAt) {
		return p.CreatedAt.After(other.CreatedAt)
	}
	return p.Seq > other.Seq
}
