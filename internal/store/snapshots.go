package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/web3-frozen/staking-offers/internal/domain"
)

// --- Offers ---

type offerRepo struct {
	q  querier
	tx pgx.Tx
}

const offerCols = `id, seq, coin_id, pool_id, chain_id, lock_period, apr, fee, amount_from,
	pool_share, liquidity_token, liquidity_token_name, created_at`

func scanOffer(row pgx.Row) (domain.Offer, error) {
	var o domain.Offer
	err := row.Scan(&o.ID, &o.Seq, &o.CoinID, &o.PoolID, &o.ChainID, &o.LockPeriod, &o.APR, &o.Fee,
		&o.AmountFrom, &o.PoolShare, &o.LiquidityToken, &o.LiquidityTokenName, &o.CreatedAt)
	return o, err
}

func createdAtArg(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (r offerRepo) Append(ctx context.Context, o domain.Offer) (domain.Offer, error) {
	query := `
		INSERT INTO coin_pool_offers (coin_id, pool_id, chain_id, lock_period, apr, fee, amount_from,
			pool_share, liquidity_token, liquidity_token_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11::timestamptz, now()))
		RETURNING id, seq, created_at`

	err := repos(r).savepoint(ctx, func(q querier) error {
		return q.QueryRow(ctx, query, o.CoinID, o.PoolID, o.ChainID, o.LockPeriod, o.APR, o.Fee,
			o.AmountFrom, o.PoolShare, o.LiquidityToken, o.LiquidityTokenName, createdAtArg(o.CreatedAt)).
			Scan(&o.ID, &o.Seq, &o.CreatedAt)
	})
	if err != nil {
		return domain.Offer{}, classify(err)
	}
	return o, nil
}

func (r offerRepo) FindByID(ctx context.Context, id uuid.UUID) (domain.Offer, error) {
	o, err := scanOffer(r.q.QueryRow(ctx, `SELECT `+offerCols+` FROM coin_pool_offers WHERE id = $1`, id))
	return o, classify(err)
}

func (r offerRepo) LatestPerKey(ctx context.Context) ([]domain.Offer, error) {
	query := `
		SELECT ` + offerCols + ` FROM (
			SELECT DISTINCT ON (coin_id, pool_id, chain_id, lock_period) *
			FROM coin_pool_offers
			ORDER BY coin_id, pool_id, chain_id, lock_period, created_at DESC, seq DESC
		) latest
		ORDER BY seq`
	return r.list(ctx, query)
}

func (r offerRepo) LatestByKey(ctx context.Context, key domain.OfferKey) (domain.Offer, error) {
	query := `
		SELECT ` + offerCols + ` FROM coin_pool_offers
		WHERE coin_id = $1 AND pool_id = $2 AND chain_id = $3 AND lock_period = $4
		ORDER BY created_at DESC, seq DESC
		LIMIT 1`
	o, err := scanOffer(r.q.QueryRow(ctx, query, key.CoinID, key.PoolID, key.ChainID, key.LockPeriod))
	return o, classify(err)
}

func (r offerRepo) History(ctx context.Context, key domain.OfferKey, since time.Time) ([]domain.Offer, error) {
	query := `
		SELECT ` + offerCols + ` FROM coin_pool_offers
		WHERE coin_id = $1 AND pool_id = $2 AND chain_id = $3 AND lock_period = $4 AND created_at >= $5
		ORDER BY created_at DESC, seq DESC`
	return r.list(ctx, query, key.CoinID, key.PoolID, key.ChainID, key.LockPeriod, since)
}

func (r offerRepo) list(ctx context.Context, query string, args ...any) ([]domain.Offer, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var offers []domain.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

// --- Prices ---

type priceRepo struct {
	q  querier
	tx pgx.Tx
}

const priceCols = `id, seq, coin_id, price, created_at`

func scanPrice(row pgx.Row) (domain.CoinPrice, error) {
	var p domain.CoinPrice
	err := row.Scan(&p.ID, &p.Seq, &p.CoinID, &p.Price, &p.CreatedAt)
	return p, err
}

func (r priceRepo) Append(ctx context.Context, p domain.CoinPrice) (domain.CoinPrice, error) {
	query := `
		INSERT INTO coin_prices (coin_id, price, created_at)
		VALUES ($1, $2, COALESCE($3::timestamptz, now()))
		RETURNING id, seq, created_at`

	err := repos(r).savepoint(ctx, func(q querier) error {
		return q.QueryRow(ctx, query, p.CoinID, p.Price, createdAtArg(p.CreatedAt)).Scan(&p.ID, &p.Seq, &p.CreatedAt)
	})
	if err != nil {
		return domain.CoinPrice{}, classify(err)
	}
	return p, nil
}

func (r priceRepo) AtOrBefore(ctx context.Context, coinID uuid.UUID, ts time.Time) (*domain.CoinPrice, error) {
	query := `
		SELECT ` + priceCols + ` FROM coin_prices
		WHERE coin_id = $1 AND created_at <= $2
		ORDER BY created_at DESC, seq DESC
		LIMIT 1`
	return r.one(ctx, query, coinID, ts)
}

func (r priceRepo) Latest(ctx context.Context, coinID uuid.UUID) (*domain.CoinPrice, error) {
	query := `
		SELECT ` + priceCols + ` FROM coin_prices
		WHERE coin_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT 1`
	return r.one(ctx, query, coinID)
}

// one returns nil without error when the query matches nothing.
func (r priceRepo) one(ctx context.Context, query string, args ...any) (*domain.CoinPrice, error) {
	p, err := scanPrice(r.q.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
