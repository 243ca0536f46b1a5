package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/web3-frozen/staking-offers/internal/domain"
)

// --- Chains ---

type chainRepo struct {
	q  querier
	tx pgx.Tx
}

const chainCols = `id, name, is_active, created_at`

func scanChain(row pgx.Row) (domain.Chain, error) {
	var c domain.Chain
	err := row.Scan(&c.ID, &c.Name, &c.IsActive, &c.CreatedAt)
	return c, err
}

func (r chainRepo) FindByName(ctx context.Context, name string) (domain.Chain, error) {
	c, err := scanChain(r.q.QueryRow(ctx, `SELECT `+chainCols+` FROM chains WHERE name = $1`, name))
	return c, classify(err)
}

// Ensure inserts first and falls back to a read, so a concurrent creator
// of the same name is reused instead of failing the transaction.
func (r chainRepo) Ensure(ctx context.Context, name string) (domain.Chain, bool, error) {
	c, err := scanChain(r.q.QueryRow(ctx,
		`INSERT INTO chains (name) VALUES ($1) ON CONFLICT (name) DO NOTHING RETURNING `+chainCols, name))
	if err == nil {
		return c, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Chain{}, false, classify(err)
	}
	c, err = r.FindByName(ctx, name)
	if err != nil {
		return domain.Chain{}, false, fmt.Errorf("chain %q: %w", name, err)
	}
	return c, false, nil
}

func (r chainRepo) List(ctx context.Context, activeOnly bool) ([]domain.Chain, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+chainCols+` FROM chains WHERE is_active OR NOT $1 ORDER BY name`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chains []domain.Chain
	for rows.Next() {
		c, err := scanChain(rows)
		if err != nil {
			return nil, err
		}
		chains = append(chains, c)
	}
	return chains, rows.Err()
}

func (r chainRepo) LinkCoin(ctx context.Context, coinID, chainID uuid.UUID) (bool, error) {
	tag, err := r.q.Exec(ctx,
		`INSERT INTO coin_chain (coin_id, chain_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, coinID, chainID)
	if err != nil {
		return false, classify(err)
	}
	return tag.RowsAffected() == 1, nil
}

// --- Coins ---

type coinRepo struct {
	q  querier
	tx pgx.Tx
}

const coinCols = `id, code, name, price_key, is_active, created_at`

func scanCoin(row pgx.Row) (domain.Coin, error) {
	var c domain.Coin
	err := row.Scan(&c.ID, &c.Code, &c.Name, &c.PriceKey, &c.IsActive, &c.CreatedAt)
	return c, err
}

func (r coinRepo) FindByID(ctx context.Context, id uuid.UUID) (domain.Coin, error) {
	c, err := scanCoin(r.q.QueryRow(ctx, `SELECT `+coinCols+` FROM coins WHERE id = $1`, id))
	return c, classify(err)
}

func (r coinRepo) FindByCode(ctx context.Context, code string) (domain.Coin, error) {
	c, err := scanCoin(r.q.QueryRow(ctx, `SELECT `+coinCols+` FROM coins WHERE code = $1`, code))
	return c, classify(err)
}

func (r coinRepo) Ensure(ctx context.Context, c domain.Coin) (domain.Coin, bool, error) {
	query := `
		INSERT INTO coins (code, name, price_key, is_active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (code) DO UPDATE SET price_key = COALESCE(coins.price_key, EXCLUDED.price_key)
		RETURNING ` + coinCols + `, (xmax = 0) AS inserted`

	var (
		out      domain.Coin
		inserted bool
	)
	err := r.q.QueryRow(ctx, query, c.Code, c.Name, c.PriceKey, c.IsActive).
		Scan(&out.ID, &out.Code, &out.Name, &out.PriceKey, &out.IsActive, &out.CreatedAt, &inserted)
	if err != nil {
		return domain.Coin{}, false, classify(err)
	}
	return out, inserted, nil
}

func (r coinRepo) List(ctx context.Context, activeOnly bool) ([]domain.Coin, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+coinCols+` FROM coins WHERE is_active OR NOT $1 ORDER BY code`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var coins []domain.Coin
	for rows.Next() {
		c, err := scanCoin(rows)
		if err != nil {
			return nil, err
		}
		coins = append(coins, c)
	}
	return coins, rows.Err()
}

// --- Pools ---

type poolRepo struct {
	q  querier
	tx pgx.Tx
}

const poolCols = `id, name, source, website_url, logo, is_active, created_at`

func scanPool(row pgx.Row) (domain.Pool, error) {
	var p domain.Pool
	err := row.Scan(&p.ID, &p.Name, &p.Source, &p.WebsiteURL, &p.Logo, &p.IsActive, &p.CreatedAt)
	return p, err
}

func (r poolRepo) FindByID(ctx context.Context, id uuid.UUID) (domain.Pool, error) {
	p, err := scanPool(r.q.QueryRow(ctx, `SELECT `+poolCols+` FROM pools WHERE id = $1`, id))
	return p, classify(err)
}

func (r poolRepo) ListBySource(ctx context.Context, source string) ([]domain.Pool, error) {
	return r.list(ctx, `SELECT `+poolCols+` FROM pools WHERE source = $1 ORDER BY name`, source)
}

func (r poolRepo) Ensure(ctx context.Context, p domain.Pool) (domain.Pool, bool, error) {
	query := `
		INSERT INTO pools (name, source, website_url, logo, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source, name) DO NOTHING
		RETURNING ` + poolCols

	out, err := scanPool(r.q.QueryRow(ctx, query, p.Name, p.Source, p.WebsiteURL, p.Logo, p.IsActive))
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Pool{}, false, classify(err)
	}
	out, err = scanPool(r.q.QueryRow(ctx,
		`SELECT `+poolCols+` FROM pools WHERE source = $1 AND name = $2`, p.Source, p.Name))
	if err != nil {
		return domain.Pool{}, false, fmt.Errorf("pool %q: %w", p.Name, classify(err))
	}
	return out, false, nil
}

func (r poolRepo) SetActive(ctx context.Context, ids []uuid.UUID, active bool) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	tag, err := r.q.Exec(ctx,
		`UPDATE pools SET is_active = $2 WHERE id = ANY($1::text[]::uuid[]) AND is_active <> $2`, strs, active)
	if err != nil {
		return 0, classify(err)
	}
	return int(tag.RowsAffected()), nil
}

func (r poolRepo) List(ctx context.Context, activeOnly bool) ([]domain.Pool, error) {
	return r.list(ctx,
		`SELECT `+poolCols+` FROM pools WHERE is_active OR NOT $1 ORDER BY name, source`, activeOnly)
}

func (r poolRepo) list(ctx context.Context, query string, args ...any) ([]domain.Pool, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []domain.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}
