package store

import "context"

const migrationSQL = `
CREATE TABLE IF NOT EXISTS chains (
    id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    name       TEXT NOT NULL UNIQUE,
    is_active  BOOLEAN NOT NULL DEFAULT true,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS coins (
    id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    code       TEXT NOT NULL UNIQUE,
    name       TEXT,
    price_key  TEXT,
    is_active  BOOLEAN NOT NULL DEFAULT true,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS coin_chain (
    coin_id  UUID NOT NULL REFERENCES coins(id),
    chain_id UUID NOT NULL REFERENCES chains(id),
    PRIMARY KEY (coin_id, chain_id)
);

CREATE TABLE IF NOT EXISTS pools (
    id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    name        TEXT NOT NULL,
    source      TEXT NOT NULL,
    website_url TEXT,
    logo        TEXT,
    is_active   BOOLEAN NOT NULL DEFAULT true,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (source, name)
);

CREATE TABLE IF NOT EXISTS coin_pool_offers (
    id                   UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    seq                  BIGSERIAL NOT NULL UNIQUE,
    coin_id              UUID NOT NULL REFERENCES coins(id),
    pool_id              UUID NOT NULL REFERENCES pools(id),
    chain_id             UUID NOT NULL REFERENCES chains(id),
    lock_period          INTEGER NOT NULL DEFAULT 0 CHECK (lock_period >= 0),
    apr                  DOUBLE PRECISION,
    fee                  DOUBLE PRECISION,
    amount_from          DOUBLE PRECISION,
    pool_share           DOUBLE PRECISION,
    liquidity_token      BOOLEAN NOT NULL DEFAULT false,
    liquidity_token_name TEXT,
    created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_offers_key_time
    ON coin_pool_offers (coin_id, pool_id, chain_id, lock_period, created_at DESC, seq DESC);

CREATE TABLE IF NOT EXISTS coin_prices (
    id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    seq        BIGSERIAL NOT NULL UNIQUE,
    coin_id    UUID NOT NULL REFERENCES coins(id),
    price      DOUBLE PRECISION NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_prices_coin_time
    ON coin_prices (coin_id, created_at DESC, seq DESC);

CREATE OR REPLACE FUNCTION reject_snapshot_mutation() RETURNS trigger AS $$
BEGIN
    RAISE EXCEPTION 'snapshot rows are append-only';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS coin_pool_offers_append_only ON coin_pool_offers;
CREATE TRIGGER coin_pool_offers_append_only
    BEFORE UPDATE OR DELETE ON coin_pool_offers
    FOR EACH ROW EXECUTE FUNCTION reject_snapshot_mutation();

DROP TRIGGER IF EXISTS coin_prices_append_only ON coin_prices;
CREATE TRIGGER coin_prices_append_only
    BEFORE UPDATE OR DELETE ON coin_prices
    FOR EACH ROW EXECUTE FUNCTION reject_snapshot_mutation();
`

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, migrationSQL)
	return err
}
