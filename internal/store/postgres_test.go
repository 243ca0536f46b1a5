package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/web3-frozen/staking-offers/internal/domain"
	"github.com/web3-frozen/staking-offers/internal/repo"
)

// setupTestStore starts a disposable Postgres and returns a migrated Store.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration test skipped in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx), "migrations must be re-runnable")
	return s
}

func seed(t *testing.T, ctx context.Context, r repo.Repositories) (domain.Coin, domain.Pool, domain.Chain) {
	t.Helper()
	key := "celestia"
	coin, _, err := r.Coins().Ensure(ctx, domain.Coin{Code: "TIA", PriceKey: &key, IsActive: true})
	require.NoError(t, err)
	chain, _, err := r.Chains().Ensure(ctx, "Celestia")
	require.NoError(t, err)
	pool, _, err := r.Pools().Ensure(ctx, domain.Pool{Name: "Validator A", Source: "validator.info", IsActive: true})
	require.NoError(t, err)
	return coin, pool, chain
}

func TestPostgresIdentityAndSnapshots(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	coin, pool, chain := seed(t, ctx, s)

	t.Run("ensure reuses existing rows", func(t *testing.T) {
		again, created, err := s.Chains().Ensure(ctx, "Celestia")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, chain.ID, again.ID)

		c, created, err := s.Coins().Ensure(ctx, domain.Coin{Code: "TIA", IsActive: true})
		require.NoError(t, err)
		assert.False(t, created)
		require.NotNil(t, c.PriceKey)
		assert.Equal(t, "celestia", *c.PriceKey)
	})

	t.Run("link coin once", func(t *testing.T) {
		created, err := s.Chains().LinkCoin(ctx, coin.ID, chain.ID)
		require.NoError(t, err)
		assert.True(t, created)
		created, err = s.Chains().LinkCoin(ctx, coin.ID, chain.ID)
		require.NoError(t, err)
		assert.False(t, created)
	})

	t.Run("latest and history", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Microsecond)
		apr := 5.2
		var ids []uuid.UUID
		for _, daysAgo := range []int{10, 3, 0} {
			o, err := s.Offers().Append(ctx, domain.Offer{
				CoinID: coin.ID, PoolID: pool.ID, ChainID: chain.ID, APR: &apr,
				CreatedAt: now.AddDate(0, 0, -daysAgo),
			})
			require.NoError(t, err)
			ids = append(ids, o.ID)
		}

		latest, err := s.Offers().LatestPerKey(ctx)
		require.NoError(t, err)
		require.Len(t, latest, 1)
		assert.Equal(t, ids[2], latest[0].ID)

		hist, err := s.Offers().History(ctx, latest[0].Key(), now.AddDate(0, 0, -7))
		require.NoError(t, err)
		require.Len(t, hist, 2)
		assert.Equal(t, ids[2], hist[0].ID)
		assert.Equal(t, ids[1], hist[1].ID)
	})

	t.Run("identical timestamps resolve by sequence", func(t *testing.T) {
		ts := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
		key := domain.OfferKey{CoinID: coin.ID, PoolID: pool.ID, ChainID: chain.ID, LockPeriod: 30}
		var last domain.Offer
		for i := 0; i < 3; i++ {
			o, err := s.Offers().Append(ctx, domain.Offer{
				CoinID: key.CoinID, PoolID: key.PoolID, ChainID: key.ChainID, LockPeriod: 30, CreatedAt: ts,
			})
			require.NoError(t, err)
			last = o
		}
		got, err := s.Offers().LatestByKey(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, last.ID, got.ID)
	})

	t.Run("prices point in time", func(t *testing.T) {
		t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		got, err := s.Prices().AtOrBefore(ctx, coin.ID, t0)
		require.NoError(t, err)
		assert.Nil(t, got)

		_, err = s.Prices().Append(ctx, domain.CoinPrice{CoinID: coin.ID, Price: 4.5, CreatedAt: t0.Add(time.Hour)})
		require.NoError(t, err)

		got, err = s.Prices().AtOrBefore(ctx, coin.ID, t0.Add(2*time.Hour))
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 4.5, got.Price)
	})

	t.Run("snapshots are append only", func(t *testing.T) {
		_, err := s.pool.Exec(ctx, `UPDATE coin_pool_offers SET apr = 0`)
		assert.Error(t, err)
		_, err = s.pool.Exec(ctx, `DELETE FROM coin_prices`)
		assert.Error(t, err)
	})
}

func TestPostgresRejectedRowKeepsTransaction(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(r repo.Repositories) error {
		coin, pool, chain := seed(t, ctx, r)

		_, err := r.Offers().Append(ctx, domain.Offer{CoinID: coin.ID, PoolID: pool.ID, ChainID: uuid.New()})
		require.ErrorIs(t, err, repo.ErrConstraint)

		_, err = r.Offers().Append(ctx, domain.Offer{CoinID: coin.ID, PoolID: pool.ID, ChainID: chain.ID})
		return err
	})
	require.NoError(t, err)

	latest, err := s.Offers().LatestPerKey(ctx)
	require.NoError(t, err)
	assert.Len(t, latest, 1)
}

func TestPostgresWithTxRollsBack(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(r repo.Repositories) error {
		if _, _, err := r.Chains().Ensure(ctx, "Lava"); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	_, err = s.Chains().FindByName(ctx, "Lava")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestPostgresSetActive(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	_, pool, _ := seed(t, ctx, s)

	n, err := s.Pools().SetActive(ctx, []uuid.UUID{pool.ID}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.Pools().SetActive(ctx, []uuid.UUID{pool.ID}, false)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "unchanged rows are not counted")

	active, err := s.Pools().List(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)
}
