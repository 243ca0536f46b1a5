package offers

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3-frozen/staking-offers/internal/domain"
	"github.com/web3-frozen/staking-offers/internal/pricing"
	"github.com/web3-frozen/staking-offers/internal/repo/memory"
)

var now = time.Date(2024, 9, 30, 12, 0, 0, 0, time.UTC)

type fixture struct {
	s     *memory.Store
	r     *Resolver
	coin  domain.Coin
	chain domain.Chain
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := memory.New(memory.WithClock(func() time.Time { return now }))
	coin, _, err := s.Coins().Ensure(ctx, domain.Coin{Code: "TIA", IsActive: true})
	require.NoError(t, err)
	chain, _, err := s.Chains().Ensure(ctx, "Celestia")
	require.NoError(t, err)
	r := NewResolver(s, pricing.NewAttacher(s.Prices(), 64, time.Minute), Options{MaxPageSize: 50, Now: func() time.Time { return now }})
	return &fixture{s: s, r: r, coin: coin, chain: chain}
}

func (f *fixture) pool(t *testing.T, name string, active bool) domain.Pool {
	t.Helper()
	p, _, err := f.s.Pools().Ensure(context.Background(), domain.Pool{Name: name, Source: "validator.info", IsActive: active})
	require.NoError(t, err)
	return p
}

func (f *fixture) offer(t *testing.T, pool domain.Pool, apr *float64, at time.Time) domain.Offer {
	t.Helper()
	o, err := f.s.Offers().Append(context.Background(), domain.Offer{
		CoinID: f.coin.ID, PoolID: pool.ID, ChainID: f.chain.ID, APR: apr, CreatedAt: at,
	})
	require.NoError(t, err)
	return o
}

func ptr[T any](v T) *T { return &v }

func TestListCurrentReturnsLatestPerKey(t *testing.T) {
	f := newFixture(t)
	a := f.pool(t, "Validator A", true)
	f.offer(t, a, ptr(4.0), now.Add(-2*time.Hour))
	latest := f.offer(t, a, ptr(5.0), now.Add(-time.Hour))
	f.offer(t, a, ptr(3.0), now.Add(-3*time.Hour))

	page, err := f.r.ListCurrent(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, latest.ID, page.Items[0].ID)
	assert.Equal(t, 5.0, *page.Items[0].APR)
}

func TestListCurrentTieBreakIsDeterministic(t *testing.T) {
	f := newFixture(t)
	a := f.pool(t, "Validator A", true)
	f.offer(t, a, ptr(4.0), now)
	second := f.offer(t, a, ptr(6.0), now)

	for i := 0; i < 5; i++ {
		page, err := f.r.ListCurrent(context.Background(), Query{})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.Equal(t, second.ID, page.Items[0].ID)
	}
}

func TestListCurrentHidesInactiveIdentities(t *testing.T) {
	f := newFixture(t)
	f.offer(t, f.pool(t, "Active", true), ptr(5.0), now)
	f.offer(t, f.pool(t, "Gone", false), ptr(9.0), now)

	page, err := f.r.ListCurrent(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Active", page.Items[0].Pool.Name)

	f.s.SetChainActive(f.chain.ID, false)
	page, err = f.r.ListCurrent(context.Background(), Query{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestListCurrentOrderingNullsLast(t *testing.T) {
	f := newFixture(t)
	f.offer(t, f.pool(t, "Low", true), ptr(1.0), now)
	f.offer(t, f.pool(t, "Null", true), nil, now)
	f.offer(t, f.pool(t, "High", true), ptr(9.0), now)

	names := func(q Query) []string {
		page, err := f.r.ListCurrent(context.Background(), q)
		require.NoError(t, err)
		var out []string
		for _, v := range page.Items {
			out = append(out, v.Pool.Name)
		}
		return out
	}

	assert.Equal(t, []string{"High", "Low", "Null"}, names(Query{}), "default is apr descending")
	assert.Equal(t, []string{"Low", "High", "Null"}, names(Query{Ordering: "apr"}))
	assert.Equal(t, []string{"High", "Low", "Null"}, names(Query{Ordering: "-apr"}))
	assert.Equal(t, []string{"High", "Low", "Null"}, names(Query{Ordering: "website_url"}), "unknown field falls back")
}

func TestListCurrentFilters(t *testing.T) {
	f := newFixture(t)
	low := f.pool(t, "Low", true)
	f.offer(t, low, ptr(1.0), now)
	f.offer(t, f.pool(t, "Mid", true), ptr(5.0), now)
	f.offer(t, f.pool(t, "High", true), ptr(9.0), now)
	f.offer(t, f.pool(t, "Null", true), nil, now)

	page, err := f.r.ListCurrent(context.Background(), Query{APRMin: ptr(2.0), APRMax: ptr(9.0)})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "High", page.Items[0].Pool.Name)
	assert.Equal(t, "Mid", page.Items[1].Pool.Name)

	page, err = f.r.ListCurrent(context.Background(), Query{PoolID: &low.ID})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Low", page.Items[0].Pool.Name)

	other := uuid.New()
	page, err = f.r.ListCurrent(context.Background(), Query{ChainID: &other})
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	_, err = f.r.ListCurrent(context.Background(), Query{APRMin: ptr(5.0), APRMax: ptr(1.0)})
	assert.ErrorIs(t, err, domain.ErrInvalidQuery)
}

func TestListCurrentPagination(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.offer(t, f.pool(t, string(rune('A'+i)), true), ptr(float64(i)), now)
	}

	page, err := f.r.ListCurrent(context.Background(), Query{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, Meta{Page: 2, PageSize: 2, TotalPages: 3, TotalItems: 5}, page.Meta)
	require.Len(t, page.Items, 2)
	assert.Equal(t, 2.0, *page.Items[0].APR)

	page, err = f.r.ListCurrent(context.Background(), Query{Page: 9, PageSize: 2})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, 5, page.TotalItems)

	page, err = f.r.ListCurrent(context.Background(), Query{Page: math.MaxInt, PageSize: 20})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, math.MaxInt, page.Page)

	page, err = f.r.ListCurrent(context.Background(), Query{PageSize: 1000})
	require.NoError(t, err)
	assert.Equal(t, 50, page.PageSize, "page size is clamped")
}

func TestListCurrentAttachesLatestPrice(t *testing.T) {
	f := newFixture(t)
	f.offer(t, f.pool(t, "A", true), ptr(5.0), now)
	_, err := f.s.Prices().Append(context.Background(), domain.CoinPrice{CoinID: f.coin.ID, Price: 6.01, CreatedAt: now.Add(-time.Minute)})
	require.NoError(t, err)

	page, err := f.r.ListCurrent(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.NotNil(t, page.Items[0].CoinPrice)
	assert.Equal(t, 6.01, *page.Items[0].CoinPrice)
}

func TestGetHistoryWindow(t *testing.T) {
	f := newFixture(t)
	a := f.pool(t, "Validator A", true)
	day10 := f.offer(t, a, ptr(3.0), now.AddDate(0, 0, -10))
	day3 := f.offer(t, a, ptr(4.0), now.AddDate(0, 0, -3))
	day0 := f.offer(t, a, ptr(5.0), now)

	_, err := f.s.Prices().Append(context.Background(), domain.CoinPrice{CoinID: f.coin.ID, Price: 7, CreatedAt: now.AddDate(0, 0, -5)})
	require.NoError(t, err)

	detail, err := f.r.Get(context.Background(), day10.ID, ptr(7))
	require.NoError(t, err)
	assert.Equal(t, day0.ID, detail.ID, "anchored on the latest snapshot")
	require.Len(t, detail.History, 2)
	assert.Equal(t, day0.ID, detail.History[0].ID)
	assert.Equal(t, day3.ID, detail.History[1].ID)
	require.NotNil(t, detail.History[1].HistoricalCoinPrice)
	assert.Equal(t, 7.0, *detail.History[1].HistoricalCoinPrice)

	detail, err = f.r.Get(context.Background(), day0.ID, ptr(30))
	require.NoError(t, err)
	require.Len(t, detail.History, 3)
	assert.Nil(t, detail.History[2].HistoricalCoinPrice, "no price existed ten days ago")
}

func TestGetWithoutDaysReturnsLatestOnly(t *testing.T) {
	f := newFixture(t)
	a := f.pool(t, "Validator A", true)
	old := f.offer(t, a, ptr(3.0), now.AddDate(0, 0, -1))
	latest := f.offer(t, a, ptr(5.0), now)

	detail, err := f.r.Get(context.Background(), old.ID, nil)
	require.NoError(t, err)
	require.Len(t, detail.History, 1)
	assert.Equal(t, latest.ID, detail.History[0].ID)
}

func TestGetErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.r.Get(ctx, uuid.New(), nil)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	o := f.offer(t, f.pool(t, "Validator A", true), ptr(5.0), now)
	_, err = f.r.Get(ctx, o.ID, ptr(0))
	assert.ErrorIs(t, err, domain.ErrInvalidQuery)

	gone := f.offer(t, f.pool(t, "Gone", false), ptr(5.0), now)
	_, err = f.r.Get(ctx, gone.ID, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIdentityListings(t *testing.T) {
	f := newFixture(t)
	f.pool(t, "B", true)
	f.pool(t, "A", true)
	f.pool(t, "Hidden", false)

	pools, err := f.r.ListPools(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, pools.Items, 2)
	assert.Equal(t, "A", pools.Items[0].Name)

	coins, err := f.r.ListCoins(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, coins.TotalItems)

	chains, err := f.r.ListChains(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultPageSize, chains.PageSize)
}
