// Package offers answers "what is true now" and "what was true over the
// last N days" for staking offers.
package offers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/web3-frozen/staking-offers/internal/domain"
	"github.com/web3-frozen/staking-offers/internal/pricing"
	"github.com/web3-frozen/staking-offers/internal/repo"
)

type CoinRef struct {
	ID   uuid.UUID `json:"id"`
	Code string    `json:"code"`
	Name *string   `json:"name"`
}

type PoolRef struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	WebsiteURL *string   `json:"website_url"`
	Logo       *string   `json:"logo"`
}

type ChainRef struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// OfferView is the latest snapshot of one offer joined with its identities.
type OfferView struct {
	ID                 uuid.UUID `json:"id"`
	Coin               CoinRef   `json:"coin"`
	Pool               PoolRef   `json:"pool"`
	Chain              ChainRef  `json:"chain"`
	LockPeriod         int       `json:"lock_period"`
	APR                *float64  `json:"apr"`
	Fee                *float64  `json:"fee"`
	AmountFrom         *float64  `json:"amount_from"`
	PoolShare          *float64  `json:"pool_share"`
	LiquidityToken     bool      `json:"liquidity_token"`
	LiquidityTokenName *string   `json:"liquidity_token_name"`
	CreatedAt          time.Time `json:"created_at"`
	CoinPrice          *float64  `json:"coin_price"`
}

// HistoryEntry is one snapshot with the coin price at its timestamp.
type HistoryEntry struct {
	ID                  uuid.UUID `json:"id"`
	LockPeriod          int       `json:"lock_period"`
	APR                 *float64  `json:"apr"`
	Fee                 *float64  `json:"fee"`
	AmountFrom          *float64  `json:"amount_from"`
	PoolShare           *float64  `json:"pool_share"`
	CreatedAt           time.Time `json:"created_at"`
	HistoricalCoinPrice *float64  `json:"historical_coin_price"`
}

type OfferDetail struct {
	OfferView
	History []HistoryEntry `json:"history"`
}

// Options configures a Resolver.
type Options struct {
	MaxPageSize int
	Now         func() time.Time
}

// Resolver recomputes latest state on every call; nothing about current
// offers is cached.
type Resolver struct {
	repos       repo.Repositories
	prices      *pricing.Attacher
	maxPageSize int
	now         func() time.Time
}

func NewResolver(repos repo.Repositories, prices *pricing.Attacher, opts Options) *Resolver {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = 100
	}
	return &Resolver{repos: repos, prices: prices, maxPageSize: opts.MaxPageSize, now: opts.Now}
}

type identities struct {
	coins  map[uuid.UUID]domain.Coin
	pools  map[uuid.UUID]domain.Pool
	chains map[uuid.UUID]domain.Chain
}

func (r *Resolver) activeIdentities(ctx context.Context) (*identities, error) {
	coins, err := r.repos.Coins().List(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list coins: %w", err)
	}
	pools, err := r.repos.Pools().List(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	chains, err := r.repos.Chains().List(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list chains: %w", err)
	}

	ids := &identities{
		coins:  make(map[uuid.UUID]domain.Coin, len(coins)),
		pools:  make(map[uuid.UUID]domain.Pool, len(pools)),
		chains: make(map[uuid.UUID]domain.Chain, len(chains)),
	}
	for _, c := range coins {
		ids.coins[c.ID] = c
	}
	for _, p := range pools {
		ids.pools[p.ID] = p
	}
	for _, c := range chains {
		ids.chains[c.ID] = c
	}
	return ids, nil
}

// view joins o with its identities; ok is false if any is inactive.
func (ids *identities) view(o domain.Offer) (OfferView, bool) {
	coin, ok1 := ids.coins[o.CoinID]
	pool, ok2 := ids.pools[o.PoolID]
	chain, ok3 := ids.chains[o.ChainID]
	if !ok1 || !ok2 || !ok3 {
		return OfferView{}, false
	}
	return OfferView{
		ID:                 o.ID,
		Coin:               CoinRef{ID: coin.ID, Code: coin.Code, Name: coin.Name},
		Pool:               PoolRef{ID: pool.ID, Name: pool.Name, WebsiteURL: pool.WebsiteURL, Logo: pool.Logo},
		Chain:              ChainRef{ID: chain.ID, Name: chain.Name},
		LockPeriod:         o.LockPeriod,
		APR:                o.APR,
		Fee:                o.Fee,
		AmountFrom:         o.AmountFrom,
		PoolShare:          o.PoolShare,
		LiquidityToken:     o.LiquidityToken,
		LiquidityTokenName: o.LiquidityTokenName,
		CreatedAt:          o.CreatedAt,
	}, true
}

// ListCurrent returns the latest snapshot of every offer whose coin, pool
// and chain are active, filtered, ordered and paged per q.
func (r *Resolver) ListCurrent(ctx context.Context, q Query) (Page[OfferView], error) {
	if err := q.validate(); err != nil {
		return Page[OfferView]{}, err
	}

	ids, err := r.activeIdentities(ctx)
	if err != nil {
		return Page[OfferView]{}, err
	}
	latest, err := r.repos.Offers().LatestPerKey(ctx)
	if err != nil {
		return Page[OfferView]{}, fmt.Errorf("latest offers: %w", err)
	}

	views := make([]OfferView, 0, len(latest))
	for _, o := range latest {
		if !q.matches(o) {
			continue
		}
		if v, ok := ids.view(o); ok {
			views = append(views, v)
		}
	}
	sortViews(views, parseOrdering(q.Ordering))

	page := paginate(views, q.Page, q.PageSize, r.maxPageSize)
	prices := make(map[uuid.UUID]*float64)
	for i := range page.Items {
		coinID := page.Items[i].Coin.ID
		p, ok := prices[coinID]
		if !ok {
			cur, err := r.prices.Current(ctx, coinID)
			if err != nil {
				return Page[OfferView]{}, fmt.Errorf("coin price: %w", err)
			}
			if cur != nil {
				p = &cur.Price
			}
			prices[coinID] = p
		}
		page.Items[i].CoinPrice = p
	}
	return page, nil
}

// Get returns the offer identified by any of its snapshot ids, anchored
// on the latest snapshot of its grouping key. With days nil the history
// holds only that latest snapshot; otherwise every snapshot of the last
// days days, newest first.
func (r *Resolver) Get(ctx context.Context, id uuid.UUID, days *int) (OfferDetail, error) {
	if days != nil && *days < 1 {
		return OfferDetail{}, fmt.Errorf("days must be >= 1: %w", domain.ErrInvalidQuery)
	}

	row, err := r.repos.Offers().FindByID(ctx, id)
	if err != nil {
		return OfferDetail{}, err
	}
	base, err := r.repos.Offers().LatestByKey(ctx, row.Key())
	if err != nil {
		return OfferDetail{}, err
	}

	ids, err := r.identitiesOf(ctx, base)
	if err != nil {
		return OfferDetail{}, err
	}
	view, ok := ids.view(base)
	if !ok {
		return OfferDetail{}, domain.ErrNotFound
	}

	cur, err := r.prices.Current(ctx, base.CoinID)
	if err != nil {
		return OfferDetail{}, fmt.Errorf("coin price: %w", err)
	}
	if cur != nil {
		view.CoinPrice = &cur.Price
	}

	rows := []domain.Offer{base}
	if days != nil {
		rows, err = r.repos.Offers().History(ctx, base.Key(), r.now().AddDate(0, 0, -*days))
		if err != nil {
			return OfferDetail{}, fmt.Errorf("offer history: %w", err)
		}
	}

	detail := OfferDetail{OfferView: view, History: make([]HistoryEntry, 0, len(rows))}
	for _, o := range rows {
		p, err := r.prices.At(ctx, o.CoinID, o.CreatedAt)
		if err != nil {
			return OfferDetail{}, fmt.Errorf("historical price: %w", err)
		}
		e := HistoryEntry{
			ID:         o.ID,
			LockPeriod: o.LockPeriod,
			APR:        o.APR,
			Fee:        o.Fee,
			AmountFrom: o.AmountFrom,
			PoolShare:  o.PoolShare,
			CreatedAt:  o.CreatedAt,
		}
		if p != nil {
			e.HistoricalCoinPrice = &p.Price
		}
		detail.History = append(detail.History, e)
	}
	return detail, nil
}

// identitiesOf loads only o's identities, keeping inactive ones out.
func (r *Resolver) identitiesOf(ctx context.Context, o domain.Offer) (*identities, error) {
	ids := &identities{
		coins:  map[uuid.UUID]domain.Coin{},
		pools:  map[uuid.UUID]domain.Pool{},
		chains: map[uuid.UUID]domain.Chain{},
	}
	coin, err := r.repos.Coins().FindByID(ctx, o.CoinID)
	if err != nil {
		return nil, err
	}
	pool, err := r.repos.Pools().FindByID(ctx, o.PoolID)
	if err != nil {
		return nil, err
	}
	chains, err := r.repos.Chains().List(ctx, true)
	if err != nil {
		return nil, err
	}
	if coin.IsActive {
		ids.coins[coin.ID] = coin
	}
	if pool.IsActive {
		ids.pools[pool.ID] = pool
	}
	for _, c := range chains {
		if c.ID == o.ChainID {
			ids.chains[c.ID] = c
		}
	}
	return ids, nil
}

// ListCoins returns active coins ordered by code.
func (r *Resolver) ListCoins(ctx context.Context, page, pageSize int) (Page[domain.Coin], error) {
	coins, err := r.repos.Coins().List(ctx, true)
	if err != nil {
		return Page[domain.Coin]{}, err
	}
	return paginate(coins, page, pageSize, r.maxPageSize), nil
}

// ListPools returns active pools ordered by name.
func (r *Resolver) ListPools(ctx context.Context, page, pageSize int) (Page[domain.Pool], error) {
	pools, err := r.repos.Pools().List(ctx, true)
	if err != nil {
		return Page[domain.Pool]{}, err
	}
	return paginate(pools, page, pageSize, r.maxPageSize), nil
}

// ListChains returns active chains ordered by name.
func (r *Resolver) ListChains(ctx context.Context, page, pageSize int) (Page[domain.Chain], error) {
	chains, err := r.repos.Chains().List(ctx, true)
	if err != nil {
		return Page[domain.Chain]{}, err
	}
	return paginate(chains, page, pageSize, r.maxPageSize), nil
}

// sortViews orders by ord with nulls last in either direction, then by id.
func sortViews(views []OfferView, ord ordering) {
	sort.SliceStable(views, func(i, j int) bool {
		c, aNull, bNull := compareField(ord.field, &views[i], &views[j])
		switch {
		case aNull && bNull:
			c = 0
		case aNull:
			return false
		case bNull:
			return true
		}
		if ord.desc {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
		return views[i].ID.String() < views[j].ID.String()
	})
}

func compareField(field string, a, b *OfferView) (int, bool, bool) {
	switch field {
	case "lock_period":
		return compareInt(a.LockPeriod, b.LockPeriod), false, false
	case "apr":
		return compareFloatPtr(a.APR, b.APR)
	case "created_at":
		return a.CreatedAt.Compare(b.CreatedAt), false, false
	case "amount_from":
		return compareFloatPtr(a.AmountFrom, b.AmountFrom)
	case "pool_share":
		return compareFloatPtr(a.PoolShare, b.PoolShare)
	case "liquidity_token":
		return compareBool(a.LiquidityToken, b.LiquidityToken), false, false
	case "liquidity_token_name":
		if a.LiquidityTokenName == nil || b.LiquidityTokenName == nil {
			return 0, a.LiquidityTokenName == nil, b.LiquidityTokenName == nil
		}
		return strings.Compare(*a.LiquidityTokenName, *b.LiquidityTokenName), false, false
	case "coin_id":
		return strings.Compare(a.Coin.ID.String(), b.Coin.ID.String()), false, false
	case "pool_id":
		return strings.Compare(a.Pool.ID.String(), b.Pool.ID.String()), false, false
	case "chain_id":
		return strings.Compare(a.Chain.ID.String(), b.Chain.ID.String()), false, false
	default:
		return strings.Compare(a.ID.String(), b.ID.String()), false, false
	}
}

func compareFloatPtr(a, b *float64) (int, bool, bool) {
	if a == nil || b == nil {
		return 0, a == nil, b == nil
	}
	switch {
	case *a < *b:
		return -1, false, false
	case *a > *b:
		return 1, false, false
	}
	return 0, false, false
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}
