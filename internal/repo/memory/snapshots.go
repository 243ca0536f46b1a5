package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/web3-frozen/staking-offers/internal/domain"
	"github.com/web3-frozen/staking-offers/internal/repo"
)

// --- Offers ---

type offerRepo struct{ v view }

func (r offerRepo) Append(_ context.Context, o domain.Offer) (domain.Offer, error) {
	var err error
	r.v.do(func(st *state) {
		_, coinOK := st.coins[o.CoinID]
		_, poolOK := st.pools[o.PoolID]
		_, chainOK := st.chains[o.ChainID]
		if !coinOK || !poolOK || !chainOK || o.LockPeriod < 0 {
			err = repo.ErrConstraint
			return
		}
		o.ID = uuid.New()
		o.Seq = st.nextSeq()
		if o.CreatedAt.IsZero() {
			o.CreatedAt = r.v.s.now()
		}
		st.offers = append(st.offers, o)
	})
	if err != nil {
		return domain.Offer{}, err
	}
	return o, nil
}

func (r offerRepo) FindByID(_ context.Context, id uuid.UUID) (domain.Offer, error) {
	var (
		out domain.Offer
		err error = repo.ErrNotFound
	)
	r.v.do(func(st *state) {
		for _, o := range st.offers {
			if o.ID == id {
				out, err = o, nil
				return
			}
		}
	})
	return out, err
}

func (r offerRepo) LatestPerKey(_ context.Context) ([]domain.Offer, error) {
	latest := make(map[domain.OfferKey]domain.Offer)
	r.v.do(func(st *state) {
		for _, o := range st.offers {
			if cur, ok := latest[o.Key()]; !ok || o.Newer(cur) {
				latest[o.Key()] = o
			}
		}
	})
	out := make([]domain.Offer, 0, len(latest))
	for _, o := range latest {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (r offerRepo) LatestByKey(_ context.Context, key domain.OfferKey) (domain.Offer, error) {
	var (
		out   domain.Offer
		found bool
	)
	r.v.do(func(st *state) {
		for _, o := range st.offers {
			if o.Key() == key && (!found || o.Newer(out)) {
				out, found = o, true
			}
		}
	})
	if !found {
		return domain.Offer{}, repo.ErrNotFound
	}
	return out, nil
}

func (r offerRepo) History(_ context.Context, key domain.OfferKey, since time.Time) ([]domain.Offer, error) {
	var out []domain.Offer
	r.v.do(func(st *state) {
		for _, o := range st.offers {
			if o.Key() == key && !o.CreatedAt.Before(since) {
				out = append(out, o)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Newer(out[j]) })
	return out, nil
}

// --- Prices ---

type priceRepo struct{ v view }

func (r priceRepo) Append(_ context.Context, p domain.CoinPrice) (domain.CoinPrice, error) {
	var err error
	r.v.do(func(st *state) {
		if _, ok := st.coins[p.CoinID]; !ok {
			err = repo.ErrConstraint
			return
		}
		p.ID = uuid.New()
		p.Seq = st.nextSeq()
		if p.CreatedAt.IsZero() {
			p.CreatedAt = r.v.s.now()
		}
		st.prices = append(st.prices, p)
	})
	if err != nil {
		return domain.CoinPrice{}, err
	}
	return p, nil
}

func (r priceRepo) AtOrBefore(_ context.Context, coinID uuid.UUID, ts time.Time) (*domain.CoinPrice, error) {
	var best *domain.CoinPrice
	r.v.do(func(st *state) {
		for i := range st.prices {
			p := st.prices[i]
			if p.CoinID != coinID || p.CreatedAt.After(ts) {
				continue
			}
			if best == nil || p.Newer(*best) {
				best = &p
			}
		}
	})
	return best, nil
}

func (r priceRepo) Latest(_ context.Context, coinID uuid.UUID) (*domain.CoinPrice, error) {
	var best *domain.CoinPrice
	r.v.do(func(st *state) {
		for i := range st.prices {
			p := st.prices[i]
			if p.CoinID != coinID {
				continue
			}
			if best == nil || p.Newer(*best) {
				best = &p
			}
		}
	})
	return best, nil
}
