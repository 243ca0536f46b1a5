package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/web3-frozen/staking-offers/internal/domain"
	"github.com/web3-frozen/staking-offers/internal/offers"
)

// Reader is the read side the HTTP handlers serve.
type Reader interface {
	ListCurrent(ctx context.Context, q offers.Query) (offers.Page[offers.OfferView], error)
	Get(ctx context.Context, id uuid.UUID, days *int) (offers.OfferDetail, error)
	ListCoins(ctx context.Context, page, pageSize int) (offers.Page[domain.Coin], error)
	ListPools(ctx context.Context, page, pageSize int) (offers.Page[domain.Pool], error)
	ListChains(ctx context.Context, page, pageSize int) (offers.Page[domain.Chain], error)
}

func ListOffers(rd Reader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := parseOfferQuery(r.URL.Query())
		if err != nil {
			writeError(w, err)
			return
		}
		page, err := rd.ListCurrent(r.Context(), q)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

func GetOffer(rd Reader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			// Not a UUID, so no such offer.
			writeError(w, domain.ErrNotFound)
			return
		}

		var days *int
		if v := r.URL.Query().Get("days"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeError(w, fmt.Errorf("days: %w", domain.ErrInvalidQuery))
				return
			}
			days = &n
		}

		detail, err := rd.Get(r.Context(), id, days)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)
	}
}

func parseOfferQuery(v url.Values) (offers.Query, error) {
	p := queryParser{values: v}
	q := offers.Query{
		CoinID:        p.uuid("coin_id"),
		PoolID:        p.uuid("pool_id"),
		ChainID:       p.uuid("chain_id"),
		APRMin:        p.float("apr_min"),
		APRMax:        p.float("apr_max"),
		LockPeriodMin: p.int("lock_period_min"),
		LockPeriodMax: p.int("lock_period_max"),
		AmountFromMin: p.float("amount_from_min"),
		AmountFromMax: p.float("amount_from_max"),
		PoolShareMin:  p.float("pool_share_min"),
		PoolShareMax:  p.float("pool_share_max"),
		Ordering:      v.Get("ordering"),
	}
	q.Page, q.PageSize = p.paging()
	return q, p.err
}

// queryParser keeps the first parse error so handlers check once.
type queryParser struct {
	values url.Values
	err    error
}

func (p *queryParser) fail(key string) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, domain.ErrInvalidQuery)
	}
}

func (p *queryParser) uuid(key string) *uuid.UUID {
	s := p.values.Get(key)
	if s == "" {
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		p.fail(key)
		return nil
	}
	return &id
}

func (p *queryParser) float(key string) *float64 {
	s := p.values.Get(key)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.fail(key)
		return nil
	}
	return &f
}

func (p *queryParser) int(key string) *int {
	s := p.values.Get(key)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		p.fail(key)
		return nil
	}
	return &n
}

// paging returns zero for absent values; the resolver applies defaults.
func (p *queryParser) paging() (page, pageSize int) {
	if n := p.int("page"); n != nil {
		page = *n
	}
	if n := p.int("page_size"); n != nil {
		pageSize = *n
	}
	return page, pageSize
}
