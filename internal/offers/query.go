package offers

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/web3-frozen/staking-offers/internal/domain"
)

const (
	DefaultPageSize = 20
	DefaultOrdering = "-apr"
)

// Orderable lists the fields callers may sort current offers by.
var Orderable = map[string]bool{
	"lock_period":          true,
	"apr":                  true,
	"created_at":           true,
	"amount_from":          true,
	"pool_share":           true,
	"liquidity_token":      true,
	"liquidity_token_name": true,
	"coin_id":              true,
	"pool_id":              true,
	"chain_id":             true,
	"id":                   true,
}

// Query filters, orders and pages the current offers. Nil bounds are
// open; ranges are inclusive.
type Query struct {
	CoinID  *uuid.UUID
	PoolID  *uuid.UUID
	ChainID *uuid.UUID

	APRMin, APRMax               *float64
	LockPeriodMin, LockPeriodMax *int
	AmountFromMin, AmountFromMax *float64
	PoolShareMin, PoolShareMax   *float64

	// Ordering is a field from Orderable, prefixed with "-" for
	// descending. Anything else falls back to DefaultOrdering.
	Ordering string

	Page     int
	PageSize int
}

// Meta describes one page of a listing.
type Meta struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
	TotalItems int `json:"total_items"`
}

type Page[T any] struct {
	Items []T `json:"items"`
	Meta
}

// ordering is a parsed Query.Ordering.
type ordering struct {
	field string
	desc  bool
}

func parseOrdering(s string) ordering {
	s = strings.TrimSpace(s)
	desc := strings.HasPrefix(s, "-")
	field := strings.TrimPrefix(s, "-")
	if !Orderable[field] {
		return ordering{field: "apr", desc: true}
	}
	return ordering{field: field, desc: desc}
}

func (q Query) validate() error {
	if q.APRMin != nil && q.APRMax != nil && *q.APRMin > *q.APRMax {
		return fmt.Errorf("apr_min > apr_max: %w", domain.ErrInvalidQuery)
	}
	if q.LockPeriodMin != nil && q.LockPeriodMax != nil && *q.LockPeriodMin > *q.LockPeriodMax {
		return fmt.Errorf("lock_period_min > lock_period_max: %w", domain.ErrInvalidQuery)
	}
	if q.AmountFromMin != nil && q.AmountFromMax != nil && *q.AmountFromMin > *q.AmountFromMax {
		return fmt.Errorf("amount_from_min > amount_from_max: %w", domain.ErrInvalidQuery)
	}
	if q.PoolShareMin != nil && q.PoolShareMax != nil && *q.PoolShareMin > *q.PoolShareMax {
		return fmt.Errorf("pool_share_min > pool_share_max: %w", domain.ErrInvalidQuery)
	}
	return nil
}

func (q Query) matches(o domain.Offer) bool {
	if q.CoinID != nil && o.CoinID != *q.CoinID {
		return false
	}
	if q.PoolID != nil && o.PoolID != *q.PoolID {
		return false
	}
	if q.ChainID != nil && o.ChainID != *q.ChainID {
		return false
	}
	lock := float64(o.LockPeriod)
	return inRange(o.APR, q.APRMin, q.APRMax) &&
		inRange(&lock, intPtrToFloat(q.LockPeriodMin), intPtrToFloat(q.LockPeriodMax)) &&
		inRange(o.AmountFrom, q.AmountFromMin, q.AmountFromMax) &&
		inRange(o.PoolShare, q.PoolShareMin, q.PoolShareMax)
}

// inRange is true for open bounds; a null value fails any set bound.
func inRange(v, lo, hi *float64) bool {
	if lo == nil && hi == nil {
		return true
	}
	if v == nil {
		return false
	}
	if lo != nil && *v < *lo {
		return false
	}
	if hi != nil && *v > *hi {
		return false
	}
	return true
}

func intPtrToFloat(p *int) *float64 {
	if p == nil {
		return nil
	}
	f := float64(*p)
	return &f
}

// paginate clamps the requested page geometry and slices items.
func paginate[T any](items []T, page, pageSize, maxPageSize int) Page[T] {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if maxPageSize > 0 && pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if page < 1 {
		page = 1
	}

	total := len(items)
	pages := total / pageSize
	if total%pageSize != 0 {
		pages++
	}
	out := make([]T, 0, min(pageSize, total))
	// Compare in pages before multiplying so huge page numbers cannot overflow.
	if page-1 < pages {
		start := (page - 1) * pageSize
		end := total
		if total-start > pageSize {
			end = start + pageSize
		}
		out = append(out, items[start:end]...)
	}
	return Page[T]{
		Items: out,
		Meta:  Meta{Page: page, PageSize: pageSize, TotalPages: pages, TotalItems: total},
	}
}
