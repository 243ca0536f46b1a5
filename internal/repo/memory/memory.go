// Package memory is an in-memory implementation of repo.Store.
// Transactions run against a copy of the state that replaces the
// original on commit, so a failed transaction leaves no trace.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/web3-frozen/staking-offers/internal/domain"
	"github.com/web3-frozen/staking-offers/internal/repo"
)

var _ repo.Store = (*Store)(nil)

type link struct{ coin, chain uuid.UUID }

type state struct {
	chains map[uuid.UUID]domain.Chain
	coins  map[uuid.UUID]domain.Coin
	pools  map[uuid.UUID]domain.Pool
	links  map[link]struct{}
	offers []domain.Offer
	prices []domain.CoinPrice
	seq    int64
}

func newState() *state {
	return &state{
		chains: make(map[uuid.UUID]domain.Chain),
		coins:  make(map[uuid.UUID]domain.Coin),
		pools:  make(map[uuid.UUID]domain.Pool),
		links:  make(map[link]struct{}),
	}
}

func (st *state) clone() *state {
	cp := &state{
		chains: make(map[uuid.UUID]domain.Chain, len(st.chains)),
		coins:  make(map[uuid.UUID]domain.Coin, len(st.coins)),
		pools:  make(map[uuid.UUID]domain.Pool, len(st.pools)),
		links:  make(map[link]struct{}, len(st.links)),
		offers: append([]domain.Offer(nil), st.offers...),
		prices: append([]domain.CoinPrice(nil), st.prices...),
		seq:    st.seq,
	}
	for k, v := range st.chains {
		cp.chains[k] = v
	}
	for k, v := range st.coins {
		cp.coins[k] = v
	}
	for k, v := range st.pools {
		cp.pools[k] = v
	}
	for k := range st.links {
		cp.links[k] = struct{}{}
	}
	return cp
}

func (st *state) nextSeq() int64 {
	st.seq++
	return st.seq
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for created_at defaults.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is a mutex-guarded in-memory repo.Store.
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{st: newState(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// view binds repositories either to the live state (tx == nil) or to a
// transaction's private copy.
type view struct {
	s  *Store
	tx *state
}

func (v view) do(fn func(st *state)) {
	if v.tx != nil {
		fn(v.tx)
		return
	}
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	fn(v.s.st)
}

type repos struct{ v view }

func (r repos) Chains() repo.ChainRepository { return chainRepo(r) }
func (r repos) Coins() repo.CoinRepository   { return coinRepo(r) }
func (r repos) Pools() repo.PoolRepository   { return poolRepo(r) }
func (r repos) Offers() repo.OfferRepository { return offerRepo(r) }
func (r repos) Prices() repo.PriceRepository { return priceRepo(r) }

func (s *Store) Chains() repo.ChainRepository { return chainRepo{v: view{s: s}} }
func (s *Store) Coins() repo.CoinRepository   { return coinRepo{v: view{s: s}} }
func (s *Store) Pools() repo.PoolRepository   { return poolRepo{v: view{s: s}} }
func (s *Store) Offers() repo.OfferRepository { return offerRepo{v: view{s: s}} }
func (s *Store) Prices() repo.PriceRepository { return priceRepo{v: view{s: s}} }

// WithTx serializes transactions; the state copy is published only when
// fn returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(repo.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := s.st.clone()
	if err := fn(repos{v: view{s: s, tx: cp}}); err != nil {
		return err
	}
	s.st = cp
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }
