package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/web3-frozen/staking-offers/internal/domain"
	"github.com/web3-frozen/staking-offers/internal/repo"
)

// --- Chains ---

type chainRepo struct{ v view }

func (r chainRepo) FindByName(_ context.Context, name string) (domain.Chain, error) {
	var (
		out domain.Chain
		err error = repo.ErrNotFound
	)
	r.v.do(func(st *state) {
		for _, c := range st.chains {
			if c.Name == name {
				out, err = c, nil
				return
			}
		}
	})
	return out, err
}

func (r chainRepo) Ensure(_ context.Context, name string) (domain.Chain, bool, error) {
	var (
		out     domain.Chain
		created bool
	)
	r.v.do(func(st *state) {
		for _, c := range st.chains {
			if c.Name == name {
				out = c
				return
			}
		}
		out = domain.Chain{ID: uuid.New(), Name: name, IsActive: true, CreatedAt: r.v.s.now()}
		st.chains[out.ID] = out
		created = true
	})
	return out, created, nil
}

func (r chainRepo) List(_ context.Context, activeOnly bool) ([]domain.Chain, error) {
	var out []domain.Chain
	r.v.do(func(st *state) {
		for _, c := range st.chains {
			if !activeOnly || c.IsActive {
				out = append(out, c)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r chainRepo) LinkCoin(_ context.Context, coinID, chainID uuid.UUID) (bool, error) {
	var (
		created bool
		err     error
	)
	r.v.do(func(st *state) {
		if _, ok := st.coins[coinID]; !ok {
			err = repo.ErrConstraint
			return
		}
		if _, ok := st.chains[chainID]; !ok {
			err = repo.ErrConstraint
			return
		}
		k := link{coin: coinID, chain: chainID}
		if _, ok := st.links[k]; ok {
			return
		}
		st.links[k] = struct{}{}
		created = true
	})
	return created, err
}

// SetChainActive flips a chain's is_active flag. Ingestion never does
// this; it stands in for the administrative path in tests.
func (s *Store) SetChainActive(id uuid.UUID, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.st.chains[id]; ok {
		c.IsActive = active
		s.st.chains[id] = c
	}
}

// --- Coins ---

type coinRepo struct{ v view }

func (r coinRepo) FindByID(_ context.Context, id uuid.UUID) (domain.Coin, error) {
	var (
		out domain.Coin
		err error = repo.ErrNotFound
	)
	r.v.do(func(st *state) {
		if c, ok := st.coins[id]; ok {
			out, err = c, nil
		}
	})
	return out, err
}

func (r coinRepo) FindByCode(_ context.Context, code string) (domain.Coin, error) {
	var (
		out domain.Coin
		err error = repo.ErrNotFound
	)
	r.v.do(func(st *state) {
		for _, c := range st.coins {
			if c.Code == code {
				out, err = c, nil
				return
			}
		}
	})
	return out, err
}

func (r coinRepo) Ensure(_ context.Context, c domain.Coin) (domain.Coin, bool, error) {
	var (
		out     domain.Coin
		created bool
	)
	r.v.do(func(st *state) {
		for id, existing := range st.coins {
			if existing.Code != c.Code {
				continue
			}
			if existing.PriceKey == nil && c.PriceKey != nil {
				existing.PriceKey = c.PriceKey
				st.coins[id] = existing
			}
			out = existing
			return
		}
		c.ID = uuid.New()
		c.CreatedAt = r.v.s.now()
		st.coins[c.ID] = c
		out, created = c, true
	})
	return out, created, nil
}

func (r coinRepo) List(_ context.Context, activeOnly bool) ([]domain.Coin, error) {
	var out []domain.Coin
	r.v.do(func(st *state) {
		for _, c := range st.coins {
			if !activeOnly || c.IsActive {
				out = append(out, c)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// SetCoinActive flips a coin's is_active flag.
func (s *Store) SetCoinActive(id uuid.UUID, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.st.coins[id]; ok {
		c.IsActive = active
		s.st.coins[id] = c
	}
}

// --- Pools ---

type poolRepo struct{ v view }

func (r poolRepo) FindByID(_ context.Context, id uuid.UUID) (domain.Pool, error) {
	var (
		out domain.Pool
		err error = repo.ErrNotFound
	)
	r.v.do(func(st *state) {
		if p, ok := st.pools[id]; ok {
			out, err = p, nil
		}
	})
	return out, err
}

func (r poolRepo) ListBySource(_ context.Context, source string) ([]domain.Pool, error) {
	var out []domain.Pool
	r.v.do(func(st *state) {
		for _, p := range st.pools {
			if p.Source == source {
				out = append(out, p)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r poolRepo) Ensure(_ context.Context, p domain.Pool) (domain.Pool, bool, error) {
	var (
		out     domain.Pool
		created bool
	)
	r.v.do(func(st *state) {
		for _, existing := range st.pools {
			if existing.Source == p.Source && existing.Name == p.Name {
				out = existing
				return
			}
		}
		p.ID = uuid.New()
		p.CreatedAt = r.v.s.now()
		st.pools[p.ID] = p
		out, created = p, true
	})
	return out, created, nil
}

func (r poolRepo) SetActive(_ context.Context, ids []uuid.UUID, active bool) (int, error) {
	var n int
	r.v.do(func(st *state) {
		for _, id := range ids {
			p, ok := st.pools[id]
			if !ok || p.IsActive == active {
				continue
			}
			p.IsActive = active
			st.pools[id] = p
			n++
		}
	})
	return n, nil
}

func (r poolRepo) List(_ context.Context, activeOnly bool) ([]domain.Pool, error) {
	var out []domain.Pool
	r.v.do(func(st *state) {
		for _, p := range st.pools {
			if !activeOnly || p.IsActive {
				out = append(out, p)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Source < out[j].Source
	})
	return out, nil
}
