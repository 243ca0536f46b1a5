// Package reconcile keeps the chain, coin and pool identity tables in step
// with what a source reports in one ingestion pass.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/web3-frozen/staking-offers/internal/domain"
	"github.com/web3-frozen/staking-offers/internal/normalize"
	"github.com/web3-frozen/staking-offers/internal/repo"
)

// PoolInput is one canonical pool name seen in the pass with the
// metadata used only when the pool has to be created.
type PoolInput struct {
	Name         string
	ExternalLink string
	Logo         *string
}

// Asset is a chain and the coin staked on it.
type Asset struct {
	Chain    string
	CoinCode string
	PriceKey *string
}

// Input is the full set of identities one source reported in a pass.
type Input struct {
	Source string
	Pools  []PoolInput
	Assets []Asset
}

// Result describes the identity state after reconciliation. Stale pools
// are reported, not yet deactivated; see Deactivate.
type Result struct {
	Pools  map[string]domain.Pool
	Chains map[string]domain.Chain
	Coins  map[string]domain.Coin

	PoolsCreated     int
	PoolsReactivated int
	PoolsSkipped     int
	LinksCreated     int
	Stale            []uuid.UUID
}

type Reconciler struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Reconciler {
	return &Reconciler{logger: logger}
}

// Reconcile creates missing identities and computes which known pools of
// in.Source vanished. All writes go through r; callers run it inside the
// pass transaction.
func (rc *Reconciler) Reconcile(ctx context.Context, r repo.Repositories, in Input) (*Result, error) {
	res := &Result{
		Pools:  make(map[string]domain.Pool, len(in.Pools)),
		Chains: make(map[string]domain.Chain),
		Coins:  make(map[string]domain.Coin),
	}

	if err := rc.reconcileAssets(ctx, r, in.Assets, res); err != nil {
		return nil, err
	}

	known, err := r.Pools().ListBySource(ctx, in.Source)
	if err != nil {
		return nil, fmt.Errorf("list pools of %s: %w", in.Source, err)
	}
	byName := make(map[string]domain.Pool, len(known))
	for _, p := range known {
		byName[p.Name] = p
	}

	var reactivate []uuid.UUID
	for _, pi := range in.Pools {
		if pi.Name == "" {
			rc.logger.Warn("skipping pool with empty name", "source", in.Source)
			res.PoolsSkipped++
			continue
		}
		if _, seen := res.Pools[pi.Name]; seen {
			continue
		}

		if p, ok := byName[pi.Name]; ok {
			if !p.IsActive && p.WebsiteURL != nil && normalize.ValidURL(*p.WebsiteURL) {
				reactivate = append(reactivate, p.ID)
				p.IsActive = true
			}
			res.Pools[pi.Name] = p
			continue
		}

		p, created, err := rc.createPool(ctx, r, in.Source, pi)
		if errors.Is(err, repo.ErrConstraint) {
			rc.logger.Warn("skipping pool", "source", in.Source, "pool", pi.Name, "error", err)
			res.PoolsSkipped++
			continue
		}
		if err != nil {
			return nil, err
		}
		if created {
			res.PoolsCreated++
		}
		res.Pools[pi.Name] = p
	}

	if len(reactivate) > 0 {
		n, err := r.Pools().SetActive(ctx, reactivate, true)
		if err != nil {
			return nil, fmt.Errorf("reactivate pools: %w", err)
		}
		res.PoolsReactivated = n
	}

	for _, p := range known {
		if _, seen := res.Pools[p.Name]; !seen && p.IsActive {
			res.Stale = append(res.Stale, p.ID)
		}
	}
	return res, nil
}

func (rc *Reconciler) reconcileAssets(ctx context.Context, r repo.Repositories, assets []Asset, res *Result) error {
	for _, a := range assets {
		chain, ok := res.Chains[a.Chain]
		if !ok {
			c, created, err := r.Chains().Ensure(ctx, a.Chain)
			if err != nil {
				return fmt.Errorf("ensure chain %q: %w", a.Chain, err)
			}
			if created {
				rc.logger.Info("chain created", "chain", a.Chain)
			}
			chain = c
			res.Chains[a.Chain] = c
		}

		coin, ok := res.Coins[a.CoinCode]
		if !ok {
			c, created, err := r.Coins().Ensure(ctx, domain.Coin{Code: a.CoinCode, PriceKey: a.PriceKey, IsActive: true})
			if err != nil {
				return fmt.Errorf("ensure coin %q: %w", a.CoinCode, err)
			}
			if created {
				rc.logger.Info("coin created", "coin", a.CoinCode)
			}
			coin = c
			res.Coins[a.CoinCode] = c
		}

		linked, err := r.Chains().LinkCoin(ctx, coin.ID, chain.ID)
		if err != nil {
			return fmt.Errorf("link %s to %s: %w", a.CoinCode, a.Chain, err)
		}
		if linked {
			res.LinksCreated++
			rc.logger.Info("coin linked to chain", "coin", a.CoinCode, "chain", a.Chain)
		}
	}
	return nil
}

// createPool inserts a pool. Pools without a usable website are stored
// inactive with no URL.
func (rc *Reconciler) createPool(ctx context.Context, r repo.Repositories, source string, pi PoolInput) (domain.Pool, bool, error) {
	p := domain.Pool{Name: pi.Name, Source: source, Logo: pi.Logo}
	if normalize.ValidURL(pi.ExternalLink) {
		link := pi.ExternalLink
		p.WebsiteURL = &link
		p.IsActive = true
	}

	out, created, err := r.Pools().Ensure(ctx, p)
	if err != nil {
		return domain.Pool{}, false, fmt.Errorf("ensure pool %q: %w", pi.Name, err)
	}
	if created {
		rc.logger.Info("pool created", "source", source, "pool", pi.Name, "active", out.IsActive)
	} else {
		// Someone else created it between our read and write.
		rc.logger.Debug("pool already existed", "source", source, "pool", pi.Name, "reason", domain.ErrIdentityConflict)
	}
	return out, created, nil
}

// Deactivate marks stale pools inactive and returns how many changed.
func (rc *Reconciler) Deactivate(ctx context.Context, r repo.Repositories, source string, stale []uuid.UUID) (int, error) {
	n, err := r.Pools().SetActive(ctx, stale, false)
	if err != nil {
		return 0, fmt.Errorf("deactivate pools of %s: %w", source, err)
	}
	if n > 0 {
		rc.logger.Warn("pools deactivated", "source", source, "count", n)
	}
	return n, nil
}
