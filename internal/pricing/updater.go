package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/web3-frozen/staking-offers/internal/domain"
	"github.com/web3-frozen/staking-offers/internal/metrics"
	"github.com/web3-frozen/staking-offers/internal/repo"
	"github.com/web3-frozen/staking-offers/internal/snapshot"
	"github.com/web3-frozen/staking-offers/internal/source"
)

// CoinSeed is a coin that must exist for pricing, with its lookup key.
type CoinSeed struct {
	Code     string
	PriceKey string
}

// Updater runs the price update stage independently of offer ingestion.
type Updater struct {
	store  repo.Store
	source source.PriceSource
	writer *snapshot.Writer
	seeds  []CoinSeed
	logger *slog.Logger
}

func NewUpdater(store repo.Store, src source.PriceSource, seeds []CoinSeed, logger *slog.Logger) *Updater {
	return &Updater{
		store:  store,
		source: src,
		writer: snapshot.New(logger),
		seeds:  seeds,
		logger: logger,
	}
}

// RunOnce fetches prices for every active coin with a lookup key and
// appends one snapshot per coin priced. If the price source fails nothing
// is written and the error wraps ErrPriceSourceUnavailable.
func (u *Updater) RunOnce(ctx context.Context) (int, error) {
	if err := u.ensureSeeds(ctx); err != nil {
		metrics.PriceUpdatesTotal.WithLabelValues("persistence_error").Inc()
		return 0, err
	}

	coins, err := u.store.Coins().List(ctx, true)
	if err != nil {
		metrics.PriceUpdatesTotal.WithLabelValues("persistence_error").Inc()
		return 0, fmt.Errorf("%w: list coins: %v", domain.ErrPersistence, err)
	}

	var (
		priced []domain.Coin
		keys   []string
		seen   = make(map[string]bool)
	)
	for _, c := range coins {
		if c.PriceKey == nil || *c.PriceKey == "" {
			continue
		}
		priced = append(priced, c)
		if !seen[*c.PriceKey] {
			seen[*c.PriceKey] = true
			keys = append(keys, *c.PriceKey)
		}
	}
	if len(keys) == 0 {
		u.logger.Info("no priced coins, skipping price update")
		return 0, nil
	}

	quotes, err := u.source.FetchUSD(ctx, keys)
	if err != nil {
		metrics.PriceUpdatesTotal.WithLabelValues("source_unavailable").Inc()
		return 0, fmt.Errorf("%w: %v", domain.ErrPriceSourceUnavailable, err)
	}

	written := 0
	err = u.store.WithTx(ctx, func(r repo.Repositories) error {
		for _, c := range priced {
			usd, ok := quotes[*c.PriceKey]
			if !ok {
				u.logger.Warn("no price returned", "coin", c.Code, "price_key", *c.PriceKey)
				continue
			}
			_, err := u.writer.AppendPrice(ctx, r.Prices(), domain.CoinPrice{CoinID: c.ID, Price: RoundPrice(usd)})
			if errors.Is(err, domain.ErrMalformedRow) || errors.Is(err, repo.ErrConstraint) {
				u.logger.Warn("price rejected", "coin", c.Code, "price", usd, "error", err)
				continue
			}
			if err != nil {
				return fmt.Errorf("%w: append price %s: %v", domain.ErrPersistence, c.Code, err)
			}
			written++
		}
		return nil
	})
	if err != nil {
		metrics.PriceUpdatesTotal.WithLabelValues("persistence_error").Inc()
		return 0, err
	}

	metrics.PriceUpdatesTotal.WithLabelValues("success").Inc()
	metrics.PricesWrittenTotal.Add(float64(written))
	u.logger.Info("prices updated", "coins", written)
	return written, nil
}

func (u *Updater) ensureSeeds(ctx context.Context) error {
	if len(u.seeds) == 0 {
		return nil
	}
	return u.store.WithTx(ctx, func(r repo.Repositories) error {
		for _, s := range u.seeds {
			key := s.PriceKey
			_, created, err := r.Coins().Ensure(ctx, domain.Coin{Code: s.Code, PriceKey: &key, IsActive: true})
			if err != nil {
				return fmt.Errorf("%w: ensure coin %s: %v", domain.ErrPersistence, s.Code, err)
			}
			if created {
				u.logger.Info("coin created for pricing", "coin", s.Code, "price_key", s.PriceKey)
			}
		}
		return nil
	})
}

// RoundPrice trims a price to a precision that grows as the price shrinks.
func RoundPrice(p float64) float64 {
	var s string
	switch {
	case p < 1e-8:
		s = strconv.FormatFloat(p, 'e', 8, 64)
	case p < 1e-5:
		s = strconv.FormatFloat(p, 'f', 8, 64)
	case p < 1e-4:
		s = strconv.FormatFloat(p, 'f', 7, 64)
	case p < 1e-3:
		s = strconv.FormatFloat(p, 'f', 6, 64)
	case p < 0.01:
		s = strconv.FormatFloat(p, 'f', 5, 64)
	case p < 0.1:
		s = strconv.FormatFloat(p, 'f', 4, 64)
	case p < 1:
		s = strconv.FormatFloat(p, 'f', 3, 64)
	default:
		s = strconv.FormatFloat(p, 'f', 2, 64)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return p
	}
	return v
}
