// Package snapshot appends immutable offer and price observations.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/web3-frozen/staking-offers/internal/domain"
	"github.com/web3-frozen/staking-offers/internal/repo"
)

// Writer never looks for existing equivalent rows; every observation
// becomes a new row.
type Writer struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Writer {
	return &Writer{logger: logger}
}

// BatchResult counts the outcome of WriteOffers.
type BatchResult struct {
	Written  []domain.Offer
	Rejected int
}

// AppendOffer validates and appends one offer snapshot.
func (w *Writer) AppendOffer(ctx context.Context, offers repo.OfferRepository, o domain.Offer) (domain.Offer, error) {
	if err := validateOffer(o); err != nil {
		return domain.Offer{}, err
	}
	if o.LiquidityTokenName != nil && *o.LiquidityTokenName != "" {
		o.LiquidityToken = true
	}
	return offers.Append(ctx, o)
}

// WriteOffers appends each offer. Malformed and constraint-violating rows
// are logged and skipped; any other error aborts with ErrPersistence.
func (w *Writer) WriteOffers(ctx context.Context, offers repo.OfferRepository, batch []domain.Offer) (BatchResult, error) {
	var res BatchResult
	for _, o := range batch {
		saved, err := w.AppendOffer(ctx, offers, o)
		switch {
		case err == nil:
			res.Written = append(res.Written, saved)
		case errors.Is(err, domain.ErrMalformedRow), errors.Is(err, repo.ErrConstraint):
			res.Rejected++
			w.logger.Warn("offer rejected",
				"coin_id", o.CoinID, "pool_id", o.PoolID, "chain_id", o.ChainID, "error", err)
		default:
			return res, fmt.Errorf("%w: append offer: %v", domain.ErrPersistence, err)
		}
	}
	return res, nil
}

// AppendPrice validates and appends one price snapshot.
func (w *Writer) AppendPrice(ctx context.Context, prices repo.PriceRepository, p domain.CoinPrice) (domain.CoinPrice, error) {
	if math.IsNaN(p.Price) || math.IsInf(p.Price, 0) || p.Price < 0 {
		return domain.CoinPrice{}, fmt.Errorf("price %v: %w", p.Price, domain.ErrMalformedRow)
	}
	return prices.Append(ctx, p)
}

func validateOffer(o domain.Offer) error {
	if o.LockPeriod < 0 {
		return fmt.Errorf("lock period %d: %w", o.LockPeriod, domain.ErrMalformedRow)
	}
	for name, v := range map[string]*float64{
		"apr": o.APR, "fee": o.Fee, "amount_from": o.AmountFrom, "pool_share": o.PoolShare,
	} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return fmt.Errorf("%s is not finite: %w", name, domain.ErrMalformedRow)
		}
	}
	return nil
}
