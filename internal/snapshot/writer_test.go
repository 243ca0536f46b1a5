package snapshot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/web3-frozen/staking-offers/internal/domain"
	"github.com/web3-frozen/staking-offers/internal/repo/memory"
)

func setup(t *testing.T) (*memory.Store, domain.Offer) {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	coin, _, _ := s.Coins().Ensure(ctx, domain.Coin{Code: "TIA", IsActive: true})
	chain, _, _ := s.Chains().Ensure(ctx, "Celestia")
	pool, _, _ := s.Pools().Ensure(ctx, domain.Pool{Name: "Validator A", Source: "validator.info", IsActive: true})
	return s, domain.Offer{CoinID: coin.ID, PoolID: pool.ID, ChainID: chain.ID}
}

func newWriter() *Writer {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAppendOfferAlwaysInserts(t *testing.T) {
	s, base := setup(t)
	w := newWriter()
	ctx := context.Background()

	first, err := w.AppendOffer(ctx, s.Offers(), base)
	if err != nil {
		t.Fatalf("AppendOffer: %v", err)
	}
	second, err := w.AppendOffer(ctx, s.Offers(), base)
	if err != nil {
		t.Fatalf("AppendOffer: %v", err)
	}
	if first.ID == second.ID {
		t.Error("identical observations must produce distinct rows")
	}
	if second.Seq <= first.Seq {
		t.Errorf("seq = %d, want > %d", second.Seq, first.Seq)
	}
}

func TestAppendOfferSetsLiquidityFlag(t *testing.T) {
	s, base := setup(t)
	name := "stTIA"
	base.LiquidityTokenName = &name

	got, err := newWriter().AppendOffer(context.Background(), s.Offers(), base)
	if err != nil {
		t.Fatalf("AppendOffer: %v", err)
	}
	if !got.LiquidityToken {
		t.Error("LiquidityToken should be true when a token name is set")
	}
}

func TestWriteOffersSkipsBadRows(t *testing.T) {
	s, base := setup(t)
	nan := math.NaN()

	bad := base
	bad.APR = &nan
	orphan := base
	orphan.ChainID = uuid.New()

	res, err := newWriter().WriteOffers(context.Background(), s.Offers(), []domain.Offer{base, bad, orphan, base})
	if err != nil {
		t.Fatalf("WriteOffers: %v", err)
	}
	if len(res.Written) != 2 {
		t.Errorf("written = %d, want 2", len(res.Written))
	}
	if res.Rejected != 2 {
		t.Errorf("rejected = %d, want 2", res.Rejected)
	}
}

func TestAppendPriceRejectsNegative(t *testing.T) {
	s, base := setup(t)
	_, err := newWriter().AppendPrice(context.Background(), s.Prices(), domain.CoinPrice{CoinID: base.CoinID, Price: -1})
	if !errors.Is(err, domain.ErrMalformedRow) {
		t.Errorf("error = %v, want ErrMalformedRow", err)
	}
}
