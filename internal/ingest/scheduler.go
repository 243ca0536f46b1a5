package ingest

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/web3-frozen/staking-offers/internal/domain"
)

// Passer runs one ingestion pass over all sources.
type Passer interface {
	Run(ctx context.Context) []Outcome
}

// PriceUpdater runs one price update cycle.
type PriceUpdater interface {
	RunOnce(ctx context.Context) (int, error)
}

// Schedule configures a Scheduler.
type Schedule struct {
	IngestInterval time.Duration
	// Jitter is the upper bound of a random delay before each
	// scheduled pass; the start-up pass is never delayed.
	Jitter        time.Duration
	PriceInterval time.Duration
}

// Scheduler runs ingestion and price updates on independent tickers.
type Scheduler struct {
	passes Passer
	prices PriceUpdater
	sched  Schedule
	logger *slog.Logger
	jitter func(limit time.Duration) time.Duration
}

func NewScheduler(passes Passer, prices PriceUpdater, sched Schedule, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		passes: passes,
		prices: prices,
		sched:  sched,
		logger: logger,
		jitter: func(limit time.Duration) time.Duration {
			if limit <= 0 {
				return 0
			}
			return rand.N(limit)
		},
	}
}

// Run blocks until ctx is cancelled. At start prices are updated first so
// the first pass can value stakes, then ingestion runs.
func (s *Scheduler) Run(ctx context.Context) {
	if s.prices != nil {
		s.updatePrices(ctx)
	}

	var wg sync.WaitGroup
	if s.prices != nil && s.sched.PriceInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, s.sched.PriceInterval, 0, s.updatePrices)
		}()
	}

	s.ingest(ctx)
	if s.sched.IngestInterval > 0 {
		s.loop(ctx, s.sched.IngestInterval, s.sched.Jitter, s.ingest)
	}
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, every, jitter time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d := s.jitter(jitter); d > 0 {
				s.logger.Debug("delaying scheduled run", "delay", d.Round(time.Second))
				select {
				case <-ctx.Done():
					return
				case <-time.After(d):
				}
			}
			fn(ctx)
		}
	}
}

func (s *Scheduler) ingest(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	committed, failed := 0, 0
	for _, o := range s.passes.Run(ctx) {
		if o.State == Committed {
			committed++
		} else {
			failed++
		}
	}
	s.logger.Info("ingestion run finished", "committed", committed, "failed", failed)
}

func (s *Scheduler) updatePrices(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	n, err := s.prices.RunOnce(ctx)
	switch {
	case errors.Is(err, domain.ErrPriceSourceUnavailable):
		s.logger.Warn("price source unavailable, keeping last known prices", "error", err)
	case err != nil:
		s.logger.Error("price update failed", "error", err)
	default:
		s.logger.Debug("price update finished", "coins", n)
	}
}
