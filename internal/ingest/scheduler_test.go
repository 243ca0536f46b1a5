package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/web3-frozen/staking-offers/internal/domain"
)

type recorder struct {
	mu     sync.Mutex
	events []string
	cancel context.CancelFunc
	stopAt int
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if r.stopAt > 0 && len(r.events) >= r.stopAt {
		r.cancel()
	}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type recPasser struct{ r *recorder }

func (p recPasser) Run(context.Context) []Outcome {
	p.r.add("ingest")
	return []Outcome{{Source: tag, State: Committed}}
}

type recPrices struct {
	r   *recorder
	err error
}

func (p recPrices) RunOnce(context.Context) (int, error) {
	p.r.add("prices")
	return 1, p.err
}

func TestSchedulerUpdatesPricesBeforeFirstPass(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &recorder{cancel: cancel, stopAt: 2}

	s := NewScheduler(recPasser{r}, recPrices{r: r}, Schedule{IngestInterval: time.Hour, PriceInterval: time.Hour}, quiet())
	s.Run(ctx)

	got := r.snapshot()
	if len(got) < 2 || got[0] != "prices" || got[1] != "ingest" {
		t.Fatalf("events = %v, want [prices ingest ...]", got)
	}
}

func TestSchedulerRunsOnBothTickers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r := &recorder{cancel: cancel}

	s := NewScheduler(recPasser{r}, recPrices{r: r}, Schedule{
		IngestInterval: 10 * time.Millisecond,
		PriceInterval:  10 * time.Millisecond,
	}, quiet())

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.After(3 * time.Second)
	for {
		counts := map[string]int{}
		for _, ev := range r.snapshot() {
			counts[ev]++
		}
		if counts["ingest"] >= 3 && counts["prices"] >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("counts = %v, want at least 3 of each", counts)
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestSchedulerAppliesJitter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &recorder{cancel: cancel, stopAt: 2}

	s := NewScheduler(recPasser{r}, nil, Schedule{IngestInterval: time.Millisecond, Jitter: time.Hour}, quiet())
	var asked []time.Duration
	var mu sync.Mutex
	s.jitter = func(limit time.Duration) time.Duration {
		mu.Lock()
		asked = append(asked, limit)
		mu.Unlock()
		return time.Millisecond
	}
	s.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(asked) == 0 || asked[0] != time.Hour {
		t.Errorf("jitter asked with %v, want %v", asked, time.Hour)
	}
}

func TestSchedulerSurvivesPriceFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &recorder{cancel: cancel, stopAt: 2}
	err := fmt.Errorf("%w: 429", domain.ErrPriceSourceUnavailable)

	s := NewScheduler(recPasser{r}, recPrices{r: r, err: err}, Schedule{IngestInterval: time.Hour, PriceInterval: time.Hour}, quiet())
	s.Run(ctx)

	if got := r.snapshot(); len(got) != 2 || got[1] != "ingest" {
		t.Errorf("events = %v, want ingestion to run after a failed price update", got)
	}
}
