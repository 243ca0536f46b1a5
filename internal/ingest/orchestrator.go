// Package ingest drives ingestion passes: every registered source is
// fetched, normalized, reconciled against known identities and written as
// new snapshots, one source at a time.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/web3-frozen/staking-offers/internal/domain"
	"github.com/web3-frozen/staking-offers/internal/metrics"
	"github.com/web3-frozen/staking-offers/internal/normalize"
	"github.com/web3-frozen/staking-offers/internal/reconcile"
	"github.com/web3-frozen/staking-offers/internal/repo"
	"github.com/web3-frozen/staking-offers/internal/snapshot"
	"github.com/web3-frozen/staking-offers/internal/source"
)

// State is the position of one source within a pass.
type State string

const (
	Idle           State = "idle"
	FetchingSource State = "fetching_source"
	Normalizing    State = "normalizing"
	Reconciling    State = "reconciling"
	Writing        State = "writing"
	Committed      State = "committed"
	Failed         State = "failed"
)

// Stats counts what one source pass did. Identity and offer counts are
// only meaningful for committed passes.
type Stats struct {
	Listings         int
	ChainsSkipped    int
	RowsSeen         int
	RowsSkipped      int
	PoolsCreated     int
	PoolsReactivated int
	PoolsDeactivated int
	PoolsSkipped     int
	OffersWritten    int
	OffersRejected   int
}

// Outcome is the terminal state of one source in a pass. FailedIn is the
// state the pass was in when it failed.
type Outcome struct {
	Source   string
	State    State
	FailedIn State
	Err      error
	Stats    Stats
	Duration time.Duration
}

// Locker is a cross-process lease, see internal/lock.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

// Options tune the orchestrator. Zero values take the defaults below.
type Options struct {
	Timeout         time.Duration
	MaxAttempts     uint
	InitialInterval time.Duration
	LockTTL         time.Duration
	Locker          Locker
	Tracer          trace.Tracer
}

const (
	defaultTimeout         = 5 * time.Minute
	defaultMaxAttempts     = 3
	defaultInitialInterval = 2 * time.Second
	defaultLockTTL         = 30 * time.Minute
)

// Orchestrator runs ingestion passes over a fixed set of sources.
type Orchestrator struct {
	store      repo.Store
	sources    []source.Adapter
	reconciler *reconcile.Reconciler
	writer     *snapshot.Writer
	logger     *slog.Logger
	opts       Options
	tracer     trace.Tracer

	mu      sync.Mutex
	running map[string]bool
}

func New(store repo.Store, sources []source.Adapter, logger *slog.Logger, opts Options) *Orchestrator {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = defaultInitialInterval
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/web3-frozen/staking-offers/internal/ingest")
	}
	for _, s := range sources {
		logger.Info("registered source", "source", s.Tag())
	}
	return &Orchestrator{
		store:      store,
		sources:    sources,
		reconciler: reconcile.New(logger),
		writer:     snapshot.New(logger),
		logger:     logger,
		opts:       opts,
		tracer:     tracer,
		running:    make(map[string]bool),
	}
}

// Sources returns the tags of the registered sources in pass order.
func (o *Orchestrator) Sources() []string {
	tags := make([]string, 0, len(o.sources))
	for _, s := range o.sources {
		tags = append(tags, s.Tag())
	}
	return tags
}

// Run processes every source sequentially and returns one outcome per
// source. A failed source never stops the sources after it.
func (o *Orchestrator) Run(ctx context.Context) []Outcome {
	out := make([]Outcome, 0, len(o.sources))
	for _, a := range o.sources {
		out = append(out, o.RunSource(ctx, a))
	}
	return out
}

// RunSource runs one pass for a single source.
func (o *Orchestrator) RunSource(ctx context.Context, a source.Adapter) Outcome {
	tag := a.Tag()
	start := time.Now()

	ctx, span := o.tracer.Start(ctx, "ingest.pass", trace.WithAttributes(attribute.String("source", tag)))
	defer span.End()

	p := &pass{o: o, adapter: a, tag: tag, state: Idle}
	err := o.guard(ctx, tag, func() error { return p.run(ctx) })

	res := Outcome{Source: tag, State: Committed, Stats: p.stats, Duration: time.Since(start)}
	if err != nil {
		res.State, res.FailedIn, res.Err = Failed, p.state, err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Error("pass failed", "source", tag, "stage", string(p.state), "error", err)
	} else {
		o.logger.Info("pass committed",
			"source", tag,
			"listings", p.stats.Listings,
			"offers", p.stats.OffersWritten,
			"pools_created", p.stats.PoolsCreated,
			"pools_deactivated", p.stats.PoolsDeactivated,
			"pools_skipped", p.stats.PoolsSkipped,
			"rows_skipped", p.stats.RowsSkipped,
			"duration", res.Duration.Round(time.Millisecond))
	}
	o.record(res)
	return res
}

// guard keeps passes for the same source from overlapping, in process
// and, with a Locker, across processes.
func (o *Orchestrator) guard(ctx context.Context, tag string, fn func() error) error {
	o.mu.Lock()
	if o.running[tag] {
		o.mu.Unlock()
		return domain.ErrPassInProgress
	}
	o.running[tag] = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.running, tag)
		o.mu.Unlock()
	}()

	if o.opts.Locker != nil {
		release, ok, err := o.opts.Locker.Acquire(ctx, tag, o.opts.LockTTL)
		switch {
		case err != nil:
			// Redis being down must not stop ingestion entirely.
			o.logger.Warn("pass lease unavailable, continuing unlocked", "source", tag, "error", err)
		case !ok:
			return domain.ErrPassInProgress
		default:
			defer release()
		}
	}
	return fn()
}

func (o *Orchestrator) record(res Outcome) {
	metrics.PassTotal.WithLabelValues(res.Source, string(res.State), string(res.FailedIn)).Inc()
	metrics.PassDuration.WithLabelValues(res.Source).Observe(res.Duration.Seconds())
	if res.State != Committed {
		return
	}
	metrics.PassLastSuccess.WithLabelValues(res.Source).SetToCurrentTime()
	metrics.OffersWritten.WithLabelValues(res.Source).Add(float64(res.Stats.OffersWritten))
	metrics.PoolsChanged.WithLabelValues(res.Source, "created").Add(float64(res.Stats.PoolsCreated))
	metrics.PoolsChanged.WithLabelValues(res.Source, "reactivated").Add(float64(res.Stats.PoolsReactivated))
	metrics.PoolsChanged.WithLabelValues(res.Source, "deactivated").Add(float64(res.Stats.PoolsDeactivated))
	metrics.PoolsChanged.WithLabelValues(res.Source, "skipped").Add(float64(res.Stats.PoolsSkipped))
}

// pass is the mutable state of one source pass.
type pass struct {
	o       *Orchestrator
	adapter source.Adapter
	tag     string
	state   State
	stats   Stats
}

func (p *pass) enter(s State) {
	p.state = s
	p.o.logger.Debug("pass state", "source", p.tag, "state", string(s))
}

func (p *pass) run(ctx context.Context) error {
	p.enter(FetchingSource)
	report, err := p.fetch(ctx)
	if err != nil {
		return err
	}

	p.enter(Normalizing)
	listings, err := p.normalize(ctx, report)
	if err != nil {
		return err
	}

	var stats Stats
	err = p.o.store.WithTx(ctx, func(r repo.Repositories) error {
		p.enter(Reconciling)
		res, err := p.o.reconciler.Reconcile(ctx, r, reconcileInput(p.tag, listings))
		if err != nil {
			return fmt.Errorf("%w: reconcile: %v", domain.ErrPersistence, err)
		}
		stats.PoolsCreated = res.PoolsCreated
		stats.PoolsReactivated = res.PoolsReactivated
		stats.PoolsSkipped = res.PoolsSkipped

		p.enter(Writing)
		batch := offersFor(listings, res)
		written, err := p.o.writer.WriteOffers(ctx, r.Offers(), batch)
		if err != nil {
			return err
		}
		stats.OffersWritten = len(written.Written)
		stats.OffersRejected = written.Rejected

		// Stale pools are only touched once the snapshots are in.
		n, err := p.o.reconciler.Deactivate(ctx, r, p.tag, res.Stale)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
		}
		stats.PoolsDeactivated = n
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrPersistence) {
			err = fmt.Errorf("%w: %v", domain.ErrPersistence, err)
		}
		return err
	}

	p.stats.PoolsCreated = stats.PoolsCreated
	p.stats.PoolsReactivated = stats.PoolsReactivated
	p.stats.PoolsDeactivated = stats.PoolsDeactivated
	p.stats.PoolsSkipped = stats.PoolsSkipped
	p.stats.OffersWritten = stats.OffersWritten
	p.stats.OffersRejected = stats.OffersRejected
	p.enter(Committed)
	return nil
}

// fetch calls the adapter under the retry policy. Each attempt gets its
// own timeout; an attempt that times out ends the fetch.
func (p *pass) fetch(ctx context.Context) (*source.Report, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.o.opts.InitialInterval
	policy.MaxInterval = p.o.opts.InitialInterval * 10

	attempt := 0
	operation := func() (*source.Report, error) {
		attempt++
		metrics.FetchAttempts.WithLabelValues(p.tag).Inc()

		fctx, cancel := context.WithTimeout(ctx, p.o.opts.Timeout)
		defer cancel()
		report, err := p.adapter.Fetch(fctx)
		switch {
		case err == nil && report == nil:
			return nil, backoff.Permanent(errors.New("adapter returned no report"))
		case err == nil:
			return report, nil
		case errors.Is(fctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
			return nil, backoff.Permanent(fmt.Errorf("timed out after %s: %w", p.o.opts.Timeout, context.DeadlineExceeded))
		case ctx.Err() != nil:
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, err
	}
	notify := func(err error, wait time.Duration) {
		p.o.logger.Warn("fetch failed, retrying", "source", p.tag, "attempt", attempt, "backoff", wait, "error", err)
	}

	report, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(p.o.opts.MaxAttempts),
		backoff.WithNotify(notify))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrSourceUnavailable, p.tag, err)
	}
	return report, nil
}

// listing is one source listing after normalization.
type listing struct {
	asset reconcile.Asset
	rows  []row
}

// row is a normalized pool row; the offer lacks identity ids until
// reconciliation resolves them.
type row struct {
	pool  reconcile.PoolInput
	offer domain.Offer
}

func (p *pass) skip(reason string, n int) {
	p.stats.RowsSkipped += n
	metrics.RowsSkipped.WithLabelValues(p.tag, reason).Add(float64(n))
}

// normalize turns a report into rows ready for reconciliation. It reads
// identity state outside the pass transaction to skip listings whose
// chain or coin has been switched off.
func (p *pass) normalize(ctx context.Context, report *source.Report) ([]listing, error) {
	out := make([]listing, 0, len(report.Listings))
	for _, l := range report.Listings {
		p.stats.Listings++
		p.stats.RowsSeen += len(l.Rows)

		l.Chain = strings.TrimSpace(l.Chain)
		l.CoinCode = strings.TrimSpace(l.CoinCode)
		if l.Chain == "" || l.CoinCode == "" {
			p.o.logger.Warn("listing without chain or coin", "source", p.tag, "chain", l.Chain, "coin", l.CoinCode)
			p.stats.ChainsSkipped++
			p.skip("no_chain", len(l.Rows))
			continue
		}

		active, err := p.identitiesActive(ctx, l)
		if err != nil {
			return nil, err
		}
		if !active {
			p.o.logger.Info("skipping inactive chain", "source", p.tag, "chain", l.Chain, "coin", l.CoinCode)
			p.stats.ChainsSkipped++
			p.skip("inactive_chain", len(l.Rows))
			continue
		}

		price, err := p.chainPrice(ctx, l)
		if err != nil {
			return nil, err
		}
		out = append(out, listing{
			asset: reconcile.Asset{Chain: l.Chain, CoinCode: l.CoinCode, PriceKey: l.PriceKey},
			rows:  p.normalizeRows(l, price),
		})
	}
	return out, nil
}

// identitiesActive is false when the listing's chain or coin exists but
// is inactive. Unknown identities count as active; reconciliation creates them.
func (p *pass) identitiesActive(ctx context.Context, l source.Listing) (bool, error) {
	chain, err := p.o.store.Chains().FindByName(ctx, l.Chain)
	switch {
	case errors.Is(err, repo.ErrNotFound):
	case err != nil:
		return false, fmt.Errorf("%w: find chain %q: %v", domain.ErrPersistence, l.Chain, err)
	case !chain.IsActive:
		return false, nil
	}

	coin, err := p.o.store.Coins().FindByCode(ctx, l.CoinCode)
	switch {
	case errors.Is(err, repo.ErrNotFound):
	case err != nil:
		return false, fmt.Errorf("%w: find coin %q: %v", domain.ErrPersistence, l.CoinCode, err)
	case !coin.IsActive:
		return false, nil
	}
	return true, nil
}

// chainPrice is the USD price used to value stakes on a chain: the
// source's own price, else the latest stored price of the coin, else 1.
func (p *pass) chainPrice(ctx context.Context, l source.Listing) (float64, error) {
	if l.Aggregate.Price != nil && *l.Aggregate.Price > 0 {
		return *l.Aggregate.Price, nil
	}

	coin, err := p.o.store.Coins().FindByCode(ctx, l.CoinCode)
	if errors.Is(err, repo.ErrNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: find coin %q: %v", domain.ErrPersistence, l.CoinCode, err)
	}
	latest, err := p.o.store.Prices().Latest(ctx, coin.ID)
	if err != nil {
		return 0, fmt.Errorf("%w: latest price %q: %v", domain.ErrPersistence, l.CoinCode, err)
	}
	if latest != nil && latest.Price > 0 {
		return latest.Price, nil
	}
	p.o.logger.Warn("no price for chain, valuing stake at 1 USD", "source", p.tag, "chain", l.Chain, "coin", l.CoinCode)
	return 1, nil
}

func (p *pass) normalizeRows(l source.Listing, price float64) []row {
	rows := make([]row, 0, len(l.Rows))
	seen := make(map[string]bool, len(l.Rows))
	for _, raw := range l.Rows {
		r, reason, err := normalizeRow(raw, price, l.Aggregate.TotalStakedUSD)
		if err != nil {
			p.o.logger.Warn("skipping row", "source", p.tag, "chain", l.Chain, "pool", raw.Name, "error", err)
			p.skip(reason, 1)
			continue
		}
		if seen[r.pool.Name] {
			p.o.logger.Debug("duplicate pool in listing", "source", p.tag, "chain", l.Chain, "pool", r.pool.Name)
			p.skip("duplicate", 1)
			continue
		}
		seen[r.pool.Name] = true
		rows = append(rows, r)
	}
	return rows
}

// normalizeRow parses one raw row. On error reason labels the skip.
func normalizeRow(raw source.RawRow, price, totalUSD float64) (row, string, error) {
	name := normalize.Name(raw.Name)
	if name == "" {
		return row{}, "empty_name", fmt.Errorf("empty pool name: %w", domain.ErrMalformedRow)
	}
	stake, err := normalize.Amount(raw.StakeAmount)
	if err != nil {
		return row{}, "malformed", err
	}
	apr, err := normalize.Percent(raw.APR)
	if err != nil {
		return row{}, "malformed", err
	}
	fee, err := normalize.OptionalPercent(raw.Fee)
	if err != nil {
		return row{}, "malformed", err
	}

	var amountFrom *float64
	if raw.AmountFrom != nil && strings.TrimSpace(*raw.AmountFrom) != "" {
		d, err := normalize.Amount(*raw.AmountFrom)
		if err != nil {
			return row{}, "malformed", err
		}
		v := d.InexactFloat64()
		amountFrom = &v
	}

	lock := 0
	if raw.LockPeriod != nil {
		lock = *raw.LockPeriod
	}
	if lock < 0 {
		return row{}, "malformed", fmt.Errorf("lock period %d: %w", lock, domain.ErrMalformedRow)
	}

	share := PoolShare(stake, price, totalUSD)
	r := row{
		pool: reconcile.PoolInput{Name: name, Logo: raw.ImageRef},
		offer: domain.Offer{
			LockPeriod:         lock,
			APR:                &apr,
			Fee:                fee,
			AmountFrom:         amountFrom,
			PoolShare:          &share,
			LiquidityTokenName: raw.LiquidityTokenName,
		},
	}
	if raw.ExternalLink != nil {
		r.pool.ExternalLink = strings.TrimSpace(*raw.ExternalLink)
	}
	return r, "", nil
}

var hundred = decimal.NewFromInt(100)

// PoolShare is the stake's USD value as a percentage of the chain's total
// staked USD, or 0 when the total is unknown.
func PoolShare(stake decimal.Decimal, price, totalUSD float64) float64 {
	if totalUSD <= 0 {
		return 0
	}
	usd := stake.Mul(decimal.NewFromFloat(price))
	return usd.Div(decimal.NewFromFloat(totalUSD)).Mul(hundred).Round(8).InexactFloat64()
}

func reconcileInput(tag string, listings []listing) reconcile.Input {
	in := reconcile.Input{Source: tag}
	for _, l := range listings {
		in.Assets = append(in.Assets, l.asset)
		for _, r := range l.rows {
			in.Pools = append(in.Pools, r.pool)
		}
	}
	return in
}

// offersFor resolves identity ids for every row whose pool is active.
func offersFor(listings []listing, res *reconcile.Result) []domain.Offer {
	var batch []domain.Offer
	for _, l := range listings {
		chain, ok1 := res.Chains[l.asset.Chain]
		coin, ok2 := res.Coins[l.asset.CoinCode]
		if !ok1 || !ok2 {
			continue
		}
		for _, r := range l.rows {
			pool, ok := res.Pools[r.pool.Name]
			if !ok || !pool.IsActive {
				continue
			}
			o := r.offer
			o.CoinID, o.PoolID, o.ChainID = coin.ID, pool.ID, chain.ID
			batch = append(batch, o)
		}
	}
	return batch
}
