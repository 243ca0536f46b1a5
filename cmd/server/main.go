package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/web3-frozen/staking-offers/internal/config"
	"github.com/web3-frozen/staking-offers/internal/handler"
	"github.com/web3-frozen/staking-offers/internal/ingest"
	"github.com/web3-frozen/staking-offers/internal/lock"
	"github.com/web3-frozen/staking-offers/internal/middleware"
	"github.com/web3-frozen/staking-offers/internal/offers"
	"github.com/web3-frozen/staking-offers/internal/pricing"
	"github.com/web3-frozen/staking-offers/internal/repo"
	"github.com/web3-frozen/staking-offers/internal/repo/memory"
	"github.com/web3-frozen/staking-offers/internal/source"
	"github.com/web3-frozen/staking-offers/internal/source/coingecko"
	"github.com/web3-frozen/staking-offers/internal/source/validatorinfo"
	"github.com/web3-frozen/staking-offers/internal/store"
	"github.com/web3-frozen/staking-offers/internal/tracing"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := tracing.Init(ctx, cfg.OTELEndpoint, logger)
	defer shutdownTracing()

	catalog, err := config.LoadCatalog(cfg.CatalogFile)
	if err != nil {
		logger.Error("failed to load catalog", "error", err)
		os.Exit(1)
	}

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "store", cfg.Store, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	opts := ingest.Options{
		Timeout:         cfg.SourceTimeout,
		MaxAttempts:     cfg.RetryMaxAttempts,
		InitialInterval: cfg.RetryInitialInterval,
		LockTTL:         cfg.PassLockTTL,
	}
	if cfg.RedisURL != "" {
		locker, err := lock.New(cfg.RedisURL, cfg.RedisPassword)
		if err != nil {
			logger.Warn("redis unavailable, passes run without a cross-process lease", "error", err)
		} else {
			defer locker.Close()
			opts.Locker = locker
			logger.Info("redis connected for pass leases")
		}
	}

	adapters := []source.Adapter{
		validatorinfo.New(cfg.ValidatorInfoURL, validatorInfoChains(catalog), logger),
	}
	orch := ingest.New(st, adapters, logger, opts)

	priceClient := coingecko.New(cfg.PriceAPIURL, coingecko.WithAPIKey(cfg.PriceAPIKey))
	updater := pricing.NewUpdater(st, priceClient, priceSeeds(catalog), logger)

	sched := ingest.NewScheduler(orch, updater, ingest.Schedule{
		IngestInterval: cfg.IngestInterval,
		Jitter:         cfg.IngestJitter,
		PriceInterval:  cfg.PriceInterval,
	}, logger)

	resolver := offers.NewResolver(st, pricing.NewAttacher(st.Prices(), cfg.PriceCacheSize, cfg.PriceCacheTTL), offers.Options{
		MaxPageSize: cfg.PageSizeMax,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(cfg, logger, st, resolver),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		sched.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (repo.Store, func(), error) {
	if cfg.Store == "memory" {
		logger.Warn("using in-memory store, data is lost on restart")
		return memory.New(), func() {}, nil
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, errors.New("DATABASE_URL is required")
	}

	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	logger.Info("database connected and migrated")
	return db, db.Close, nil
}

func newRouter(cfg config.Config, logger *slog.Logger, st repo.Store, rd handler.Reader) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(cfg.FrontendOrigin))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", handler.Health())
	r.Get("/readyz", handler.Ready(st))

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
		r.Get("/offers", handler.ListOffers(rd))
		r.Get("/offers/{id}", handler.GetOffer(rd))
		r.Get("/coins", handler.ListCoins(rd))
		r.Get("/pools", handler.ListPools(rd))
		r.Get("/chains", handler.ListChains(rd))
	})
	return r
}

func validatorInfoChains(cat config.Catalog) []validatorinfo.Chain {
	out := make([]validatorinfo.Chain, 0, len(cat.Chains))
	for _, c := range cat.Chains {
		out = append(out, validatorinfo.Chain{
			Slug:     c.Slug,
			Name:     c.Chain,
			CoinCode: c.Coin,
			PriceKey: cat.PriceKey(c.Coin),
		})
	}
	return out
}

func priceSeeds(cat config.Catalog) []pricing.CoinSeed {
	out := make([]pricing.CoinSeed, 0, len(cat.Coins))
	for _, c := range cat.Coins {
		out = append(out, pricing.CoinSeed{Code: c.Code, PriceKey: c.PriceKey})
	}
	return out
}
