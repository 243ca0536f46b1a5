package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "staking_offers"

// ── HTTP request metrics (RED method) ──────────────────────────────────

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "path", "status_code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	HTTPRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_in_flight",
		Help:      "Number of HTTP requests currently being processed.",
	})

	HTTPRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter.",
	})
)

// ── Ingestion pass metrics ─────────────────────────────────────────────

var (
	PassTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "passes_total",
		Help:      "Ingestion passes per source by terminal state and failing stage.",
	}, []string{"source", "state", "stage"})

	PassDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "pass_duration_seconds",
		Help:      "Duration of one ingestion pass per source in seconds.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"source"})

	PassLastSuccess = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "last_success_timestamp",
		Help:      "Unix timestamp of the last committed pass per source.",
	}, []string{"source"})

	FetchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "fetch_attempts_total",
		Help:      "Source adapter fetch attempts including retries.",
	}, []string{"source"})

	RowsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "rows_skipped_total",
		Help:      "Adapter rows skipped before reconciliation.",
	}, []string{"source", "reason"})

	OffersWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "offers_written_total",
		Help:      "Offer snapshots committed.",
	}, []string{"source"})

	PoolsChanged = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "pools_changed_total",
		Help:      "Pools created, reactivated, deactivated or skipped by committed passes.",
	}, []string{"source", "change"})
)

// ── Price update metrics ───────────────────────────────────────────────

var (
	PriceUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "prices",
		Name:      "updates_total",
		Help:      "Price update cycles by outcome.",
	}, []string{"status"})

	PricesWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "prices",
		Name:      "written_total",
		Help:      "Price snapshots committed.",
	})
)
