// Package source defines what a staking-offer source adapter hands to the
// ingestion pipeline. How an adapter obtains its rows is its own concern.
package source

import "context"

// Adapter is implemented by every offer source. To add a source, create a
// type implementing Adapter and register it with the ingestion orchestrator.
type Adapter interface {
	// Tag is the stable source identifier recorded on every pool the
	// adapter owns (e.g. "validator.info").
	Tag() string

	// Fetch returns one full report. An error means the source is
	// unavailable for this pass; partial reports must not be returned.
	Fetch(ctx context.Context) (*Report, error)
}

// PriceSource returns USD spot prices keyed by price lookup key.
type PriceSource interface {
	FetchUSD(ctx context.Context, keys []string) (map[string]float64, error)
}

// Report is everything one source currently lists.
type Report struct {
	Listings []Listing
}

// Listing is one chain's set of pools within a report.
type Listing struct {
	Chain     string  // chain display name, e.g. "Celestia"
	CoinCode  string  // staked asset, e.g. "TIA"
	PriceKey  *string // optional external price key for the coin
	Aggregate Aggregate
	Rows      []RawRow
}

// Aggregate carries chain-wide totals used to derive pool share.
type Aggregate struct {
	TotalStakedUSD float64
	// Price is the coin's USD price as reported by the source; nil or 0
	// means unknown.
	Price *float64
}

// RawRow is one pool as reported, before normalization.
type RawRow struct {
	Name         string
	ExternalLink *string
	ImageRef     *string
	StakeAmount  string
	APR          string
	Fee          *string

	// Optional terms; sources without lock-ups leave them nil.
	LockPeriod         *int
	AmountFrom         *string
	LiquidityTokenName *string
}

// StaticAdapter serves a fixed report. It backs tests and manual runs.
type StaticAdapter struct {
	Name   string
	Report *Report
	Err    error
}

func (s *StaticAdapter) Tag() string { return s.Name }

func (s *StaticAdapter) Fetch(context.Context) (*Report, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Report, nil
}
