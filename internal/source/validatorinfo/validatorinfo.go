// Package validatorinfo scrapes validator.info with headless Chrome.
package validatorinfo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/web3-frozen/staking-offers/internal/cache"
	"github.com/web3-frozen/staking-offers/internal/normalize"
	"github.com/web3-frozen/staking-offers/internal/source"
)

var errNoRows = errors.New("no validator rows")

// Tag is recorded as the source of every pool this adapter reports.
const Tag = "validator.info"

// Chain is one chain page on validator.info.
type Chain struct {
	Slug     string // URL path, e.g. "terra-classic"
	Name     string // chain display name, e.g. "Terra Classic"
	CoinCode string
	PriceKey *string
}

// Page is an open browser session.
type Page interface {
	// MainPage returns the inner HTML of the main page body.
	MainPage(url string) (string, error)
	// ChainRows returns every validator row of a chain page.
	ChainRows(url string) ([]ScrapedRow, error)
	// ExternalLink returns the website linked from a validator page, or "".
	ExternalLink(url string) (string, error)
}

// Browser opens one session per fetch.
type Browser interface {
	Open(ctx context.Context) (Page, func(), error)
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithBrowser replaces the headless Chrome browser.
func WithBrowser(b Browser) Option {
	return func(a *Adapter) { a.browser = b }
}

// WithPageRate limits page loads per second.
func WithPageRate(perSecond float64, burst int) Option {
	return func(a *Adapter) { a.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// WithLinkCache sets how many external links are remembered and for how long.
func WithLinkCache(size int, ttl time.Duration) Option {
	return func(a *Adapter) { a.links = cache.New[string, string](size, ttl) }
}

// Adapter reports the validators of the configured chains.
type Adapter struct {
	baseURL string
	chains  []Chain
	browser Browser
	limiter *rate.Limiter
	links   *cache.Cache[string, string]
	logger  *slog.Logger
}

func New(baseURL string, chains []Chain, logger *slog.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		chains:  chains,
		browser: NewChrome(logger),
		limiter: rate.NewLimiter(rate.Limit(2), 2),
		links:   cache.New[string, string](4096, 24*time.Hour),
		logger:  logger,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) Tag() string { return Tag }

// Fetch scrapes the main page for chain totals and every chain page for
// its validators. Any chain that cannot be read fails the whole fetch.
func (a *Adapter) Fetch(ctx context.Context) (*source.Report, error) {
	page, closePage, err := a.browser.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open browser: %w", err)
	}
	defer closePage()

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	body, err := page.MainPage(a.baseURL)
	if err != nil {
		return nil, fmt.Errorf("main page: %w", err)
	}
	summaries, err := ExtractSummaries(body)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("chain list extracted", "chains", len(summaries))

	report := &source.Report{Listings: make([]source.Listing, 0, len(a.chains))}
	for _, c := range a.chains {
		l, err := a.listing(ctx, page, c, summaries)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.Slug, err)
		}
		report.Listings = append(report.Listings, l)
	}
	return report, nil
}

func (a *Adapter) listing(ctx context.Context, page Page, c Chain, summaries []Summary) (source.Listing, error) {
	l := source.Listing{Chain: c.Name, CoinCode: c.CoinCode, PriceKey: c.PriceKey}
	if s, ok := MatchSummary(summaries, c); ok {
		l.Aggregate = s.Aggregate()
	} else {
		a.logger.Warn("no chain totals, pool share will be 0", "chain", c.Name)
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return l, err
	}
	scraped, err := page.ChainRows(a.baseURL + "/" + c.Slug)
	if err != nil {
		return l, err
	}
	if len(scraped) == 0 {
		return l, errNoRows
	}

	skipped := 0
	for _, sr := range scraped {
		row, err := MapRow(c.Slug, sr)
		if err != nil {
			// Ads and sub-header rows have their own shape.
			a.logger.Warn("skipping row", "chain", c.Name, "cells", len(sr.Cells), "error", err)
			skipped++
			continue
		}
		if link := a.externalLink(ctx, page, sr.Link); link != "" {
			row.ExternalLink = &link
		}
		l.Rows = append(l.Rows, row)
	}
	if len(l.Rows) == 0 {
		return l, errNoRows
	}
	a.logger.Info("scraped chain", "chain", c.Name, "validators", len(l.Rows), "skipped", skipped)
	return l, nil
}

// externalLink resolves a validator's website from its validator.info
// page. Only found links are cached.
func (a *Adapter) externalLink(ctx context.Context, page Page, internal string) string {
	internal = strings.TrimSpace(internal)
	if internal == "" {
		return ""
	}
	if link, ok := a.links.Get(internal); ok {
		return link
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return ""
	}
	link, err := page.ExternalLink(internal)
	if err != nil {
		a.logger.Debug("external link not found", "page", internal, "error", err)
		return ""
	}
	if !normalize.ValidURL(link) {
		return ""
	}
	a.links.Put(internal, link)
	return link
}
