// Package normalize canonicalizes the noisy strings source adapters report.
package normalize

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/web3-frozen/staking-offers/internal/domain"
)

var (
	rankPrefix = regexp.MustCompile(`^(\d+\s+)+`)
	newBadge   = regexp.MustCompile(`\bNEW\b\s*`)
	spaces     = regexp.MustCompile(`[\s\p{Z}]+`)
	nonWord    = regexp.MustCompile(`[^\w\s]`)
	nonAmount  = regexp.MustCompile(`[^0-9.]`)
	nonPercent = regexp.MustCompile(`[^0-9.\-]`)
)

// Name returns the canonical pool key for a display name: leading rank
// tokens and the NEW badge are removed and whitespace is collapsed.
// Case is kept as reported.
func Name(raw string) string {
	s := rankPrefix.ReplaceAllString(raw, "")
	s = newBadge.ReplaceAllString(s, "")
	s = spaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// ChainKey folds a chain display name or URL slug into a lowercase
// comparison key, so "Terra Classic" and "terra-classic" match.
func ChainKey(raw string) string {
	s := strings.ReplaceAll(raw, "-", " ")
	s = nonWord.ReplaceAllString(s, "")
	s = spaces.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidURL reports whether raw is an absolute URL with both scheme and host.
func ValidURL(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "mailto:") {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

// Amount parses a stake amount such as "1,234.5 TIA" keeping digits and dots only.
func Amount(raw string) (decimal.Decimal, error) {
	// Cells may carry a second line with the USD equivalent.
	if i := strings.IndexByte(raw, '\n'); i >= 0 {
		raw = raw[:i]
	}
	s := nonAmount.ReplaceAllString(raw, "")
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount %q: %w", raw, domain.ErrMalformedRow)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount %q: %w", raw, domain.ErrMalformedRow)
	}
	return d, nil
}

// Percent parses "5.2%", "5.2 %" or "5.2" into 5.2.
func Percent(raw string) (float64, error) {
	if i := strings.IndexByte(raw, '\n'); i >= 0 {
		raw = raw[:i]
	}
	s := nonPercent.ReplaceAllString(raw, "")
	if s == "" {
		return 0, fmt.Errorf("percent %q: %w", raw, domain.ErrMalformedRow)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("percent %q: %w", raw, domain.ErrMalformedRow)
	}
	return d.InexactFloat64(), nil
}

// OptionalPercent is Percent for optional cells; nil or blank yields nil.
func OptionalPercent(raw *string) (*float64, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	v, err := Percent(*raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
