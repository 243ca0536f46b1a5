package validatorinfo

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/web3-frozen/staking-offers/internal/domain"
	"github.com/web3-frozen/staking-offers/internal/normalize"
	"github.com/web3-frozen/staking-offers/internal/source"
)

// The main page embeds the chain list as escaped JSON inside a script
// model; it ends at the first closing bracket.
var chainListRe = regexp.MustCompile(`regularBlockchainsListModel:make-api-fetch-model:\$data\\":(.*?)\]`)

var errNoChainList = errors.New("chain list not found on main page")

// Summary is one chain's entry in the main page chain list.
type Summary struct {
	Name           string    `json:"name"`
	TotalStakedUSD flexFloat `json:"totalStakedUsd"`
	PriceData      *struct {
		Price flexFloat `json:"price"`
	} `json:"priceData"`
}

// Aggregate converts the summary into the chain-wide totals of a listing.
func (s Summary) Aggregate() source.Aggregate {
	agg := source.Aggregate{TotalStakedUSD: float64(s.TotalStakedUSD)}
	if s.PriceData != nil && s.PriceData.Price > 0 {
		p := float64(s.PriceData.Price)
		agg.Price = &p
	}
	return agg
}

// flexFloat accepts both JSON numbers and numeric strings.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse %q: %w", s, err)
	}
	*f = flexFloat(v)
	return nil
}

// ExtractSummaries pulls the chain list out of the main page body HTML.
func ExtractSummaries(body string) ([]Summary, error) {
	m := chainListRe.FindStringSubmatch(body)
	if m == nil {
		return nil, errNoChainList
	}
	raw := m[1] + "]"
	raw = strings.ReplaceAll(raw, "'", `"`)
	raw = strings.ReplaceAll(raw, `\"`, `"`)

	var out []Summary
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &out); err != nil {
		return nil, fmt.Errorf("decode chain list: %w", err)
	}
	return out, nil
}

// MatchSummary finds the summary for a chain by exact slug, then by
// folded chain key against the slug and the display name.
func MatchSummary(summaries []Summary, c Chain) (Summary, bool) {
	for _, s := range summaries {
		if s.Name == c.Slug {
			return s, true
		}
	}
	slugKey, nameKey := normalize.ChainKey(c.Slug), normalize.ChainKey(c.Name)
	for _, s := range summaries {
		k := normalize.ChainKey(s.Name)
		if k == slugKey || k == nameKey {
			return s, true
		}
	}
	return Summary{}, false
}

const (
	colValidator = "Validator"
	colStaked    = "Total staked"
	colFee       = "Fee"
	colAPR       = "APR"
)

var (
	layoutDefault = []string{colValidator, colStaked, "Voting power", "Delegators", "Votes", colFee, colAPR, "Blocks", ""}
	layoutOracle  = []string{colValidator, colStaked, "Voting power", "Delegators", "Votes", colFee, colAPR, "Blocks", "Oracle", ""}
	layoutPolygon = []string{colValidator, colStaked, "Delegators", colFee, colAPR, "Checkpoints", "Heimdall", "Bar", ""}
)

// polygonSlug has its own table layout.
const polygonSlug = "polygon"

// Columns returns the column headers of a chain table with n cells per row.
func Columns(slug string, n int) ([]string, bool) {
	switch {
	case slug == polygonSlug && n == len(layoutPolygon):
		return layoutPolygon, true
	case slug == polygonSlug:
		return nil, false
	case n == len(layoutDefault):
		return layoutDefault, true
	case n == len(layoutOracle):
		return layoutOracle, true
	}
	return nil, false
}

var nonNumeric = regexp.MustCompile(`[^0-9.,%]`)

// cleanCell keeps the first line of a cell and only its numeric characters.
func cleanCell(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(nonNumeric.ReplaceAllString(s, ""))
}

// ScrapedRow is one validator row as read from a chain page.
type ScrapedRow struct {
	Cells []string `json:"cells"`
	Name  string   `json:"name"`
	Link  string   `json:"link"`
	Image string   `json:"image"`
}

// MapRow turns a scraped row into a raw source row. The external link is
// resolved separately.
func MapRow(slug string, r ScrapedRow) (source.RawRow, error) {
	cols, ok := Columns(slug, len(r.Cells))
	if !ok {
		return source.RawRow{}, fmt.Errorf("unknown table layout for %s with %d columns: %w", slug, len(r.Cells), domain.ErrMalformedRow)
	}
	cell := make(map[string]string, len(cols))
	for i, c := range cols {
		if c != "" {
			cell[c] = r.Cells[i]
		}
	}

	name := cell[colValidator]
	if strings.TrimSpace(name) == "" {
		name = r.Name
	}
	row := source.RawRow{
		Name:        name,
		StakeAmount: cleanCell(cell[colStaked]),
		APR:         cleanCell(cell[colAPR]),
	}
	if fee := cleanCell(cell[colFee]); fee != "" {
		row.Fee = &fee
	}
	if img := strings.TrimSpace(r.Image); img != "" {
		row.ImageRef = &img
	}
	return row, nil
}
