package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// CatalogChain is one validator.info chain page to scrape.
type CatalogChain struct {
	Slug  string `mapstructure:"slug"`
	Chain string `mapstructure:"chain"`
	Coin  string `mapstructure:"coin"`
}

// CatalogCoin is a coin that must exist for pricing.
type CatalogCoin struct {
	Code     string `mapstructure:"code"`
	PriceKey string `mapstructure:"price_key"`
}

// Catalog lists the chains ingested and the coins priced.
type Catalog struct {
	Chains []CatalogChain `mapstructure:"chains"`
	Coins  []CatalogCoin  `mapstructure:"coins"`
}

// DefaultCatalog is used when no catalog file is configured.
func DefaultCatalog() Catalog {
	return Catalog{
		Chains: []CatalogChain{
			{Slug: "lava", Chain: "Lava", Coin: "LAVA"},
			{Slug: "dydx", Chain: "dYdX", Coin: "DYDX"},
			{Slug: "cronos-pos", Chain: "Cronos Pos", Coin: "CRO"},
			{Slug: "celestia", Chain: "Celestia", Coin: "TIA"},
			{Slug: "terra-classic", Chain: "Terra Classic", Coin: "LUNC"},
			{Slug: "dymension", Chain: "Dymension", Coin: "DYM"},
			{Slug: "saga", Chain: "Saga", Coin: "SAGA"},
			{Slug: "haqq", Chain: "HAQQ", Coin: "ISLM"},
			{Slug: "coreum", Chain: "Coreum", Coin: "COREUM"},
			{Slug: "nolus", Chain: "Nolus", Coin: "NLS"},
			{Slug: "polygon", Chain: "Polygon", Coin: "POL"},
		},
		Coins: []CatalogCoin{
			{Code: "LAVA", PriceKey: "lava-network"},
			{Code: "CRO", PriceKey: "crypto-com-chain"},
			{Code: "TIA", PriceKey: "celestia"},
			{Code: "LUNC", PriceKey: "terra-luna"},
			{Code: "SAGA", PriceKey: "saga-2"},
			{Code: "COREUM", PriceKey: "coreum"},
			{Code: "POL", PriceKey: "matic-network"},
			{Code: "DYDX", PriceKey: "dydx"},
			{Code: "DYM", PriceKey: "dymension"},
			{Code: "ISLM", PriceKey: "islamic-coin"},
			{Code: "NLS", PriceKey: "nolus"},
			{Code: "ETH", PriceKey: "ethereum"},
		},
	}
}

// LoadCatalog reads a YAML, TOML or JSON catalog. An empty path returns
// DefaultCatalog.
func LoadCatalog(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Catalog{}, fmt.Errorf("read catalog %s: %w", path, err)
	}

	var cat Catalog
	if err := v.Unmarshal(&cat); err != nil {
		return Catalog{}, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	return cat, cat.Validate()
}

// Validate rejects empty, duplicate or incomplete entries.
func (c Catalog) Validate() error {
	if len(c.Chains) == 0 {
		return errors.New("catalog has no chains")
	}
	slugs := make(map[string]bool, len(c.Chains))
	for i, ch := range c.Chains {
		if strings.TrimSpace(ch.Slug) == "" || strings.TrimSpace(ch.Chain) == "" || strings.TrimSpace(ch.Coin) == "" {
			return fmt.Errorf("catalog chain %d: slug, chain and coin are required", i)
		}
		if slugs[ch.Slug] {
			return fmt.Errorf("catalog chain %q listed twice", ch.Slug)
		}
		slugs[ch.Slug] = true
	}
	codes := make(map[string]bool, len(c.Coins))
	for i, co := range c.Coins {
		if strings.TrimSpace(co.Code) == "" || strings.TrimSpace(co.PriceKey) == "" {
			return fmt.Errorf("catalog coin %d: code and price_key are required", i)
		}
		if codes[co.Code] {
			return fmt.Errorf("catalog coin %q listed twice", co.Code)
		}
		codes[co.Code] = true
	}
	return nil
}

// PriceKey returns the price lookup key of a coin code, or nil.
func (c Catalog) PriceKey(code string) *string {
	for _, co := range c.Coins {
		if co.Code == code {
			k := co.PriceKey
			return &k
		}
	}
	return nil
}
