// Package market holds the fixed table of supported storefront markets.
package market

import (
	"fmt"
	"sort"
	"strings"
)

// Market describes one supported country storefront.
type Market struct {
	Name         string
	CountryCode  string
	Currency     string
	Locale       string
	BaseURL      string
	NavSeedPath  string
	DecimalComma bool
}

// NavigationURL returns the seed URL for the market's taxonomy payload.
func (m Market) NavigationURL() string {
	return m.BaseURL + m.NavSeedPath
}

var supported = map[string]Market{
	"GERMANY": {
		Name: "GERMANY", CountryCode: "DE", Currency: "EUR", Locale: "de_DE",
		BaseURL: "https://shop.example/de_de", NavSeedPath: "/navigation.json", DecimalComma: true,
	},
	"FRANCE": {
		Name: "FRANCE", CountryCode: "FR", Currency: "EUR", Locale: "fr_FR",
		BaseURL: "https://shop.example/fr_fr", NavSeedPath: "/navigation.json", DecimalComma: true,
	},
	"SWEDEN": {
		Name: "SWEDEN", CountryCode: "SE", Currency: "SEK", Locale: "sv_SE",
		BaseURL: "https://shop.example/sv_se", NavSeedPath: "/navigation.json", DecimalComma: true,
	},
	"UNITED KINGDOM": {
		Name: "UNITED KINGDOM", CountryCode: "GB", Currency: "GBP", Locale: "en_GB",
		BaseURL: "https://shop.example/en_gb", NavSeedPath: "/navigation.json", DecimalComma: false,
	},
	"UNITED STATES": {
		Name: "UNITED STATES", CountryCode: "US", Currency: "USD", Locale: "en_US",
		BaseURL: "https://shop.example/en_us", NavSeedPath: "/navigation.json", DecimalComma: false,
	},
	"NETHERLANDS": {
		Name: "NETHERLANDS", CountryCode: "NL", Currency: "EUR", Locale: "nl_NL",
		BaseURL: "https://shop.example/nl_nl", NavSeedPath: "/navigation.json", DecimalComma: true,
	},
}

// Lookup resolves a market by name, case-insensitively. Unknown names fail
// with the full list of valid names so the operator can correct the input.
func Lookup(name string) (Market, error) {
	m, ok := supported[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return Market{}, fmt.Errorf("unsupported market %q; valid markets: %s", name, strings.Join(Names(), ", "))
	}
	return m, nil
}

// Names lists the supported market names in stable order.
func Names() []string {
	names := make([]string, 0, len(supported))
	for name := range supported {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
