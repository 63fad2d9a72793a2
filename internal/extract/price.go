package extract

import (
	"strconv"
	"strings"

	"github.com/pricepulse/shopcrawler/internal/catalog"
)

// ParsePrice converts a raw price string into a numeric value rounded to two
// decimal places. It tolerates currency symbols, thousands separators, and
// locale decimal commas ("1.299,95", "1,299.95", "29,99 €").
func ParsePrice(raw string) (float64, bool) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == '-':
			return r
		default:
			return -1
		}
	}, raw)
	cleaned = strings.Trim(cleaned, ".,-")
	if cleaned == "" {
		return 0, false
	}

	lastDot := strings.LastIndexByte(cleaned, '.')
	lastComma := strings.LastIndexByte(cleaned, ',')
	switch {
	case lastDot >= 0 && lastComma >= 0:
		// Both present: the later one is the decimal separator.
		if lastComma > lastDot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma >= 0:
		cleaned = normalizeSingleSeparator(cleaned, ',')
	case lastDot >= 0:
		cleaned = normalizeSingleSeparator(cleaned, '.')
	}

	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return catalog.Round2(v), true
}

// normalizeSingleSeparator decides whether a lone separator is decimal or
// thousands: one occurrence followed by at most two digits reads as decimal.
func normalizeSingleSeparator(s string, sep byte) string {
	idx := strings.LastIndexByte(s, sep)
	digitsAfter := len(s) - idx - 1
	if strings.Count(s, string(sep)) == 1 && digitsAfter <= 2 {
		return strings.Replace(s, string(sep), ".", 1)
	}
	return strings.ReplaceAll(s, string(sep), "")
}

// Field-alias tables. Payload field names vary between site releases; each
// canonical field carries an ordered list of aliases applied first-match-wins.
var (
	articleAliases   = []string{"articleCode", "defaultArticle", "code", "articleNo", "id"}
	titleAliases     = []string{"title", "name", "productName"}
	urlAliases       = []string{"link", "linkPdp", "url", "pdpUrl"}
	colorAliases     = []string{"colorName", "color", "articleColorName"}
	imageAliases     = []string{"imageProductSrc", "image", "imageSrc", "thumbnail"}
	salePriceAliases = []string{"salePrice", "redPrice", "price", "priceValue"}
	listPriceAliases = []string{"regularPrice", "whitePrice", "listPrice", "originalPrice"}
	currencyAliases  = []string{"currency", "currencyCode", "priceCurrency"}
	countAliases     = []string{"totalCount", "total", "totalHits", "numberOfHits", "productCount"}
)

// firstString resolves the first alias present in m as a non-empty string.
func firstString(m map[string]any, aliases []string) string {
	for _, key := range aliases {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			if s := strings.TrimSpace(val); s != "" && s != "__stripped__" && s != "__dynamic__" {
				return s
			}
		case map[string]any:
			// Nested holder such as {"value": "..."} or {"name": "..."}.
			for _, inner := range []string{"value", "name", "url"} {
				if s, ok := val[inner].(string); ok && strings.TrimSpace(s) != "" {
					return strings.TrimSpace(s)
				}
			}
		}
	}
	return ""
}

// firstPrice resolves the first alias present in m as a price, accepting
// numbers, numeric strings, and {"value": n} holders.
func firstPrice(m map[string]any, aliases []string) (float64, bool) {
	for _, key := range aliases {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		if price, ok := coercePrice(v); ok {
			return price, true
		}
	}
	return 0, false
}

func coercePrice(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		if val > 0 {
			return catalog.Round2(val), true
		}
	case string:
		if price, ok := ParsePrice(val); ok && price > 0 {
			return price, true
		}
	case map[string]any:
		for _, inner := range []string{"value", "price", "amount"} {
			if nested, ok := val[inner]; ok {
				if price, ok := coercePrice(nested); ok {
					return price, true
				}
			}
		}
	}
	return 0, false
}

// firstCount resolves the first alias present in m as a non-negative integer.
func firstCount(m map[string]any, aliases []string) (int, bool) {
	for _, key := range aliases {
		v, ok := m[key]
		if !ok {
			continue
		}
		switch val := v.(type) {
		case float64:
			if val >= 0 {
				return int(val), true
			}
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil && n >= 0 {
				return n, true
			}
		}
	}
	return 0, false
}
