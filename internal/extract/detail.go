package extract

import (
	"encoding/json"
	"strings"

	"github.com/pricepulse/shopcrawler/internal/catalog"
)

// detailMarker locates the product-detail object. The value is not valid JSON
// as written (single-quoted, with ternary fragments) and must pass through
// RepairDetailObject before parsing.
const detailMarker = "var productArticleDetails ="

var sizeAliases = []string{"name", "sizeCode", "size"}

// extractDetailState parses the detail payload and enumerates every color
// article with its size list. A missing marker returns (nil, false); a marker
// whose payload cannot be repaired into valid JSON is a hard ParsingError,
// because the malformed structure will not self-correct on retry.
func extractDetailState(url, body string) (*catalog.ProductDetail, error) {
	idx := strings.Index(body, detailMarker)
	if idx < 0 {
		return nil, nil
	}
	payload, ok := extractBalancedObject(body, idx+len(detailMarker))
	if !ok {
		return nil, &catalog.ParsingError{URL: url, Reason: "detail payload has no balanced object"}
	}
	repaired, ok := RepairDetailObject(payload)
	if !ok {
		return nil, &catalog.ParsingError{URL: url, Reason: "detail payload not repairable to JSON"}
	}

	var root map[string]any
	if err := json.Unmarshal([]byte(repaired), &root); err != nil {
		return nil, &catalog.ParsingError{URL: url, Reason: "repaired detail payload rejected by parser"}
	}

	detail := &catalog.ProductDetail{
		ArticleNo: catalog.NormalizeArticleNo(firstString(root, []string{"mainArticleCode", "articleCode", "ancestorProductCode"})),
		Title:     firstString(root, titleAliases),
	}

	for key, value := range root {
		article, ok := value.(map[string]any)
		if !ok || !looksLikeArticle(key, article) {
			continue
		}
		detail.Variants = append(detail.Variants, variantsFromArticle(key, article)...)
		if detail.Currency == "" {
			detail.Currency = firstString(article, currencyAliases)
		}
		if detail.Description == "" {
			detail.Description = firstString(article, []string{"description"})
		}
		if detail.Title == "" {
			detail.Title = firstString(article, titleAliases)
		}
	}
	if len(detail.Variants) == 0 {
		return nil, nil
	}
	if detail.ArticleNo == "" {
		detail.ArticleNo = detail.Variants[0].ArticleNo
	}
	return detail, nil
}

// looksLikeArticle reports whether a top-level entry is a per-color article
// object rather than shared metadata. Article keys are numeric codes and the
// value carries a size list or its own article code.
func looksLikeArticle(key string, m map[string]any) bool {
	if !isDigits(key) {
		return false
	}
	if _, ok := m["sizes"].([]any); ok {
		return true
	}
	return firstString(m, articleAliases) != ""
}

// variantsFromArticle expands one color article into one Variant per size. An
// article with no size list still yields a single sizeless variant.
func variantsFromArticle(key string, article map[string]any) []catalog.Variant {
	base := catalog.Variant{
		ArticleNo: catalog.NormalizeArticleNo(firstString(article, articleAliases)),
		Color:     firstString(article, colorAliases),
	}
	if base.ArticleNo == "" {
		base.ArticleNo = catalog.NormalizeArticleNo(key)
	}
	if sale, ok := firstPrice(article, salePriceAliases); ok {
		base.SalePrice = sale
	}
	if list, ok := firstPrice(article, listPriceAliases); ok {
		base.ListPrice = list
	}
	if base.ListPrice == 0 {
		base.ListPrice, base.SalePrice = base.SalePrice, 0
	}
	if base.SalePrice > base.ListPrice && base.ListPrice > 0 {
		base.ListPrice, base.SalePrice = base.SalePrice, base.ListPrice
	}
	base.ImageURLs = imageList(article)

	sizes, _ := article["sizes"].([]any)
	if len(sizes) == 0 {
		return []catalog.Variant{base}
	}
	variants := make([]catalog.Variant, 0, len(sizes))
	for _, raw := range sizes {
		sizeEntry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		v := base
		v.Size = firstString(sizeEntry, sizeAliases)
		v.InStock = sizeEntry["outOfStock"] != true
		variants = append(variants, v)
	}
	if len(variants) == 0 {
		return []catalog.Variant{base}
	}
	return variants
}

func imageList(article map[string]any) []string {
	raw, _ := article["images"].([]any)
	urls := make([]string, 0, len(raw))
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if u := firstString(m, []string{"image", "fullscreen", "thumbnail", "url"}); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
