package extract

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pricepulse/shopcrawler/internal/catalog"
)

// acceptedListTypes are the JSON-LD @type values treated as product listings.
var acceptedListTypes = map[string]bool{
	"ItemList":    true,
	"ProductList": true,
}

// extractJSONLD implements the structured-linked-data strategy: parse every
// ld+json script block and accept only list-typed payloads.
func extractJSONLD(doc *goquery.Document) (*catalog.ListingPage, bool) {
	if doc == nil {
		return nil, false
	}
	page := &catalog.ListingPage{}
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		var root map[string]any
		if err := json.Unmarshal([]byte(sel.Text()), &root); err != nil {
			return true
		}
		typeName, _ := root["@type"].(string)
		if !acceptedListTypes[typeName] {
			return true
		}
		elements, _ := root["itemListElement"].([]any)
		for _, el := range elements {
			entry, ok := el.(map[string]any)
			if !ok {
				continue
			}
			// ListItem wraps the product under "item"; bare products appear
			// directly.
			item := entry
			if nested, ok := entry["item"].(map[string]any); ok {
				item = nested
			}
			if stub, ok := stubFromLinkedData(item); ok {
				page.Products = append(page.Products, stub)
			}
		}
		if total, ok := firstCount(root, []string{"numberOfItems"}); ok {
			page.TotalCount = total
		}
		return len(page.Products) == 0
	})
	if len(page.Products) == 0 {
		return nil, false
	}
	page.NextPageAvailable = page.TotalCount > len(page.Products)
	return page, true
}

func stubFromLinkedData(item map[string]any) (catalog.ProductStub, bool) {
	stub := catalog.ProductStub{
		Title: firstString(item, []string{"name"}),
		URL:   firstString(item, []string{"url"}),
	}
	stub.ArticleNo = catalog.NormalizeArticleNo(firstString(item, []string{"sku", "productID"}))
	if img, ok := item["image"].(string); ok && img != "" {
		stub.ImageURLs = append(stub.ImageURLs, img)
	}
	if offers, ok := item["offers"].(map[string]any); ok {
		if price, ok := firstPrice(offers, []string{"price", "lowPrice"}); ok {
			stub.ListPrice = price
		}
		stub.Currency = firstString(offers, []string{"priceCurrency"})
	}
	if stub.ArticleNo == "" && stub.Title == "" {
		return catalog.ProductStub{}, false
	}
	return stub, true
}

// textToInt extracts the first numeric run from widget text such as
// "1 284 items" and parses it as an integer.
func textToInt(text string) (int, bool) {
	var digits strings.Builder
	seen := false
	for _, r := range text {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
			seen = true
			continue
		}
		// Thousands separators inside the run are skipped; anything else
		// after the run ends it.
		if seen && r != ' ' && r != '.' && r != ',' && r != ' ' {
			break
		}
	}
	if !seen {
		return 0, false
	}
	n := 0
	for _, r := range digits.String() {
		n = n*10 + int(r-'0')
	}
	return n, true
}
