package extract

import (
	"encoding/json"
	"strings"

	"github.com/pricepulse/shopcrawler/internal/catalog"
)

// Marker strings locating the embedded product payloads. The typed JSON
// script tag is the primary source; the global assignment is a legacy path
// still served on some category pages.
const (
	listingStateMarker  = `id="product-listing-state"`
	globalAssignMarkers = "window.__PRODUCT_STATE__=|window.__PRODUCT_STATE__ =|var productListing ="
)

// productArrayPaths are the known nested-key paths under which the product
// array appears, tried in order.
var productArrayPaths = [][]string{
	{"plpProductGrid", "hits"},
	{"productListing", "products"},
	{"searchResult", "hits"},
	{"products"},
	{"hits"},
}

// extractEmbeddedState implements the primary strategy: a JSON payload inside
// a typed script tag, located by marker.
func extractEmbeddedState(body string) (*catalog.ListingPage, bool) {
	idx := strings.Index(body, listingStateMarker)
	if idx < 0 {
		return nil, false
	}
	payload, ok := extractBalancedObject(body, idx)
	if !ok {
		return nil, false
	}
	return listingFromJSON(payload)
}

// extractGlobalAssignment implements the fallback strategy: the same payload
// assigned to a global variable as near-JSON, repaired before parsing.
func extractGlobalAssignment(body string) (*catalog.ListingPage, bool) {
	for _, marker := range strings.Split(globalAssignMarkers, "|") {
		idx := strings.Index(body, marker)
		if idx < 0 {
			continue
		}
		payload, ok := extractBalancedObject(body, idx+len(marker))
		if !ok {
			continue
		}
		repaired, ok := RepairGlobalAssignment(payload)
		if !ok {
			continue
		}
		if page, ok := listingFromJSON(repaired); ok {
			return page, true
		}
	}
	return nil, false
}

func listingFromJSON(payload string) (*catalog.ListingPage, bool) {
	var root map[string]any
	if err := json.Unmarshal([]byte(payload), &root); err != nil {
		return nil, false
	}
	items, holder := findProductArray(root)
	if len(items) == 0 {
		return nil, false
	}

	page := &catalog.ListingPage{}
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		stub := stubFromFields(m)
		if stub.ArticleNo == "" && stub.Title == "" {
			continue
		}
		page.Products = append(page.Products, stub)
	}
	if len(page.Products) == 0 {
		return nil, false
	}
	if total, ok := firstCount(holder, countAliases); ok {
		page.TotalCount = total
	} else if total, ok := firstCount(root, countAliases); ok {
		page.TotalCount = total
	}
	page.NextPageAvailable = page.TotalCount > len(page.Products)
	return page, true
}

// findProductArray walks the known key paths and returns the first array
// found, plus the map holding it (which also carries the total count).
func findProductArray(root map[string]any) ([]any, map[string]any) {
	for _, path := range productArrayPaths {
		node := root
		ok := true
		for _, key := range path[:len(path)-1] {
			next, found := node[key].(map[string]any)
			if !found {
				ok = false
				break
			}
			node = next
		}
		if !ok {
			continue
		}
		if arr, found := node[path[len(path)-1]].([]any); found && len(arr) > 0 {
			return arr, node
		}
	}
	return nil, nil
}

// stubFromFields maps heterogeneous payload field names onto a ProductStub
// via the alias tables.
func stubFromFields(m map[string]any) catalog.ProductStub {
	stub := catalog.ProductStub{
		ArticleNo: catalog.NormalizeArticleNo(firstString(m, articleAliases)),
		Title:     firstString(m, titleAliases),
		URL:       firstString(m, urlAliases),
		Color:     firstString(m, colorAliases),
		Currency:  firstString(m, currencyAliases),
	}
	if img := firstString(m, imageAliases); img != "" {
		stub.ImageURLs = append(stub.ImageURLs, img)
	}
	sale, hasSale := firstPrice(m, salePriceAliases)
	list, hasList := firstPrice(m, listPriceAliases)
	switch {
	case hasSale && hasList:
		stub.SalePrice, stub.ListPrice = sale, list
	case hasSale:
		stub.ListPrice = sale
	case hasList:
		stub.ListPrice = list
	}
	if stub.SalePrice > stub.ListPrice && stub.ListPrice > 0 {
		stub.ListPrice, stub.SalePrice = stub.SalePrice, stub.ListPrice
	}
	return stub
}
