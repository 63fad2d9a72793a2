package catalog

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// PageType labels a crawl target so the router can dispatch it to the correct
// handler.
type PageType string

// Page types, in the order the crawl discovers them.
const (
	PageNavigation    PageType = "NAVIGATION"
	PageCategoryCount PageType = "CATEGORY_COUNT"
	PageListing       PageType = "LISTING_PAGE"
	PageProductDetail PageType = "PRODUCT_DETAIL"
)

// ExtractionMode selects between emitting records straight from listing stubs
// and fetching each product's detail page for full variant coverage.
type ExtractionMode string

// Supported extraction modes.
const (
	ModeShallow ExtractionMode = "shallow"
	ModeDeep    ExtractionMode = "deep"
)

// NavigationNode is one entry of the site's taxonomy tree. The root node is
// the full navigation payload; leaves list products directly.
type NavigationNode struct {
	ID            string           `json:"id"`
	Title         string           `json:"title"`
	TrackingLabel string           `json:"trackingLabel"`
	AliasPath     string           `json:"aliasPath"`
	Children      []NavigationNode `json:"children"`
}

// IsLeaf reports whether the node has no subcategories.
func (n NavigationNode) IsLeaf() bool {
	return len(n.Children) == 0
}

// CrawlContext carries inherited taxonomy names and market settings down the
// request graph.
type CrawlContext struct {
	Market   string         `json:"market"`
	Division string         `json:"division"`
	Category string         `json:"category"`
	Mode     ExtractionMode `json:"mode"`

	// Stub carries listing-page data into a PRODUCT_DETAIL target so fields
	// already known are not re-extracted from scratch.
	Stub *ProductStub `json:"stub,omitempty"`

	// ListedSoFar is the number of products already listed for this category,
	// used by the listing handler to decide whether more pages remain.
	ListedSoFar int `json:"listedSoFar,omitempty"`
}

// CrawlTarget is one unit of enqueued work. Immutable after creation; consumed
// exactly once by the router.
type CrawlTarget struct {
	URL     string       `json:"url"`
	Type    PageType     `json:"pageType"`
	Context CrawlContext `json:"context"`
}

var variantSuffix = regexp.MustCompile(`\d{3}$`)

// UniqueKey derives the queue admission key for the target. Product targets
// collapse onto a canonical article id plus market so the same product reached
// via two category paths is enqueued once; variant-suffix digits are stripped
// because every variant lives on the same detail page.
func (t CrawlTarget) UniqueKey() string {
	if t.Type != PageProductDetail || t.Context.Stub == nil || t.Context.Stub.ArticleNo == "" {
		return fmt.Sprintf("%s|%s", t.Type, t.URL)
	}
	article := variantSuffix.ReplaceAllString(t.Context.Stub.ArticleNo, "")
	return fmt.Sprintf("%s|%s_%s", t.Type, article, t.Context.Market)
}

// ProductStub is the partial product data recoverable from a listing page.
type ProductStub struct {
	ArticleNo   string   `json:"articleNo"`
	Title       string   `json:"title"`
	URL         string   `json:"url"`
	ListPrice   float64  `json:"listPrice"`
	SalePrice   float64  `json:"salePrice"`
	Currency    string   `json:"currency"`
	Color       string   `json:"color"`
	ImageURLs   []string `json:"imageUrls"`
	Description string   `json:"description"`
}

// Variant is one color/size combination enumerated on a product detail page.
type Variant struct {
	ArticleNo string   `json:"articleNo"`
	Color     string   `json:"color"`
	Size      string   `json:"size"`
	ListPrice float64  `json:"listPrice"`
	SalePrice float64  `json:"salePrice"`
	ImageURLs []string `json:"imageUrls"`
	InStock   bool     `json:"inStock"`
}

// ProductRecord is the canonical output unit, flushed append-only once
// accepted. Lifecycle: constructed from extracted fields, sanitized,
// validated, deduplicated by (ArticleNo, Market), buffered, flushed.
type ProductRecord struct {
	ArticleNo          string    `json:"articleNo"`
	ProductID          string    `json:"productId,omitempty"`
	SKU                string    `json:"sku,omitempty"`
	Title              string    `json:"title"`
	Description        string    `json:"description,omitempty"`
	Division           string    `json:"division,omitempty"`
	Category           string    `json:"category,omitempty"`
	ListPrice          float64   `json:"listPrice"`
	SalePrice          float64   `json:"salePrice,omitempty"`
	Currency           string    `json:"currency"`
	DiscountPercentage int       `json:"discountPercentage,omitempty"`
	Color              string    `json:"color,omitempty"`
	Size               string    `json:"size,omitempty"`
	ImageURLs          []string  `json:"imageUrls,omitempty"`
	Market             string    `json:"market"`
	URL                string    `json:"url,omitempty"`
	ScrapedAt          time.Time `json:"scrapedAt"`
}

// DedupKey returns the at-most-once emission key for the record.
func (r ProductRecord) DedupKey() string {
	return DedupKey(r.ArticleNo, r.Market)
}

// DedupKey builds the canonical article/market identity string.
func DedupKey(articleNo, market string) string {
	return articleNo + "_" + market
}

// VariantDedupKey extends DedupKey with the size, so each color/size
// combination enumerated on a detail page claims independently.
func VariantDedupKey(articleNo, market, size string) string {
	if size == "" {
		return DedupKey(articleNo, market)
	}
	return DedupKey(articleNo, market) + "_" + size
}

// ListingPage is the extraction engine's result for one listing document.
type ListingPage struct {
	Products          []ProductStub
	TotalCount        int
	NextPageAvailable bool
}

// ProductDetail is the extraction result for one product detail document.
type ProductDetail struct {
	ArticleNo   string
	Title       string
	Description string
	Currency    string
	Variants    []Variant
}

// NormalizeArticleNo strips whitespace and uppercases an article identifier.
func NormalizeArticleNo(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
