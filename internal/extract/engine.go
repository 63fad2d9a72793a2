// Package extract turns fetched page bodies into typed catalog records. The
// listing extractor is an ordered fallback chain over progressively less
// structured sources; the first strategy yielding at least one product wins.
package extract

import (
	"bytes"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/pricepulse/shopcrawler/internal/catalog"
)

// Engine runs the extraction strategies. Pure with respect to its inputs;
// safe for concurrent use.
type Engine struct {
	logger *zap.Logger
}

// NewEngine constructs an Engine.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

type listingStrategy struct {
	name  string
	apply func(body string, doc *goquery.Document) (*catalog.ListingPage, bool)
}

func (e *Engine) listingStrategies() []listingStrategy {
	return []listingStrategy{
		{"embedded_state", func(body string, _ *goquery.Document) (*catalog.ListingPage, bool) {
			return extractEmbeddedState(body)
		}},
		{"global_assignment", func(body string, _ *goquery.Document) (*catalog.ListingPage, bool) {
			return extractGlobalAssignment(body)
		}},
		{"json_ld", func(_ string, doc *goquery.Document) (*catalog.ListingPage, bool) {
			return extractJSONLD(doc)
		}},
		{"dom_selectors", func(_ string, doc *goquery.Document) (*catalog.ListingPage, bool) {
			return extractDOM(doc)
		}},
	}
}

// ExtractListing runs the fallback chain over one listing document. Returns
// (nil, nil) when no strategy recovers any product; strategy-level failures
// never propagate, they only advance the chain.
func (e *Engine) ExtractListing(url string, body []byte) (*catalog.ListingPage, error) {
	doc := parseDoc(body)
	text := string(body)
	for _, strategy := range e.listingStrategies() {
		page, ok := strategy.apply(text, doc)
		if !ok || page == nil || len(page.Products) == 0 {
			continue
		}
		e.logger.Debug("listing extracted",
			zap.String("url", url),
			zap.String("strategy", strategy.name),
			zap.Int("products", len(page.Products)),
		)
		return page, nil
	}
	return nil, nil
}

// ExtractListingDOM runs only the selector strategy. The router uses it as a
// final pure-DOM pass before giving up on a page.
func (e *Engine) ExtractListingDOM(url string, body []byte) (*catalog.ListingPage, error) {
	page, ok := extractDOM(parseDoc(body))
	if !ok {
		return nil, nil
	}
	e.logger.Debug("listing extracted",
		zap.String("url", url),
		zap.String("strategy", "dom_selectors"),
		zap.Int("products", len(page.Products)),
	)
	return page, nil
}

// ExtractDetail parses a product detail document, enumerating every
// color/size combination. A malformed detail payload is a ParsingError; a
// page simply lacking the payload returns (nil, nil).
func (e *Engine) ExtractDetail(url string, body []byte) (*catalog.ProductDetail, error) {
	detail, err := extractDetailState(url, string(body))
	if err != nil {
		return nil, err
	}
	if detail != nil {
		return detail, nil
	}
	return nil, nil
}

// ExtractNavigation parses the taxonomy payload document into its root node.
func (e *Engine) ExtractNavigation(url string, body []byte) (*catalog.NavigationNode, error) {
	var root catalog.NavigationNode
	if err := unmarshalNavigation(body, &root); err != nil {
		return nil, &catalog.ParsingError{URL: url, Reason: err.Error()}
	}
	return &root, nil
}

// CategoryCount recovers the total item count for a category page: structured
// embedded state first, then the page-count widget text.
func (e *Engine) CategoryCount(url string, body []byte) (int, bool) {
	if page, ok := extractEmbeddedState(string(body)); ok && page.TotalCount > 0 {
		return page.TotalCount, true
	}
	if page, ok := extractGlobalAssignment(string(body)); ok && page.TotalCount > 0 {
		return page.TotalCount, true
	}
	if n, ok := CountFromWidget(parseDoc(body)); ok {
		return n, true
	}
	return 0, false
}

func parseDoc(body []byte) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	return doc
}
