package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pricepulse/shopcrawler/internal/catalog"
)

// cardSelectors is the prioritized list of product-card container selectors.
// The first selector yielding at least one match wins.
var cardSelectors = []string{
	"li.product-item",
	"article.product-card",
	"div[data-articlecode]",
	".product-tile",
}

// countWidgetSelectors locate the "N items" widget on category pages.
var countWidgetSelectors = []string{
	".load-more-heading",
	".product-count",
	"[data-total-count]",
}

// extractDOM implements the selector-based last-resort strategy. Per card,
// data-* attributes take precedence over text content.
func extractDOM(doc *goquery.Document) (*catalog.ListingPage, bool) {
	if doc == nil {
		return nil, false
	}
	var cards *goquery.Selection
	for _, selector := range cardSelectors {
		found := doc.Find(selector)
		if found.Length() > 0 {
			cards = found
			break
		}
	}
	if cards == nil {
		return nil, false
	}

	page := &catalog.ListingPage{}
	cards.Each(func(_ int, card *goquery.Selection) {
		stub := stubFromCard(card)
		if stub.ArticleNo == "" && stub.Title == "" {
			return
		}
		page.Products = append(page.Products, stub)
	})
	if len(page.Products) == 0 {
		return nil, false
	}
	if total, ok := CountFromWidget(doc); ok {
		page.TotalCount = total
	}
	page.NextPageAvailable = page.TotalCount > len(page.Products)
	return page, true
}

func stubFromCard(card *goquery.Selection) catalog.ProductStub {
	stub := catalog.ProductStub{}

	stub.ArticleNo = catalog.NormalizeArticleNo(firstAttr(card, "data-articlecode", "data-article", "data-sku"))
	stub.Title = firstAttr(card, "data-title", "data-name")
	if stub.Title == "" {
		stub.Title = strings.TrimSpace(card.Find(".item-heading, .product-item-heading, h3, h2").First().Text())
	}

	if href, ok := card.Find("a[href]").First().Attr("href"); ok {
		stub.URL = href
	}
	if img, ok := card.Find("img").First().Attr("data-src"); ok {
		stub.ImageURLs = append(stub.ImageURLs, img)
	} else if img, ok := card.Find("img").First().Attr("src"); ok {
		stub.ImageURLs = append(stub.ImageURLs, img)
	}

	if raw := firstAttr(card, "data-price"); raw != "" {
		if price, ok := ParsePrice(raw); ok {
			stub.SalePrice = price
		}
	}
	if raw := firstAttr(card, "data-regular-price", "data-whiteprice"); raw != "" {
		if price, ok := ParsePrice(raw); ok {
			stub.ListPrice = price
		}
	}
	if stub.SalePrice == 0 && stub.ListPrice == 0 {
		if price, ok := ParsePrice(card.Find(".price, .item-price, .price-value").First().Text()); ok {
			stub.ListPrice = price
		}
	}
	if stub.ListPrice == 0 && stub.SalePrice > 0 {
		stub.ListPrice, stub.SalePrice = stub.SalePrice, 0
	}
	return stub
}

func firstAttr(sel *goquery.Selection, names ...string) string {
	for _, name := range names {
		if v, ok := sel.Attr(name); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// CountFromWidget reads the category item count from the page-count widget,
// preferring an explicit data attribute over the widget text.
func CountFromWidget(doc *goquery.Document) (int, bool) {
	if doc == nil {
		return 0, false
	}
	for _, selector := range countWidgetSelectors {
		widget := doc.Find(selector).First()
		if widget.Length() == 0 {
			continue
		}
		if raw, ok := widget.Attr("data-total-count"); ok {
			if n, ok := textToInt(raw); ok {
				return n, true
			}
		}
		if n, ok := textToInt(widget.Text()); ok {
			return n, true
		}
	}
	return 0, false
}
