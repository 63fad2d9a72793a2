package catalog

import (
	"html"
	"math"
	"strings"
	"time"
)

// Sanitize normalizes a freshly constructed record in place: HTML entities
// decoded, strings trimmed, prices rounded, discount derived when absent.
func (r *ProductRecord) Sanitize(now time.Time) {
	r.ArticleNo = NormalizeArticleNo(r.ArticleNo)
	r.ProductID = strings.TrimSpace(r.ProductID)
	r.SKU = strings.TrimSpace(r.SKU)
	r.Title = cleanText(r.Title)
	r.Description = cleanText(r.Description)
	r.Division = cleanText(r.Division)
	r.Category = cleanText(r.Category)
	r.Color = cleanText(r.Color)
	r.Size = strings.TrimSpace(r.Size)
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	r.ListPrice = Round2(r.ListPrice)
	r.SalePrice = Round2(r.SalePrice)

	// A sale price above the list price is noise from a partially updated
	// payload; treat the larger value as the list price.
	if r.SalePrice > r.ListPrice && r.ListPrice > 0 {
		r.ListPrice, r.SalePrice = r.SalePrice, r.ListPrice
	}
	if r.DiscountPercentage == 0 && r.ListPrice > 0 && r.SalePrice > 0 && r.SalePrice < r.ListPrice {
		r.DiscountPercentage = int(math.Round((r.ListPrice - r.SalePrice) / r.ListPrice * 100))
	}
	if r.ScrapedAt.IsZero() {
		r.ScrapedAt = now
	}
}

// Validate rejects records missing required identifying fields.
func (r *ProductRecord) Validate() error {
	switch {
	case r.ArticleNo == "":
		return &ValidationError{Field: "articleNo", Reason: "is required"}
	case r.Title == "":
		return &ValidationError{Field: "title", Reason: "is required"}
	case r.Market == "":
		return &ValidationError{Field: "market", Reason: "is required"}
	case r.ListPrice <= 0:
		return &ValidationError{Field: "listPrice", Reason: "must be positive"}
	default:
		return nil
	}
}

// Round2 rounds a monetary value to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(html.UnescapeString(s)), " ")
}
