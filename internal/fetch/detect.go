package fetch

import (
	"bytes"
	"strings"
)

// HeuristicDetector decides when a plain fetch returned a shell page that
// needs JavaScript to populate the catalog data.
type HeuristicDetector struct {
	BodyLengthThreshold int
}

// NewHeuristicDetector creates a detector; a zero threshold defaults to 2048.
func NewHeuristicDetector(threshold int) *HeuristicDetector {
	if threshold == 0 {
		threshold = 2048
	}
	return &HeuristicDetector{BodyLengthThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
}

// ShouldPromote reports whether the page warrants a headless re-fetch. Pages
// that already carry embedded catalog state never promote.
func (h *HeuristicDetector) ShouldPromote(page Page) bool {
	if page.StatusCode != 200 {
		return false
	}
	body := page.Body
	if len(body) == 0 {
		return true
	}
	if bytes.Contains(body, []byte("product-listing-state")) ||
		bytes.Contains(body, []byte("productArticleDetails")) {
		return false
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether script tags cover at least a quarter of
// the document.
func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Treat the rest of the document as part of the malformed script.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			// Script tag never closes; count the rest.
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	if scriptCoverage == 0 {
		return false
	}
	return scriptCoverage*100/total >= 25
}
