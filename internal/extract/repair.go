package extract

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Sentinel values inserted by the rewrite stages. Downstream consumers treat
// them as "value unavailable".
const (
	strippedSentinel = `"__stripped__"`
	dynamicSentinel  = `"__dynamic__"`
)

// repairStage is one named step of a text-rewrite pipeline. Stages run in
// declaration order; the order is load-bearing (see detailStages).
type repairStage struct {
	name  string
	apply func(string) string
}

var (
	// Single-quoted strings that contain an embedded double quote. These
	// cannot survive the quote-conversion stage, so they are replaced with a
	// sentinel first.
	embeddedQuotePattern = regexp.MustCompile(`'[^']*"[^']*'`)

	// JS ternary fragments over already-converted string literals, e.g.
	// isDesktop ? "large.jpg" : "small.jpg".
	ternaryPattern = regexp.MustCompile(`[\w.$]+(?:\([^()]*\))?\s*\?\s*"[^"]*"\s*:\s*"[^"]*"`)

	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
	undefinedPattern     = regexp.MustCompile(`\bundefined\b`)
)

// globalAssignStages repairs payloads assigned to a global variable: near-JSON
// with sloppy quoting, trailing commas, and literal undefined.
var globalAssignStages = []repairStage{
	{"strip_embedded_quotes", stripEmbeddedQuotes},
	{"normalize_quotes", normalizeQuotes},
	{"undefined_to_null", undefinedToNull},
	{"remove_trailing_commas", removeTrailingCommas},
}

// detailStages repairs the product-detail object, which is written with
// single quotes and contains ternary-expression fragments. Order matters:
// embedded double quotes must be stripped before quote conversion, and the
// ternary collapse only matches once quotes are doubled. Running these out of
// order corrupts otherwise-valid segments.
var detailStages = []repairStage{
	{"strip_embedded_quotes", stripEmbeddedQuotes},
	{"normalize_quotes", normalizeQuotes},
	{"collapse_ternaries", collapseTernaries},
	{"undefined_to_null", undefinedToNull},
	{"remove_trailing_commas", removeTrailingCommas},
}

// runStages applies the pipeline and reports whether the result is valid JSON.
// Repair is best-effort: a false return is an expected outcome, never a panic
// or error.
func runStages(stages []repairStage, raw string) (string, bool) {
	out := raw
	for _, stage := range stages {
		out = stage.apply(out)
	}
	if !json.Valid([]byte(out)) {
		return "", false
	}
	return out, true
}

// RepairGlobalAssignment rewrites a near-JSON global-variable payload into
// parseable JSON.
func RepairGlobalAssignment(raw string) (string, bool) {
	return runStages(globalAssignStages, raw)
}

// RepairDetailObject rewrites the single-quoted product-detail object into
// parseable JSON.
func RepairDetailObject(raw string) (string, bool) {
	return runStages(detailStages, raw)
}

func stripEmbeddedQuotes(s string) string {
	return embeddedQuotePattern.ReplaceAllString(s, strippedSentinel)
}

func normalizeQuotes(s string) string {
	return strings.ReplaceAll(s, "'", `"`)
}

func collapseTernaries(s string) string {
	return ternaryPattern.ReplaceAllString(s, dynamicSentinel)
}

func undefinedToNull(s string) string {
	return undefinedPattern.ReplaceAllString(s, "null")
}

func removeTrailingCommas(s string) string {
	return trailingCommaPattern.ReplaceAllString(s, "$1")
}

// extractBalancedObject returns the JSON-ish object literal starting at the
// first '{' at or after from, honoring nesting and both quote styles.
func extractBalancedObject(s string, from int) (string, bool) {
	start := strings.IndexByte(s[from:], '{')
	if start < 0 {
		return "", false
	}
	start += from
	depth := 0
	var quote byte
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
