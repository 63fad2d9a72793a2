// Package request builds listing URLs for a navigation state and parses them
// back. Building and parsing round-trip on the query-parameter set.
package request

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Site-imposed pagination limits.
const (
	DefaultPageSize = 36
	MaxPageSize     = 500
)

// Reserved query parameter names; everything else is a facet.
const (
	paramOffset   = "offset"
	paramPageSize = "page-size"
	paramSort     = "sort"
)

// ListingQuery is the structured form of a listing URL's query string.
// Facets are named multi-value filters; unknown facets pass through as opaque
// key→value-list pairs so site facets not modeled here are preserved.
type ListingQuery struct {
	Offset   int
	PageSize int
	Sort     string
	Facets   map[string][]string
}

// Normalize clamps the page size into the site-allowed range.
func (q ListingQuery) Normalize() ListingQuery {
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// BuildURL renders the query onto the base listing URL deterministically:
// parameters are encoded in sorted key order, facet values in insertion order.
func (q ListingQuery) BuildURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	q = q.Normalize()

	values := url.Values{}
	values.Set(paramOffset, strconv.Itoa(q.Offset))
	values.Set(paramPageSize, strconv.Itoa(q.PageSize))
	if q.Sort != "" {
		values.Set(paramSort, q.Sort)
	}
	for name, list := range q.Facets {
		for _, v := range list {
			values.Add(name, v)
		}
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}

// NextPage returns the query for the page following this one.
func (q ListingQuery) NextPage() ListingQuery {
	q = q.Normalize()
	q.Offset += q.PageSize
	return q
}

// ParseURL splits a listing URL into its base (scheme/host/path) and the
// structured query.
func ParseURL(raw string) (string, ListingQuery, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", ListingQuery{}, fmt.Errorf("parse listing url: %w", err)
	}
	q := ListingQuery{}
	for name, list := range u.Query() {
		switch name {
		case paramOffset:
			q.Offset, _ = strconv.Atoi(list[0])
		case paramPageSize:
			q.PageSize, _ = strconv.Atoi(list[0])
		case paramSort:
			q.Sort = list[0]
		default:
			if q.Facets == nil {
				q.Facets = map[string][]string{}
			}
			q.Facets[name] = append(q.Facets[name], list...)
		}
	}
	base := *u
	base.RawQuery = ""
	base.Fragment = ""
	return base.String(), q.Normalize(), nil
}

// PageOffsets returns every listing offset for a category of totalCount items:
// {0, P, 2P, ...} strictly below totalCount, no gaps, no duplicates.
func PageOffsets(totalCount, pageSize int) []int {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	if totalCount <= 0 {
		return nil
	}
	offsets := make([]int, 0, (totalCount+pageSize-1)/pageSize)
	for off := 0; off < totalCount; off += pageSize {
		offsets = append(offsets, off)
	}
	return offsets
}

// ParamSet flattens the query into a canonical sorted "key=value" list, used
// by tests to compare parameter sets order-independently.
func (q ListingQuery) ParamSet() []string {
	q = q.Normalize()
	out := []string{
		paramOffset + "=" + strconv.Itoa(q.Offset),
		paramPageSize + "=" + strconv.Itoa(q.PageSize),
	}
	if q.Sort != "" {
		out = append(out, paramSort+"="+q.Sort)
	}
	for name, list := range q.Facets {
		for _, v := range list {
			out = append(out, name+"="+v)
		}
	}
	sort.Strings(out)
	return out
}

// String implements fmt.Stringer for log lines.
func (q ListingQuery) String() string {
	return strings.Join(q.ParamSet(), "&")
}
