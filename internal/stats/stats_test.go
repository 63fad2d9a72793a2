package stats

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/pricepulse/shopcrawler/internal/catalog"
)

func TestPathLabel(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"product page", "https://shop.example/de_de/productpage.0714790001.html", "/de_de/productpage.0714790001.html"},
		{"deep category", "https://shop.example/de_de/ladies/tops/basics.html", "/de_de/ladies"},
		{"root", "https://shop.example/", "/"},
		{"no path", "https://shop.example", "unknown"},
		{"invalid url", "http://%", "unknown"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := PathLabel(tc.input); got != tc.expected {
				t.Errorf("PathLabel(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestStatsAggregates(t *testing.T) {
	s := New(prometheus.NewRegistry())

	s.PageProcessed(catalog.PageListing)
	s.PageProcessed(catalog.PageListing)
	s.PageProcessed(catalog.PageProductDetail)
	s.Failure("https://shop.example/de_de/ladies/tops.html", catalog.FailureNetwork)
	s.Failure("https://shop.example/de_de/ladies/dresses.html", catalog.FailureBlocking)
	s.Abandoned("https://shop.example/de_de/ladies/tops.html", catalog.FailureNetwork)
	s.RecordsSaved(50)
	s.DuplicateSkipped()

	sum := s.Summary()
	require.Equal(t, 2, sum.PagesByType[catalog.PageListing])
	require.Equal(t, 1, sum.PagesByType[catalog.PageProductDetail])
	require.Equal(t, 1, sum.FailuresByClass[catalog.FailureNetwork])
	require.Equal(t, 1, sum.FailuresByClass[catalog.FailureBlocking])
	require.Equal(t, 2, sum.FailuresByPath["/de_de/ladies"])
	require.Equal(t, 1, sum.Abandoned)
	require.Equal(t, int64(50), sum.RecordsSaved)
	require.Equal(t, int64(1), sum.Duplicates)

	require.Equal(t, float64(50), testutil.ToFloat64(s.recordsTotal))
	require.Equal(t, float64(1), testutil.ToFloat64(s.abandonedTotal))
	require.Equal(t, float64(2), testutil.ToFloat64(s.pagesTotal.WithLabelValues(string(catalog.PageListing))))
}
