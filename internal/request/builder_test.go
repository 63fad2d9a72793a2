package request

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildParseRoundTrip(t *testing.T) {
	cases := []ListingQuery{
		{Offset: 0, PageSize: 36},
		{Offset: 72, PageSize: 36, Sort: "ascPrice"},
		{Offset: 500, PageSize: 500, Sort: "newProduct", Facets: map[string][]string{
			"colorWithNames": {"black_000000", "white_ffffff"},
			"sizes":          {"menswear_S"},
		}},
		// Unknown facets must pass through untouched.
		{Offset: 36, PageSize: 72, Facets: map[string][]string{
			"futureFacet": {"a", "b", "c"},
		}},
	}
	for i, q := range cases {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			built, err := q.BuildURL("https://shop.example/de_de/men/shirts.html")
			require.NoError(t, err)

			base, parsed, err := ParseURL(built)
			require.NoError(t, err)
			require.Equal(t, "https://shop.example/de_de/men/shirts.html", base)
			require.ElementsMatch(t, q.Normalize().ParamSet(), parsed.ParamSet())
		})
	}
}

func TestPageSizeClampedToCap(t *testing.T) {
	q := ListingQuery{Offset: 0, PageSize: 9999}
	built, err := q.BuildURL("https://shop.example/c")
	require.NoError(t, err)
	_, parsed, err := ParseURL(built)
	require.NoError(t, err)
	require.Equal(t, MaxPageSize, parsed.PageSize)
}

func TestNextPageAdvancesByPageSize(t *testing.T) {
	q := ListingQuery{Offset: 0, PageSize: 36}
	next := q.NextPage()
	require.Equal(t, 36, next.Offset)
	require.Equal(t, 72, next.NextPage().Offset)
}

func TestPageOffsetsComplete(t *testing.T) {
	cases := []struct {
		total, pageSize int
		want            []int
	}{
		{0, 36, nil},
		{1, 36, []int{0}},
		{36, 36, []int{0}},
		{37, 36, []int{0, 36}},
		{120, 36, []int{0, 36, 72, 108}},
		{1000, 500, []int{0, 500}},
	}
	for _, tc := range cases {
		got := PageOffsets(tc.total, tc.pageSize)
		require.Equal(t, tc.want, got, "total=%d pageSize=%d", tc.total, tc.pageSize)

		// No offset may reach or exceed the total; the set must cover it.
		for _, off := range got {
			require.Less(t, off, tc.total)
		}
		if tc.total > 0 {
			last := got[len(got)-1]
			require.GreaterOrEqual(t, last+tc.pageSize, tc.total, "gap before end")
		}
	}
}
