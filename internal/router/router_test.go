package router

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pricepulse/shopcrawler/internal/catalog"
	"github.com/pricepulse/shopcrawler/internal/extract"
	"github.com/pricepulse/shopcrawler/internal/fetch"
	"github.com/pricepulse/shopcrawler/internal/ledger"
	"github.com/pricepulse/shopcrawler/internal/market"
)

type memorySink struct {
	mu      sync.Mutex
	records []catalog.ProductRecord
}

func (m *memorySink) Write(_ context.Context, records []catalog.ProductRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	return nil
}

type memorySnapshots struct {
	saved []string
}

func (m *memorySnapshots) Save(_ context.Context, pageURL string, _ []byte) error {
	m.saved = append(m.saved, pageURL)
	return nil
}

type testHarness struct {
	router  *Router
	sink    *memorySink
	snaps   *memorySnapshots
	limit   *ledger.LimitState
	aborted *bool
}

func (h testHarness) records() []catalog.ProductRecord {
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	return h.sink.records
}

func newHarness(t *testing.T, cfg Config, cap int) testHarness {
	t.Helper()
	m, err := market.Lookup("GERMANY")
	require.NoError(t, err)

	dedup, err := ledger.NewDedupLedger(context.Background(), m.Name, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	sink := &memorySink{}
	snaps := &memorySnapshots{}
	limit := ledger.NewLimitState(cap, 0)
	progress := ledger.NewProgressLedger(m.Name, 1, []ledger.RecordSink{sink}, nil, limit, zaptest.NewLogger(t))
	aborted := false

	r := New(
		cfg, m,
		extract.NewEngine(zaptest.NewLogger(t)),
		dedup, progress, limit, snaps,
		func() { aborted = true },
		zaptest.NewLogger(t),
	)
	return testHarness{router: r, sink: sink, snaps: snaps, limit: limit, aborted: &aborted}
}

const navigationBody = `{"navigation": {"id": "root", "title": "root", "children": [
  {"id": "ladies", "title": "Ladies", "trackingLabel": "ladies", "aliasPath": "/ladies", "children": [
    {"id": "ladies-dresses", "title": "Dresses", "aliasPath": "/ladies/dresses.html", "children": []},
    {"id": "ladies-tops", "title": "Tops", "aliasPath": "/ladies/tops.html", "children": [
      {"id": "ladies-tops-basic", "title": "Basics", "aliasPath": "/ladies/tops/basics.html", "children": []}
    ]},
    {"id": "ladies-viewall", "title": "View All", "aliasPath": "/ladies/view-all.html", "children": []}
  ]},
  {"id": "men", "title": "Men", "trackingLabel": "men", "aliasPath": "/men", "children": [
    {"id": "men-shirts", "title": "Shirts", "aliasPath": "/men/shirts.html", "children": []}
  ]},
  {"id": "misc", "title": "Misc", "trackingLabel": "misc", "aliasPath": "/misc", "children": [
    {"id": "misc-gifts", "title": "Gifts", "aliasPath": "/misc/gifts.html", "children": []}
  ]}
]}}`

func TestNavigationFiltersDivisionsAndDeniedSlugs(t *testing.T) {
	h := newHarness(t, Config{AllowDivisions: []string{"ladies", "men"}}, 0)

	target := SeedTarget(mustMarket(t), catalog.ModeShallow)
	children, err := h.router.Handle(context.Background(), target, fetch.Page{Body: []byte(navigationBody)})
	require.NoError(t, err)

	var urls []string
	for _, c := range children {
		require.Equal(t, catalog.PageCategoryCount, c.Type)
		urls = append(urls, c.URL)
	}
	// Ladies: dresses (leaf), tops (non-leaf) and its basics leaf. Men: shirts.
	// Misc is outside the allow-list; "View All" is deny-listed.
	require.Len(t, children, 4)
	require.Contains(t, urls, "https://shop.example/de_de/ladies/dresses.html")
	require.Contains(t, urls, "https://shop.example/de_de/ladies/tops.html")
	require.Contains(t, urls, "https://shop.example/de_de/ladies/tops/basics.html")
	require.Contains(t, urls, "https://shop.example/de_de/men/shirts.html")

	for _, u := range urls {
		require.NotContains(t, u, "misc")
		require.NotContains(t, u, "view-all")
	}
	require.Equal(t, "Ladies", children[0].Context.Division)
}

func TestCategoryCountFansOutListingPages(t *testing.T) {
	h := newHarness(t, Config{PageSize: 36}, 0)

	body := `<html><head><script type="application/json" id="product-listing-state">
{"plpProductGrid": {"hits": [{"articleCode": "0000000001", "title": "x"}], "totalCount": 90}}
</script></head></html>`
	target := catalog.CrawlTarget{
		URL:     "https://shop.example/de_de/ladies/dresses.html",
		Type:    catalog.PageCategoryCount,
		Context: catalog.CrawlContext{Market: "GERMANY", Category: "Dresses"},
	}
	children, err := h.router.Handle(context.Background(), target, fetch.Page{Body: []byte(body)})
	require.NoError(t, err)

	// ceil(90/36) = 3 pages at offsets 0, 36, 72.
	require.Len(t, children, 3)
	require.Contains(t, children[0].URL, "offset=0")
	require.Contains(t, children[1].URL, "offset=36")
	require.Contains(t, children[2].URL, "offset=72")
	for _, c := range children {
		require.Equal(t, catalog.PageListing, c.Type)
		require.Contains(t, c.URL, "page-size=36")
	}
}

func TestCategoryCountDefaultsWhenUnavailable(t *testing.T) {
	h := newHarness(t, Config{PageSize: 100}, 0)

	target := catalog.CrawlTarget{
		URL:  "https://shop.example/de_de/ladies/tops.html",
		Type: catalog.PageCategoryCount,
	}
	children, err := h.router.Handle(context.Background(), target, fetch.Page{Body: []byte("<html><body></body></html>")})
	require.NoError(t, err)
	require.Len(t, children, 5, "assumed default total of 500 at page size 100")
}

const listingBody = `<html><head><script type="application/json" id="product-listing-state">
{"plpProductGrid": {"hits": [
  {"articleCode": "0714790001", "title": "Slim Shirt", "whitePrice": 29.99, "price": 19.99, "linkPdp": "/p/0714790001.html"},
  {"articleCode": "0714790002", "title": "Wool Coat", "whitePrice": 199.99, "linkPdp": "/p/0714790002.html"}
], "totalCount": 120}}
</script></head></html>`

func TestListingShallowEmitsRecords(t *testing.T) {
	h := newHarness(t, Config{}, 0)

	target := catalog.CrawlTarget{
		URL:  "https://shop.example/de_de/ladies/dresses.html?offset=0&page-size=36",
		Type: catalog.PageListing,
		Context: catalog.CrawlContext{
			Market: "GERMANY", Division: "Ladies", Category: "Dresses", Mode: catalog.ModeShallow,
		},
	}
	children, err := h.router.Handle(context.Background(), target, fetch.Page{Body: []byte(listingBody)})
	require.NoError(t, err)

	require.Len(t, h.records(), 2)
	rec := h.records()[0]
	require.Equal(t, "0714790001", rec.ArticleNo)
	require.Equal(t, "GERMANY", rec.Market)
	require.Equal(t, "EUR", rec.Currency, "market currency fills the gap")
	require.Equal(t, "Ladies", rec.Division)
	require.Equal(t, 33, rec.DiscountPercentage)
	require.False(t, rec.ScrapedAt.IsZero())

	// 120 total, 2 listed at offset 0 with page size 36: one continuation.
	require.Len(t, children, 1)
	require.Equal(t, catalog.PageListing, children[0].Type)
	require.Contains(t, children[0].URL, "offset=36")
	require.Equal(t, 2, children[0].Context.ListedSoFar)
}

func TestListingShallowDedupesAcrossPages(t *testing.T) {
	h := newHarness(t, Config{}, 0)

	target := catalog.CrawlTarget{
		URL:     "https://shop.example/de_de/l.html?offset=0&page-size=36",
		Type:    catalog.PageListing,
		Context: catalog.CrawlContext{Market: "GERMANY", Mode: catalog.ModeShallow},
	}
	_, err := h.router.Handle(context.Background(), target, fetch.Page{Body: []byte(listingBody)})
	require.NoError(t, err)
	_, err = h.router.Handle(context.Background(), target, fetch.Page{Body: []byte(listingBody)})
	require.NoError(t, err)
	require.Len(t, h.records(), 2, "second pass claims nothing")
}

func TestListingDeepEmitsDetailTargets(t *testing.T) {
	h := newHarness(t, Config{}, 0)

	target := catalog.CrawlTarget{
		URL:     "https://shop.example/de_de/l.html?offset=72&page-size=36",
		Type:    catalog.PageListing,
		Context: catalog.CrawlContext{Market: "GERMANY", Mode: catalog.ModeDeep, ListedSoFar: 118},
	}
	children, err := h.router.Handle(context.Background(), target, fetch.Page{Body: []byte(listingBody)})
	require.NoError(t, err)

	// Two detail targets, no continuation (118+2 = 120 = total).
	require.Len(t, children, 2)
	for _, c := range children {
		require.Equal(t, catalog.PageProductDetail, c.Type)
		require.True(t, strings.HasPrefix(c.URL, "https://shop.example/"), c.URL)
		require.NotNil(t, c.Context.Stub)
	}
	require.Equal(t, "0714790001", children[0].Context.Stub.ArticleNo)
	require.Empty(t, h.records())
}

func TestListingExhaustedSnapshotsAndFails(t *testing.T) {
	h := newHarness(t, Config{}, 0)

	target := catalog.CrawlTarget{
		URL:     "https://shop.example/de_de/l.html",
		Type:    catalog.PageListing,
		Context: catalog.CrawlContext{Market: "GERMANY"},
	}
	_, err := h.router.Handle(context.Background(), target, fetch.Page{Body: []byte("<html><body><p>empty shell</p></body></html>")})
	require.Error(t, err)
	var parseErr *catalog.ParsingError
	require.ErrorAs(t, err, &parseErr)
	require.Equal(t, []string{"https://shop.example/de_de/l.html"}, h.snaps.saved)
}

const detailBody = `<html><body><script>
var productArticleDetails = {
  'mainArticleCode': '0714790001',
  'title': 'Slim Fit Shirt',
  '0714790001': {
    'articleCode': '0714790001',
    'name': 'Slim Fit Shirt',
    'colorName': 'White',
    'whitePrice': '29,99 €',
    'currency': 'EUR',
    'sizes': [{'sizeCode': '001', 'name': 'S'}, {'sizeCode': '002', 'name': 'M'}],
  },
};
</script></body></html>`

func TestDetailClaimsEachVariantOnce(t *testing.T) {
	h := newHarness(t, Config{}, 0)

	target := catalog.CrawlTarget{
		URL:  "https://shop.example/de_de/p/0714790001.html",
		Type: catalog.PageProductDetail,
		Context: catalog.CrawlContext{
			Market: "GERMANY", Mode: catalog.ModeDeep,
			Stub: &catalog.ProductStub{ArticleNo: "0714790001", Title: "Slim Fit Shirt"},
		},
	}
	children, err := h.router.Handle(context.Background(), target, fetch.Page{Body: []byte(detailBody)})
	require.NoError(t, err)
	require.Empty(t, children, "detail pages are terminal")
	require.Len(t, h.records(), 2, "one record per size variant")
	require.Equal(t, "S", h.records()[0].Size)
	require.Equal(t, "White", h.records()[0].Color)

	// Reaching the same product via another category path claims nothing new.
	_, err = h.router.Handle(context.Background(), target, fetch.Page{Body: []byte(detailBody)})
	require.NoError(t, err)
	require.Len(t, h.records(), 2)
}

func TestDetailWithoutPayloadFallsBackToStub(t *testing.T) {
	h := newHarness(t, Config{}, 0)

	target := catalog.CrawlTarget{
		URL:  "https://shop.example/de_de/p/0714790009.html",
		Type: catalog.PageProductDetail,
		Context: catalog.CrawlContext{
			Market: "GERMANY",
			Stub: &catalog.ProductStub{
				ArticleNo: "0714790009", Title: "Fallback Tee", ListPrice: 9.99,
			},
		},
	}
	_, err := h.router.Handle(context.Background(), target, fetch.Page{Body: []byte("<html><body>static page</body></html>")})
	require.NoError(t, err)
	require.Len(t, h.records(), 1)
	require.Equal(t, "0714790009", h.records()[0].ArticleNo)
}

func TestLimitReachedAbortsWithoutWork(t *testing.T) {
	h := newHarness(t, Config{}, 1)

	recorderTarget := catalog.CrawlTarget{
		URL:     "https://shop.example/de_de/l.html?offset=0&page-size=36",
		Type:    catalog.PageListing,
		Context: catalog.CrawlContext{Market: "GERMANY", Mode: catalog.ModeShallow},
	}
	children, err := h.router.Handle(context.Background(), recorderTarget, fetch.Page{Body: []byte(listingBody)})
	require.NoError(t, err)
	require.True(t, *h.aborted, "cap crossed mid-listing triggers abort")
	require.Len(t, h.records(), 1, "only the record accepted before the cap")
	require.Empty(t, children, "no continuation page once capped")

	children, err = h.router.Handle(context.Background(), recorderTarget, fetch.Page{Body: []byte(listingBody)})
	require.NoError(t, err)
	require.Nil(t, children, "no work after the cap")
	require.Len(t, h.records(), 1)
}

func mustMarket(t *testing.T) market.Market {
	t.Helper()
	m, err := market.Lookup("GERMANY")
	require.NoError(t, err)
	return m
}
