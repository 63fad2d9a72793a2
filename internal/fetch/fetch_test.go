package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pricepulse/shopcrawler/internal/catalog"
)

func TestIdentityProviderRotates(t *testing.T) {
	p := NewIdentityProvider(nil, zaptest.NewLogger(t))

	first := p.Current()
	second := p.Rotate()
	require.NotEqual(t, first.UserAgent, second.UserAgent)
	require.Equal(t, second, p.Current())
	require.Equal(t, 1, p.Rotations())

	// The pool wraps around rather than running dry.
	for i := 0; i < len(defaultIdentities); i++ {
		p.Rotate()
	}
	require.Equal(t, second, p.Current())
}

func TestCollyFetcherFetchesPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NotEmpty(t, r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html><body>catalog</body></html>"))
	}))
	defer srv.Close()

	f, err := NewCollyFetcher(Config{}, NewIdentityProvider(nil, zaptest.NewLogger(t)), nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	page, err := f.Fetch(context.Background(), srv.URL+"/en/index.html")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Contains(t, string(page.Body), "catalog")
	require.Greater(t, page.Latency.Nanoseconds(), int64(0))
}

func TestCollyFetcherClassifiesBlockingStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f, err := NewCollyFetcher(Config{}, nil, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	page, err := f.Fetch(context.Background(), srv.URL+"/en/blocked.html")
	require.Error(t, err)
	require.Equal(t, catalog.FailureBlocking, catalog.Classify(err))
	require.Equal(t, http.StatusForbidden, page.StatusCode)
}

func TestRobotsEnforcerHonorsDisallow(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	policy := NewRobotsEnforcer(true, "shopcrawler", zaptest.NewLogger(t))
	ctx := context.Background()
	require.True(t, policy.Allowed(ctx, srv.URL+"/en/products.html"))
	require.False(t, policy.Allowed(ctx, srv.URL+"/private/admin.html"))

	off := NewRobotsEnforcer(false, "shopcrawler", zaptest.NewLogger(t))
	require.True(t, off.Allowed(ctx, srv.URL+"/private/admin.html"))
}

func TestCollyFetcherRespectsRobotsPolicy(t *testing.T) {
	f, err := NewCollyFetcher(Config{}, nil, denyAllPolicy{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), "http://shop.example/en/anything.html")
	require.ErrorIs(t, err, ErrRobotsDisallowed)
}

type denyAllPolicy struct{}

func (denyAllPolicy) Allowed(context.Context, string) bool { return false }

func TestHeuristicDetector(t *testing.T) {
	d := NewHeuristicDetector(0)

	tests := []struct {
		name    string
		page    Page
		promote bool
	}{
		{
			name:    "empty body promotes",
			page:    Page{StatusCode: 200},
			promote: true,
		},
		{
			name:    "spa shell promotes",
			page:    Page{StatusCode: 200, Body: []byte(`<html><body><div id="root"></div></body></html>`)},
			promote: true,
		},
		{
			name:    "embedded state never promotes",
			page:    Page{StatusCode: 200, Body: []byte(`<div id="root"></div><script id="product-listing-state">{}</script>`)},
			promote: false,
		},
		{
			name:    "plain server-rendered page stays",
			page:    Page{StatusCode: 200, Body: []byte(`<html><body><ul><li class="product-item">Tee</li></ul></body></html>`)},
			promote: false,
		},
		{
			name:    "non-200 never promotes",
			page:    Page{StatusCode: 403},
			promote: false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.promote, d.ShouldPromote(tc.page))
		})
	}
}
