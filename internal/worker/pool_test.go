package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pricepulse/shopcrawler/internal/catalog"
	"github.com/pricepulse/shopcrawler/internal/control"
	"github.com/pricepulse/shopcrawler/internal/fetch"
	"github.com/pricepulse/shopcrawler/internal/queue"
)

type fakeFetcher struct {
	mu           sync.Mutex
	failuresLeft int
	failWith     error
	fetched      []string
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (fetch.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, rawURL)
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return fetch.Page{}, f.failWith
	}
	return fetch.Page{
		URL: rawURL, StatusCode: 200,
		Body:    []byte("<html><body>ok</body></html>"),
		Latency: 5 * time.Millisecond,
	}, nil
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetched)
}

type fakeHandler struct {
	mu       sync.Mutex
	children map[string][]catalog.CrawlTarget
	handled  []string
	err      error
}

func (h *fakeHandler) Handle(_ context.Context, target catalog.CrawlTarget, _ fetch.Page) ([]catalog.CrawlTarget, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = append(h.handled, target.URL)
	if h.err != nil {
		return nil, h.err
	}
	return h.children[target.URL], nil
}

func (h *fakeHandler) handledCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handled)
}

type countingObserver struct {
	mu        sync.Mutex
	processed int
	failures  int
	abandoned int
}

func (o *countingObserver) PageProcessed(catalog.PageType) {
	o.mu.Lock()
	o.processed++
	o.mu.Unlock()
}

func (o *countingObserver) Failure(string, catalog.FailureClass) {
	o.mu.Lock()
	o.failures++
	o.mu.Unlock()
}

func (o *countingObserver) Abandoned(string, catalog.FailureClass) {
	o.mu.Lock()
	o.abandoned++
	o.mu.Unlock()
}

func fastBackoff(maxAttempts int) *control.BackoffPolicy {
	return control.NewBackoffPolicyWithBases(maxAttempts, map[catalog.FailureClass]time.Duration{
		catalog.FailureBlocking:  time.Millisecond,
		catalog.FailureRateLimit: time.Millisecond,
		catalog.FailureNetwork:   time.Millisecond,
		catalog.FailureGeneric:   time.Millisecond,
	})
}

func target(url string) catalog.CrawlTarget {
	return catalog.CrawlTarget{URL: url, Type: catalog.PageListing}
}

func TestPoolDrainsFrontierIncludingChildren(t *testing.T) {
	q := queue.NewTargetQueue(0, zaptest.NewLogger(t))
	fetcher := &fakeFetcher{}
	handler := &fakeHandler{children: map[string][]catalog.CrawlTarget{
		"https://shop.example/root.html": {
			target("https://shop.example/a.html"),
			target("https://shop.example/b.html"),
		},
		"https://shop.example/a.html": {
			target("https://shop.example/a1.html"),
		},
	}}
	observer := &countingObserver{}

	require.True(t, q.Enqueue(target("https://shop.example/root.html")))

	pool := NewPool(Config{
		Queue:      q,
		Fetcher:    fetcher,
		Handler:    handler,
		Backoff:    fastBackoff(3),
		Observer:   observer,
		MaxWorkers: 4,
	}, zaptest.NewLogger(t))

	require.NoError(t, pool.Run(context.Background()))
	require.Equal(t, 4, handler.handledCount(), "root, a, b, a1")
	require.Equal(t, 4, observer.processed)
	require.True(t, q.Closed())
}

func TestPoolRotatesIdentityOnBlockingRetries(t *testing.T) {
	q := queue.NewTargetQueue(0, zaptest.NewLogger(t))
	fetcher := &fakeFetcher{
		failuresLeft: 2,
		failWith:     &catalog.BlockingError{URL: "https://shop.example/l.html", StatusCode: 403},
	}
	handler := &fakeHandler{}
	identity := fetch.NewIdentityProvider(nil, zaptest.NewLogger(t))

	require.True(t, q.Enqueue(target("https://shop.example/l.html")))

	pool := NewPool(Config{
		Queue:      q,
		Fetcher:    fetcher,
		Handler:    handler,
		Backoff:    fastBackoff(5),
		Identity:   identity,
		MaxWorkers: 1,
	}, zaptest.NewLogger(t))

	require.NoError(t, pool.Run(context.Background()))
	require.Equal(t, 3, fetcher.count(), "two blocked attempts plus the success")
	require.Equal(t, 2, identity.Rotations(), "one rotation per blocked attempt")
	require.Equal(t, 1, handler.handledCount())
}

func TestPoolAbandonsAfterRetryCeiling(t *testing.T) {
	q := queue.NewTargetQueue(0, zaptest.NewLogger(t))
	fetcher := &fakeFetcher{
		failuresLeft: 100,
		failWith:     &catalog.NetworkError{URL: "https://shop.example/l.html"},
	}
	handler := &fakeHandler{}
	observer := &countingObserver{}

	require.True(t, q.Enqueue(target("https://shop.example/l.html")))

	pool := NewPool(Config{
		Queue:      q,
		Fetcher:    fetcher,
		Handler:    handler,
		Backoff:    fastBackoff(3),
		Observer:   observer,
		MaxWorkers: 2,
	}, zaptest.NewLogger(t))

	require.NoError(t, pool.Run(context.Background()))
	require.Equal(t, 3, fetcher.count(), "stops at the attempt ceiling")
	require.Equal(t, 1, observer.abandoned)
	require.Equal(t, 3, observer.failures)
	require.Equal(t, 0, handler.handledCount())
	require.True(t, q.Closed(), "abandoned unit still completes its frontier accounting")
}

func TestPoolParsingFailureNeverRetries(t *testing.T) {
	q := queue.NewTargetQueue(0, zaptest.NewLogger(t))
	fetcher := &fakeFetcher{}
	handler := &fakeHandler{err: &catalog.ParsingError{URL: "u", Reason: "malformed payload"}}
	observer := &countingObserver{}

	require.True(t, q.Enqueue(target("https://shop.example/l.html")))

	pool := NewPool(Config{
		Queue:      q,
		Fetcher:    fetcher,
		Handler:    handler,
		Backoff:    fastBackoff(5),
		Observer:   observer,
		MaxWorkers: 1,
	}, zaptest.NewLogger(t))

	require.NoError(t, pool.Run(context.Background()))
	require.Equal(t, 1, fetcher.count())
	require.Equal(t, 1, observer.abandoned)
}

func TestPoolStopsOnContextCancel(t *testing.T) {
	q := queue.NewTargetQueue(0, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pool := NewPool(Config{
		Queue:      q,
		Fetcher:    &fakeFetcher{},
		Handler:    &fakeHandler{},
		Backoff:    fastBackoff(3),
		MaxWorkers: 2,
	}, zaptest.NewLogger(t))

	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pool did not stop on cancellation")
	}
}
