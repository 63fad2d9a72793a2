package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/pricepulse/shopcrawler/internal/catalog"
)

// CollyFetcher implements Fetcher on top of a shared Colly collector. Each
// Fetch clones the base collector so identity headers can change between
// requests without racing in-flight ones.
type CollyFetcher struct {
	baseCollector *colly.Collector
	identity      *IdentityProvider
	robots        RobotsPolicy
	logger        *zap.Logger
}

// NewCollyFetcher constructs the fetcher.
func NewCollyFetcher(cfg Config, identity *IdentityProvider, robots RobotsPolicy, logger *zap.Logger) (*CollyFetcher, error) {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}

	base := colly.NewCollector(colly.Async(false))
	base.AllowURLRevisit = true
	base.IgnoreRobotsTxt = true // enforced separately so denials are observable
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          128,
		MaxIdleConnsPerHost:   32,
		MaxConnsPerHost:       concurrency * 2,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(timeout)

	if logger == nil {
		logger = zap.NewNop()
	}
	return &CollyFetcher{
		baseCollector: base,
		identity:      identity,
		robots:        robots,
		logger:        logger,
	}, nil
}

// ErrRobotsDisallowed reports a URL the robots policy refused.
var ErrRobotsDisallowed = errors.New("robots policy disallows url")

// Fetch retrieves one page. Non-2xx statuses are returned as classified
// errors alongside the page so callers can still inspect the body.
func (f *CollyFetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	if f.robots != nil && !f.robots.Allowed(ctx, rawURL) {
		return Page{}, fmt.Errorf("fetch %s: %w", rawURL, ErrRobotsDisallowed)
	}

	collector := f.baseCollector.Clone()
	if f.identity != nil {
		id := f.identity.Current()
		collector.UserAgent = id.UserAgent
		collector.OnRequest(func(r *colly.Request) {
			for k, v := range id.Headers() {
				r.Headers.Set(k, v)
			}
		})
	}

	start := time.Now()
	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() { resultCh <- res })
	}

	collector.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			for k, v := range *r.Headers {
				cp := make([]string, len(v))
				copy(cp, v)
				headers[k] = cp
			}
		}
		send(fetchResult{page: Page{
			URL:        rawURL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte{}, r.Body...),
			Latency:    time.Since(start),
		}})
	})

	collector.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		res := fetchResult{err: err}
		if r != nil && r.StatusCode > 0 {
			res.page = Page{
				URL:        rawURL,
				StatusCode: r.StatusCode,
				Body:       append([]byte{}, r.Body...),
				Latency:    time.Since(start),
			}
			res.err = catalog.ClassifyStatus(rawURL, r.StatusCode)
		}
		send(res)
	})

	// Visit also returns an error for non-2xx statuses; the OnError hook has
	// already produced a classified result in that case, so prefer it.
	if visitErr := collector.Visit(rawURL); visitErr != nil {
		select {
		case res := <-resultCh:
			if res.page.StatusCode > 0 {
				return res.page, res.err
			}
			return Page{}, catalog.ClassifyFetchError(rawURL, res.err)
		default:
			return Page{}, catalog.ClassifyFetchError(rawURL, visitErr)
		}
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return Page{}, err
		}
		if res.err != nil && res.page.StatusCode == 0 {
			return Page{}, catalog.ClassifyFetchError(rawURL, res.err)
		}
		return res.page, res.err
	default:
		return Page{}, &catalog.NetworkError{URL: rawURL, Err: errors.New("fetch produced no result")}
	}
}

type fetchResult struct {
	page Page
	err  error
}
