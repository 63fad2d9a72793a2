// Package fetch retrieves catalog pages. The plain HTTP path goes through a
// Colly collector; pages that heuristically need JavaScript can be promoted
// to a headless Chrome renderer.
package fetch

import (
	"context"
	"net/http"
	"time"
)

// Page is the raw result of fetching one URL.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Latency    time.Duration
	UsedJS     bool
}

// Fetcher retrieves a single page.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// Renderer retrieves a page with JavaScript executed.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (Page, error)
}

// RobotsPolicy answers whether a URL may be fetched.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// Config controls fetcher behavior.
type Config struct {
	RespectRobots  bool
	RequestTimeout time.Duration
	Concurrency    int
}
