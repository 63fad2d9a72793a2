// Package worker runs the crawl's fetch-and-route pipeline: a pool of
// goroutines pulls targets from the frontier, fetches them under the
// controller's pacing, and feeds pages to the router.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pricepulse/shopcrawler/internal/catalog"
	"github.com/pricepulse/shopcrawler/internal/control"
	"github.com/pricepulse/shopcrawler/internal/fetch"
	"github.com/pricepulse/shopcrawler/internal/queue"
)

// Handler routes one fetched page; implemented by router.Router.
type Handler interface {
	Handle(ctx context.Context, target catalog.CrawlTarget, page fetch.Page) ([]catalog.CrawlTarget, error)
}

// Observer receives per-unit outcomes for run statistics. All methods must be
// safe for concurrent use.
type Observer interface {
	PageProcessed(pageType catalog.PageType)
	Failure(url string, class catalog.FailureClass)
	Abandoned(url string, class catalog.FailureClass)
}

// Pool executes the crawl. Worker goroutines above the controller's desired
// parallelism idle until scaling allows them to work again.
type Pool struct {
	queue      *queue.TargetQueue
	fetcher    fetch.Fetcher
	renderer   fetch.Renderer
	detector   *fetch.HeuristicDetector
	handler    Handler
	controller *control.Controller
	backoff    *control.BackoffPolicy
	identity   *fetch.IdentityProvider
	observer   Observer
	maxWorkers int
	logger     *zap.Logger
}

// Config wires the pool's collaborators. Renderer, detector, identity, and
// observer are optional.
type Config struct {
	Queue      *queue.TargetQueue
	Fetcher    fetch.Fetcher
	Renderer   fetch.Renderer
	Detector   *fetch.HeuristicDetector
	Handler    Handler
	Controller *control.Controller
	Backoff    *control.BackoffPolicy
	Identity   *fetch.IdentityProvider
	Observer   Observer
	MaxWorkers int
}

// NewPool constructs the pool.
func NewPool(cfg Config, logger *zap.Logger) *Pool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		queue:      cfg.Queue,
		fetcher:    cfg.Fetcher,
		renderer:   cfg.Renderer,
		detector:   cfg.Detector,
		handler:    cfg.Handler,
		controller: cfg.Controller,
		backoff:    cfg.Backoff,
		identity:   cfg.Identity,
		observer:   cfg.Observer,
		maxWorkers: cfg.MaxWorkers,
		logger:     logger,
	}
}

// Run blocks until the frontier drains, the context ends, or the queue is
// closed by an abort.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.maxWorkers; i++ {
		id := i
		g.Go(func() error {
			p.runWorker(ctx, id)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			return
		}
		// Workers beyond the controller's desired parallelism idle here until
		// scaling brings them back, or the crawl ends.
		if p.controller != nil && id >= p.controller.Desired() {
			if p.queue.Closed() {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(250 * time.Millisecond):
			}
			continue
		}

		target, ok := p.queue.Dequeue(ctx)
		if !ok {
			return
		}
		p.process(ctx, target)
		p.queue.Done()
	}
}

// process drives one target through fetch, route, and the retry loop. A unit
// that exhausts its retries is abandoned and counted, never escalated.
func (p *Pool) process(ctx context.Context, target catalog.CrawlTarget) {
	attempt := 0
	for {
		attempt++
		err := p.attempt(ctx, target)
		if err == nil {
			if p.observer != nil {
				p.observer.PageProcessed(target.Type)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		class := catalog.Classify(err)
		if p.observer != nil {
			p.observer.Failure(target.URL, class)
		}
		if !p.backoff.ShouldRetry(class, attempt) {
			p.logger.Warn("target abandoned",
				zap.String("url", target.URL),
				zap.String("class", string(class)),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			if p.observer != nil {
				p.observer.Abandoned(target.URL, class)
			}
			return
		}
		if p.backoff.RotateOnRetry(class) && p.identity != nil {
			p.identity.Rotate()
		}
		delay := p.backoff.Delay(class, attempt)
		p.logger.Debug("retrying target",
			zap.String("url", target.URL),
			zap.String("class", string(class)),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
		)
		if err := sleep(ctx, delay); err != nil {
			return
		}
	}
}

func (p *Pool) attempt(ctx context.Context, target catalog.CrawlTarget) error {
	if p.controller != nil {
		if err := p.controller.Wait(ctx); err != nil {
			return err
		}
	}

	page, err := p.fetcher.Fetch(ctx, target.URL)
	if p.controller != nil {
		class := catalog.Classify(err)
		p.controller.Observe(control.Outcome{
			Success: err == nil,
			Latency: page.Latency,
			Blocked: err != nil && class == catalog.FailureBlocking,
		})
	}
	if err != nil {
		return err
	}

	if p.renderer != nil && p.detector != nil && p.detector.ShouldPromote(page) {
		rendered, rerr := p.renderer.Render(ctx, target.URL)
		if rerr != nil {
			p.logger.Warn("headless promotion failed, using plain page",
				zap.String("url", target.URL), zap.Error(rerr))
		} else {
			page = rendered
		}
	}

	children, err := p.handler.Handle(ctx, target, page)
	if err != nil {
		return err
	}
	for _, child := range children {
		p.queue.Enqueue(child)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
