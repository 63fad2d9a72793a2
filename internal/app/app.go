// Package app initializes and holds the long-lived services for one crawl
// run, acting as the dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pricepulse/shopcrawler/internal/api"
	"github.com/pricepulse/shopcrawler/internal/catalog"
	"github.com/pricepulse/shopcrawler/internal/config"
	"github.com/pricepulse/shopcrawler/internal/control"
	"github.com/pricepulse/shopcrawler/internal/extract"
	"github.com/pricepulse/shopcrawler/internal/fetch"
	"github.com/pricepulse/shopcrawler/internal/id/uuid"
	"github.com/pricepulse/shopcrawler/internal/ledger"
	"github.com/pricepulse/shopcrawler/internal/market"
	"github.com/pricepulse/shopcrawler/internal/publish"
	"github.com/pricepulse/shopcrawler/internal/queue"
	"github.com/pricepulse/shopcrawler/internal/router"
	"github.com/pricepulse/shopcrawler/internal/sink"
	"github.com/pricepulse/shopcrawler/internal/snapshot"
	snapshotgcs "github.com/pricepulse/shopcrawler/internal/snapshot/gcs"
	snapshotlocal "github.com/pricepulse/shopcrawler/internal/snapshot/local"
	snapshotmemory "github.com/pricepulse/shopcrawler/internal/snapshot/memory"
	"github.com/pricepulse/shopcrawler/internal/stats"
	"github.com/pricepulse/shopcrawler/internal/worker"
)

// App owns every service of one crawl run. Built once at startup; Run drives
// the crawl to completion and Close releases resources in dependency order.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	runID  string
	market market.Market
	mode   catalog.ExtractionMode

	registry   *prometheus.Registry
	stats      *stats.Stats
	store      *ledger.Store
	limit      *ledger.LimitState
	progress   *ledger.ProgressLedger
	jsonl      *sink.JSONLSink
	pg         *sink.PostgresSink
	publisher  publish.Publisher
	controller *control.Controller
	queue      *queue.TargetQueue
	pool       *worker.Pool
	renderer   *fetch.ChromedpRenderer
	server     *http.Server
}

// New builds the full crawl pipeline from the config. Fails fast: any
// unreachable dependency aborts startup before the first request.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	m, err := market.Lookup(cfg.Crawler.Market)
	if err != nil {
		return nil, err
	}
	mode := catalog.ExtractionMode(cfg.Crawler.Mode)

	runID, err := uuid.Generator{}.NewRunID()
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("run_id", runID), zap.String("market", m.Name))

	registry := prometheus.NewRegistry()
	st := stats.New(registry)

	store, err := ledger.OpenStore(cfg.Ledger.Dir)
	if err != nil {
		return nil, err
	}
	a := &App{
		cfg:      cfg,
		logger:   logger,
		runID:    runID,
		market:   m,
		mode:     mode,
		registry: registry,
		stats:    st,
		store:    store,
	}
	if err := a.build(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg

	resumed, err := a.store.LoadProgress(ctx, a.market.Name)
	if err != nil {
		return err
	}
	if resumed > 0 {
		a.logger.Info("resuming interrupted run", zap.Int64("saved", resumed))
	}
	a.limit = ledger.NewLimitState(cfg.Crawler.MaxRecords, resumed)

	dedup, err := ledger.NewDedupLedger(ctx, a.market.Name, a.store, a.logger.Named("dedup"))
	if err != nil {
		return err
	}

	sinks, err := a.buildSinks(ctx)
	if err != nil {
		return err
	}
	a.progress = ledger.NewProgressLedger(
		a.market.Name, cfg.Crawler.FlushSize, sinks, a.store, a.limit, a.logger.Named("progress"))

	snapshots, err := a.buildSnapshots(ctx)
	if err != nil {
		return err
	}

	identity := fetch.NewIdentityProvider(nil, a.logger.Named("identity"))
	robots := fetch.NewRobotsEnforcer(cfg.HTTP.RespectRobots, identity.Current().UserAgent, a.logger.Named("robots"))
	fetcher, err := fetch.NewCollyFetcher(fetch.Config{
		RespectRobots:  cfg.HTTP.RespectRobots,
		RequestTimeout: cfg.RequestTimeout(),
		Concurrency:    cfg.Control.MaxConcurrency,
	}, identity, robots, a.logger.Named("fetch"))
	if err != nil {
		return err
	}

	var renderer fetch.Renderer
	if cfg.Headless.Enabled {
		r, rerr := fetch.NewChromedpRenderer(fetch.RendererConfig{
			MaxConcurrency: cfg.Headless.MaxParallel,
			Timeout:        time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			UserAgent:      identity.Current().UserAgent,
		}, a.logger.Named("renderer"))
		switch {
		case rerr == nil:
			a.renderer = r
			renderer = r
		case errors.Is(rerr, fetch.ErrRendererDisabled):
			a.logger.Warn("headless rendering disabled despite feature flag")
		default:
			return fmt.Errorf("init renderer: %w", rerr)
		}
	}

	a.controller = control.NewController(control.Config{
		MinConcurrency:    cfg.Control.MinConcurrency,
		MaxConcurrency:    cfg.Control.MaxConcurrency,
		BurstCeiling:      cfg.Control.BurstCeiling,
		InterRequestDelay: cfg.InterRequestDelay(),
	}, a.logger.Named("control"))

	a.queue = queue.NewTargetQueue(cfg.Crawler.QueueDepth, a.logger.Named("queue"))

	rt := router.New(
		router.Config{
			AllowDivisions: cfg.Crawler.AllowDivisions,
			DenySlugs:      cfg.Crawler.DenySlugs,
			PageSize:       cfg.Crawler.PageSize,
		},
		a.market,
		extract.NewEngine(a.logger.Named("extract")),
		&countingClaimer{inner: dedup, stats: a.stats},
		a.progress,
		a.limit,
		snapshots,
		a.queue.Close,
		a.logger.Named("router"),
	)

	a.pool = worker.NewPool(worker.Config{
		Queue:      a.queue,
		Fetcher:    &latencyObservingFetcher{inner: fetcher, stats: a.stats},
		Renderer:   renderer,
		Detector:   fetch.NewHeuristicDetector(0),
		Handler:    rt,
		Controller: a.controller,
		Backoff:    control.NewBackoffPolicy(cfg.HTTP.MaxRetries),
		Identity:   identity,
		Observer:   a.stats,
		MaxWorkers: cfg.Control.BurstCeiling,
	}, a.logger.Named("worker"))

	if cfg.Server.Enabled {
		statusServer := api.NewServer(
			a.runID, a.market.Name, string(a.mode),
			a.stats, a.controller, a.queue, a.registry, a.logger.Named("api"))
		a.server = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           statusServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return nil
}

func (a *App) buildSinks(ctx context.Context) ([]ledger.RecordSink, error) {
	jsonl, err := sink.NewJSONLSink(a.cfg.Output.DatasetPath)
	if err != nil {
		return nil, err
	}
	a.jsonl = jsonl
	sinks := []ledger.RecordSink{jsonl, sink.NewStatsSink(a.stats)}

	if a.cfg.Database.Enabled {
		pg, err := sink.NewPostgresSink(ctx, sink.PostgresConfig{
			DSN:      a.cfg.Database.DSN,
			Table:    a.cfg.Database.Table,
			MaxConns: a.cfg.Database.MaxConns,
		})
		if err != nil {
			return nil, err
		}
		a.pg = pg
		sinks = append(sinks, pg)
	}

	a.publisher = publish.NoopPublisher{}
	if a.cfg.PubSub.Enabled {
		pub, err := publish.NewPubSubPublisher(
			ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicID, a.logger.Named("publish"))
		if err != nil {
			return nil, err
		}
		a.publisher = pub
		sinks = append(sinks, publish.NewRecordSink(pub))
	}
	return sinks, nil
}

func (a *App) buildSnapshots(ctx context.Context) (router.Snapshots, error) {
	cfg := a.cfg.Snapshot
	var store snapshot.BlobStore
	switch cfg.Backend {
	case "off":
		return nil, nil
	case "local":
		s, err := snapshotlocal.New(snapshotlocal.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local snapshot store: %w", err)
		}
		store = s
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		s, err := snapshotgcs.New(client, snapshotgcs.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, err
		}
		store = s
	case "memory":
		store = snapshotmemory.NewBlobStore()
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Backend)
	}
	return snapshot.NewArchiver(store, cfg.Prefix, a.logger.Named("snapshot")), nil
}

// Run seeds the frontier and drives the crawl until it drains, the wall-clock
// budget expires, or the context ends. Always flushes buffered records and
// checkpoints progress before returning.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("crawl starting",
		zap.String("mode", string(a.mode)),
		zap.Int("max_records", a.cfg.Crawler.MaxRecords),
		zap.Duration("max_duration", a.cfg.MaxDuration()),
	)

	a.queue.Enqueue(router.SeedTarget(a.market, a.mode))

	if a.server != nil {
		go func() {
			a.logger.Info("status server started", zap.String("addr", a.server.Addr))
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("status server error", zap.Error(err))
			}
		}()
	}

	gaugeDone := make(chan struct{})
	go a.mirrorDesiredWorkers(gaugeDone)

	if d := a.cfg.MaxDuration(); d > 0 {
		timer := time.AfterFunc(d, func() {
			a.logger.Info("max duration reached, aborting crawl", zap.Duration("budget", d))
			a.queue.Close()
		})
		defer timer.Stop()
	}

	runErr := a.pool.Run(ctx)
	close(gaugeDone)

	// The run context may already be canceled; flushing still has to happen.
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := a.progress.Flush(flushCtx); err != nil {
		a.logger.Error("final flush failed", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}
	if err := a.store.SaveProgress(flushCtx, a.market.Name, a.limit.SavedCount()); err != nil {
		a.logger.Warn("final progress checkpoint failed", zap.Error(err))
	}

	a.stats.LogSummary(a.logger)
	return runErr
}

func (a *App) mirrorDesiredWorkers(done <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			a.stats.SetDesiredWorkers(a.controller.Desired())
		}
	}
}

// Close releases all services. Safe to call after a partial build.
func (a *App) Close(ctx context.Context) {
	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("status server shutdown failed", zap.Error(err))
		}
	}
	if a.renderer != nil {
		if err := a.renderer.Close(); err != nil {
			a.logger.Warn("renderer close failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("publisher close failed", zap.Error(err))
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
	if a.jsonl != nil {
		if err := a.jsonl.Close(); err != nil {
			a.logger.Warn("dataset close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("ledger close failed", zap.Error(err))
		}
	}
}

// RunID returns the run's identifier.
func (a *App) RunID() string { return a.runID }

// countingClaimer feeds duplicate-claim rejections into the run statistics.
type countingClaimer struct {
	inner *ledger.DedupLedger
	stats *stats.Stats
}

func (c *countingClaimer) TryClaim(ctx context.Context, key string) bool {
	ok := c.inner.TryClaim(ctx, key)
	if !ok {
		c.stats.DuplicateSkipped()
	}
	return ok
}

// latencyObservingFetcher feeds fetch latency into the histogram.
type latencyObservingFetcher struct {
	inner fetch.Fetcher
	stats *stats.Stats
}

func (f *latencyObservingFetcher) Fetch(ctx context.Context, rawURL string) (fetch.Page, error) {
	page, err := f.inner.Fetch(ctx, rawURL)
	if page.Latency > 0 {
		f.stats.ObserveFetchLatency(page.Latency)
	}
	return page, err
}
