// Package stats aggregates run statistics and exposes Prometheus collectors
// for the crawler.
package stats

import (
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/pricepulse/shopcrawler/internal/catalog"
)

// Stats tracks crawl-level counters. In-memory aggregates back the final
// summary and the status API; Prometheus collectors back /metrics. Safe for
// concurrent use.
type Stats struct {
	mu              sync.Mutex
	startedAt       time.Time
	pagesByType     map[catalog.PageType]int
	failuresByClass map[catalog.FailureClass]int
	failuresByPath  map[string]int
	abandoned       int
	recordsSaved    int64
	duplicates      int64

	pagesTotal     *prometheus.CounterVec
	failuresTotal  *prometheus.CounterVec
	abandonedTotal prometheus.Counter
	recordsTotal   prometheus.Counter
	desiredWorkers prometheus.Gauge
	fetchLatency   prometheus.Histogram
}

// New builds the stats aggregate and registers its collectors.
func New(reg prometheus.Registerer) *Stats {
	factory := promauto.With(reg)
	return &Stats{
		startedAt:       time.Now(),
		pagesByType:     make(map[catalog.PageType]int),
		failuresByClass: make(map[catalog.FailureClass]int),
		failuresByPath:  make(map[string]int),
		pagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shopcrawler_pages_total",
			Help: "Pages processed, labeled by page type.",
		}, []string{"page_type"}),
		failuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shopcrawler_failures_total",
			Help: "Failed attempts, labeled by failure class.",
		}, []string{"class"}),
		abandonedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "shopcrawler_abandoned_total",
			Help: "Targets abandoned after exhausting retries.",
		}),
		recordsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "shopcrawler_records_saved_total",
			Help: "Product records accepted and flushed.",
		}),
		desiredWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "shopcrawler_desired_workers",
			Help: "Worker parallelism currently requested by the controller.",
		}),
		fetchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "shopcrawler_fetch_duration_seconds",
			Help:    "Fetch latency distribution.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
	}
}

// PageProcessed counts one successfully handled page.
func (s *Stats) PageProcessed(pt catalog.PageType) {
	s.mu.Lock()
	s.pagesByType[pt]++
	s.mu.Unlock()
	s.pagesTotal.WithLabelValues(string(pt)).Inc()
}

// Failure counts one failed attempt against its class and URL path.
func (s *Stats) Failure(rawURL string, class catalog.FailureClass) {
	path := PathLabel(rawURL)
	s.mu.Lock()
	s.failuresByClass[class]++
	s.failuresByPath[path]++
	s.mu.Unlock()
	s.failuresTotal.WithLabelValues(string(class)).Inc()
}

// Abandoned counts a target given up after its retry ceiling.
func (s *Stats) Abandoned(rawURL string, class catalog.FailureClass) {
	s.mu.Lock()
	s.abandoned++
	s.mu.Unlock()
	s.abandonedTotal.Inc()
}

// RecordsSaved counts accepted records.
func (s *Stats) RecordsSaved(n int) {
	s.mu.Lock()
	s.recordsSaved += int64(n)
	s.mu.Unlock()
	s.recordsTotal.Add(float64(n))
}

// DuplicateSkipped counts a dedup-rejected claim.
func (s *Stats) DuplicateSkipped() {
	s.mu.Lock()
	s.duplicates++
	s.mu.Unlock()
}

// SetDesiredWorkers mirrors the controller's desired parallelism.
func (s *Stats) SetDesiredWorkers(n int) {
	s.desiredWorkers.Set(float64(n))
}

// ObserveFetchLatency feeds the latency histogram.
func (s *Stats) ObserveFetchLatency(d time.Duration) {
	s.fetchLatency.Observe(d.Seconds())
}

// Summary is the final run report, also served by the status API.
type Summary struct {
	Elapsed         time.Duration                `json:"elapsedNanos"`
	PagesByType     map[catalog.PageType]int     `json:"pagesByType"`
	FailuresByClass map[catalog.FailureClass]int `json:"failuresByClass"`
	FailuresByPath  map[string]int               `json:"failuresByPath"`
	Abandoned       int                          `json:"abandoned"`
	RecordsSaved    int64                        `json:"recordsSaved"`
	Duplicates      int64                        `json:"duplicates"`
}

// Summary snapshots the aggregates.
func (s *Stats) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Summary{
		Elapsed:         time.Since(s.startedAt),
		PagesByType:     make(map[catalog.PageType]int, len(s.pagesByType)),
		FailuresByClass: make(map[catalog.FailureClass]int, len(s.failuresByClass)),
		FailuresByPath:  make(map[string]int, len(s.failuresByPath)),
		Abandoned:       s.abandoned,
		RecordsSaved:    s.recordsSaved,
		Duplicates:      s.duplicates,
	}
	for k, v := range s.pagesByType {
		out.PagesByType[k] = v
	}
	for k, v := range s.failuresByClass {
		out.FailuresByClass[k] = v
	}
	for k, v := range s.failuresByPath {
		out.FailuresByPath[k] = v
	}
	return out
}

// LogSummary writes the final report through the structured logger.
func (s *Stats) LogSummary(logger *zap.Logger) {
	sum := s.Summary()
	fields := []zap.Field{
		zap.Duration("elapsed", sum.Elapsed),
		zap.Int64("records_saved", sum.RecordsSaved),
		zap.Int64("duplicates_skipped", sum.Duplicates),
		zap.Int("abandoned", sum.Abandoned),
	}
	for _, pt := range sortedKeys(sum.PagesByType) {
		fields = append(fields, zap.Int("pages_"+strings.ToLower(string(pt)), sum.PagesByType[pt]))
	}
	for _, class := range sortedKeys(sum.FailuresByClass) {
		fields = append(fields, zap.Int("failures_"+string(class), sum.FailuresByClass[class]))
	}
	logger.Info("crawl summary", fields...)
}

// PathLabel reduces a URL to its first two path segments so failure counts
// group by site section instead of exploding per product.
func PathLabel(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return "unknown"
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) > 2 {
		segments = segments[:2]
	}
	return "/" + strings.Join(segments, "/")
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
