// Package queue holds the in-memory frontier of crawl targets. Admission is
// deduplicated by target key so a URL reachable through several category
// paths is only ever scheduled once.
package queue

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/pricepulse/shopcrawler/internal/catalog"
)

// TargetQueue is the shared crawl frontier. It tracks outstanding work:
// every admitted target must be matched by one Done call, and the queue
// closes itself when the last outstanding target completes.
type TargetQueue struct {
	mu          sync.Mutex
	buf         []catalog.CrawlTarget
	admitted    map[string]struct{}
	signal      chan struct{}
	outstanding int
	maxDepth    int
	closed      bool
	dropped     int
	logger      *zap.Logger
}

// NewTargetQueue builds a queue; maxDepth <= 0 means unbounded.
func NewTargetQueue(maxDepth int, logger *zap.Logger) *TargetQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TargetQueue{
		admitted: make(map[string]struct{}),
		signal:   make(chan struct{}),
		maxDepth: maxDepth,
		logger:   logger,
	}
}

// Enqueue admits a target. Returns false when the target was already admitted
// this run, the queue is closed, or the depth cap is hit.
func (q *TargetQueue) Enqueue(t catalog.CrawlTarget) bool {
	key := t.UniqueKey()
	if key == "" {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if _, dup := q.admitted[key]; dup {
		return false
	}
	if q.maxDepth > 0 && len(q.buf) >= q.maxDepth {
		q.dropped++
		q.logger.Warn("frontier full, target dropped", zap.String("key", key), zap.Int("dropped", q.dropped))
		return false
	}
	q.admitted[key] = struct{}{}
	q.buf = append(q.buf, t)
	q.outstanding++
	q.broadcast()
	return true
}

// Dequeue blocks until a target is available, the queue closes, or the
// context ends. The second return is false when no more work will come.
func (q *TargetQueue) Dequeue(ctx context.Context) (catalog.CrawlTarget, bool) {
	for {
		q.mu.Lock()
		if len(q.buf) > 0 {
			t := q.buf[0]
			q.buf = q.buf[1:]
			q.mu.Unlock()
			return t, true
		}
		if q.closed {
			q.mu.Unlock()
			return catalog.CrawlTarget{}, false
		}
		wait := q.signal
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return catalog.CrawlTarget{}, false
		case <-wait:
		}
	}
}

// Done marks one dequeued target as fully processed, children included. When
// the last outstanding target finishes the queue closes and all blocked
// Dequeue calls return.
func (q *TargetQueue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.outstanding--
	if q.outstanding <= 0 && len(q.buf) == 0 {
		q.closeLocked()
	}
}

// Close drains the frontier and releases all blocked consumers. Used for
// early exit; outstanding accounting is intentionally abandoned.
func (q *TargetQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buf = nil
	q.closeLocked()
}

// Closed reports whether the queue will yield no more targets.
func (q *TargetQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Depth returns the number of buffered targets.
func (q *TargetQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Admitted returns the count of distinct targets ever admitted.
func (q *TargetQueue) Admitted() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.admitted)
}

func (q *TargetQueue) closeLocked() {
	if q.closed {
		return
	}
	q.closed = true
	q.broadcast()
}

func (q *TargetQueue) broadcast() {
	close(q.signal)
	q.signal = make(chan struct{})
}
