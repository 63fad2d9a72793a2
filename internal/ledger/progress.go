package ledger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/pricepulse/shopcrawler/internal/catalog"
)

// RecordSink receives flushed record batches.
type RecordSink interface {
	Write(ctx context.Context, records []catalog.ProductRecord) error
}

// ProgressStore checkpoints the saved-record count for crash recovery.
type ProgressStore interface {
	SaveProgress(ctx context.Context, market string, savedCount int64) error
}

// LimitState tracks the accepted-record count against the optional cap. Read
// by the router before every unit of work.
type LimitState struct {
	saved atomic.Int64
	cap   int64
}

// NewLimitState builds the state; cap <= 0 means unlimited.
func NewLimitState(cap int, resumedCount int64) *LimitState {
	s := &LimitState{cap: int64(cap)}
	s.saved.Store(resumedCount)
	return s
}

// SavedCount returns the records accepted so far.
func (s *LimitState) SavedCount() int64 { return s.saved.Load() }

// ReachedLimit reports whether the optional cap is set and met.
func (s *LimitState) ReachedLimit() bool {
	return s.cap > 0 && s.saved.Load() >= s.cap
}

func (s *LimitState) add(n int) int64 { return s.saved.Add(int64(n)) }

// ProgressLedger buffers accepted records and flushes them in batches to the
// configured sinks, checkpointing the saved count for resume-after-crash.
type ProgressLedger struct {
	mu        sync.Mutex
	buf       []catalog.ProductRecord
	flushSize int
	market    string
	sinks     []RecordSink
	store     ProgressStore
	limit     *LimitState
	logger    *zap.Logger
}

// NewProgressLedger constructs the ledger.
func NewProgressLedger(
	market string,
	flushSize int,
	sinks []RecordSink,
	store ProgressStore,
	limit *LimitState,
	logger *zap.Logger,
) *ProgressLedger {
	if flushSize <= 0 {
		flushSize = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressLedger{
		flushSize: flushSize,
		market:    market,
		sinks:     sinks,
		store:     store,
		limit:     limit,
		logger:    logger,
	}
}

// Add buffers one accepted record, flushing when the batch is full. The
// record counts against the cap immediately so the router's early-exit check
// sees it before the flush happens.
func (p *ProgressLedger) Add(ctx context.Context, rec catalog.ProductRecord) error {
	p.mu.Lock()
	p.buf = append(p.buf, rec)
	shouldFlush := len(p.buf) >= p.flushSize
	p.mu.Unlock()

	p.limit.add(1)
	if shouldFlush {
		return p.Flush(ctx)
	}
	return nil
}

// Flush writes all buffered records to every sink and checkpoints progress.
// Called on batch boundaries and once more during shutdown so an abort never
// loses buffered records.
func (p *ProgressLedger) Flush(ctx context.Context) error {
	p.mu.Lock()
	if len(p.buf) == 0 {
		p.mu.Unlock()
		return nil
	}
	batch := p.buf
	p.buf = nil
	p.mu.Unlock()

	var firstErr error
	for _, sink := range p.sinks {
		if err := sink.Write(ctx, batch); err != nil {
			p.logger.Error("record flush failed", zap.Int("batch", len(batch)), zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("flush %d records: %w", len(batch), err)
			}
		}
	}
	if p.store != nil {
		if err := p.store.SaveProgress(ctx, p.market, p.limit.SavedCount()); err != nil {
			p.logger.Warn("progress checkpoint failed", zap.Error(err))
		}
	}
	p.logger.Debug("records flushed",
		zap.Int("batch", len(batch)),
		zap.Int64("total_saved", p.limit.SavedCount()),
	)
	return firstErr
}
