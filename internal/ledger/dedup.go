// Package ledger holds the two pieces of mutable state every worker touches:
// the deduplication ledger gating record emission and the progress ledger
// buffering accepted records. Both serialize access internally.
package ledger

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// KeyStore is the persistence boundary for claimed dedup keys.
type KeyStore interface {
	LoadKeys(ctx context.Context, market string) ([]string, error)
	InsertKey(ctx context.Context, market, key string) error
}

// DedupLedger is the shared set of already-claimed product keys. TryClaim is
// the sole gate before a ProductRecord is emitted or a detail target
// enqueued; once inserted, a key is never removed within a run.
type DedupLedger struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	market string
	store  KeyStore
	logger *zap.Logger
}

// NewDedupLedger builds the ledger, preloading claims from any prior run so a
// resumed crawl does not re-emit.
func NewDedupLedger(ctx context.Context, market string, store KeyStore, logger *zap.Logger) (*DedupLedger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &DedupLedger{
		seen:   make(map[string]struct{}),
		market: market,
		store:  store,
		logger: logger,
	}
	if store != nil {
		keys, err := store.LoadKeys(ctx, market)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			l.seen[key] = struct{}{}
		}
		if len(keys) > 0 {
			logger.Info("dedup ledger resumed", zap.String("market", market), zap.Int("keys", len(keys)))
		}
	}
	return l, nil
}

// TryClaim atomically claims the key: true exactly once per distinct key
// across the run, false on every later attempt. Safe for concurrent use.
func (l *DedupLedger) TryClaim(ctx context.Context, key string) bool {
	if key == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.seen[key]; dup {
		return false
	}
	l.seen[key] = struct{}{}

	// Write-through under the lock keeps the on-disk set a superset-free
	// mirror of memory. A persistence failure keeps the in-memory claim: the
	// run stays correct, only resume coverage degrades.
	if l.store != nil {
		if err := l.store.InsertKey(ctx, l.market, key); err != nil {
			l.logger.Warn("dedup key persist failed", zap.String("key", key), zap.Error(err))
		}
	}
	return true
}

// Size returns the number of claimed keys.
func (l *DedupLedger) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}
