package sink

import (
	"context"

	"github.com/pricepulse/shopcrawler/internal/catalog"
	"github.com/pricepulse/shopcrawler/internal/stats"
)

// StatsSink counts flushed records into the run statistics. Registered
// alongside the real sinks so every accepted batch is counted exactly once.
type StatsSink struct {
	stats *stats.Stats
}

// NewStatsSink constructs the counting sink.
func NewStatsSink(s *stats.Stats) *StatsSink {
	return &StatsSink{stats: s}
}

// Write implements ledger.RecordSink.
func (s *StatsSink) Write(_ context.Context, records []catalog.ProductRecord) error {
	s.stats.RecordsSaved(len(records))
	return nil
}
