package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pricepulse/shopcrawler/internal/catalog"
)

// RecordSink adapts a Publisher to the progress ledger's sink interface so
// every flushed record also streams to the topic.
type RecordSink struct {
	pub Publisher
}

// NewRecordSink wraps the publisher.
func NewRecordSink(pub Publisher) *RecordSink {
	return &RecordSink{pub: pub}
}

// Write publishes each record as a JSON message with routing attributes.
func (s *RecordSink) Write(ctx context.Context, records []catalog.ProductRecord) error {
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record %s: %w", rec.ArticleNo, err)
		}
		attrs := map[string]string{
			"market":   rec.Market,
			"division": rec.Division,
		}
		if err := s.pub.Publish(ctx, data, attrs); err != nil {
			return fmt.Errorf("publish record %s: %w", rec.ArticleNo, err)
		}
	}
	return nil
}
