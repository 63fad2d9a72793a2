// Package sink implements the record outputs fed by the progress ledger: an
// append-only JSONL dataset file and a Postgres table.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pricepulse/shopcrawler/internal/catalog"
)

// JSONLSink appends records to a newline-delimited JSON file, one object per
// line. Append-only; a resumed run keeps writing to the same file.
type JSONLSink struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewJSONLSink opens (or creates) the dataset file for appending.
func NewJSONLSink(path string) (*JSONLSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create dataset directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open dataset file: %w", err)
	}
	return &JSONLSink{file: f, path: path}, nil
}

// Write appends one line per record.
func (s *JSONLSink) Write(_ context.Context, records []catalog.ProductRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record %s: %w", rec.ArticleNo, err)
		}
		if _, err := s.file.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("append record %s: %w", rec.ArticleNo, err)
		}
	}
	return nil
}

// Close flushes and closes the dataset file.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync dataset file: %w", err)
	}
	return s.file.Close()
}

// Path returns the dataset file location.
func (s *JSONLSink) Path() string { return s.path }
