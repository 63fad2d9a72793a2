// Package snapshot archives raw page bodies whose extraction exhausted every
// strategy, so selector drift can be diagnosed offline.
package snapshot

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// BlobStore persists one artifact under a path and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Archiver names and stores exhausted-page snapshots. It satisfies the
// router's snapshot dependency.
type Archiver struct {
	store  BlobStore
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// NewArchiver wires the archiver over a blob store. The prefix becomes the
// leading path segment of every object.
func NewArchiver(store BlobStore, prefix string, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "snapshots"
	}
	return &Archiver{
		store:  store,
		prefix: prefix,
		logger: logger,
		now:    time.Now,
	}
}

// Save archives one page body. Objects are keyed by day, host, and a content
// hash so repeated failures on the same URL do not overwrite each other.
func (a *Archiver) Save(ctx context.Context, pageURL string, body []byte) error {
	path := a.objectPath(pageURL, body)
	uri, err := a.store.PutObject(ctx, path, "text/html; charset=utf-8", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("archive snapshot for %s: %w", pageURL, err)
	}
	a.logger.Info("archived exhausted page",
		zap.String("url", pageURL),
		zap.String("uri", uri),
		zap.Int("bytes", len(body)))
	return nil
}

func (a *Archiver) objectPath(pageURL string, body []byte) string {
	host := "unknown"
	if u, err := url.Parse(pageURL); err == nil && u.Host != "" {
		host = u.Host
	}
	sum := sha256.Sum256(body)
	ts := a.now().UTC()
	return fmt.Sprintf("%s/%s/%s/%s-%s.html",
		a.prefix,
		ts.Format("2006-01-02"),
		host,
		ts.Format("150405"),
		hex.EncodeToString(sum[:8]))
}
