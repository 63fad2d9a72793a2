// Package publish streams accepted product records to downstream consumers.
package publish

import "context"

// Publisher delivers one message payload with attributes. Implementations are
// fire-and-forget; delivery retries are the transport's concern.
type Publisher interface {
	Publish(ctx context.Context, data []byte, attrs map[string]string) error
	Close() error
}

// NoopPublisher drops every message. Used when no topic is configured.
type NoopPublisher struct{}

// Publish implements Publisher.
func (NoopPublisher) Publish(context.Context, []byte, map[string]string) error { return nil }

// Close implements Publisher.
func (NoopPublisher) Close() error { return nil }
