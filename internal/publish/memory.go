package publish

import (
	"context"
	"sync"
)

// Message is one captured publish call.
type Message struct {
	Data  []byte
	Attrs map[string]string
}

// MemoryPublisher captures messages in-memory for development and tests.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages []Message
}

// NewMemoryPublisher constructs an empty in-memory publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish implements Publisher.
func (p *MemoryPublisher) Publish(_ context.Context, data []byte, attrs map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, Message{
		Data:  append([]byte(nil), data...),
		Attrs: attrs,
	})
	return nil
}

// Close implements Publisher.
func (p *MemoryPublisher) Close() error { return nil }

// Messages returns the captured messages.
func (p *MemoryPublisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}
