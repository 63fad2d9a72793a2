package publish

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
)

// PubSubPublisher sends messages to a Google Cloud Pub/Sub topic.
type PubSubPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *zap.Logger
}

// NewPubSubPublisher connects to Pub/Sub using Application Default Credentials
// and verifies the topic exists before the crawl starts.
func NewPubSubPublisher(ctx context.Context, projectID, topicID string, logger *zap.Logger) (*PubSubPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("failed to close pubsub client after topic check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("check pubsub topic %q: %w", topicID, err)
	}
	if !exists {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("failed to close pubsub client after topic check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", topicID, projectID)
	}
	return &PubSubPublisher{client: client, topic: topic, logger: logger}, nil
}

// NewPubSubPublisherWithTopic wraps an existing client and topic handle
// (primarily for testing against an emulator).
func NewPubSubPublisherWithTopic(client *pubsub.Client, topic *pubsub.Topic, logger *zap.Logger) *PubSubPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PubSubPublisher{client: client, topic: topic, logger: logger}
}

// Publish sends one message. Fire-and-forget: the Pub/Sub client batches and
// retries in the background, so the crawl never blocks on downstream acks.
func (p *PubSubPublisher) Publish(ctx context.Context, data []byte, attrs map[string]string) error {
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	_ = result
	return nil
}

// Close flushes pending messages and closes the client connection.
func (p *PubSubPublisher) Close() error {
	p.topic.Stop()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
