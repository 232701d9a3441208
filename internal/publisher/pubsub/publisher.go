// Package pubsub implements a Google Cloud Pub/Sub publisher for worker
// messages.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/scoutline/creator-discovery/internal/creator"
)

// Publisher routes payloads to Pub/Sub topics by name. Topic publishers are
// created lazily and cached for reuse across worker invocations.
type Publisher struct {
	client    *pubsub.Client
	projectID string

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// New creates a Publisher backed by a Pub/Sub client. It authenticates using
// Application Default Credentials.
func New(ctx context.Context, projectID string) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Publisher{
		client:     client,
		projectID:  projectID,
		publishers: make(map[string]*pubsub.Publisher),
	}, nil
}

// Publish marshals the payload to JSON and publishes it to the named topic,
// blocking until the server acknowledges the message. Delivery hints travel
// as message attributes so the push subscription can honor them.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any, opts creator.PublishOptions) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{
		Data:       data,
		Attributes: attributes(opts),
	}

	if opts.Delay > 0 {
		timer := time.NewTimer(opts.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	result := p.publisher(topic).Publish(ctx, msg)
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	return id, nil
}

// Close flushes pending messages and releases the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for _, pub := range p.publishers {
		pub.Stop()
	}
	p.mu.Unlock()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

func (p *Publisher) publisher(topic string) *pubsub.Publisher {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pub, ok := p.publishers[topic]; ok {
		return pub
	}
	name := fmt.Sprintf("projects/%s/topics/%s", p.projectID, topic)
	pub := p.client.Publisher(name)
	p.publishers[topic] = pub
	return pub
}

func attributes(opts creator.PublishOptions) map[string]string {
	attrs := make(map[string]string)
	if opts.Timeout > 0 {
		attrs["handler-timeout"] = opts.Timeout.String()
	}
	if opts.MaxRetries > 0 {
		attrs["max-retries"] = strconv.Itoa(opts.MaxRetries)
	}
	if opts.DeadLetterURL != "" {
		attrs["dead-letter-url"] = opts.DeadLetterURL
	}
	return attrs
}
