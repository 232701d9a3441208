// Package memory provides an in-memory publisher for tests and local runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/scoutline/creator-discovery/internal/creator"
)

// Message is one recorded publish call.
type Message struct {
	Topic   string
	Payload []byte
	Options creator.PublishOptions
}

// Publisher records every published message for later inspection.
type Publisher struct {
	mu       sync.Mutex
	messages []Message
	seq      int
	failWith error
}

// NewPublisher returns an empty recording publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// FailWith makes every subsequent Publish return err.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWith = err
}

// Publish records the message and returns a synthetic message ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any, opts creator.PublishOptions) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return "", p.failWith
	}
	p.seq++
	p.messages = append(p.messages, Message{Topic: topic, Payload: data, Options: opts})
	return fmt.Sprintf("mem-%d", p.seq), nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// MessagesFor returns the published messages for one topic.
func (p *Publisher) MessagesFor(topic string) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Message
	for _, m := range p.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
