// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/JakeFAU/github-activity-crawler/internal/crawler"
)

// Message attributes set on every publish.
const (
	AttributeTag = "tag"
	AttributeID  = "id"
)

// IDGenerator assigns message ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Config identifies the topic to publish to.
type Config struct {
	ProjectID string
	TopicName string
}

type publishFunc func(ctx context.Context, msg *pubsub.Message) (string, error)

// Publisher wraps a Pub/Sub publisher client.
type Publisher struct {
	publish publishFunc
	ids     IDGenerator
	closeFn func() error
}

// New creates a Publisher for the provided topic publisher.
func New(publisher *pubsub.Publisher, ids IDGenerator) (*Publisher, error) {
	if publisher == nil {
		return nil, errors.New("pubsub publisher is required")
	}
	publish := func(ctx context.Context, msg *pubsub.Message) (string, error) {
		return publisher.Publish(ctx, msg).Get(ctx)
	}
	p, err := newWithFunc(publish, ids)
	if err != nil {
		return nil, err
	}
	p.closeFn = func() error {
		publisher.Stop()
		return nil
	}
	return p, nil
}

// Open creates the client and topic publisher described by cfg. Close releases both.
func Open(ctx context.Context, cfg Config, ids IDGenerator) (*Publisher, error) {
	if cfg.ProjectID == "" || cfg.TopicName == "" {
		return nil, errors.New("pubsub project id and topic name are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	topic := client.Publisher(cfg.TopicName)
	p, err := New(topic, ids)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	p.closeFn = func() error {
		topic.Stop()
		return client.Close()
	}
	return p, nil
}

func newWithFunc(publish publishFunc, ids IDGenerator) (*Publisher, error) {
	if ids == nil {
		return nil, errors.New("id generator is required")
	}
	return &Publisher{publish: publish, ids: ids}, nil
}

// Publish marshals the record to JSON and publishes it with tag and id attributes.
func (p *Publisher) Publish(ctx context.Context, tag string, record crawler.Record) (string, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	id, err := p.ids.NewID()
	if err != nil {
		return "", err
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			AttributeTag: tag,
			AttributeID:  id,
		},
	}
	serverID, err := p.publish(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return serverID, nil
}

// Close flushes pending messages and releases the client when owned.
func (p *Publisher) Close(context.Context) error {
	if p.closeFn == nil {
		return nil
	}
	return p.closeFn()
}
