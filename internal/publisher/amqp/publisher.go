// Package amqp implements a RabbitMQ publisher that routes records by tag.
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/JakeFAU/github-activity-crawler/internal/crawler"
	"github.com/JakeFAU/github-activity-crawler/internal/storage/connect"
)

// DefaultExchange receives every record when none is configured.
const DefaultExchange = "github-activity"

// IDGenerator assigns message ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Config describes the broker and exchange.
type Config struct {
	URL      string
	Exchange string
}

type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher publishes JSON records to a durable topic exchange using the full
// tag as routing key.
type Publisher struct {
	mu       sync.Mutex
	ch       channel
	conn     *amqp.Connection
	exchange string
	ids      IDGenerator
	now      func() time.Time
	logger   *zap.Logger
}

// Open dials the broker, opens a channel and declares the exchange.
func Open(ctx context.Context, cfg Config, ids IDGenerator, logger *zap.Logger) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("publisher.amqp.url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	amqpConfig := amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Properties: amqp.Table{
			"connection_name": "github-activity-crawler",
		},
	}
	var conn *amqp.Connection
	dial := func(context.Context) error {
		var err error
		conn, err = amqp.DialConfig(cfg.URL, amqpConfig)
		return err
	}
	if err := connect.WaitReady(ctx, "amqp", dial, nil, logger); err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	p, err := newWithChannel(ch, cfg.Exchange, ids, logger)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	logger.Info("amqp publisher connected", zap.String("exchange", p.exchange))
	return p, nil
}

func newWithChannel(ch channel, exchange string, ids IDGenerator, logger *zap.Logger) (*Publisher, error) {
	if ch == nil {
		return nil, errors.New("amqp channel is required")
	}
	if ids == nil {
		return nil, errors.New("id generator is required")
	}
	if exchange == "" {
		exchange = DefaultExchange
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &Publisher{
		ch:       ch,
		exchange: exchange,
		ids:      ids,
		now:      time.Now,
		logger:   logger,
	}, nil
}

// Publish sends record as a persistent JSON message routed by tag.
func (p *Publisher) Publish(ctx context.Context, tag string, record crawler.Record) (string, error) {
	body, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	id, err := p.ids.NewID()
	if err != nil {
		return "", err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    p.now().UTC(),
		Type:         tag,
		Body:         body,
	}
	// Channels are not safe for concurrent publishes.
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, p.exchange, tag, false, false, msg); err != nil {
		return "", fmt.Errorf("publish to %s: %w", p.exchange, err)
	}
	return id, nil
}

// Close closes the channel and the connection when owned.
func (p *Publisher) Close(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	if err := p.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		errs = append(errs, err)
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
