// Package log implements a publisher that writes records to the structured log.
package log

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/github-activity-crawler/internal/crawler"
)

// Publisher logs each record at info level. Useful during development when no
// broker is available.
type Publisher struct {
	logger *zap.Logger
}

// New wires a Zap logger to the publisher.
func New(logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{logger: logger}
}

// Publish logs the record with its tag.
func (p *Publisher) Publish(_ context.Context, tag string, record crawler.Record) (string, error) {
	fields := []zap.Field{zap.String("tag", tag), zap.Any("record", map[string]any(record))}
	if id := record.String("id"); id != "" {
		fields = append(fields, zap.String("id", id))
	}
	if sha := record.String("sha"); sha != "" {
		fields = append(fields, zap.String("sha", sha))
	}
	p.logger.Info("record emitted", fields...)
	return "", nil
}

// Close performs no action.
func (p *Publisher) Close(context.Context) error {
	return nil
}
