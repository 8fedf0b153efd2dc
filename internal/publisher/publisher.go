// Package publisher routes tagged records to the configured message sinks.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/github-activity-crawler/internal/crawler"
)

// DefaultBaseTag prefixes every tag when no base tag is configured.
const DefaultBaseTag = "github-activity"

const defaultPublishTimeout = 10 * time.Second

// Publisher delivers one record under its full tag and returns the message id
// assigned by the backend. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, tag string, record crawler.Record) (string, error)
	Close(ctx context.Context) error
}

type namedPublisher struct {
	name string
	pub  Publisher
}

// Router implements crawler.Emitter. It prefixes tags with the base tag and
// fans each record out to every registered publisher.
type Router struct {
	baseTag string
	timeout time.Duration
	logger  *zap.Logger

	mu         sync.RWMutex
	publishers []namedPublisher
}

// NewRouter returns an empty Router.
func NewRouter(baseTag string, logger *zap.Logger) *Router {
	baseTag = strings.TrimSuffix(baseTag, ".")
	if baseTag == "" {
		baseTag = DefaultBaseTag
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{baseTag: baseTag, timeout: defaultPublishTimeout, logger: logger}
}

// Add registers pub under name.
func (r *Router) Add(name string, pub Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishers = append(r.publishers, namedPublisher{name: name, pub: pub})
}

// Len returns the number of registered publishers.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.publishers)
}

// FullTag joins the base tag and tag.
func (r *Router) FullTag(tag string) string {
	return r.baseTag + "." + tag
}

// Emit publishes record to every publisher. A failing publisher does not stop
// the others; all failures are returned joined.
func (r *Router) Emit(ctx context.Context, tag string, record crawler.Record) error {
	full := r.FullTag(tag)
	r.mu.RLock()
	pubs := append([]namedPublisher(nil), r.publishers...)
	r.mu.RUnlock()

	var errs []error
	for _, np := range pubs {
		pubCtx, cancel := context.WithTimeout(ctx, r.timeout)
		id, err := np.pub.Publish(pubCtx, full, record)
		cancel()
		if err != nil {
			r.logger.Warn("publish failed",
				zap.String("publisher", np.name),
				zap.String("tag", full),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", np.name, err))
			continue
		}
		r.logger.Debug("record published",
			zap.String("publisher", np.name),
			zap.String("tag", full),
			zap.String("message_id", id),
		)
	}
	return errors.Join(errs...)
}

// Close closes every publisher.
func (r *Router) Close(ctx context.Context) error {
	r.mu.Lock()
	pubs := r.publishers
	r.publishers = nil
	r.mu.Unlock()

	var errs []error
	for _, np := range pubs {
		if err := np.pub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", np.name, err))
		}
	}
	return errors.Join(errs...)
}

var _ crawler.Emitter = (*Router)(nil)
