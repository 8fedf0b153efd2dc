package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultAPIBaseURL is the public upstream API root.
const DefaultAPIBaseURL = "https://api.github.com"

// ResponseMeta carries the caching headers of an events response.
type ResponseMeta struct {
	EntityTag    string
	PollInterval time.Duration
}

// ResponseMetaFrom extracts ETag and X-Poll-Interval. A missing or invalid
// hint yields a zero interval.
func ResponseMetaFrom(headers http.Header) ResponseMeta {
	meta := ResponseMeta{EntityTag: headers.Get("ETag")}
	if raw := strings.TrimSpace(headers.Get("X-Poll-Interval")); raw != "" {
		if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
			meta.PollInterval = time.Duration(seconds) * time.Second
		}
	}
	return meta
}

// CursorManager turns stored positions into events jobs and folds response
// metadata back into positions.
type CursorManager struct {
	store   PositionStore
	clock   Clock
	baseURL string
	logger  *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewCursorManager wires a cursor manager around store.
func NewCursorManager(store PositionStore, clock Clock, baseURL string, logger *zap.Logger) *CursorManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}
	return &CursorManager{
		store:   store,
		clock:   clock,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}
}

// EventsURL returns the public events feed of account.
func (m *CursorManager) EventsURL(account string) string {
	return fmt.Sprintf("%s/users/%s/events/public", m.baseURL, url.PathEscape(account))
}

// Position returns the stored position, or the initial one when none exists.
func (m *CursorManager) Position(ctx context.Context, account string) (Position, error) {
	pos, ok, err := m.store.Get(ctx, account)
	if err != nil {
		return Position{}, fmt.Errorf("load position for %s: %w", account, err)
	}
	if !ok {
		return InitialPosition(), nil
	}
	return pos, nil
}

// EventsJob builds the next poll for account from its stored entity tag.
func (m *CursorManager) EventsJob(ctx context.Context, account string) (Job, error) {
	pos, err := m.Position(ctx, account)
	if err != nil {
		return Job{}, err
	}
	return Job{
		Kind:              JobKindEvents,
		Account:           account,
		URI:               m.EventsURL(account),
		PreviousEntityTag: pos.EntityTag,
	}, nil
}

// Reconcile builds the follow-up poll after a success or not-modified
// response. The response tag wins over priorTag when present.
func (m *CursorManager) Reconcile(account string, meta ResponseMeta, priorTag string) Job {
	tag := meta.EntityTag
	if tag == "" {
		tag = priorTag
	}
	job := Job{
		Kind:              JobKindEvents,
		Account:           account,
		URI:               m.EventsURL(account),
		PreviousEntityTag: tag,
	}
	if meta.PollInterval > 0 {
		job.NotBefore = m.clock.Now().Add(meta.PollInterval)
	}
	return job
}

// Advance merges update into the stored position of account. Concurrent
// advances for one account are serialized.
func (m *CursorManager) Advance(ctx context.Context, account string, update Position) error {
	lock := m.accountLock(account)
	lock.Lock()
	defer lock.Unlock()

	current, err := m.Position(ctx, account)
	if err != nil {
		return err
	}
	next := current.Merge(update)
	if next == current {
		return nil
	}
	if err := m.store.Set(ctx, account, next); err != nil {
		return fmt.Errorf("save position for %s: %w", account, err)
	}
	m.logger.Debug("position advanced",
		zap.String("account", account),
		zap.String("tag", next.EntityTag),
		zap.Int64("last_event_timestamp", next.LastEventTimestamp),
	)
	return nil
}

func (m *CursorManager) accountLock(account string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[account]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[account] = lock
	}
	return lock
}
