// Package redis provides the Redis-backed position store.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/JakeFAU/github-activity-crawler/internal/crawler"
	"github.com/JakeFAU/github-activity-crawler/internal/storage/connect"
)

// DefaultKeyPrefix namespaces position hashes.
const DefaultKeyPrefix = "github-activity:position:"

const (
	fieldEntityTag = "entity_tag"
	fieldTimestamp = "last_event_timestamp"
)

// mergeScript applies Position.Merge atomically: the tag is only overwritten
// by a non-empty value and the timestamp only moves forward.
var mergeScript = redis.NewScript(`
if ARGV[1] ~= '' then
	redis.call('HSET', KEYS[1], 'entity_tag', ARGV[1])
end
local current = redis.call('HGET', KEYS[1], 'last_event_timestamp')
if not current or tonumber(ARGV[2]) > tonumber(current) then
	redis.call('HSET', KEYS[1], 'last_event_timestamp', ARGV[2])
end
return 1
`)

// Config selects the Redis instance and key namespace.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type client interface {
	redis.Scripter
	HGetAll(ctx context.Context, key string) *redis.StringStringMapCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// PositionStore keeps one hash per account.
type PositionStore struct {
	client client
	prefix string
}

// NewPositionStore dials Redis and waits until it answers PING.
func NewPositionStore(ctx context.Context, cfg Config, logger *zap.Logger) (*PositionStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("position.redis.addr is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Network:  "tcp",
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ping := func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	if err := connect.WaitReady(ctx, "redis", ping, nil, logger); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return NewPositionStoreWithClient(rdb, cfg.KeyPrefix)
}

// NewPositionStoreWithClient wraps an existing client (primarily for testing).
func NewPositionStoreWithClient(c client, prefix string) (*PositionStore, error) {
	if c == nil {
		return nil, errors.New("redis client is required")
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &PositionStore{client: c, prefix: prefix}, nil
}

func (s *PositionStore) key(account string) string {
	return s.prefix + account
}

// Get returns the stored position of account.
func (s *PositionStore) Get(ctx context.Context, account string) (crawler.Position, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.key(account)).Result()
	if err != nil {
		return crawler.Position{}, false, fmt.Errorf("hgetall %s: %w", account, err)
	}
	if len(fields) == 0 {
		return crawler.Position{}, false, nil
	}
	pos := crawler.InitialPosition()
	pos.EntityTag = fields[fieldEntityTag]
	if raw, ok := fields[fieldTimestamp]; ok {
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return crawler.Position{}, false, fmt.Errorf("parse %s timestamp %q: %w", account, raw, err)
		}
		pos.LastEventTimestamp = ts
	}
	return pos, true, nil
}

// Set merges position into the stored hash.
func (s *PositionStore) Set(ctx context.Context, account string, position crawler.Position) error {
	err := mergeScript.Run(ctx, s.client, []string{s.key(account)}, position.EntityTag, position.LastEventTimestamp).Err()
	if err != nil {
		return fmt.Errorf("merge position %s: %w", account, err)
	}
	return nil
}

// Delete removes the hash of account.
func (s *PositionStore) Delete(ctx context.Context, account string) error {
	n, err := s.client.Del(ctx, s.key(account)).Result()
	if err != nil {
		return fmt.Errorf("del %s: %w", account, err)
	}
	if n == 0 {
		return crawler.ErrPositionNotFound
	}
	return nil
}

// Close closes the client.
func (s *PositionStore) Close() error {
	return s.client.Close()
}
