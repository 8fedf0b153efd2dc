// Package config loads and validates crawler configuration via Viper.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Position  PositionConfig  `mapstructure:"position"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// CrawlerConfig governs which accounts are polled and how events are filtered.
type CrawlerConfig struct {
	Users                         []string `mapstructure:"users"`
	UsersList                     string   `mapstructure:"users_list"`
	IncludeCommitsFromPullRequest bool     `mapstructure:"include_commits_from_pull_request"`
	IncludeForeignCommits         bool     `mapstructure:"include_foreign_commits"`
	AccessToken                   string   `mapstructure:"access_token"`
	IntervalSeconds               int      `mapstructure:"interval_seconds"`
	Clients                       int      `mapstructure:"clients"`
	BaseTag                       string   `mapstructure:"base_tag"`
	APIBaseURL                    string   `mapstructure:"api_base_url"`
	UserAgent                     string   `mapstructure:"user_agent"`
	IdleIntervalMs                int      `mapstructure:"idle_interval_ms"`
	MaxCommitAttempts             int      `mapstructure:"max_commit_attempts"`
}

// HTTPConfig configures the upstream HTTP client.
type HTTPConfig struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Position store backends.
const (
	PositionBackendMemory   = "memory"
	PositionBackendFile     = "file"
	PositionBackendPostgres = "postgres"
	PositionBackendRedis    = "redis"
)

// PositionConfig selects and configures the cursor store.
type PositionConfig struct {
	Backend  string         `mapstructure:"backend"`
	File     FileConfig     `mapstructure:"file"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// FileConfig points at the JSON position file.
type FileConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// RedisConfig controls access to Redis.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Archive backends.
const (
	ArchiveBackendNone   = "none"
	ArchiveBackendMemory = "memory"
	ArchiveBackendLocal  = "local"
	ArchiveBackendGCS    = "gcs"
)

// ArchiveConfig sets where raw feed bodies are kept.
type ArchiveConfig struct {
	Backend string             `mapstructure:"backend"`
	Prefix  string             `mapstructure:"prefix"`
	Local   LocalArchiveConfig `mapstructure:"local"`
	GCS     GCSArchiveConfig   `mapstructure:"gcs"`
}

// LocalArchiveConfig is the filesystem archive root.
type LocalArchiveConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// GCSArchiveConfig names the archive bucket.
type GCSArchiveConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// PublisherConfig enables the emission sinks.
type PublisherConfig struct {
	Log    LogPublisherConfig `mapstructure:"log"`
	PubSub PubSubConfig       `mapstructure:"pubsub"`
	AMQP   AMQPConfig         `mapstructure:"amqp"`
}

// LogPublisherConfig toggles logging every emission.
type LogPublisherConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// AMQPConfig points at a RabbitMQ exchange.
type AMQPConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

// ServerConfig controls the operations HTTP server.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ACTIVITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.users", []string{})
	v.SetDefault("crawler.users_list", "")
	v.SetDefault("crawler.include_commits_from_pull_request", false)
	v.SetDefault("crawler.include_foreign_commits", false)
	v.SetDefault("crawler.access_token", "")
	v.SetDefault("crawler.interval_seconds", 1)
	v.SetDefault("crawler.clients", 4)
	v.SetDefault("crawler.base_tag", "github-activity")
	v.SetDefault("crawler.api_base_url", "https://api.github.com")
	v.SetDefault("crawler.user_agent", "github-activity-crawler/0.1")
	v.SetDefault("crawler.idle_interval_ms", 250)
	v.SetDefault("crawler.max_commit_attempts", 3)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.rate_limit_rps", 0)
	v.SetDefault("http.rate_limit_burst", 1)
	v.SetDefault("position.backend", PositionBackendMemory)
	v.SetDefault("position.file.path", "positions.json")
	v.SetDefault("position.postgres.dsn", "")
	v.SetDefault("position.postgres.table", "activity_positions")
	v.SetDefault("position.redis.addr", "")
	v.SetDefault("position.redis.password", "")
	v.SetDefault("position.redis.db", 0)
	v.SetDefault("position.redis.key_prefix", "github-activity:position:")
	v.SetDefault("archive.backend", ArchiveBackendNone)
	v.SetDefault("archive.prefix", "feeds")
	v.SetDefault("archive.local.base_dir", "archive")
	v.SetDefault("archive.gcs.bucket", "")
	v.SetDefault("publisher.log.enabled", true)
	v.SetDefault("publisher.pubsub.enabled", false)
	v.SetDefault("publisher.pubsub.project_id", "")
	v.SetDefault("publisher.pubsub.topic_name", "")
	v.SetDefault("publisher.amqp.enabled", false)
	v.SetDefault("publisher.amqp.url", "")
	v.SetDefault("publisher.amqp.exchange", "github-activity")
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.IntervalSeconds <= 0 {
		return fmt.Errorf("crawler.interval_seconds must be > 0")
	}
	if c.Crawler.Clients <= 0 {
		return fmt.Errorf("crawler.clients must be > 0")
	}
	if c.Crawler.MaxCommitAttempts <= 0 {
		return fmt.Errorf("crawler.max_commit_attempts must be > 0")
	}
	if c.Crawler.IdleIntervalMs < 0 {
		return fmt.Errorf("crawler.idle_interval_ms must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.RateLimitRPS < 0 {
		return fmt.Errorf("http.rate_limit_rps must be >= 0")
	}
	if c.HTTP.RateLimitRPS > 0 && c.HTTP.RateLimitBurst <= 0 {
		return fmt.Errorf("http.rate_limit_burst must be > 0 when rate limiting is enabled")
	}
	if err := c.Position.validate(); err != nil {
		return err
	}
	if err := c.Archive.validate(); err != nil {
		return err
	}
	if c.Publisher.PubSub.Enabled && (c.Publisher.PubSub.ProjectID == "" || c.Publisher.PubSub.TopicName == "") {
		return fmt.Errorf("publisher.pubsub.project_id and topic_name are required when pubsub is enabled")
	}
	if c.Publisher.AMQP.Enabled && (c.Publisher.AMQP.URL == "" || c.Publisher.AMQP.Exchange == "") {
		return fmt.Errorf("publisher.amqp.url and exchange are required when amqp is enabled")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

func (p PositionConfig) validate() error {
	switch p.Backend {
	case PositionBackendMemory:
	case PositionBackendFile:
		if p.File.Path == "" {
			return fmt.Errorf("position.file.path is required for the file backend")
		}
	case PositionBackendPostgres:
		if p.Postgres.DSN == "" {
			return fmt.Errorf("position.postgres.dsn is required for the postgres backend")
		}
	case PositionBackendRedis:
		if p.Redis.Addr == "" {
			return fmt.Errorf("position.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown position.backend %q", p.Backend)
	}
	return nil
}

func (a ArchiveConfig) validate() error {
	switch a.Backend {
	case ArchiveBackendNone, ArchiveBackendMemory:
	case ArchiveBackendLocal:
		if a.Local.BaseDir == "" {
			return fmt.Errorf("archive.local.base_dir is required for the local backend")
		}
	case ArchiveBackendGCS:
		if a.GCS.Bucket == "" {
			return fmt.Errorf("archive.gcs.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown archive.backend %q", a.Backend)
	}
	return nil
}

// Accounts merges crawler.users with the accounts listed in crawler.users_list.
// The list file holds one account per line; blank lines and # comments are
// ignored. Duplicates are dropped, keeping the first occurrence.
func (c Config) Accounts() ([]string, error) {
	seen := make(map[string]struct{})
	var accounts []string
	add := func(raw string) {
		account := strings.TrimSpace(raw)
		if account == "" {
			return
		}
		if _, dup := seen[account]; dup {
			return
		}
		seen[account] = struct{}{}
		accounts = append(accounts, account)
	}

	for _, user := range c.Crawler.Users {
		add(user)
	}
	if c.Crawler.UsersList == "" {
		return accounts, nil
	}

	file, err := os.Open(c.Crawler.UsersList)
	if err != nil {
		return nil, fmt.Errorf("open users list: %w", err)
	}
	defer file.Close() //nolint:errcheck

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		add(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read users list: %w", err)
	}
	return accounts, nil
}

// ErrNoAccounts is returned when neither users nor users_list name an account.
var ErrNoAccounts = errors.New("no accounts configured: set crawler.users or crawler.users_list")

// DefaultInterval spaces each worker's requests so the pool as a whole issues
// about one request per interval_seconds.
func (c Config) DefaultInterval(accounts int) time.Duration {
	n := c.Crawler.Clients
	if accounts < n {
		n = accounts
	}
	if n < 1 {
		n = 1
	}
	return time.Duration(c.Crawler.IntervalSeconds*n) * time.Second
}

// Workers returns the number of worker loops worth running for accounts.
func (c Config) Workers(accounts int) int {
	if accounts > 0 && accounts < c.Crawler.Clients {
		return accounts
	}
	return c.Crawler.Clients
}

// IdleInterval is how long a worker naps after a pass of deferred jobs.
func (c Config) IdleInterval() time.Duration {
	return time.Duration(c.Crawler.IdleIntervalMs) * time.Millisecond
}

// HTTPTimeout converts http.timeout_seconds into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BaseTag returns the emission tag prefix without a trailing dot.
func (c Config) BaseTag() string {
	return strings.TrimSuffix(c.Crawler.BaseTag, ".")
}
