// Package server provides the application composition root.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/github-activity-crawler/internal/api"
	"github.com/JakeFAU/github-activity-crawler/internal/archive"
	"github.com/JakeFAU/github-activity-crawler/internal/clock/system"
	"github.com/JakeFAU/github-activity-crawler/internal/config"
	"github.com/JakeFAU/github-activity-crawler/internal/crawler"
	"github.com/JakeFAU/github-activity-crawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/github-activity-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/github-activity-crawler/internal/id/uuid"
	"github.com/JakeFAU/github-activity-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/github-activity-crawler/internal/publisher"
	amqppublisher "github.com/JakeFAU/github-activity-crawler/internal/publisher/amqp"
	logpublisher "github.com/JakeFAU/github-activity-crawler/internal/publisher/log"
	gcppublisher "github.com/JakeFAU/github-activity-crawler/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/github-activity-crawler/internal/queue/memory"
	gcsstorage "github.com/JakeFAU/github-activity-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/github-activity-crawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/github-activity-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/github-activity-crawler/internal/storage/postgres"
	redisstore "github.com/JakeFAU/github-activity-crawler/internal/storage/redis"
	"github.com/JakeFAU/github-activity-crawler/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// PositionStore is the full cursor store surface used by the application and
// the administrative commands.
type PositionStore interface {
	crawler.PositionStore
	Delete(ctx context.Context, account string) error
	Close() error
}

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	accounts  []string
	queue     *queueMemory.Queue
	positions PositionStore
	blobStore io.Closer
	router    *publisher.Router
	crawler   *crawler.Crawler
	dispatch  *dispatcher.Dispatcher
	apiServer *api.Server
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (app *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	accounts, err := cfg.Accounts()
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, config.ErrNoAccounts
	}

	app = &App{cfg: cfg, logger: logger, accounts: accounts}
	defer func() {
		if err != nil {
			_ = app.Close(context.Background())
		}
	}()

	logger.Info("building application dependencies",
		zap.Int("accounts", len(accounts)),
		zap.String("position_backend", cfg.Position.Backend),
		zap.String("archive_backend", cfg.Archive.Backend),
	)

	app.positions, err = OpenPositionStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	archiver, err := app.setupArchive(ctx)
	if err != nil {
		return nil, err
	}
	app.router, err = setupPublishers(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	clock := system.New()
	defaultInterval := cfg.DefaultInterval(len(accounts))
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.HTTP.RateLimitRPS,
		DefaultBurst: cfg.HTTP.RateLimitBurst,
	})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.HTTPTimeout(),
		Limiter:   limiter,
	})

	app.queue = queueMemory.NewQueue()
	cursor := crawler.NewCursorManager(app.positions, clock, cfg.Crawler.APIBaseURL, logger.Named("cursor"))
	app.crawler = crawler.New(
		crawler.Config{
			WatchedAccounts:               accounts,
			IncludeCommitsFromPullRequest: cfg.Crawler.IncludeCommitsFromPullRequest,
			IncludeForeignCommits:         cfg.Crawler.IncludeForeignCommits,
			AccessToken:                   cfg.Crawler.AccessToken,
			UserAgent:                     cfg.Crawler.UserAgent,
			DefaultInterval:               defaultInterval,
		},
		app.queue,
		fetcher,
		cursor,
		app.router,
		archiver,
		crawler.NewExponentialRetryPolicy(cfg.Crawler.MaxCommitAttempts),
		clock,
		logger.Named("crawler"),
	)

	workers := make([]dispatcher.Runner, 0, cfg.Workers(len(accounts)))
	for i := 0; i < cfg.Workers(len(accounts)); i++ {
		workers = append(workers, worker.New(app.crawler, clock, worker.Config{
			Index:           i,
			DefaultInterval: defaultInterval,
			IdleInterval:    cfg.IdleInterval(),
		}, logger))
	}
	app.dispatch = dispatcher.New(app.queue, workers)

	app.apiServer = api.NewServer(app.positions, app.dispatch, app.crawler, api.Config{
		APIKey:   cfg.Server.APIKey,
		Accounts: accounts,
	}, logger.Named("api"))

	logger.Info("application built",
		zap.Int("workers", len(workers)),
		zap.Duration("default_interval", defaultInterval),
		zap.Int("publishers", app.router.Len()),
	)
	return app, nil
}

// OpenPositionStore builds the cursor store selected by position.backend.
func OpenPositionStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (PositionStore, error) {
	switch cfg.Position.Backend {
	case config.PositionBackendFile:
		store, err := localstorage.NewPositionStore(cfg.Position.File.Path)
		if err != nil {
			return nil, fmt.Errorf("file position store init failed: %w", err)
		}
		logger.Info("using file position store", zap.String("path", cfg.Position.File.Path))
		return store, nil
	case config.PositionBackendPostgres:
		store, err := pgstore.NewPositionStore(ctx, pgstore.PositionStoreConfig{
			DSN:   cfg.Position.Postgres.DSN,
			Table: cfg.Position.Postgres.Table,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("postgres position store init failed: %w", err)
		}
		logger.Info("using postgres position store", zap.String("table", cfg.Position.Postgres.Table))
		return store, nil
	case config.PositionBackendRedis:
		store, err := redisstore.NewPositionStore(ctx, redisstore.Config{
			Addr:      cfg.Position.Redis.Addr,
			Password:  cfg.Position.Redis.Password,
			DB:        cfg.Position.Redis.DB,
			KeyPrefix: cfg.Position.Redis.KeyPrefix,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("redis position store init failed: %w", err)
		}
		logger.Info("using redis position store", zap.String("addr", cfg.Position.Redis.Addr))
		return store, nil
	default:
		logger.Warn("using in-memory position store, positions are lost on restart")
		return memoryStorage.NewPositionStore(), nil
	}
}

func (a *App) setupArchive(ctx context.Context) (crawler.Archiver, error) {
	var (
		store archive.BlobStore
		err   error
	)
	switch a.cfg.Archive.Backend {
	case config.ArchiveBackendGCS:
		var gcs *gcsstorage.BlobStore
		gcs, err = gcsstorage.Open(ctx, gcsstorage.Config{Bucket: a.cfg.Archive.GCS.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.blobStore = gcs
		store = gcs
		a.logger.Info("archiving feeds to GCS", zap.String("bucket", a.cfg.Archive.GCS.Bucket))
	case config.ArchiveBackendLocal:
		store, err = localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("archiving feeds to disk", zap.String("path", a.cfg.Archive.Local.BaseDir))
	case config.ArchiveBackendMemory:
		store = memoryStorage.NewBlobStore()
		a.logger.Info("archiving feeds in memory")
	default:
		a.logger.Debug("feed archive disabled")
		return nil, nil
	}
	archiver, err := archive.New(store, a.cfg.Archive.Prefix, a.logger.Named("archive"))
	if err != nil {
		return nil, err
	}
	return archiver, nil
}

func setupPublishers(ctx context.Context, cfg config.Config, logger *zap.Logger) (*publisher.Router, error) {
	router := publisher.NewRouter(cfg.BaseTag(), logger.Named("publisher"))
	ids := uuid.New()
	if cfg.Publisher.Log.Enabled {
		router.Add("log", logpublisher.New(logger.Named("emit")))
	}
	if cfg.Publisher.PubSub.Enabled {
		pub, err := gcppublisher.Open(ctx, gcppublisher.Config{
			ProjectID: cfg.Publisher.PubSub.ProjectID,
			TopicName: cfg.Publisher.PubSub.TopicName,
		}, ids)
		if err != nil {
			_ = router.Close(ctx)
			return nil, err
		}
		router.Add("pubsub", pub)
		logger.Info("Pub/Sub publisher initialized",
			zap.String("project", cfg.Publisher.PubSub.ProjectID),
			zap.String("topic", cfg.Publisher.PubSub.TopicName),
		)
	}
	if cfg.Publisher.AMQP.Enabled {
		pub, err := amqppublisher.Open(ctx, amqppublisher.Config{
			URL:      cfg.Publisher.AMQP.URL,
			Exchange: cfg.Publisher.AMQP.Exchange,
		}, ids, logger.Named("amqp"))
		if err != nil {
			_ = router.Close(ctx)
			return nil, err
		}
		router.Add("amqp", pub)
	}
	if router.Len() == 0 {
		logger.Warn("no publishers enabled, records will be dropped")
	}
	return router, nil
}

// Run seeds the queue, starts the workers and the HTTP server, and blocks
// until the context is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.crawler.Seed(ctx); err != nil {
		return fmt.Errorf("seed queue: %w", err)
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.dispatch.Workers()))
		a.dispatch.Run(ctx)
	}()

	var srv *http.Server
	if a.cfg.Server.Enabled {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", zap.Error(err))
				stop()
			}
		}()
	}

	select {
	case <-ctx.Done():
	case <-dispatchDone:
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
	}
	stop()
	a.queue.Close()
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before the shutdown deadline")
	}
	return a.Close(shutdownCtx)
}

// Close releases publishers and stores.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.router != nil {
		if err := a.router.Close(ctx); err != nil {
			a.logger.Warn("publisher close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.blobStore != nil {
		if err := a.blobStore.Close(); err != nil {
			a.logger.Warn("blob store close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.positions != nil {
		if err := a.positions.Close(); err != nil {
			a.logger.Warn("position store close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	_ = a.logger.Sync()
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
