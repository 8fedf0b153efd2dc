package crawler

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/github-activity-crawler/internal/metrics"
)

// Config holds the policy knobs of the engine.
// This struct is decoupled from Viper, making the crawler and its configuration
// more modular and easier to test independently.
type Config struct {
	WatchedAccounts               []string
	IncludeCommitsFromPullRequest bool
	IncludeForeignCommits         bool
	AccessToken                   string
	UserAgent                     string
	DefaultInterval               time.Duration
}

// Crawler executes one queued job at a time on behalf of a worker.
type Crawler struct {
	cfg      Config
	queue    Queue
	fetcher  Fetcher
	cursor   *CursorManager
	emitter  Emitter
	archiver Archiver
	retry    RetryPolicy
	clock    Clock
	logger   *zap.Logger
	joins    *joinTable
	watched  map[string]struct{}
}

// New wires a Crawler. archiver may be nil.
func New(
	cfg Config,
	queue Queue,
	fetcher Fetcher,
	cursor *CursorManager,
	emitter Emitter,
	archiver Archiver,
	retry RetryPolicy,
	clock Clock,
	logger *zap.Logger,
) *Crawler {
	metrics.Init()
	if logger == nil {
		logger = zap.NewNop()
	}
	if retry == nil {
		retry = NewExponentialRetryPolicy(DefaultMaxCommitAttempts)
	}
	watched := make(map[string]struct{}, len(cfg.WatchedAccounts))
	for _, account := range cfg.WatchedAccounts {
		watched[strings.ToLower(account)] = struct{}{}
	}
	return &Crawler{
		cfg:      cfg,
		queue:    queue,
		fetcher:  fetcher,
		cursor:   cursor,
		emitter:  emitter,
		archiver: archiver,
		retry:    retry,
		clock:    clock,
		logger:   logger,
		joins:    newJoinTable(),
		watched:  watched,
	}
}

// Seed enqueues the first events poll of every watched account.
func (c *Crawler) Seed(ctx context.Context) error {
	for _, account := range c.cfg.WatchedAccounts {
		job, err := c.cursor.EventsJob(ctx, account)
		if err != nil {
			return err
		}
		if err := c.queue.PushBack(job); err != nil {
			return fmt.Errorf("seed %s: %w", account, err)
		}
	}
	metrics.SetQueueDepth(c.queue.Len())
	return nil
}

// Pending reports the number of queued jobs.
func (c *Crawler) Pending() int {
	return c.queue.Len()
}

// PendingPushes reports how many pushes wait for commits.
func (c *Crawler) PendingPushes() int {
	return c.joins.Len()
}

// ProcessRequest pops and executes one job. It returns ErrEmptyQueue or
// ErrQueueClosed from the queue unchanged; every other failure is absorbed
// into the schedule and reported through the Result.
func (c *Crawler) ProcessRequest(ctx context.Context) (Result, error) {
	job, err := c.queue.PopFront()
	if err != nil {
		return Result{}, err
	}
	defer func() { metrics.SetQueueDepth(c.queue.Len()) }()

	if job.Deferred(c.clock.Now()) {
		if err := c.queue.PushBack(job); err != nil {
			return Result{}, fmt.Errorf("requeue deferred job: %w", err)
		}
		return c.result(job, OutcomeDeferred, 0), nil
	}

	resp, err := c.fetcher.Fetch(ctx, c.buildRequest(job))
	if err != nil {
		metrics.ObserveFetch(string(job.Kind), 0, resp.Duration)
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("fetch %s: %w", job.URI, ctx.Err())
		}
		return c.handleTransient(ctx, job, fmt.Errorf("%w: %v", ErrTransientFetch, err))
	}
	metrics.ObserveFetch(string(job.Kind), resp.StatusCode, resp.Duration)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if job.Kind == JobKindCommit {
			return c.handleCommit(ctx, job, resp)
		}
		return c.handleEvents(ctx, job, resp)
	case resp.StatusCode == http.StatusNotModified && job.Kind == JobKindEvents:
		return c.handleNotModified(job, resp)
	case resp.StatusCode == http.StatusNotFound && job.Kind == JobKindCommit:
		c.logger.Info("commit missing upstream, substituting tombstone",
			zap.String("account", job.Account),
			zap.String("sha", job.SHA),
			zap.String("push_id", job.PushID),
		)
		c.completeCommit(ctx, job, tombstone(job.SHA))
		return c.result(job, OutcomeFetched, c.cfg.DefaultInterval), nil
	default:
		return c.handleTransient(ctx, job,
			fmt.Errorf("%w: %s returned %d", ErrTransientFetch, job.URI, resp.StatusCode))
	}
}

func (c *Crawler) result(job Job, outcome Outcome, interval time.Duration) Result {
	metrics.ObserveOutcome(string(outcome))
	return Result{Job: job, Outcome: outcome, Interval: interval}
}

func (c *Crawler) buildRequest(job Job) FetchRequest {
	uri := job.URI
	if uri == "" && job.Kind == JobKindEvents {
		uri = c.cursor.EventsURL(job.Account)
	}
	headers := http.Header{}
	headers.Set("Accept", "application/vnd.github+json")
	if c.cfg.UserAgent != "" {
		headers.Set("User-Agent", c.cfg.UserAgent)
	}
	if c.cfg.AccessToken != "" {
		headers.Set("Authorization", "token "+c.cfg.AccessToken)
	}
	if job.Kind == JobKindEvents && job.PreviousEntityTag != "" {
		headers.Set("If-None-Match", job.PreviousEntityTag)
	}
	return FetchRequest{URL: uri, Headers: headers}
}

func (c *Crawler) handleEvents(ctx context.Context, job Job, resp FetchResponse) (Result, error) {
	if c.archiver != nil {
		if _, err := c.archiver.Archive(ctx, job.Account, resp.Body); err != nil {
			c.logger.Warn("archive feed failed", zap.String("account", job.Account), zap.Error(err))
		}
	}

	if err := c.processEvents(ctx, job.Account, resp.Body); err != nil {
		return c.handleTransient(ctx, job, err)
	}

	meta := ResponseMetaFrom(resp.Headers)
	next := c.schedule(c.cursor.Reconcile(job.Account, meta, job.PreviousEntityTag))
	if err := c.queue.PushBack(next); err != nil {
		return Result{}, fmt.Errorf("schedule next poll for %s: %w", job.Account, err)
	}
	if meta.EntityTag != "" {
		update := Position{EntityTag: meta.EntityTag, LastEventTimestamp: InitialEventTimestamp}
		if err := c.cursor.Advance(ctx, job.Account, update); err != nil {
			c.logger.Warn("persist entity tag failed", zap.String("account", job.Account), zap.Error(err))
		}
	}
	return c.result(job, OutcomeFetched, c.cfg.DefaultInterval), nil
}

func (c *Crawler) handleNotModified(job Job, resp FetchResponse) (Result, error) {
	meta := ResponseMetaFrom(resp.Headers)
	meta.EntityTag = ""
	next := c.schedule(c.cursor.Reconcile(job.Account, meta, job.PreviousEntityTag))
	if err := c.queue.PushBack(next); err != nil {
		return Result{}, fmt.Errorf("schedule next poll for %s: %w", job.Account, err)
	}
	c.logger.Debug("feed not modified",
		zap.String("account", job.Account),
		zap.String("tag", job.PreviousEntityTag),
		zap.Time("not_before", next.NotBefore),
	)
	return c.result(job, OutcomeNotModified, 0), nil
}

// schedule defers a follow-up poll by the default interval when the upstream
// sent no poll hint.
func (c *Crawler) schedule(next Job) Job {
	if next.NotBefore.IsZero() && c.cfg.DefaultInterval > 0 {
		next.NotBefore = c.clock.Now().Add(c.cfg.DefaultInterval)
	}
	return next
}

// handleTransient reschedules a failed job. Events polls come back after the
// default interval with their schedule state intact. Commit fetches retry with
// backoff until the policy gives up, then complete with a tombstone so the push
// is never stuck.
func (c *Crawler) handleTransient(ctx context.Context, job Job, cause error) (Result, error) {
	if job.Kind == JobKindEvents {
		next := job
		next.NotBefore = c.clock.Now().Add(c.cfg.DefaultInterval)
		if err := c.queue.PushBack(next); err != nil {
			return Result{}, fmt.Errorf("reschedule %s: %w", job.Account, err)
		}
		c.logger.Warn("events fetch failed, rescheduled",
			zap.String("account", job.Account),
			zap.Time("not_before", next.NotBefore),
			zap.Error(cause),
		)
		return c.result(job, OutcomeRetried, c.cfg.DefaultInterval), nil
	}

	failures := job.Attempt + 1
	if c.retry.ShouldRetry(cause, failures) {
		next := job
		next.Attempt = failures
		next.NotBefore = c.clock.Now().Add(c.retry.Backoff(failures))
		if err := c.queue.PushFront(next); err != nil {
			return Result{}, fmt.Errorf("reschedule commit %s: %w", job.SHA, err)
		}
		c.logger.Warn("commit fetch failed, retrying",
			zap.String("sha", job.SHA),
			zap.String("push_id", job.PushID),
			zap.Int("attempt", failures),
			zap.Error(cause),
		)
		return c.result(job, OutcomeRetried, c.cfg.DefaultInterval), nil
	}

	c.logger.Error("commit fetch abandoned, substituting tombstone",
		zap.String("sha", job.SHA),
		zap.String("push_id", job.PushID),
		zap.Int("attempt", failures),
		zap.Error(cause),
	)
	c.completeCommit(ctx, job, tombstone(job.SHA))
	return c.result(job, OutcomeDropped, c.cfg.DefaultInterval), nil
}

// processEvents dedups, classifies and dispatches one feed page. Only a
// failure to read the account position aborts the batch.
func (c *Crawler) processEvents(ctx context.Context, account string, body []byte) error {
	raw, err := decodeRecords(body)
	if err != nil {
		metrics.ObserveSkipped("malformed")
		c.logger.Warn("discarding undecodable feed", zap.String("account", account), zap.Error(err))
		return nil
	}

	events := make([]Event, 0, len(raw))
	for _, item := range raw {
		ev, err := NewEvent(item)
		if err != nil {
			metrics.ObserveSkipped("malformed")
			c.logger.Warn("skipping event", zap.String("account", account), zap.Error(err))
			continue
		}
		events = append(events, ev)
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt.After(events[j].CreatedAt)
	})

	pos, err := c.cursor.Position(ctx, account)
	if err != nil {
		return err
	}
	mark := pos.LastEventTimestamp

	for _, ev := range events {
		ts := ev.Timestamp()
		if ts <= mark {
			metrics.ObserveSkipped("seen")
			continue
		}
		if err := c.dispatch(ctx, account, ev); err != nil {
			c.logger.Warn("event processing failed",
				zap.String("account", account),
				zap.String("kind", ev.Type),
				zap.String("id", ev.ID),
				zap.Error(err),
			)
			continue
		}
		if err := c.cursor.Advance(ctx, account, Position{LastEventTimestamp: ts}); err != nil {
			c.logger.Warn("persist position failed", zap.String("account", account), zap.Error(err))
		}
	}
	return nil
}

func (c *Crawler) dispatch(ctx context.Context, account string, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrMalformedEvent, r)
		}
	}()

	enrich(ev.Record, ev.Record.String("actor", "avatar_url"), ev.Record.String("org", "avatar_url"))

	if ev.Kind == KindPush {
		return c.handlePush(ctx, account, ev)
	}
	tag, ok := ev.Tag()
	if !ok {
		metrics.ObserveSkipped("unclassified")
		c.logger.Debug("event dropped", zap.String("account", account), zap.String("kind", ev.Type))
		return nil
	}
	return c.emit(ctx, tag, ev.Record)
}

func (c *Crawler) handlePush(ctx context.Context, account string, ev Event) error {
	refs, err := commitRefs(ev.Record)
	if err != nil {
		return err
	}
	if !c.cfg.IncludeCommitsFromPullRequest && len(refs) > 0 && IsPullRequestMerge(refs[len(refs)-1]) {
		metrics.ObserveSkipped("pull_request_merge")
		c.logger.Debug("push from pull request merge suppressed",
			zap.String("account", account),
			zap.String("id", ev.ID),
		)
		return nil
	}
	if len(refs) == 0 {
		return c.emit(ctx, TagPush, ev.Record)
	}
	if ev.ID == "" {
		return fmt.Errorf("%w: push event without id", ErrMalformedEvent)
	}

	pushID := account + "/" + ev.ID
	if !c.joins.register(pushID, account, ev.Record, refs) {
		c.logger.Debug("push already pending", zap.String("push_id", pushID))
		return nil
	}
	metrics.SetPendingPushes(c.joins.Len())

	// Pushing to the front in reverse leaves the oldest commit at the head.
	for i := len(refs) - 1; i >= 0; i-- {
		job := Job{
			Kind:    JobKindCommit,
			Account: account,
			URI:     refs[i].String("url"),
			SHA:     refs[i].String("sha"),
			PushID:  pushID,
		}
		if job.URI == "" {
			c.logger.Warn("commit ref without url", zap.String("push_id", pushID), zap.String("sha", job.SHA))
			c.completeCommit(ctx, job, tombstone(job.SHA))
			continue
		}
		if err := c.queue.PushFront(job); err != nil {
			return fmt.Errorf("enqueue commit %s: %w", job.SHA, err)
		}
	}
	return nil
}

func (c *Crawler) handleCommit(ctx context.Context, job Job, resp FetchResponse) (Result, error) {
	commit, err := decodeRecord(resp.Body)
	if err != nil {
		return c.handleTransient(ctx, job, fmt.Errorf("%w: %v", ErrTransientFetch, err))
	}
	c.completeCommit(ctx, job, commit)
	return c.result(job, OutcomeFetched, c.cfg.DefaultInterval), nil
}

// completeCommit emits an eligible commit and folds it into its push. The
// push is emitted once, by whichever commit completes it.
func (c *Crawler) completeCommit(ctx context.Context, job Job, commit Record) {
	push, ok := c.joins.context(job.PushID)
	if !ok {
		c.logger.Warn("commit for unknown push", zap.String("push_id", job.PushID), zap.String("sha", job.SHA))
		return
	}

	if c.eligible(commit.String("author", "login")) {
		enrich(commit, push.avatar, push.orgLogo)
		commit[RelatedEventKey] = push.related
		if err := c.emit(ctx, TagCommit, commit); err != nil {
			c.logger.Warn("emit commit failed", zap.String("sha", job.SHA), zap.Error(err))
		}
	} else {
		metrics.ObserveSkipped("foreign_commit")
	}

	sha := job.SHA
	if sha == "" {
		sha = commit.String("sha")
	}
	record, complete, found := c.joins.resolve(job.PushID, sha, commit)
	if !found {
		c.logger.Warn("commit matched no ref", zap.String("push_id", job.PushID), zap.String("sha", sha))
	}
	if !complete {
		return
	}
	metrics.SetPendingPushes(c.joins.Len())
	enrich(record, push.avatar, push.orgLogo)
	if err := c.emit(ctx, TagPush, record); err != nil {
		c.logger.Warn("emit push failed", zap.String("push_id", job.PushID), zap.Error(err))
	}
}

// eligible applies the foreign commit filter. Commits without an author login,
// tombstones included, are never emitted on their own.
func (c *Crawler) eligible(login string) bool {
	if login == "" {
		return false
	}
	if c.cfg.IncludeForeignCommits {
		return true
	}
	_, ok := c.watched[strings.ToLower(login)]
	return ok
}

func (c *Crawler) emit(ctx context.Context, tag string, record Record) error {
	if err := c.emitter.Emit(ctx, tag, record); err != nil {
		return fmt.Errorf("emit %s: %w", tag, err)
	}
	metrics.ObserveEmit(tag)
	return nil
}

func commitRefs(event Record) ([]Record, error) {
	items, ok := event.Slice("payload", "commits")
	if !ok {
		return nil, nil
	}
	refs := make([]Record, 0, len(items))
	for _, item := range items {
		ref, ok := asRecord(item)
		if !ok {
			return nil, fmt.Errorf("%w: commit ref is not an object", ErrMalformedEvent)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func tombstone(sha string) Record {
	return Record{"sha": sha, "author": Record{}}
}
