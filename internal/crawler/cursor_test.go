package crawler

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseMetaFrom(t *testing.T) {
	t.Parallel()

	headers := http.Header{}
	headers.Set("ETag", `W/"abc"`)
	headers.Set("X-Poll-Interval", "60")
	assert.Equal(t, ResponseMeta{EntityTag: `W/"abc"`, PollInterval: time.Minute}, ResponseMetaFrom(headers))

	headers.Set("X-Poll-Interval", "soon")
	assert.Zero(t, ResponseMetaFrom(headers).PollInterval)
	headers.Set("X-Poll-Interval", "-5")
	assert.Zero(t, ResponseMetaFrom(headers).PollInterval)
	assert.Equal(t, ResponseMeta{}, ResponseMetaFrom(http.Header{}))
}

func TestEventsJob(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	cursor := NewCursorManager(store, &fakeClock{}, "https://api.test/", nil)

	job, err := cursor.EventsJob(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, JobKindEvents, job.Kind)
	assert.Equal(t, "https://api.test/users/alice/events/public", job.URI)
	assert.Empty(t, job.PreviousEntityTag)

	store.positions["alice"] = Position{EntityTag: `W/"abc"`, LastEventTimestamp: 1000}
	job, err = cursor.EventsJob(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, `W/"abc"`, job.PreviousEntityTag)
}

func TestCursorPositionDefaultsToInitial(t *testing.T) {
	t.Parallel()

	cursor := NewCursorManager(newFakeStore(), &fakeClock{}, "", nil)
	pos, err := cursor.Position(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, InitialPosition(), pos)
	assert.Equal(t, DefaultAPIBaseURL+"/users/nobody/events/public", cursor.EventsURL("nobody"))
}

func TestReconcile(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	cursor := NewCursorManager(newFakeStore(), clock, "https://api.test", nil)

	job := cursor.Reconcile("alice", ResponseMeta{EntityTag: "new", PollInterval: time.Minute}, "old")
	assert.Equal(t, "new", job.PreviousEntityTag)
	assert.Equal(t, clock.now.Add(time.Minute), job.NotBefore)

	job = cursor.Reconcile("alice", ResponseMeta{}, "old")
	assert.Equal(t, "old", job.PreviousEntityTag)
	assert.True(t, job.NotBefore.IsZero())
}

func TestAdvanceIsMonotonic(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	cursor := NewCursorManager(store, &fakeClock{}, "", nil)
	ctx := context.Background()

	require.NoError(t, cursor.Advance(ctx, "alice", Position{LastEventTimestamp: 300}))
	require.NoError(t, cursor.Advance(ctx, "alice", Position{LastEventTimestamp: 100}))
	require.NoError(t, cursor.Advance(ctx, "alice", Position{EntityTag: "tag", LastEventTimestamp: InitialEventTimestamp}))
	assert.Equal(t, Position{EntityTag: "tag", LastEventTimestamp: 300}, store.get("alice"))

	var wg sync.WaitGroup
	for ts := int64(1); ts <= 50; ts++ {
		wg.Add(1)
		go func(ts int64) {
			defer wg.Done()
			assert.NoError(t, cursor.Advance(ctx, "bob", Position{LastEventTimestamp: ts}))
		}(ts)
	}
	wg.Wait()
	assert.Equal(t, int64(50), store.get("bob").LastEventTimestamp)
}

func TestPositionMerge(t *testing.T) {
	t.Parallel()

	base := Position{EntityTag: "a", LastEventTimestamp: 10}
	assert.Equal(t, Position{EntityTag: "a", LastEventTimestamp: 10}, base.Merge(Position{LastEventTimestamp: 5}))
	assert.Equal(t, Position{EntityTag: "b", LastEventTimestamp: 20}, base.Merge(Position{EntityTag: "b", LastEventTimestamp: 20}))
	assert.Equal(t, InitialEventTimestamp, InitialPosition().LastEventTimestamp)
}
