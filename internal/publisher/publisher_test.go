package publisher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/github-activity-crawler/internal/crawler"
	logpublisher "github.com/JakeFAU/github-activity-crawler/internal/publisher/log"
	"github.com/JakeFAU/github-activity-crawler/internal/publisher/memory"
)

type failingPublisher struct{ closed bool }

func (f *failingPublisher) Publish(context.Context, string, crawler.Record) (string, error) {
	return "", errors.New("broker down")
}

func (f *failingPublisher) Close(context.Context) error {
	f.closed = true
	return nil
}

func TestRouterPrefixesBaseTag(t *testing.T) {
	t.Parallel()

	mem := memory.New()
	r := NewRouter("", nil)
	r.Add("memory", mem)

	require.NoError(t, r.Emit(context.Background(), crawler.TagPush, crawler.Record{"id": "1"}))
	assert.Equal(t, []string{"github-activity.push"}, mem.Tags())
}

func TestRouterStripsTrailingDot(t *testing.T) {
	t.Parallel()

	r := NewRouter("gh.", nil)
	assert.Equal(t, "gh.commit", r.FullTag(crawler.TagCommit))
}

func TestRouterContinuesPastFailures(t *testing.T) {
	t.Parallel()

	failing := &failingPublisher{}
	mem := memory.New()
	r := NewRouter("gh", nil)
	r.Add("broken", failing)
	r.Add("memory", mem)
	r.Add("log", logpublisher.New(nil))
	assert.Equal(t, 3, r.Len())

	err := r.Emit(context.Background(), crawler.TagFork, crawler.Record{"id": "9"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: broker down")
	assert.Equal(t, []string{"gh.fork"}, mem.Tags())

	require.NoError(t, r.Close(context.Background()))
	assert.True(t, failing.closed)
	assert.Equal(t, 0, r.Len())
}
