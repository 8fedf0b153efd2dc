package crawler

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

type fakeQueue struct {
	mu   sync.Mutex
	jobs []Job
}

func (q *fakeQueue) PushBack(job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) PushFront(job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append([]Job{job}, q.jobs...)
	return nil
}

func (q *fakeQueue) PopFront() (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return Job{}, ErrEmptyQueue
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job, nil
}

func (q *fakeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func (q *fakeQueue) snapshot() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Job(nil), q.jobs...)
}

type fakeStore struct {
	mu        sync.Mutex
	positions map[string]Position
	getErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{positions: make(map[string]Position)}
}

func (s *fakeStore) Get(_ context.Context, account string) (Position, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return Position{}, false, s.getErr
	}
	pos, ok := s.positions[account]
	return pos, ok, nil
}

func (s *fakeStore) Set(_ context.Context, account string, pos Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.positions[account]
	if !ok {
		current = InitialPosition()
	}
	s.positions[account] = current.Merge(pos)
	return nil
}

func (s *fakeStore) get(account string) Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positions[account]
}

type fakeResponse struct {
	status  int
	headers map[string]string
	body    string
	err     error
}

// fakeFetcher serves canned responses per URL and records every request.
type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string][]fakeResponse
	requests  []FetchRequest
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{responses: make(map[string][]fakeResponse)}
}

func (f *fakeFetcher) on(url string, responses ...fakeResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[url] = append(f.responses[url], responses...)
}

func (f *fakeFetcher) Fetch(_ context.Context, req FetchRequest) (FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	queued := f.responses[req.URL]
	if len(queued) == 0 {
		return FetchResponse{}, fmt.Errorf("no canned response for %s", req.URL)
	}
	resp := queued[0]
	if len(queued) > 1 {
		f.responses[req.URL] = queued[1:]
	}
	if resp.err != nil {
		return FetchResponse{}, resp.err
	}
	headers := http.Header{}
	for k, v := range resp.headers {
		headers.Set(k, v)
	}
	return FetchResponse{URL: req.URL, StatusCode: resp.status, Headers: headers, Body: []byte(resp.body)}, nil
}

func (f *fakeFetcher) lastRequest() FetchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type emission struct {
	tag    string
	record Record
}

type recordingEmitter struct {
	mu        sync.Mutex
	emissions []emission
}

func (e *recordingEmitter) Emit(_ context.Context, tag string, record Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emissions = append(e.emissions, emission{tag: tag, record: record})
	return nil
}

func (e *recordingEmitter) tags() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.emissions))
	for _, em := range e.emissions {
		out = append(out, em.tag)
	}
	return out
}

func (e *recordingEmitter) byTag(tag string) []Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Record
	for _, em := range e.emissions {
		if em.tag == tag {
			out = append(out, em.record)
		}
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeArchiver struct {
	mu     sync.Mutex
	bodies map[string][][]byte
	err    error
}

func (a *fakeArchiver) Archive(_ context.Context, account string, body []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	if a.bodies == nil {
		a.bodies = make(map[string][][]byte)
	}
	a.bodies[account] = append(a.bodies[account], body)
	return "feeds/" + account, nil
}

// noRetry gives up immediately so tombstone paths are deterministic.
type noRetry struct{}

func (noRetry) ShouldRetry(error, int) bool { return false }
func (noRetry) Backoff(int) time.Duration   { return 0 }
