package crawler

import (
	"net/http"
	"time"
)

// JobKind distinguishes the two fetches the engine knows how to perform.
type JobKind string

// Job kinds carried by queue entries.
const (
	JobKindEvents JobKind = "events"
	JobKindCommit JobKind = "commit"
)

// Job is one pending fetch in the request queue.
//
// Events jobs derive their URI from Account. Commit jobs carry an explicit URI,
// the ref SHA and the identity of the push event they complete.
type Job struct {
	Kind              JobKind
	Account           string
	URI               string
	SHA               string
	PushID            string
	PreviousEntityTag string
	NotBefore         time.Time
	Attempt           int
}

// Deferred reports whether the job is scheduled after now.
func (j Job) Deferred(now time.Time) bool {
	return !j.NotBefore.IsZero() && now.Before(j.NotBefore)
}

// InitialEventTimestamp is lower than any real event timestamp, so every event
// is eligible for an account that has never been polled.
const InitialEventTimestamp int64 = -1

// Position is the durable per-account cursor.
type Position struct {
	EntityTag          string `json:"entity_tag,omitempty"`
	LastEventTimestamp int64  `json:"last_event_timestamp"`
}

// InitialPosition is the cursor of an account with no stored position.
func InitialPosition() Position {
	return Position{LastEventTimestamp: InitialEventTimestamp}
}

// Merge folds next into p. The entity tag is replaced only when next carries
// one and the timestamp never moves backwards.
func (p Position) Merge(next Position) Position {
	out := p
	if next.EntityTag != "" {
		out.EntityTag = next.EntityTag
	}
	if next.LastEventTimestamp > out.LastEventTimestamp {
		out.LastEventTimestamp = next.LastEventTimestamp
	}
	return out
}

// FetchRequest captures everything needed to perform one GET.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Outcome classifies what a single ProcessRequest call did.
type Outcome string

// Outcomes reported by ProcessRequest.
const (
	OutcomeFetched     Outcome = "fetched"
	OutcomeNotModified Outcome = "not_modified"
	OutcomeDeferred    Outcome = "deferred"
	OutcomeRetried     Outcome = "retried"
	OutcomeDropped     Outcome = "dropped"
)

// Result is returned by ProcessRequest. Interval is the recommended sleep
// before the caller processes the next job.
type Result struct {
	Job      Job
	Outcome  Outcome
	Interval time.Duration
}
