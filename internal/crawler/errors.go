package crawler

import "errors"

var (
	// ErrEmptyQueue is returned when no job is pending. Callers back off and retry.
	ErrEmptyQueue = errors.New("request queue is empty")
	// ErrQueueClosed is returned once the queue has been shut down.
	ErrQueueClosed = errors.New("request queue closed")
	// ErrTransientFetch covers every HTTP outcome other than 2xx, 304 and a commit 404.
	ErrTransientFetch = errors.New("transient fetch failure")
	// ErrMissingCommit marks a commit that no longer exists upstream.
	ErrMissingCommit = errors.New("commit not found")
	// ErrMalformedEvent is reported for a single event that cannot be processed.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrPositionNotFound is returned by administrative lookups and deletes of unknown accounts.
	ErrPositionNotFound = errors.New("position not found")
)
