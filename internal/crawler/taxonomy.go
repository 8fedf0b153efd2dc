package crawler

import (
	"fmt"
	"regexp"
	"time"
)

// Kind is the closed set of upstream event types the engine understands.
type Kind int

// Known event kinds. Anything else is KindOther and passes through.
const (
	KindOther Kind = iota
	KindPush
	KindCommitComment
	KindIssues
	KindIssueComment
	KindFork
	KindPullRequest
	KindCreate
)

var kindByType = map[string]Kind{
	"PushEvent":          KindPush,
	"CommitCommentEvent": KindCommitComment,
	"IssuesEvent":        KindIssues,
	"IssueCommentEvent":  KindIssueComment,
	"ForkEvent":          KindFork,
	"PullRequestEvent":   KindPullRequest,
	"CreateEvent":        KindCreate,
}

// KindOf resolves an upstream type string.
func KindOf(eventType string) Kind {
	if k, ok := kindByType[eventType]; ok {
		return k
	}
	return KindOther
}

// Emission tags, relative to the configured base tag.
const (
	TagPush          = "push"
	TagCommit        = "commit"
	TagCommitComment = "commit-comment"
	TagIssueOpen     = "issue-open"
	TagIssueClose    = "issue-close"
	TagIssueReopen   = "issue-reopen"
	TagIssueAssign   = "issue-assign"
	TagIssueUnassign = "issue-unassign"
	TagIssueLabel    = "issue-label"
	TagIssueUnlabel  = "issue-unlabel"
	TagIssueComment  = "issue-comment"
	TagPullComment   = "pull-request-comment"
	TagFork          = "fork"
	TagPullOpen      = "pull-request"
	TagPullMerged    = "pull-request-merged"
	TagPullCancel    = "pull-request-cancelled"
	TagPullReopen    = "pull-request-reopen"
	TagBranch        = "branch"
	TagTag           = "tag"
)

var issueActionTags = map[string]string{
	"opened":     TagIssueOpen,
	"closed":     TagIssueClose,
	"reopened":   TagIssueReopen,
	"assigned":   TagIssueAssign,
	"unassigned": TagIssueUnassign,
	"labeled":    TagIssueLabel,
	"unlabeled":  TagIssueUnlabel,
}

var createRefTags = map[string]string{
	"branch": TagBranch,
	"tag":    TagTag,
}

// Event is one decoded entry of an account's public feed.
type Event struct {
	ID        string
	Type      string
	Kind      Kind
	CreatedAt time.Time
	Record    Record
}

// Timestamp returns the creation time in unix seconds.
func (e Event) Timestamp() int64 {
	return e.CreatedAt.Unix()
}

// NewEvent validates an undecoded feed entry.
func NewEvent(raw any) (Event, error) {
	rec, ok := asRecord(raw)
	if !ok {
		return Event{}, fmt.Errorf("%w: entry is not an object", ErrMalformedEvent)
	}
	eventType := rec.String("type")
	if eventType == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	created := rec.String("created_at")
	createdAt, err := time.Parse(time.RFC3339, created)
	if err != nil {
		return Event{}, fmt.Errorf("%w: created_at %q: %v", ErrMalformedEvent, created, err)
	}
	return Event{
		ID:        rec.String("id"),
		Type:      eventType,
		Kind:      KindOf(eventType),
		CreatedAt: createdAt,
		Record:    rec,
	}, nil
}

// Tag classifies every kind except pushes, which need the commit join. The
// second result is false when the event is dropped.
func (e Event) Tag() (string, bool) {
	classify, ok := classifiers[e.Kind]
	if !ok {
		return e.Type, true
	}
	return classify(e.Record)
}

var classifiers = map[Kind]func(Record) (string, bool){
	KindCommitComment: fixed(TagCommitComment),
	KindFork:          fixed(TagFork),
	KindIssues:        classifyIssue,
	KindIssueComment:  classifyIssueComment,
	KindPullRequest:   classifyPullRequest,
	KindCreate:        classifyCreate,
}

func fixed(tag string) func(Record) (string, bool) {
	return func(Record) (string, bool) { return tag, true }
}

func classifyIssue(rec Record) (string, bool) {
	tag, ok := issueActionTags[rec.String("payload", "action")]
	return tag, ok
}

func classifyIssueComment(rec Record) (string, bool) {
	if v, ok := rec.Dig("payload", "issue", "pull_request"); ok && v != nil {
		return TagPullComment, true
	}
	return TagIssueComment, true
}

func classifyPullRequest(rec Record) (string, bool) {
	switch rec.String("payload", "action") {
	case "opened":
		return TagPullOpen, true
	case "reopened":
		return TagPullReopen, true
	case "closed":
		if rec.Bool("payload", "pull_request", "merged") {
			return TagPullMerged, true
		}
		return TagPullCancel, true
	default:
		return "", false
	}
}

func classifyCreate(rec Record) (string, bool) {
	tag, ok := createRefTags[rec.String("payload", "ref_type")]
	return tag, ok
}

var pullRequestMergeMessage = regexp.MustCompile(`^Merge pull request #\d+ from [^/]+/[^\n]+\n\n`)

// IsPullRequestMerge reports whether a commit ref carries the message of a
// pull request merge commit.
func IsPullRequestMerge(ref Record) bool {
	return pullRequestMergeMessage.MatchString(ref.String("message"))
}
