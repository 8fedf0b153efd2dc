package crawler

import "sync"

// pushState tracks one push event while its commits are being fetched.
type pushState struct {
	account string
	event   Record
	refs    []Record
	// related is the push without its payload, attached to each commit.
	related Record
	avatar  string
	orgLogo string
	pending int
}

// commitContext is the read-only view a commit needs from its push.
type commitContext struct {
	account string
	related Record
	avatar  string
	orgLogo string
}

// joinTable indexes in-flight pushes by identity. Attaching a commit and
// checking completeness happen under a single lock.
type joinTable struct {
	mu     sync.Mutex
	pushes map[string]*pushState
}

func newJoinTable() *joinTable {
	return &joinTable{pushes: make(map[string]*pushState)}
}

// register adds a push. It returns false when the identity is already pending.
func (t *joinTable) register(id, account string, event Record, refs []Record) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.pushes[id]; exists {
		return false
	}
	t.pushes[id] = &pushState{
		account: account,
		event:   event,
		refs:    refs,
		related: event.Without("payload"),
		avatar:  event.String(RelatedAvatarKey),
		orgLogo: event.String(RelatedOrganizationLogoKey),
		pending: len(refs),
	}
	return true
}

func (t *joinTable) context(id string) (commitContext, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.pushes[id]
	if !ok {
		return commitContext{}, false
	}
	return commitContext{
		account: state.account,
		related: state.related,
		avatar:  state.avatar,
		orgLogo: state.orgLogo,
	}, true
}

// resolve attaches commit to the first unresolved ref with the given sha. When
// this was the last missing commit the push is removed from the table and
// returned with complete set to true.
func (t *joinTable) resolve(id, sha string, commit Record) (push Record, complete, found bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.pushes[id]
	if !ok {
		return nil, false, false
	}
	for _, ref := range state.refs {
		if _, done := ref["commit"]; done || ref.String("sha") != sha {
			continue
		}
		ref["commit"] = commit
		state.pending--
		found = true
		break
	}
	if state.pending > 0 {
		return nil, false, found
	}
	delete(t.pushes, id)
	return state.event, true, found
}

func (t *joinTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pushes)
}
