package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/github-activity-crawler/internal/crawler"
)

// PositionStore keeps cursors in a map. Positions are lost on restart.
type PositionStore struct {
	mu        sync.RWMutex
	positions map[string]crawler.Position
}

// NewPositionStore constructs an empty PositionStore.
func NewPositionStore() *PositionStore {
	return &PositionStore{positions: make(map[string]crawler.Position)}
}

// Get returns the stored position of account.
func (s *PositionStore) Get(_ context.Context, account string) (crawler.Position, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.positions[account]
	return pos, ok, nil
}

// Set merges position into the stored value.
func (s *PositionStore) Set(_ context.Context, account string, position crawler.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.positions[account]
	if !ok {
		current = crawler.InitialPosition()
	}
	s.positions[account] = current.Merge(position)
	return nil
}

// Delete forgets account.
func (s *PositionStore) Delete(_ context.Context, account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[account]; !ok {
		return crawler.ErrPositionNotFound
	}
	delete(s.positions, account)
	return nil
}

// Close is a no-op.
func (s *PositionStore) Close() error {
	return nil
}
