package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JakeFAU/github-activity-crawler/internal/crawler"
)

// PositionStore keeps every cursor in a single JSON document on disk. The
// document is rewritten atomically on each change.
type PositionStore struct {
	path string

	mu        sync.Mutex
	positions map[string]crawler.Position
}

// NewPositionStore loads path, starting empty when the file does not exist yet.
func NewPositionStore(path string) (*PositionStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("position file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create position directory: %w", err)
	}

	store := &PositionStore{path: path, positions: make(map[string]crawler.Position)}
	// #nosec G304 -- the path comes from operator configuration.
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return store, nil
	case err != nil:
		return nil, fmt.Errorf("read position file: %w", err)
	}
	if len(data) == 0 {
		return store, nil
	}
	if err := json.Unmarshal(data, &store.positions); err != nil {
		return nil, fmt.Errorf("decode position file %s: %w", path, err)
	}
	return store, nil
}

// Get returns the stored position of account.
func (s *PositionStore) Get(_ context.Context, account string) (crawler.Position, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[account]
	return pos, ok, nil
}

// Set merges position into the stored value and persists the document.
func (s *PositionStore) Set(_ context.Context, account string, position crawler.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.positions[account]
	if !ok {
		current = crawler.InitialPosition()
	}
	next := current.Merge(position)
	if ok && next == current {
		return nil
	}
	s.positions[account] = next
	if err := s.flush(); err != nil {
		if ok {
			s.positions[account] = current
		} else {
			delete(s.positions, account)
		}
		return err
	}
	return nil
}

// Delete forgets account.
func (s *PositionStore) Delete(_ context.Context, account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.positions[account]
	if !ok {
		return crawler.ErrPositionNotFound
	}
	delete(s.positions, account)
	if err := s.flush(); err != nil {
		s.positions[account] = current
		return err
	}
	return nil
}

// Close is a no-op; every change is already on disk.
func (s *PositionStore) Close() error {
	return nil
}

func (s *PositionStore) flush() error {
	data, err := json.MarshalIndent(s.positions, "", "  ")
	if err != nil {
		return fmt.Errorf("encode positions: %w", err)
	}
	return writeFileAtomic(s.path, data)
}
