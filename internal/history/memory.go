package history

import (
	"context"
	"sync"

	"github.com/rokoss21/IOSM/internal/orchestrator"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps history in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries orchestrator.History
	seen    map[entryKey]struct{}
	closed  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[entryKey]struct{})}
}

// Append implements orchestrator.HistoryLog.
func (s *MemoryStore) Append(_ context.Context, entry orchestrator.HistoryEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, dup := s.seen[keyOf(entry)]; dup {
		return nil
	}
	s.seen[keyOf(entry)] = struct{}{}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryStore) contains(entry orchestrator.HistoryEntry) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[keyOf(entry)]
	return ok
}

// Load returns matching entries.
func (s *MemoryStore) Load(_ context.Context, f Filter) (orchestrator.History, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out orchestrator.History
	for _, e := range s.entries {
		if f.match(e) {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}

// Runs summarizes the runs of a system.
func (s *MemoryStore) Runs(ctx context.Context, systemID string) ([]RunSummary, error) {
	entries, err := s.Load(ctx, Filter{SystemID: systemID})
	if err != nil {
		return nil, err
	}
	return summarize(entries), nil
}

// Close releases the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
