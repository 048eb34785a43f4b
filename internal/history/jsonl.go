package history

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rokoss21/IOSM/internal/orchestrator"
)

// maxLineSize bounds one JSONL record.
const maxLineSize = 1024 * 1024

var _ Store = (*JSONLStore)(nil)

// JSONLStore appends one JSON object per line to a file. Existing records are
// indexed on open so duplicate appends are skipped.
type JSONLStore struct {
	mu    sync.Mutex
	path  string
	file  *os.File
	cache *MemoryStore
}

// OpenJSONL opens or creates the history file at path.
func OpenJSONL(path string) (*JSONLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("jsonl history requires a path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	s := &JSONLStore{path: path, cache: NewMemoryStore()}
	if err := s.readExisting(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open history file: %w", err)
	}
	s.file = f
	return s, nil
}

func (s *JSONLStore) readExisting() error {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open history file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var entry orchestrator.HistoryEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return fmt.Errorf("%s:%d: malformed history record: %w", s.path, line, err)
		}
		if err := s.cache.Append(context.Background(), entry); err != nil {
			return fmt.Errorf("%s:%d: %w", s.path, line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read history file: %w", err)
	}
	return nil
}

// Path returns the history file path.
func (s *JSONLStore) Path() string { return s.path }

// Append implements orchestrator.HistoryLog.
func (s *JSONLStore) Append(ctx context.Context, entry orchestrator.HistoryEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return ErrClosed
	}

	if s.cache.contains(entry) {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode history entry: %w", err)
	}
	data = append(data, '\n')
	if _, err := s.file.Write(data); err != nil {
		return fmt.Errorf("failed to write history entry: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync history file: %w", err)
	}
	return s.cache.Append(ctx, entry)
}

// Load returns matching entries.
func (s *JSONLStore) Load(ctx context.Context, f Filter) (orchestrator.History, error) {
	s.mu.Lock()
	closed := s.file == nil
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return s.cache.Load(ctx, f)
}

// Runs summarizes the runs of a system.
func (s *JSONLStore) Runs(ctx context.Context, systemID string) ([]RunSummary, error) {
	entries, err := s.Load(ctx, Filter{SystemID: systemID})
	if err != nil {
		return nil, err
	}
	return summarize(entries), nil
}

// Close closes the file.
func (s *JSONLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
