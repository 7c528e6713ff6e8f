package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ernie/herald/internal/domain"
)

// FileStore keeps the whole ledger in one JSON document, rewritten atomically
// on every mutation. It suits the small player counts this runs at; larger
// networks use the sqlite backend.
type FileStore struct {
	path string

	mu      sync.Mutex
	records map[uuid.UUID]domain.PlayerRecord
	// loadErr sticks around after a failed load so history checks fail
	// instead of silently treating everyone as new. Mutations refuse to
	// rewrite the file while it is set; the operator has to fix or remove
	// the corrupt file first.
	loadErr error
}

// OpenFile opens (or creates) a JSON-document ledger at path.
func OpenFile(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	s := &FileStore{
		path:    path,
		records: make(map[uuid.UUID]domain.PlayerRecord),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Fresh ledger, nothing to load.
	case err != nil:
		s.loadErr = fmt.Errorf("reading ledger: %w", err)
	default:
		if err := json.Unmarshal(data, &s.records); err != nil {
			s.loadErr = fmt.Errorf("parsing ledger %s: %w", path, err)
		}
	}
	return s, nil
}

// LoadError returns the sticky error from a failed initial load, if any.
func (s *FileStore) LoadError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadErr
}

func (s *FileStore) HasRecord(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return false, s.loadErr
	}
	_, ok := s.records[id]
	return ok, nil
}

func (s *FileStore) RecordFirstJoin(ctx context.Context, id uuid.UUID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return s.loadErr
	}
	now := time.Now().UTC()
	s.records[id] = domain.PlayerRecord{Name: name, FirstSeen: now, LastSeen: now}
	return s.flushLocked()
}

func (s *FileStore) TouchLastSeen(ctx context.Context, id uuid.UUID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return s.loadErr
	}
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("no ledger record for %s", id)
	}
	rec.Name = name
	rec.LastSeen = time.Now().UTC()
	s.records[id] = rec
	return s.flushLocked()
}

func (s *FileStore) GetLastSeen(ctx context.Context, id uuid.UUID) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return time.Time{}, false, s.loadErr
	}
	rec, ok := s.records[id]
	if !ok {
		return time.Time{}, false, nil
	}
	return rec.LastSeen, true, nil
}

func (s *FileStore) Get(ctx context.Context, id uuid.UUID) (domain.PlayerRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return domain.PlayerRecord{}, false, s.loadErr
	}
	rec, ok := s.records[id]
	return rec, ok, nil
}

func (s *FileStore) List(ctx context.Context) ([]domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	entries := make([]domain.LedgerEntry, 0, len(s.records))
	for id, rec := range s.records {
		entries = append(entries, domain.LedgerEntry{ID: id, Record: rec})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Record.LastSeen.After(entries[j].Record.LastSeen)
	})
	return entries, nil
}

func (s *FileStore) Close() error { return nil }

// flushLocked rewrites the document via a temp file and rename so a crash
// mid-write never leaves a truncated ledger behind.
func (s *FileStore) flushLocked() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding ledger: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing ledger: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing ledger: %w", err)
	}
	return nil
}
