package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemStore is an in-memory Store used by tests and as the development
// fallback when PostgreSQL is unreachable at startup.
type MemStore struct {
	mu   sync.RWMutex
	docs map[string]json.RawMessage
	logs map[string][]LogEntry
	seq  int64
}

// LogEntry is one appended entry in a MemStore log.
type LogEntry struct {
	ID    string
	Entry json.RawMessage
}

// NewMemStore constructs an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		docs: make(map[string]json.RawMessage),
		logs: make(map[string][]LogEntry),
	}
}

var _ Store = (*MemStore)(nil)

func (s *MemStore) Get(ctx context.Context, path string, dest any) error {
	s.mu.RLock()
	raw, ok := s.docs[path]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, dest)
}

func (s *MemStore) Set(ctx context.Context, path string, doc any, merge bool) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.docs[path]
	if !merge || !ok {
		s.docs[path] = raw
		return nil
	}
	merged, err := mergeJSON(existing, raw)
	if err != nil {
		return err
	}
	s.docs[path] = merged
	return nil
}

func (s *MemStore) Update(ctx context.Context, path string, fields map[string]any) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.docs[path]
	if !ok {
		return ErrNotFound
	}
	merged, err := mergeJSON(existing, raw)
	if err != nil {
		return err
	}
	s.docs[path] = merged
	return nil
}

func (s *MemStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	delete(s.docs, path)
	s.mu.Unlock()
	return nil
}

func (s *MemStore) Push(ctx context.Context, path string, entry any) (string, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("entry-%06d", s.seq)
	s.logs[path] = append(s.logs[path], LogEntry{ID: id, Entry: raw})
	return id, nil
}

// List returns all documents under prefix.
func (s *MemStore) List(ctx context.Context, prefix string) (map[string]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]json.RawMessage)
	for path, raw := range s.docs {
		if strings.HasPrefix(path, prefix) {
			out[path] = raw
		}
	}
	return out, nil
}

// Log returns a copy of the entries appended at path, in insertion order.
func (s *MemStore) Log(path string) []LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]LogEntry, len(s.logs[path]))
	copy(out, s.logs[path])
	return out
}

// Paths returns all document paths, sorted. Test helper.
func (s *MemStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.docs))
	for p := range s.docs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// mergeJSON overlays the top-level fields of b onto a, matching the jsonb ||
// semantics of the PostgreSQL implementation.
func mergeJSON(a, b json.RawMessage) (json.RawMessage, error) {
	var base, overlay map[string]json.RawMessage
	if err := json.Unmarshal(a, &base); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, &overlay); err != nil {
		return nil, err
	}
	for k, v := range overlay {
		base[k] = v
	}
	return json.Marshal(base)
}
