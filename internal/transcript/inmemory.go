package transcript

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxCalls bounds how many calls an in-memory store retains.
const DefaultMaxCalls = 1000

// InMemoryStore keeps transcripts in process for local/dev use. Once more
// than maxCalls calls are held, the call written to least recently is
// evicted.
type InMemoryStore struct {
	mu       sync.RWMutex
	entries  map[string][]Entry
	touched  map[string]uint64
	seq      uint64
	maxCalls int
}

func NewInMemoryStore() *InMemoryStore {
	return NewInMemoryStoreWithLimit(DefaultMaxCalls)
}

// NewInMemoryStoreWithLimit retains at most maxCalls calls; zero or less
// means DefaultMaxCalls.
func NewInMemoryStoreWithLimit(maxCalls int) *InMemoryStore {
	if maxCalls <= 0 {
		maxCalls = DefaultMaxCalls
	}
	return &InMemoryStore{
		entries:  make(map[string][]Entry),
		touched:  make(map[string]uint64),
		maxCalls: maxCalls,
	}
}

func (s *InMemoryStore) Append(_ context.Context, entry Entry) error {
	entry = normalize(entry)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.CallSID] = append(s.entries[entry.CallSID], entry)
	s.seq++
	s.touched[entry.CallSID] = s.seq
	if len(s.entries) > s.maxCalls {
		s.evictOldestLocked()
	}
	return nil
}

func (s *InMemoryStore) evictOldestLocked() {
	oldest := ""
	var oldestSeq uint64
	for callSID, seq := range s.touched {
		if oldest == "" || seq < oldestSeq {
			oldest, oldestSeq = callSID, seq
		}
	}
	delete(s.entries, oldest)
	delete(s.touched, oldest)
}

func (s *InMemoryStore) EntriesByCall(ctx context.Context, callSID string) ([]Entry, error) {
	return s.Recent(ctx, callSID, 0)
}

func (s *InMemoryStore) Recent(_ context.Context, callSID string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.entries[callSID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]Entry, limit)
	copy(out, arr[len(arr)-limit:])
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }

func normalize(entry Entry) Entry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return entry
}
