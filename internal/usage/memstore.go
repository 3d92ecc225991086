package usage

import (
	"context"
	"sync"
	"time"

	"recipebox/pkg/types"
)

// MemoryStore keeps usage events in process memory. It backs the one-shot
// CLI and tests; the server uses the Postgres-backed store instead.
type MemoryStore struct {
	mu     sync.Mutex
	events []types.UsageEvent
}

// NewMemoryStore returns an empty in-memory event log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Record(_ context.Context, ev types.UsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *MemoryStore) CountSuccessSince(_ context.Context, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Success && !ev.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) OldestSuccessSince(_ context.Context, since time.Time) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest time.Time
	found := false
	for _, ev := range s.events {
		if !ev.Success || ev.Timestamp.Before(since) {
			continue
		}
		if !found || ev.Timestamp.Before(oldest) {
			oldest = ev.Timestamp
			found = true
		}
	}
	return oldest, found, nil
}

func (s *MemoryStore) SumTokensSince(_ context.Context, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, ev := range s.events {
		if ev.Success && !ev.Timestamp.Before(since) && ev.TokensUsed != nil {
			total += *ev.TokensUsed
		}
	}
	return total, nil
}
