package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/obsidianstack/spikeqc/pkg/types"
)

// Entry is the latest report for one session and when it arrived.
type Entry struct {
	Report     *types.QualityReport
	ReceivedAt time.Time
}

// Store keeps the most recent QualityReport per session_id. Entries older
// than the TTL are hidden from List and removed by Run.
type Store struct {
	mu   sync.RWMutex
	data map[string]*Entry
	ttl  time.Duration
	now  func() time.Time
}

// New creates a Store with the given TTL.
func New(ttl time.Duration) *Store {
	return &Store{
		data: make(map[string]*Entry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// TTL returns the configured retention for live entries.
func (s *Store) TTL() time.Duration { return s.ttl }

// Put stores or replaces the report for r.SessionID.
// Callers must not modify r after calling Put.
func (s *Store) Put(r *types.QualityReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[r.SessionID] = &Entry{Report: r, ReceivedAt: s.now()}
}

// Get returns the entry for sessionID. The entry may be stale.
func (s *Store) Get(sessionID string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[sessionID]
	return e, ok
}

// List returns live entries ordered by session ID.
func (s *Store) List() []*Entry {
	s.mu.RLock()
	cutoff := s.now().Add(-s.ttl)
	out := make([]*Entry, 0, len(s.data))
	for _, e := range s.data {
		if e.ReceivedAt.After(cutoff) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Report.SessionID < out[j].Report.SessionID
	})
	return out
}

// Count returns the number of entries held, stale ones included.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Evict removes entries received at or before now minus TTL and returns how
// many were dropped.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	removed := 0
	for id, e := range s.data {
		if !e.ReceivedAt.After(cutoff) {
			delete(s.data, id)
			removed++
		}
	}
	return removed
}

// Run evicts stale entries every TTL/2 (at least once a second) until ctx is
// cancelled.
func (s *Store) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted stale reports", "count", n)
			}
		}
	}
}
