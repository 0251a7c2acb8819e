// Package session tracks per-URL download lifecycle and aggregate
// statistics for one orchestrated batch.
package session

import (
	"sync"
	"time"
)

// Outcome is the terminal state recorded in history
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// HistoryRecord is an immutable record of a finished download
type HistoryRecord struct {
	URL         string
	CompletedAt time.Time
	Outcome     Outcome
	Error       string
}

// Stats holds aggregate counters for a batch. All fields are mutated under
// the session lock; Snapshot returns a consistent copy.
type Stats struct {
	Total            int
	Downloaded       int
	Failed           int
	Skipped          int
	Duplicates       int
	TotalBytes       int64
	CurrentSpeedMBps float64
	StartedAt        time.Time
}

// Session owns the queue state for one batch: every URL is in exactly one
// of pending, active, completed or failed (or absent), and no URL re-enters
// pending after reaching a terminal set. A single coarse lock guards the
// sets, the counters and the dedup hash set; it is held only for the
// duration of a mutation, never across I/O.
type Session struct {
	mu        sync.Mutex
	pending   []string
	inPending map[string]struct{}
	active    map[string]struct{}
	completed map[string]struct{}
	failed    map[string]struct{}
	history   []HistoryRecord
	hashes    map[string]struct{}
	stats     Stats
}

// New creates a Session. hashes is the dedup set of content hashes; passing
// a shared map lets the set outlive individual batches (it is process-
// lifetime by design). Pass nil for a fresh set.
func New(hashes map[string]struct{}) *Session {
	if hashes == nil {
		hashes = make(map[string]struct{})
	}
	return &Session{
		inPending: make(map[string]struct{}),
		active:    make(map[string]struct{}),
		completed: make(map[string]struct{}),
		failed:    make(map[string]struct{}),
		hashes:    hashes,
		stats:     Stats{StartedAt: time.Now()},
	}
}

// Enqueue adds a URL to the pending set. It reports whether the URL was
// added; URLs already tracked in any set are ignored.
func (s *Session) Enqueue(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tracked(url) {
		return false
	}
	s.pending = append(s.pending, url)
	s.inPending[url] = struct{}{}
	s.stats.Total++
	return true
}

// Begin promotes a URL from pending to active.
func (s *Session) Begin(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inPending[url]; ok {
		delete(s.inPending, url)
		s.removePending(url)
	}
	if _, done := s.completed[url]; done {
		return
	}
	if _, done := s.failed[url]; done {
		return
	}
	s.active[url] = struct{}{}
}

// Complete marks a URL as completed and appends a history record. A second
// call for the same URL is a no-op.
func (s *Session) Complete(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.active, url)
	if _, ok := s.completed[url]; ok {
		return
	}
	s.completed[url] = struct{}{}
	s.history = append(s.history, HistoryRecord{
		URL:         url,
		CompletedAt: time.Now(),
		Outcome:     OutcomeCompleted,
	})
}

// Fail marks a URL as failed with the given cause. A second call for the
// same URL is a no-op.
func (s *Session) Fail(url string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.active, url)
	if _, ok := s.failed[url]; ok {
		return
	}
	s.failed[url] = struct{}{}
	record := HistoryRecord{
		URL:         url,
		CompletedAt: time.Now(),
		Outcome:     OutcomeFailed,
	}
	if err != nil {
		record.Error = err.Error()
	}
	s.history = append(s.history, record)
}

// IsCompleted reports whether the URL reached the completed set.
func (s *Session) IsCompleted(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.completed[url]
	return ok
}

// IsFailed reports whether the URL reached the failed set.
func (s *Session) IsFailed(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.failed[url]
	return ok
}

// SeenOrAddHash reports whether the content hash was already in the dedup
// set, adding it if not. The check and the add are one critical section so
// two workers cannot both claim a hash as new.
func (s *Session) SeenOrAddHash(hash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.hashes[hash]; ok {
		return true
	}
	s.hashes[hash] = struct{}{}
	return false
}

// AddDownloaded records a successful full transfer of size bytes at the
// given momentary speed.
func (s *Session) AddDownloaded(size int64, speedMBps float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Downloaded++
	s.stats.TotalBytes += size
	s.stats.CurrentSpeedMBps = speedMBps
}

// AddFailed increments the failed counter.
func (s *Session) AddFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Failed++
}

// AddSkipped increments the skipped counter (file already complete on disk).
func (s *Session) AddSkipped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Skipped++
}

// AddDuplicate increments the duplicate counter (content hash already seen).
func (s *Session) AddDuplicate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Duplicates++
}

// Snapshot returns a consistent copy of the aggregate stats.
func (s *Session) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// History returns a copy of the append-only history log.
func (s *Session) History() []HistoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]HistoryRecord, len(s.history))
	copy(out, s.history)
	return out
}

// Pending returns the number of URLs still waiting to start.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Active returns the number of URLs currently transferring.
func (s *Session) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// ClearCompleted empties the completed and failed sets, allowing their URLs
// to be enqueued again in a later batch. History is preserved.
func (s *Session) ClearCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = make(map[string]struct{})
	s.failed = make(map[string]struct{})
}

// Reset clears all queue state and counters. The dedup hash set is kept.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	s.inPending = make(map[string]struct{})
	s.active = make(map[string]struct{})
	s.completed = make(map[string]struct{})
	s.failed = make(map[string]struct{})
	s.history = nil
	s.stats = Stats{StartedAt: time.Now()}
}

// tracked reports membership in any of the four sets. Caller holds the lock.
func (s *Session) tracked(url string) bool {
	if _, ok := s.inPending[url]; ok {
		return true
	}
	if _, ok := s.active[url]; ok {
		return true
	}
	if _, ok := s.completed[url]; ok {
		return true
	}
	_, ok := s.failed[url]
	return ok
}

// removePending drops url from the ordered pending slice. Caller holds the lock.
func (s *Session) removePending(url string) {
	for i, u := range s.pending {
		if u == url {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}
