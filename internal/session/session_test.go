package session

import (
	"errors"
	"sync"
	"testing"
)

func TestLifecycleTransitions(t *testing.T) {
	s := New(nil)

	if !s.Enqueue("http://x/a") {
		t.Fatal("Enqueue returned false for new URL")
	}
	if s.Enqueue("http://x/a") {
		t.Error("Enqueue returned true for already-pending URL")
	}
	if s.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", s.Pending())
	}

	s.Begin("http://x/a")
	if s.Pending() != 0 || s.Active() != 1 {
		t.Errorf("after Begin: pending=%d active=%d, want 0/1", s.Pending(), s.Active())
	}

	s.Complete("http://x/a")
	if s.Active() != 0 {
		t.Errorf("Active = %d after Complete, want 0", s.Active())
	}
	if !s.IsCompleted("http://x/a") {
		t.Error("URL not in completed set")
	}

	// Completed URLs do not re-enter pending
	if s.Enqueue("http://x/a") {
		t.Error("Enqueue returned true for completed URL")
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	s := New(nil)
	s.Enqueue("http://x/a")
	s.Begin("http://x/a")
	s.Complete("http://x/a")
	s.Complete("http://x/a")

	if got := len(s.History()); got != 1 {
		t.Errorf("history length = %d, want 1", got)
	}
}

func TestFailRecordsError(t *testing.T) {
	s := New(nil)
	s.Enqueue("http://x/a")
	s.Begin("http://x/a")
	s.Fail("http://x/a", errors.New("connection refused"))
	s.Fail("http://x/a", errors.New("should be ignored"))

	history := s.History()
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	if history[0].Outcome != OutcomeFailed {
		t.Errorf("Outcome = %q, want failed", history[0].Outcome)
	}
	if history[0].Error != "connection refused" {
		t.Errorf("Error = %q, want first failure cause", history[0].Error)
	}
	if s.IsCompleted("http://x/a") {
		t.Error("failed URL present in completed set")
	}
}

func TestSeenOrAddHash(t *testing.T) {
	s := New(nil)

	if s.SeenOrAddHash("abc") {
		t.Error("first SeenOrAddHash returned true")
	}
	if !s.SeenOrAddHash("abc") {
		t.Error("second SeenOrAddHash returned false")
	}
}

func TestSharedHashSetSurvivesBatches(t *testing.T) {
	hashes := make(map[string]struct{})

	first := New(hashes)
	first.SeenOrAddHash("abc")

	second := New(hashes)
	if !second.SeenOrAddHash("abc") {
		t.Error("hash from earlier batch not visible in new session")
	}
}

func TestSnapshotCounters(t *testing.T) {
	s := New(nil)
	s.Enqueue("http://x/a")
	s.Enqueue("http://x/b")
	s.AddDownloaded(1024, 2.5)
	s.AddSkipped()
	s.AddDuplicate()
	s.AddFailed()

	stats := s.Snapshot()
	if stats.Total != 2 {
		t.Errorf("Total = %d, want 2", stats.Total)
	}
	if stats.Downloaded != 1 || stats.Skipped != 1 || stats.Duplicates != 1 || stats.Failed != 1 {
		t.Errorf("counters = %+v", stats)
	}
	if stats.TotalBytes != 1024 {
		t.Errorf("TotalBytes = %d, want 1024", stats.TotalBytes)
	}
	if stats.CurrentSpeedMBps != 2.5 {
		t.Errorf("CurrentSpeedMBps = %f, want 2.5", stats.CurrentSpeedMBps)
	}
}

func TestConcurrentMutations(t *testing.T) {
	s := New(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.AddDownloaded(10, 1.0)
			s.SeenOrAddHash("same")
		}()
	}
	wg.Wait()

	stats := s.Snapshot()
	if stats.Downloaded != 50 {
		t.Errorf("Downloaded = %d, want 50", stats.Downloaded)
	}
	if stats.TotalBytes != 500 {
		t.Errorf("TotalBytes = %d, want 500", stats.TotalBytes)
	}
}

func TestResetKeepsDedupSet(t *testing.T) {
	s := New(nil)
	s.Enqueue("http://x/a")
	s.SeenOrAddHash("abc")
	s.Reset()

	if s.Pending() != 0 {
		t.Error("pending not cleared by Reset")
	}
	if !s.SeenOrAddHash("abc") {
		t.Error("dedup set cleared by Reset")
	}
	if s.Snapshot().Total != 0 {
		t.Error("stats not cleared by Reset")
	}
}
