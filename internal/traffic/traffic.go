package traffic

import (
	"sync"
	"time"
)

// retention bounds how far back outcomes are kept; windows longer than this undercount.
const retention = 15 * time.Minute

// Snapshot is a point-in-time view of recent poll cycle outcomes.
type Snapshot struct {
	Cycles            int       // successes and errors recorded so far, skipped cycles excluded
	LastSuccess       time.Time // zero until the first successful cycle
	LastError         time.Time
	LastErrorCategory string
}

// Tracker keeps sliding windows of poll cycle outcomes for health reporting.
// Safe for concurrent use; the zero value is ready to use.
type Tracker struct {
	mu           sync.Mutex
	successTimes []time.Time
	errorTimes   []time.Time
	skippedTimes []time.Time
	snap         Snapshot
	now          func() time.Time
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// RecordSuccess records a cycle that completed without error.
func (t *Tracker) RecordSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	t.successTimes = append(t.successTimes, now)
	t.snap.Cycles++
	t.snap.LastSuccess = now
	t.pruneLocked(now)
}

// RecordError records a failed cycle with its error category.
func (t *Tracker) RecordError(category string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	t.errorTimes = append(t.errorTimes, now)
	t.snap.Cycles++
	t.snap.LastError = now
	t.snap.LastErrorCategory = category
	t.pruneLocked(now)
}

// RecordSkipped records a cycle the circuit breaker did not let through.
func (t *Tracker) RecordSkipped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	t.skippedTimes = append(t.skippedTimes, now)
	t.pruneLocked(now)
}

// ErrorRate returns (errorCount, totalCount) within the window.
// totalCount includes successes and errors; skipped cycles are excluded.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock().Add(-window)
	errCount := countInWindow(t.errorTimes, cutoff)
	return errCount, errCount + countInWindow(t.successTimes, cutoff)
}

// SkippedCount returns the number of skipped cycles within the window.
func (t *Tracker) SkippedCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countInWindow(t.skippedTimes, t.clock().Add(-window))
}

// Snapshot returns totals and the most recent outcome times.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successTimes = nil
	t.errorTimes = nil
	t.skippedTimes = nil
	t.snap = Snapshot{}
}

func (t *Tracker) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

func countInWindow(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than retention. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&t.successTimes)
	prune(&t.errorTimes)
	prune(&t.skippedTimes)
}
