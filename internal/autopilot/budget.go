package autopilot

import (
	"sync"
	"time"
)

// kstLocation is loaded once; date-key rollover follows Asia/Seoul
// regardless of host timezone.
var kstLocation = mustLoadKST()

func mustLoadKST() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		// KST has no DST; a fixed offset is equivalent.
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}

// kstDateKey formats a timestamp as the KST calendar date.
func kstDateKey(t time.Time) string {
	return t.In(kstLocation).Format("2006-01-02")
}

// llmBudget counts LLM calls per KST day. The counter is advisory: the
// soft cap warns once per day and never blocks calls.
type llmBudget struct {
	mu            sync.Mutex
	dateKey       string
	usedToday     int
	softCapWarned bool
}

// RollIfNeeded resets the counter when the KST date changed. Returns true
// when a rollover happened.
func (b *llmBudget) RollIfNeeded(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := kstDateKey(now)
	if key == b.dateKey {
		return false
	}
	b.dateKey = key
	b.usedToday = 0
	b.softCapWarned = false
	return true
}

// Count adds n calls and reports whether the soft cap was just crossed
// (at most once per day).
func (b *llmBudget) Count(now time.Time, n, softCap int) (crossed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := kstDateKey(now)
	if key != b.dateKey {
		b.dateKey = key
		b.usedToday = 0
		b.softCapWarned = false
	}
	b.usedToday += n
	if softCap > 0 && !b.softCapWarned && b.usedToday > softCap {
		b.softCapWarned = true
		return true
	}
	return false
}

// Restore seeds the counter from persisted state. Ignored when the
// persisted date key is not today's.
func (b *llmBudget) Restore(now time.Time, dateKey string, used int, warned bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if dateKey != kstDateKey(now) {
		return
	}
	b.dateKey = dateKey
	b.usedToday = used
	b.softCapWarned = warned
}

// Snapshot returns the current usage for the state snapshot.
func (b *llmBudget) Snapshot(softCap int) LLMUsage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return LLMUsage{
		DateKey:       b.dateKey,
		UsedToday:     b.usedToday,
		SoftCap:       softCap,
		SoftCapWarned: b.softCapWarned,
	}
}
