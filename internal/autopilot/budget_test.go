package autopilot

import (
	"testing"
	"time"
)

func kstTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.ParseInLocation("2006-01-02 15:04:05", value, kstLocation)
	if err != nil {
		t.Fatalf("parse %q: %v", value, err)
	}
	return parsed
}

func TestBudgetRollsOnKSTMidnight(t *testing.T) {
	var b llmBudget
	before := kstTime(t, "2026-08-24 23:59:00")
	after := kstTime(t, "2026-08-25 00:01:00")

	b.RollIfNeeded(before)
	b.Count(before, 5, 100)

	if !b.RollIfNeeded(after) {
		t.Fatal("expected rollover at KST midnight")
	}
	snap := b.Snapshot(100)
	if snap.UsedToday != 0 {
		t.Errorf("expected counter reset, got %d", snap.UsedToday)
	}
	if snap.DateKey != "2026-08-25" {
		t.Errorf("expected new date key, got %s", snap.DateKey)
	}
}

func TestBudgetNoRollSameDay(t *testing.T) {
	var b llmBudget
	now := kstTime(t, "2026-08-24 10:00:00")
	b.RollIfNeeded(now)
	b.Count(now, 3, 100)

	if b.RollIfNeeded(now.Add(5 * time.Hour)) {
		t.Error("unexpected rollover within the same KST day")
	}
	if got := b.Snapshot(100).UsedToday; got != 3 {
		t.Errorf("expected counter kept at 3, got %d", got)
	}
}

func TestBudgetSoftCapWarnsOnce(t *testing.T) {
	var b llmBudget
	now := kstTime(t, "2026-08-24 10:00:00")
	b.RollIfNeeded(now)

	if b.Count(now, 10, 10) {
		t.Error("cap not yet crossed, no warning expected")
	}
	if !b.Count(now, 1, 10) {
		t.Error("expected warning when crossing the cap")
	}
	if b.Count(now, 1, 10) {
		t.Error("expected at most one warning per day")
	}

	// Next day warns again.
	next := kstTime(t, "2026-08-25 10:00:00")
	if b.Count(next, 11, 10) != true {
		t.Error("expected warning on the next day after rollover")
	}
}

func TestBudgetRestore(t *testing.T) {
	var b llmBudget
	now := kstTime(t, "2026-08-24 10:00:00")

	b.Restore(now, "2026-08-24", 42, true)
	snap := b.Snapshot(100)
	if snap.UsedToday != 42 || !snap.SoftCapWarned {
		t.Errorf("expected restored state, got %+v", snap)
	}
}

func TestBudgetRestoreIgnoresStaleDate(t *testing.T) {
	var b llmBudget
	now := kstTime(t, "2026-08-24 10:00:00")

	b.Restore(now, "2026-08-23", 42, true)
	if got := b.Snapshot(100).UsedToday; got != 0 {
		t.Errorf("expected stale restore ignored, got %d", got)
	}
}

func TestBudgetMonotoneWithinDay(t *testing.T) {
	var b llmBudget
	now := kstTime(t, "2026-08-24 10:00:00")
	b.RollIfNeeded(now)

	last := 0
	for i := 0; i < 20; i++ {
		b.Count(now.Add(time.Duration(i)*time.Minute), 2, 0)
		used := b.Snapshot(0).UsedToday
		if used < last {
			t.Fatalf("counter decreased: %d -> %d", last, used)
		}
		last = used
	}
}
