package autopilot

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Ring capacities. Oldest entries drop; producers never block.
const (
	logRingCapacity         = 120
	eventRingCapacity       = 400
	screenshotStoreCapacity = 150
)

// eventRing is a fixed-capacity ring of timeline events. Snapshot returns
// newest first.
type eventRing struct {
	mu    sync.Mutex
	buf   []TimelineEvent
	head  int // next write position
	count int
}

func newEventRing() *eventRing {
	return &eventRing{buf: make([]TimelineEvent, eventRingCapacity)}
}

func (r *eventRing) Push(evt TimelineEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.head] = evt
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

func (r *eventRing) Snapshot() []TimelineEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TimelineEvent, r.count)
	for i := 0; i < r.count; i++ {
		idx := (r.head - 1 - i + len(r.buf)) % len(r.buf)
		out[i] = r.buf[idx]
	}
	return out
}

func (r *eventRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// logRing is a fixed-capacity ring of human-readable log lines.
type logRing struct {
	mu    sync.Mutex
	buf   []string
	head  int
	count int
}

func newLogRing() *logRing {
	return &logRing{buf: make([]string, logRingCapacity)}
}

func (r *logRing) Push(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.head] = line
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

func (r *logRing) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, r.count)
	for i := 0; i < r.count; i++ {
		idx := (r.head - 1 - i + len(r.buf)) % len(r.buf)
		out[i] = r.buf[idx]
	}
	return out
}

func (r *logRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Screenshot is one stored UI capture
type Screenshot struct {
	ID       string    `json:"id"`
	At       time.Time `json:"at"`
	MimeType string    `json:"mime_type"`
	Src      string    `json:"src"` // data URI or absolute URL
}

// ScreenshotStore keeps screenshots by id with FIFO eviction.
type ScreenshotStore struct {
	mu    sync.Mutex
	byID  map[string]Screenshot
	order []string // insertion order, oldest first
	cap   int
}

// NewScreenshotStore creates a store with the standard capacity.
func NewScreenshotStore() *ScreenshotStore {
	return &ScreenshotStore{
		byID: make(map[string]Screenshot),
		cap:  screenshotStoreCapacity,
	}
}

// Add stores a capture and returns its id.
func (s *ScreenshotStore) Add(mimeType, src string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.byID[id] = Screenshot{ID: id, At: time.Now(), MimeType: mimeType, Src: src}
	s.order = append(s.order, id)

	for len(s.order) > s.cap {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.byID, oldest)
	}
	return id
}

// Get returns a screenshot by id.
func (s *ScreenshotStore) Get(id string) (Screenshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	shot, ok := s.byID[id]
	return shot, ok
}

// Len returns the number of stored screenshots.
func (s *ScreenshotStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}
