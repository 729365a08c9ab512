package client

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// maxHistory caps the visible notification list.
	maxHistory = 100
	// processedRetention bounds the processed-key set. Keys older than this
	// are pruned; a re-delivery after that window would render again, which
	// is acceptable.
	processedRetention = 7 * 24 * time.Hour
)

// Renderer is the presentation hook: OS-level notification, in-page toast,
// whatever the embedding application wants. Called exactly once per unique
// notification.
type Renderer interface {
	Render(Notification)
}

// RendererFunc adapts a plain function to Renderer.
type RendererFunc func(Notification)

func (f RendererFunc) Render(n Notification) { f(n) }

// Store holds the local notification state: an ordered, capped history and
// the processed-key set that makes delivery idempotent from the user's point
// of view. Every mutation persists a full snapshot.
type Store struct {
	mu        sync.Mutex
	items     []Notification
	processed map[string]time.Time

	storage  Storage
	renderer Renderer
	clock    func() time.Time
	log      *logrus.Entry
}

func NewStore(storage Storage, renderer Renderer) *Store {
	return &Store{
		processed: make(map[string]time.Time),
		storage:   storage,
		renderer:  renderer,
		clock:     time.Now,
		log:       logrus.WithField("component", "notification-store"),
	}
}

// SetClock injects a clock for tests.
func (s *Store) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

// Hydrate loads the persisted snapshot. Called synchronously before any
// network fetch so a restart shows prior state immediately.
func (s *Store) Hydrate() error {
	if s.storage == nil {
		return nil
	}
	snapshot, err := s.storage.Load()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = snapshot.Notifications
	s.processed = snapshot.ProcessedIDs
	return nil
}

// Add runs candidate through the dedup gate. A notification whose key was
// already processed is discarded silently and Add returns false; otherwise it
// is rendered, prepended to the history and persisted, and Add returns true.
func (s *Store) Add(candidate Notification) bool {
	s.mu.Lock()

	key := candidate.Key()
	if _, seen := s.processed[key]; seen {
		s.mu.Unlock()
		return false
	}

	now := s.clock()
	if candidate.ID == "" {
		candidate.ID = uuid.NewString()
	}
	if candidate.Timestamp.IsZero() {
		candidate.Timestamp = now
	}

	s.items = append([]Notification{candidate}, s.items...)
	if len(s.items) > maxHistory {
		s.items = s.items[:maxHistory]
	}
	s.processed[key] = now

	s.persistLocked()
	s.mu.Unlock()

	if s.renderer != nil {
		s.renderer.Render(candidate)
	}
	return true
}

// MarkRead flips one notification to read locally. Server-side read-marking
// is a separate, explicit API call.
func (s *Store) MarkRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].ID == id && !s.items[i].IsRead {
			s.items[i].IsRead = true
			s.persistLocked()
			return true
		}
	}
	return false
}

// MarkAllRead flips every notification to read locally.
func (s *Store) MarkAllRead() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for i := range s.items {
		if !s.items[i].IsRead {
			s.items[i].IsRead = true
			changed++
		}
	}
	if changed > 0 {
		s.persistLocked()
	}
	return changed
}

// RemoveByReportID drops every notification referencing the given report.
// Both sides of the comparison are normalized to strings, so numeric and
// string report ids match each other.
func (s *Store) RemoveByReportID(reportID interface{}) int {
	target := normalizeID(reportID)
	if target == "" {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.items[:0]
	removed := 0
	for _, n := range s.items {
		if n.ResourceID() == target {
			removed++
			continue
		}
		kept = append(kept, n)
	}
	if removed > 0 {
		s.items = kept
		s.persistLocked()
	}
	return removed
}

// CleanupProcessed prunes notifications and processed keys older than the
// retention window. Callers invoke it periodically on long-running sessions.
func (s *Store) CleanupProcessed() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock().Add(-processedRetention)
	pruned := 0

	for key, seen := range s.processed {
		if seen.Before(cutoff) {
			delete(s.processed, key)
			pruned++
		}
	}

	kept := s.items[:0]
	for _, n := range s.items {
		if n.Timestamp.Before(cutoff) {
			pruned++
			continue
		}
		kept = append(kept, n)
	}
	s.items = kept

	if pruned > 0 {
		s.persistLocked()
	}
	return pruned
}

// Notifications returns a copy of the visible history, newest first.
func (s *Store) Notifications() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Notification, len(s.items))
	copy(out, s.items)
	return out
}

// UnreadCount returns the number of locally unread notifications.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, n := range s.items {
		if !n.IsRead {
			count++
		}
	}
	return count
}

// persistLocked writes the full snapshot. A storage failure must not break
// the in-memory path, so it is logged and swallowed here.
func (s *Store) persistLocked() {
	if s.storage == nil {
		return
	}
	snapshot := Snapshot{
		Notifications: s.items,
		ProcessedIDs:  s.processed,
	}
	if err := s.storage.Save(snapshot); err != nil {
		s.log.WithError(err).Warn("failed to persist notification snapshot")
	}
}
