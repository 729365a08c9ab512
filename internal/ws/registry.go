package ws

import (
	"errors"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrRegistryFull is returned when a new user cannot be registered because the
// configured connection cap has been reached.
var ErrRegistryFull = errors.New("connection registry is at capacity")

// Conn is the live-connection handle tracked by the registry. The concrete
// implementation wraps a websocket; tests substitute in-memory fakes.
type Conn interface {
	Send(Frame) error
	Close()
}

type entry struct {
	conn         Conn
	lastActivity time.Time
}

// IdleEntry describes a connection that has exceeded the idle threshold.
type IdleEntry struct {
	UserID primitive.ObjectID
	Conn   Conn
	Idle   time.Duration
}

// Registry maps authenticated users to their single live connection. It is
// process-local: a restart loses all entries, which is fine because the
// notification collection is the durable source of truth.
//
// At most one entry exists per user. Registering a second connection for the
// same user returns the previous handle so the caller can signal supersession.
type Registry struct {
	mu      sync.RWMutex
	entries map[primitive.ObjectID]*entry
	max     int
	clock   func() time.Time
}

func NewRegistry(max int) *Registry {
	return &Registry{
		entries: make(map[primitive.ObjectID]*entry),
		max:     max,
		clock:   time.Now,
	}
}

// SetClock injects a clock for tests.
func (r *Registry) SetClock(clock func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = clock
}

// Register installs conn as the user's live connection. If the user already
// had one, it is replaced and returned as prev. A brand-new user is rejected
// with ErrRegistryFull when the registry is at capacity; replacement is always
// allowed since it does not grow the registry.
func (r *Registry) Register(userID primitive.ObjectID, conn Conn) (prev Conn, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[userID]; ok {
		prev = existing.conn
	} else if len(r.entries) >= r.max {
		return nil, ErrRegistryFull
	}

	r.entries[userID] = &entry{
		conn:         conn,
		lastActivity: r.clock(),
	}
	return prev, nil
}

// Remove deletes the user's entry, but only if it still holds conn. This
// guards against a stale goroutine evicting a connection that has already
// been superseded.
func (r *Registry) Remove(userID primitive.ObjectID, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.entries[userID]
	if !ok || existing.conn != conn {
		return false
	}
	delete(r.entries, userID)
	return true
}

// Get returns the user's live connection, if any.
func (r *Registry) Get(userID primitive.ObjectID) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	existing, ok := r.entries[userID]
	if !ok {
		return nil, false
	}
	return existing.conn, true
}

// Touch refreshes the user's last-activity timestamp.
func (r *Registry) Touch(userID primitive.ObjectID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[userID]; ok {
		existing.lastActivity = r.clock()
	}
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot returns a copy of the current connections, suitable for broadcast
// and heartbeat sweeps without holding the lock during sends.
func (r *Registry) Snapshot() map[primitive.ObjectID]Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make(map[primitive.ObjectID]Conn, len(r.entries))
	for userID, e := range r.entries {
		conns[userID] = e.conn
	}
	return conns
}

// IdleEntries returns the connections whose last activity is older than
// threshold.
func (r *Registry) IdleEntries(threshold time.Duration) []IdleEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.clock()
	var idle []IdleEntry
	for userID, e := range r.entries {
		if d := now.Sub(e.lastActivity); d > threshold {
			idle = append(idle, IdleEntry{UserID: userID, Conn: e.conn, Idle: d})
		}
	}
	return idle
}
