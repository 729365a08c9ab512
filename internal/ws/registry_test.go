package ws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeConn struct {
	sent   []Frame
	closed bool
}

func (f *fakeConn) Send(frame Frame) error {
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeConn) Close() { f.closed = true }

func TestRegistryRegisterReturnsPrevious(t *testing.T) {
	r := NewRegistry(10)
	userID := primitive.NewObjectID()

	first := &fakeConn{}
	prev, err := r.Register(userID, first)
	require.NoError(t, err)
	assert.Nil(t, prev)
	assert.Equal(t, 1, r.Count())

	second := &fakeConn{}
	prev, err = r.Register(userID, second)
	require.NoError(t, err)
	assert.Same(t, first, prev)
	assert.Equal(t, 1, r.Count(), "replacement must not grow the registry")

	current, ok := r.Get(userID)
	require.True(t, ok)
	assert.Same(t, second, current)
}

func TestRegistryCapacity(t *testing.T) {
	r := NewRegistry(2)

	existing := primitive.NewObjectID()
	_, err := r.Register(existing, &fakeConn{})
	require.NoError(t, err)
	_, err = r.Register(primitive.NewObjectID(), &fakeConn{})
	require.NoError(t, err)

	_, err = r.Register(primitive.NewObjectID(), &fakeConn{})
	assert.ErrorIs(t, err, ErrRegistryFull)
	assert.Equal(t, 2, r.Count())

	// Replacement is always allowed, even at capacity.
	replacement := &fakeConn{}
	prev, err := r.Register(existing, replacement)
	require.NoError(t, err)
	assert.NotNil(t, prev)
	assert.Equal(t, 2, r.Count())
}

func TestRegistryRemoveIsConditional(t *testing.T) {
	r := NewRegistry(10)
	userID := primitive.NewObjectID()

	stale := &fakeConn{}
	_, err := r.Register(userID, stale)
	require.NoError(t, err)

	current := &fakeConn{}
	_, err = r.Register(userID, current)
	require.NoError(t, err)

	// A goroutine still holding the superseded handle must not evict the
	// current one.
	assert.False(t, r.Remove(userID, stale))
	got, ok := r.Get(userID)
	require.True(t, ok)
	assert.Same(t, current, got)

	assert.True(t, r.Remove(userID, current))
	_, ok = r.Get(userID)
	assert.False(t, ok)
	assert.False(t, r.Remove(userID, current))
}

func TestRegistryIdleEntries(t *testing.T) {
	r := NewRegistry(10)
	now := time.Now()
	r.SetClock(func() time.Time { return now })

	idleUser := primitive.NewObjectID()
	activeUser := primitive.NewObjectID()
	_, err := r.Register(idleUser, &fakeConn{})
	require.NoError(t, err)
	_, err = r.Register(activeUser, &fakeConn{})
	require.NoError(t, err)

	now = now.Add(31 * time.Minute)
	r.Touch(activeUser)

	idle := r.IdleEntries(30 * time.Minute)
	require.Len(t, idle, 1)
	assert.Equal(t, idleUser, idle[0].UserID)
	assert.Equal(t, 31*time.Minute, idle[0].Idle)

	// Touch on an unknown user is a no-op.
	r.Touch(primitive.NewObjectID())
	assert.Equal(t, 2, r.Count())
}

func TestRegistrySnapshotIsACopy(t *testing.T) {
	r := NewRegistry(10)
	userID := primitive.NewObjectID()
	_, err := r.Register(userID, &fakeConn{})
	require.NoError(t, err)

	snap := r.Snapshot()
	delete(snap, userID)

	_, ok := r.Get(userID)
	assert.True(t, ok, "mutating a snapshot must not affect the registry")
}
