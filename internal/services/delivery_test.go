package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"opsdesk-backend/internal/models"
	"opsdesk-backend/internal/ws"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeConn struct {
	mu      sync.Mutex
	sent    []ws.Frame
	sendErr error
	closed  bool
	onSend  func()
}

func (f *fakeConn) Send(frame ws.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, frame)
	if f.onSend != nil {
		f.onSend()
	}
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) frames() []ws.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ws.Frame, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeStore struct {
	mu        sync.Mutex
	created   []*models.Notification
	unsent    []models.Notification
	attempts  map[primitive.ObjectID]int
	failures  map[primitive.ObjectID]int
	createErr error
	fetched   chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		attempts: make(map[primitive.ObjectID]int),
		failures: make(map[primitive.ObjectID]int),
		fetched:  make(chan struct{}, 1),
	}
}

func (s *fakeStore) Create(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	n.ID = primitive.NewObjectID()
	s.created = append(s.created, n)
	return nil
}

func (s *fakeStore) UnsentForUser(_ context.Context, _ primitive.ObjectID, limit int) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case s.fetched <- struct{}{}:
	default:
	}
	// Mirrors the store's query predicate: attempt-capped records are not
	// eligible for replay.
	var batch []models.Notification
	for _, n := range s.unsent {
		if n.AttemptsExhausted() {
			continue
		}
		batch = append(batch, n)
		if len(batch) == limit {
			break
		}
	}
	return batch, nil
}

func (s *fakeStore) MarkSendAttempt(_ context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[id]++
	return nil
}

func (s *fakeStore) MarkDeliveryFailed(_ context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[id]++
	return nil
}

func (s *fakeStore) attemptCount(id primitive.ObjectID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[id]
}

func (s *fakeStore) failureCount(id primitive.ObjectID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[id]
}

func newTestDelivery(store *fakeStore) (*DeliveryService, *ws.Registry) {
	registry := ws.NewRegistry(1000)
	svc := NewDeliveryService(registry, store, DeliveryConfig{})
	return svc, registry
}

func TestPushOfflineRecipientIsQueued(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestDelivery(store)

	n := &models.Notification{
		RecipientID: primitive.NewObjectID(),
		Title:       "New report",
	}
	result, err := svc.Push(context.Background(), n)

	require.NoError(t, err, "an offline recipient is not an error")
	assert.Equal(t, DeliveryQueued, result)
	require.Len(t, store.created, 1, "the record must be durable before delivery is attempted")
	assert.False(t, n.IsSent)
	assert.Equal(t, 0, n.SendAttempts)
}

func TestPushLiveRecipient(t *testing.T) {
	store := newFakeStore()
	svc, registry := newTestDelivery(store)

	userID := primitive.NewObjectID()
	conn := &fakeConn{}
	_, err := registry.Register(userID, conn)
	require.NoError(t, err)

	n := &models.Notification{RecipientID: userID, Title: "New report"}
	result, err := svc.Push(context.Background(), n)

	require.NoError(t, err)
	assert.Equal(t, DeliveredLive, result)
	assert.True(t, n.IsSent)
	assert.Equal(t, 1, n.SendAttempts)
	assert.Equal(t, 1, store.attemptCount(n.ID))

	frames := conn.frames()
	require.Len(t, frames, 1)
	assert.Equal(t, ws.EventNotification, frames[0].Type)

	// The delivered payload reflects the recorded attempt, not the
	// pre-delivery state.
	payload, ok := frames[0].Data.(models.Notification)
	require.True(t, ok)
	assert.True(t, payload.IsSent)
	assert.Equal(t, 1, payload.SendAttempts)
}

func TestPushDeadConnectionEvictsAndQueues(t *testing.T) {
	store := newFakeStore()
	svc, registry := newTestDelivery(store)

	userID := primitive.NewObjectID()
	conn := &fakeConn{sendErr: errors.New("broken pipe")}
	_, err := registry.Register(userID, conn)
	require.NoError(t, err)

	n := &models.Notification{RecipientID: userID, Title: "New report"}
	result, err := svc.Push(context.Background(), n)

	require.NoError(t, err, "a dead socket means queued, not failed")
	assert.Equal(t, DeliveryQueued, result)
	assert.True(t, conn.isClosed())
	_, ok := registry.Get(userID)
	assert.False(t, ok, "a failed send is proof of death")
	assert.Equal(t, 1, store.failureCount(n.ID))
	assert.False(t, n.IsSent)
}

func TestPushStoreFailureIsDropped(t *testing.T) {
	store := newFakeStore()
	store.createErr = errors.New("mongo down")
	svc, _ := newTestDelivery(store)

	n := &models.Notification{RecipientID: primitive.NewObjectID()}
	result, err := svc.Push(context.Background(), n)

	assert.Equal(t, DeliveryDropped, result)
	assert.Error(t, err)
}

func TestPushSkipsCreateForSavedRecord(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestDelivery(store)

	n := &models.Notification{
		ID:          primitive.NewObjectID(),
		RecipientID: primitive.NewObjectID(),
	}
	result, err := svc.Push(context.Background(), n)

	require.NoError(t, err)
	assert.Equal(t, DeliveryQueued, result)
	assert.Empty(t, store.created)
}

func TestReplayDeliversQueuedBacklogInOrder(t *testing.T) {
	store := newFakeStore()
	svc, registry := newTestDelivery(store)

	userID := primitive.NewObjectID()
	newest := models.Notification{ID: primitive.NewObjectID(), RecipientID: userID, Title: "third"}
	middle := models.Notification{ID: primitive.NewObjectID(), RecipientID: userID, Title: "second"}
	oldest := models.Notification{ID: primitive.NewObjectID(), RecipientID: userID, Title: "first"}
	store.unsent = []models.Notification{newest, middle, oldest}

	conn := &fakeConn{}
	_, err := registry.Register(userID, conn)
	require.NoError(t, err)

	svc.Replay(context.Background(), userID, conn)

	frames := conn.frames()
	require.Len(t, frames, 3)
	for i, want := range []string{"third", "second", "first"} {
		got, ok := frames[i].Data.(models.Notification)
		require.True(t, ok)
		assert.Equal(t, want, got.Title)
		assert.True(t, got.IsSent)
		assert.Equal(t, 1, got.SendAttempts)
	}
	assert.Equal(t, 1, store.attemptCount(newest.ID))
	assert.Equal(t, 1, store.attemptCount(oldest.ID))
}

func TestReplayExcludesAttemptCappedRecords(t *testing.T) {
	store := newFakeStore()
	svc, registry := newTestDelivery(store)

	userID := primitive.NewObjectID()
	stuck := models.Notification{
		ID:           primitive.NewObjectID(),
		RecipientID:  userID,
		Title:        "stuck",
		SendAttempts: models.MaxSendAttempts,
	}
	pending := models.Notification{
		ID:           primitive.NewObjectID(),
		RecipientID:  userID,
		Title:        "pending",
		SendAttempts: models.MaxSendAttempts - 1,
	}
	store.unsent = []models.Notification{stuck, pending}

	conn := &fakeConn{}
	_, err := registry.Register(userID, conn)
	require.NoError(t, err)

	svc.Replay(context.Background(), userID, conn)

	frames := conn.frames()
	require.Len(t, frames, 1)
	got, ok := frames[0].Data.(models.Notification)
	require.True(t, ok)
	assert.Equal(t, "pending", got.Title)
	assert.Equal(t, 0, store.attemptCount(stuck.ID), "a record at the attempt cap is never retried")
	assert.Equal(t, 1, store.attemptCount(pending.ID))
}

func TestReplayStopsWhenConnectionSuperseded(t *testing.T) {
	store := newFakeStore()
	svc, registry := newTestDelivery(store)

	userID := primitive.NewObjectID()
	store.unsent = []models.Notification{
		{ID: primitive.NewObjectID(), RecipientID: userID, Title: "first"},
		{ID: primitive.NewObjectID(), RecipientID: userID, Title: "second"},
	}

	replacement := &fakeConn{}
	stale := &fakeConn{}
	stale.onSend = func() {
		// The user reconnects mid-replay.
		registry.Register(userID, replacement)
	}
	_, err := registry.Register(userID, stale)
	require.NoError(t, err)

	svc.Replay(context.Background(), userID, stale)

	assert.Len(t, stale.frames(), 1, "replay must stop once the registry no longer holds this connection")
	assert.Empty(t, replacement.frames())
}

func TestRegisterConnectionSupersedesPrevious(t *testing.T) {
	store := newFakeStore()
	svc, registry := newTestDelivery(store)

	userID := primitive.NewObjectID()
	first := &fakeConn{}
	require.NoError(t, svc.RegisterConnection(userID, first))
	<-store.fetched

	second := &fakeConn{}
	require.NoError(t, svc.RegisterConnection(userID, second))
	<-store.fetched

	firstFrames := first.frames()
	require.NotEmpty(t, firstFrames)
	last := firstFrames[len(firstFrames)-1]
	assert.Equal(t, ws.EventForceDisconnect, last.Type)
	payload, ok := last.Data.(ws.DisconnectPayload)
	require.True(t, ok)
	assert.Equal(t, ws.ReasonSuperseded, payload.Reason)
	assert.True(t, first.isClosed())

	secondFrames := second.frames()
	require.NotEmpty(t, secondFrames)
	assert.Equal(t, ws.EventConnected, secondFrames[0].Type)

	current, ok := registry.Get(userID)
	require.True(t, ok)
	assert.Same(t, second, current)
}

func TestRegisterConnectionAtCapacity(t *testing.T) {
	store := newFakeStore()
	registry := ws.NewRegistry(1)
	svc := NewDeliveryService(registry, store, DeliveryConfig{})

	require.NoError(t, svc.RegisterConnection(primitive.NewObjectID(), &fakeConn{}))
	<-store.fetched

	rejected := &fakeConn{}
	err := svc.RegisterConnection(primitive.NewObjectID(), rejected)
	assert.ErrorIs(t, err, ws.ErrRegistryFull)
	assert.True(t, rejected.isClosed())

	frames := rejected.frames()
	require.Len(t, frames, 1)
	assert.Equal(t, ws.EventError, frames[0].Type)
	assert.Equal(t, 1, registry.Count())
}

func TestHeartbeatEvictsDeadConnections(t *testing.T) {
	store := newFakeStore()
	svc, registry := newTestDelivery(store)

	aliveID := primitive.NewObjectID()
	alive := &fakeConn{}
	deadID := primitive.NewObjectID()
	dead := &fakeConn{sendErr: errors.New("broken pipe")}
	_, err := registry.Register(aliveID, alive)
	require.NoError(t, err)
	_, err = registry.Register(deadID, dead)
	require.NoError(t, err)

	svc.Heartbeat()

	assert.Equal(t, 1, registry.Count())
	_, ok := registry.Get(aliveID)
	assert.True(t, ok)
	assert.True(t, dead.isClosed())

	frames := alive.frames()
	require.Len(t, frames, 1)
	assert.Equal(t, ws.EventPing, frames[0].Type)
}

func TestEvictIdleNotifiesBeforeClosing(t *testing.T) {
	store := newFakeStore()
	registry := ws.NewRegistry(1000)
	now := time.Now()
	registry.SetClock(func() time.Time { return now })
	svc := NewDeliveryService(registry, store, DeliveryConfig{IdleThreshold: 30 * time.Minute})

	userID := primitive.NewObjectID()
	conn := &fakeConn{}
	_, err := registry.Register(userID, conn)
	require.NoError(t, err)

	now = now.Add(31 * time.Minute)
	svc.EvictIdle()

	assert.Equal(t, 0, registry.Count())
	assert.True(t, conn.isClosed())

	frames := conn.frames()
	require.Len(t, frames, 1)
	assert.Equal(t, ws.EventInactiveDisconnect, frames[0].Type)
	payload, ok := frames[0].Data.(ws.DisconnectPayload)
	require.True(t, ok)
	assert.Equal(t, ws.ReasonInactive, payload.Reason)
	assert.Equal(t, (31 * time.Minute).Milliseconds(), payload.InactiveForMs)
}

func TestHandleFrameRefreshesActivity(t *testing.T) {
	store := newFakeStore()
	registry := ws.NewRegistry(1000)
	now := time.Now()
	registry.SetClock(func() time.Time { return now })
	svc := NewDeliveryService(registry, store, DeliveryConfig{IdleThreshold: 30 * time.Minute})

	userID := primitive.NewObjectID()
	_, err := registry.Register(userID, &fakeConn{})
	require.NoError(t, err)

	now = now.Add(29 * time.Minute)
	svc.HandleFrame(userID, ws.Frame{Type: ws.EventPong})

	now = now.Add(29 * time.Minute)
	assert.Empty(t, registry.IdleEntries(30*time.Minute), "pong must reset the idle clock")
}

func TestStopForceDisconnectsEveryone(t *testing.T) {
	store := newFakeStore()
	svc, registry := newTestDelivery(store)
	svc.Start()

	conn := &fakeConn{}
	_, err := registry.Register(primitive.NewObjectID(), conn)
	require.NoError(t, err)

	svc.Stop()

	assert.Equal(t, 0, registry.Count())
	assert.True(t, conn.isClosed())

	frames := conn.frames()
	require.Len(t, frames, 1)
	assert.Equal(t, ws.EventForceDisconnect, frames[0].Type)
	payload, ok := frames[0].Data.(ws.DisconnectPayload)
	require.True(t, ok)
	assert.Equal(t, ws.ReasonShutdown, payload.Reason)
}
