package services

import (
	"context"
	"sync"
	"time"

	"opsdesk-backend/internal/models"
	"opsdesk-backend/internal/ws"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DeliveryResult is the typed outcome of a push, so callers can decide what
// to do with a queued or dropped notification instead of guessing from logs.
type DeliveryResult string

const (
	// DeliveredLive means the recipient had a live connection and the frame
	// was handed to it.
	DeliveredLive DeliveryResult = "delivered-live"
	// DeliveryQueued means the record is persisted and waits for a reconnect
	// replay or an out-of-band sweep.
	DeliveryQueued DeliveryResult = "queued"
	// DeliveryDropped means the record could not be persisted either. The
	// accompanying error says why.
	DeliveryDropped DeliveryResult = "dropped"
)

// NotificationStore is the durable half of the delivery path. Implemented by
// NotificationService over Mongo; tests use an in-memory fake.
type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	UnsentForUser(ctx context.Context, userID primitive.ObjectID, limit int) ([]models.Notification, error)
	MarkSendAttempt(ctx context.Context, id primitive.ObjectID) error
	MarkDeliveryFailed(ctx context.Context, id primitive.ObjectID) error
}

// DeliveryConfig carries the delivery service knobs.
type DeliveryConfig struct {
	HeartbeatInterval time.Duration
	IdleSweepInterval time.Duration
	IdleThreshold     time.Duration
	ReplayBatchSize   int
	ReplayDelay       time.Duration
}

func (c *DeliveryConfig) norm() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.IdleSweepInterval <= 0 {
		c.IdleSweepInterval = time.Minute
	}
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = 30 * time.Minute
	}
	if c.ReplayBatchSize <= 0 {
		c.ReplayBatchSize = 20
	}
	if c.ReplayDelay < 0 {
		c.ReplayDelay = 0
	}
}

// DeliveryService routes notifications to connected recipients with
// best-effort immediacy and falls back to the durable store. The registry is
// injected so tests can run isolated instances.
type DeliveryService struct {
	registry *ws.Registry
	store    NotificationStore
	cfg      DeliveryConfig
	log      *logrus.Entry

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewDeliveryService(registry *ws.Registry, store NotificationStore, cfg DeliveryConfig) *DeliveryService {
	cfg.norm()
	return &DeliveryService{
		registry: registry,
		store:    store,
		cfg:      cfg,
		log:      logrus.WithField("component", "delivery"),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the heartbeat and idle-eviction sweeps.
func (s *DeliveryService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
		idle := time.NewTicker(s.cfg.IdleSweepInterval)
		defer heartbeat.Stop()
		defer idle.Stop()

		for {
			select {
			case <-heartbeat.C:
				s.Heartbeat()
			case <-idle.C:
				s.EvictIdle()
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop halts the sweeps and force-disconnects every live connection.
func (s *DeliveryService) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()

	for userID, conn := range s.registry.Snapshot() {
		conn.Send(ws.Frame{
			Type: ws.EventForceDisconnect,
			Data: ws.DisconnectPayload{Reason: ws.ReasonShutdown},
		})
		conn.Close()
		s.registry.Remove(userID, conn)
	}
}

// RegisterConnection installs conn as the user's live connection, signalling
// supersession to any previous one, and kicks off the replay of queued
// notifications. Capacity errors leave no partial state behind.
func (s *DeliveryService) RegisterConnection(userID primitive.ObjectID, conn ws.Conn) error {
	prev, err := s.registry.Register(userID, conn)
	if err != nil {
		conn.Send(ws.Frame{
			Type: ws.EventError,
			Data: ws.ErrorPayload{Code: "capacity_exceeded", Message: "too many active connections"},
		})
		conn.Close()
		return err
	}

	if prev != nil {
		prev.Send(ws.Frame{
			Type: ws.EventForceDisconnect,
			Data: ws.DisconnectPayload{Reason: ws.ReasonSuperseded},
		})
		prev.Close()
		s.log.WithField("user_id", userID.Hex()).Info("superseded previous connection")
	}

	conn.Send(ws.Frame{
		Type: ws.EventConnected,
		Data: ws.ConnectedPayload{UserID: userID.Hex(), Timestamp: time.Now()},
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Replay(context.Background(), userID, conn)
	}()

	return nil
}

// Replay pushes the user's queued notifications to conn, newest first, capped
// at the replay batch size, with a small delay between items so the client is
// not overwhelmed. The registry is re-checked after every store await because
// the connection may have been superseded or evicted in the meantime.
func (s *DeliveryService) Replay(ctx context.Context, userID primitive.ObjectID, conn ws.Conn) {
	batch, err := s.store.UnsentForUser(ctx, userID, s.cfg.ReplayBatchSize)
	if err != nil {
		s.log.WithError(err).WithField("user_id", userID.Hex()).Warn("replay fetch failed")
		return
	}

	for i, n := range batch {
		if current, ok := s.registry.Get(userID); !ok || current != conn {
			return
		}

		delivered := n
		delivered.IsSent = true
		delivered.SendAttempts++
		if err := conn.Send(ws.Frame{Type: ws.EventNotification, Data: delivered}); err != nil {
			s.evict(userID, conn)
			return
		}

		if err := s.store.MarkSendAttempt(ctx, n.ID); err != nil {
			s.log.WithError(err).WithField("notification_id", n.ID.Hex()).Warn("failed to record replay attempt")
		}
		s.registry.Touch(userID)

		if s.cfg.ReplayDelay > 0 && i < len(batch)-1 {
			select {
			case <-time.After(s.cfg.ReplayDelay):
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

// Push delivers n to its recipient if a live connection exists, otherwise
// leaves it queued in the store. Recipient-offline is the expected path and
// is never reported as an error. An unsaved notification is persisted first
// in either case.
func (s *DeliveryService) Push(ctx context.Context, n *models.Notification) (DeliveryResult, error) {
	if n.ID.IsZero() {
		if err := s.store.Create(ctx, n); err != nil {
			return DeliveryDropped, err
		}
	}

	// The Create above awaited; look the connection up only now.
	conn, ok := s.registry.Get(n.RecipientID)
	if !ok {
		return DeliveryQueued, nil
	}

	// The frame mirrors what the durable record will say once the attempt
	// is recorded, so the recipient never sees is_sent=false on a live push.
	delivered := *n
	delivered.IsSent = true
	delivered.SendAttempts = n.SendAttempts + 1

	if err := conn.Send(ws.Frame{Type: ws.EventNotification, Data: delivered}); err != nil {
		// A push failure to a nominally live connection is proof of death:
		// evict it and leave the record queued for the next reconnect.
		s.evict(n.RecipientID, conn)
		if ferr := s.store.MarkDeliveryFailed(ctx, n.ID); ferr != nil {
			s.log.WithError(ferr).WithField("notification_id", n.ID.Hex()).Warn("failed to record failed attempt")
		}
		return DeliveryQueued, nil
	}

	s.registry.Touch(n.RecipientID)
	if err := s.store.MarkSendAttempt(ctx, n.ID); err != nil {
		s.log.WithError(err).WithField("notification_id", n.ID.Hex()).Warn("failed to record send attempt")
	}
	n.IsSent = true
	n.SendAttempts++

	return DeliveredLive, nil
}

// Broadcast fans a system message out to every live connection. Pure
// best-effort: no durability, no retry.
func (s *DeliveryService) Broadcast(message string) {
	frame := ws.Frame{
		Type: ws.EventSystemMessage,
		Data: ws.SystemMessagePayload{Message: message, Timestamp: time.Now()},
	}

	for userID, conn := range s.registry.Snapshot() {
		if err := conn.Send(frame); err != nil {
			s.evict(userID, conn)
		}
	}
}

// Heartbeat pings every live connection and evicts any that fail the send.
func (s *DeliveryService) Heartbeat() {
	frame := ws.Frame{Type: ws.EventPing}
	for userID, conn := range s.registry.Snapshot() {
		if err := conn.Send(frame); err != nil {
			s.evict(userID, conn)
			s.log.WithField("user_id", userID.Hex()).Debug("evicted dead connection on heartbeat")
		}
	}
}

// EvictIdle disconnects every connection idle beyond the threshold, telling
// the client why first. Mirrors the client's own idle policy so both sides
// agree a session is dead.
func (s *DeliveryService) EvictIdle() {
	for _, e := range s.registry.IdleEntries(s.cfg.IdleThreshold) {
		e.Conn.Send(ws.Frame{
			Type: ws.EventInactiveDisconnect,
			Data: ws.DisconnectPayload{Reason: ws.ReasonInactive, InactiveForMs: e.Idle.Milliseconds()},
		})
		e.Conn.Close()
		s.registry.Remove(e.UserID, e.Conn)
		s.log.WithFields(logrus.Fields{
			"user_id": e.UserID.Hex(),
			"idle":    e.Idle.String(),
		}).Info("evicted idle connection")
	}
}

// HandleFrame processes one inbound frame from a live connection.
func (s *DeliveryService) HandleFrame(userID primitive.ObjectID, f ws.Frame) {
	switch f.Type {
	case ws.EventPong, ws.EventUserActivity:
		s.registry.Touch(userID)
	case ws.EventMarkRead:
		// Advisory only: the authoritative read-marking happens through the
		// REST API.
		s.registry.Touch(userID)
	default:
		s.log.WithField("type", f.Type).Debug("ignoring unknown frame")
	}
}

// Disconnect removes conn from the registry if it is still the user's
// current connection. Called when a read pump exits.
func (s *DeliveryService) Disconnect(userID primitive.ObjectID, conn ws.Conn) {
	s.evict(userID, conn)
}

// ConnectionCount exposes the registry size for health reporting.
func (s *DeliveryService) ConnectionCount() int {
	return s.registry.Count()
}

func (s *DeliveryService) evict(userID primitive.ObjectID, conn ws.Conn) {
	s.registry.Remove(userID, conn)
	conn.Close()
}
