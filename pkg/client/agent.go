package client

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// AgentState is the connection lifecycle state.
type AgentState int

const (
	StateDisconnected AgentState = iota
	StateConnecting
	StateConnected
	// StateSuspended means the agent disconnected itself after local
	// inactivity and will not reconnect until activity resumes.
	StateSuspended
)

func (s AgentState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSuspended:
		return "suspended"
	}
	return "unknown"
}

// Frame types mirrored from the server protocol. The agent is deliberately
// self-contained: it speaks the wire format, not the server's types.
const (
	eventConnected          = "connected"
	eventNotification       = "notification"
	eventPing               = "ping"
	eventPong               = "pong"
	eventUserActivity       = "user_activity"
	eventForceDisconnect    = "force_disconnect"
	eventInactiveDisconnect = "inactive_disconnect"
	eventSystemMessage      = "system_message"
	eventError              = "error"
)

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// AgentConfig configures the reconnection agent.
type AgentConfig struct {
	// URL is the websocket endpoint, e.g. ws://host:8080/ws.
	URL   string
	Token string

	BaseDelay         time.Duration // backoff base, default 1s
	MaxRetries        int           // backoff attempt cap, default 5
	HandshakeTimeout  time.Duration // default 10s
	IdleThreshold     time.Duration // default 30m, mirrors the server policy
	IdleCheckInterval time.Duration // default 1m
	ActivityInterval  time.Duration // default 1m
}

func (c *AgentConfig) norm() {
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = 30 * time.Minute
	}
	if c.IdleCheckInterval <= 0 {
		c.IdleCheckInterval = time.Minute
	}
	if c.ActivityInterval <= 0 {
		c.ActivityInterval = time.Minute
	}
}

// Agent keeps one live connection to the notification channel. It backs off
// exponentially on failures, goes dormant after the retry cap or a
// server-initiated disconnect, and re-arms on the next activity event.
type Agent struct {
	cfg   AgentConfig
	store *Store
	api   *APIClient
	log   *logrus.Entry
	clock func() time.Time

	mu           sync.Mutex
	state        AgentState
	attempts     int
	dormant      bool
	lastActivity time.Time
	conn         *websocket.Conn

	writeMu sync.Mutex

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewAgent builds an agent. api may be nil to disable the unread-fetch
// fallback.
func NewAgent(cfg AgentConfig, store *Store, api *APIClient) *Agent {
	cfg.norm()
	return &Agent{
		cfg:   cfg,
		store: store,
		api:   api,
		log:   logrus.WithField("component", "notification-agent"),
		clock: time.Now,
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
	}
}

// Start hydrates the local store, kicks off the connection loop and, when an
// API client is present, merges the server's unread backlog through the same
// dedup path as live delivery.
func (a *Agent) Start() {
	if err := a.store.Hydrate(); err != nil {
		a.log.WithError(err).Warn("failed to hydrate local notification state")
	}

	a.MarkActivity()

	a.wg.Add(1)
	go a.run()

	if a.api != nil {
		a.wg.Add(1)
		go a.syncUnread()
	}
}

// Stop shuts the agent down and waits for its goroutines.
func (a *Agent) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })

	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn != nil {
		conn.Close()
	}

	a.wg.Wait()
}

// State returns the current lifecycle state.
func (a *Agent) State() AgentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// MarkActivity is the application's signal that the user is active. It
// refreshes the idle clock and, when the agent is disconnected or dormant,
// re-arms connection attempts immediately, bypassing any pending backoff.
func (a *Agent) MarkActivity() {
	a.mu.Lock()
	a.lastActivity = a.clock()
	rearm := a.state == StateDisconnected || a.state == StateSuspended
	if rearm {
		a.dormant = false
		a.attempts = 0
		if a.state == StateSuspended {
			a.state = StateDisconnected
		}
	}
	a.mu.Unlock()

	if rearm {
		select {
		case a.wake <- struct{}{}:
		default:
		}
	}
}

func (a *Agent) run() {
	defer a.wg.Done()

	for {
		if !a.waitForTurn() {
			return
		}

		a.setState(StateConnecting)
		conn, err := a.dial()
		if err != nil {
			a.log.WithError(err).Debug("connect failed")
			a.registerFailure()
			continue
		}

		a.mu.Lock()
		a.state = StateConnected
		a.attempts = 0
		a.conn = conn
		a.mu.Unlock()
		a.log.Debug("connected")

		a.session(conn)
	}
}

// waitForTurn blocks until the agent may attempt a connection: immediately
// on the first try or after activity, after the backoff delay otherwise, and
// indefinitely while dormant. Returns false on shutdown.
func (a *Agent) waitForTurn() bool {
	// Drain any wake token queued before this point. Its state effects
	// (attempts and dormant reset) are already visible below, and a stale
	// token must not wake a dormant agent later.
	select {
	case <-a.wake:
	default:
	}

	a.mu.Lock()
	dormant := a.dormant
	attempts := a.attempts
	a.mu.Unlock()

	if dormant {
		select {
		case <-a.wake:
			return true
		case <-a.stop:
			return false
		}
	}

	if attempts == 0 {
		select {
		case <-a.stop:
			return false
		default:
			return true
		}
	}

	select {
	case <-time.After(a.backoffDelay(attempts)):
		return true
	case <-a.wake:
		// Activity bypasses backoff.
		return true
	case <-a.stop:
		return false
	}
}

// backoffDelay returns base * 2^attempts.
func (a *Agent) backoffDelay(attempts int) time.Duration {
	return a.cfg.BaseDelay << uint(attempts)
}

func (a *Agent) registerFailure() {
	a.mu.Lock()
	a.attempts++
	if a.attempts >= a.cfg.MaxRetries {
		// Out of retries: stay down until the next activity event.
		a.dormant = true
	}
	a.state = StateDisconnected
	a.mu.Unlock()
}

func (a *Agent) setState(s AgentState) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

func (a *Agent) dial() (*websocket.Conn, error) {
	u, err := url.Parse(a.cfg.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("token", a.cfg.Token)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: a.cfg.HandshakeTimeout}
	conn, _, err := dialer.Dial(u.String(), nil)
	return conn, err
}

// session owns one established connection until it dies.
func (a *Agent) session(conn *websocket.Conn) {
	defer func() {
		conn.Close()
		a.mu.Lock()
		if a.conn == conn {
			a.conn = nil
		}
		if a.state == StateConnected || a.state == StateConnecting {
			a.state = StateDisconnected
		}
		a.mu.Unlock()
	}()

	done := make(chan struct{})
	defer close(done)

	a.wg.Add(1)
	go a.keepalive(conn, done)

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		if !a.handleFrame(conn, f) {
			return
		}
	}
}

// handleFrame processes one server frame. Returns false when the session
// must end.
func (a *Agent) handleFrame(conn *websocket.Conn, f frame) bool {
	switch f.Type {
	case eventPing:
		// Reply immediately so the server keeps the session alive.
		a.writeFrame(conn, frame{Type: eventPong})

	case eventNotification:
		var w wireNotification
		if err := json.Unmarshal(f.Data, &w); err != nil {
			a.log.WithError(err).Warn("malformed notification frame")
			return true
		}
		a.store.Add(w.toNotification())

	case eventConnected:
		a.log.Debug("session acknowledged")

	case eventSystemMessage:
		a.log.WithField("data", string(f.Data)).Info("system message")

	case eventForceDisconnect, eventInactiveDisconnect:
		// The server's word is final: tear down and stay dormant until the
		// next qualifying activity event.
		a.mu.Lock()
		a.dormant = true
		a.state = StateDisconnected
		a.mu.Unlock()
		return false

	case eventError:
		a.log.WithField("data", string(f.Data)).Warn("server rejected connection")
		a.registerFailure()
		return false
	}
	return true
}

// keepalive re-asserts activity to the server on a timer and enforces the
// local idle policy, mirroring the server's eviction threshold.
func (a *Agent) keepalive(conn *websocket.Conn, done chan struct{}) {
	defer a.wg.Done()

	activity := time.NewTicker(a.cfg.ActivityInterval)
	idle := time.NewTicker(a.cfg.IdleCheckInterval)
	defer activity.Stop()
	defer idle.Stop()

	for {
		select {
		case <-activity.C:
			a.writeFrame(conn, frame{Type: eventUserActivity})

		case <-idle.C:
			a.mu.Lock()
			idleFor := a.clock().Sub(a.lastActivity)
			a.mu.Unlock()
			if idleFor > a.cfg.IdleThreshold {
				// Proactively disconnect before the server evicts us.
				a.mu.Lock()
				a.state = StateSuspended
				a.dormant = true
				a.mu.Unlock()
				conn.Close()
				a.log.WithField("idle", idleFor.String()).Info("suspending idle session")
				return
			}

		case <-done:
			return
		case <-a.stop:
			return
		}
	}
}

func (a *Agent) writeFrame(conn *websocket.Conn, f frame) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(f); err != nil {
		a.log.WithError(err).Debug("write failed")
	}
}

func (a *Agent) syncUnread() {
	defer a.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	notifications, err := a.api.FetchUnread(ctx)
	if err != nil {
		a.log.WithError(err).Warn("unread fetch failed")
		return
	}

	for _, n := range notifications {
		a.store.Add(n)
	}
}
