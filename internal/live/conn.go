// Package live maintains the websocket feed from the device: a
// reconnecting connection manager, the telemetry pipeline that turns
// inbound messages into rendered frames, and an update-rate estimator.
package live

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/vuckos/T-display-web-editor/internal/log"
)

// State is the connection lifecycle position.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Status is delivered to the status subscriber on every transition.
// Detail carries human-readable context for error transitions.
type Status struct {
	State  State
	Detail string
}

// Message is one decoded feed payload. Consumers pick out the fields they
// understand; anything else rides along ignored.
type Message map[string]any

const (
	defaultMaxAttempts = 5
	defaultDelay       = 2 * time.Second
	defaultDialTimeout = 10 * time.Second
)

// Endpoint derives the feed URL for a device host. The scheme follows the
// transport security of the page embedding the editor.
func Endpoint(host string, secure bool) string {
	if secure {
		return "wss://" + host + "/ws"
	}
	return "ws://" + host + "/ws"
}

// Options configure a Manager. Zero values select the defaults.
type Options struct {
	// Endpoint is the ws:// or wss:// URL of the device feed.
	Endpoint string
	// MaxAttempts bounds automatic reconnects between successful opens.
	MaxAttempts int
	// Delay is the fixed pause before a scheduled reconnect fires.
	Delay time.Duration
	// DialTimeout bounds a single connection attempt.
	DialTimeout time.Duration
}

// Stats describe the feed since the manager was created.
type Stats struct {
	State       State
	Messages    uint64
	LastMessage time.Time
	Attempts    int
}

// Manager owns the websocket connection to the device and its reconnect
// policy.
//
// Subscriber callbacks run on a single dispatch goroutine: for any one
// socket they arrive in order and never overlap. Registration is
// single-slot, a new subscriber replaces the previous one.
type Manager struct {
	endpoint    string
	maxAttempts int
	delay       time.Duration
	dialTimeout time.Duration

	mu               sync.Mutex
	state            State
	conn             *websocket.Conn
	gen              uint64
	autoReconnect    bool
	attempts         int
	reconnectPending bool
	onMessage        func(Message)
	onStatus         func(Status)
	messages         uint64
	lastMessage      time.Time

	qmu   sync.Mutex
	queue []func()
	wake  chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// NewManager returns a Manager ready for Connect. Close releases its
// dispatch goroutine.
func NewManager(o Options) *Manager {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.Delay <= 0 {
		o.Delay = defaultDelay
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = defaultDialTimeout
	}
	m := &Manager{
		endpoint:    o.Endpoint,
		maxAttempts: o.MaxAttempts,
		delay:       o.Delay,
		dialTimeout: o.DialTimeout,
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	go m.dispatch()
	return m
}

// OnMessage registers the message subscriber, replacing any previous one.
func (m *Manager) OnMessage(fn func(Message)) {
	m.mu.Lock()
	m.onMessage = fn
	m.mu.Unlock()
}

// OnStatusChange registers the status subscriber, replacing any previous
// one.
func (m *Manager) OnStatusChange(fn func(Status)) {
	m.mu.Lock()
	m.onStatus = fn
	m.mu.Unlock()
}

// Connect opens the feed connection. While a socket is already open or
// opening it is an idempotent no-op. The dial itself runs asynchronously;
// progress arrives through the status subscriber.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.conn != nil || m.state == StateConnecting {
		m.mu.Unlock()
		return
	}
	m.state = StateConnecting
	m.autoReconnect = true
	m.mu.Unlock()

	log.Info("connecting to live feed", "endpoint", m.endpoint)
	m.emit(Status{State: StateConnecting})
	go m.dial()
}

// Disconnect closes the feed and stops automatic reconnects. A reconnect
// timer already scheduled finds the attempt counter saturated and the
// reconnect flag down, and backs off without touching the state.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.autoReconnect = false
	m.attempts = m.maxAttempts
	conn := m.conn
	m.conn = nil
	m.gen++
	changed := m.state != StateDisconnected
	m.state = StateDisconnected
	m.mu.Unlock()

	if conn != nil {
		_ = conn.CloseNow()
	}
	if changed {
		log.Info("live feed disconnected")
		m.emit(Status{State: StateDisconnected})
	}
}

// Close disconnects and stops the dispatch goroutine. The Manager must
// not be reused afterwards.
func (m *Manager) Close() {
	m.Disconnect()
	m.closeOnce.Do(func() { close(m.done) })
}

// State returns the current lifecycle position.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns a snapshot of the feed counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		State:       m.state,
		Messages:    m.messages,
		LastMessage: m.lastMessage,
		Attempts:    m.attempts,
	}
}

func (m *Manager) dial() {
	ctx, cancel := context.WithTimeout(context.Background(), m.dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, m.endpoint, nil)

	m.mu.Lock()
	if m.state != StateConnecting {
		// Disconnect raced the dial; discard whatever it produced.
		m.mu.Unlock()
		if conn != nil {
			_ = conn.CloseNow()
		}
		return
	}
	if err != nil {
		m.state = StateDisconnected
		schedule := m.scheduleLocked()
		m.mu.Unlock()

		log.Error("live feed dial failed", err, "endpoint", m.endpoint)
		m.emit(Status{State: StateError, Detail: err.Error()})
		m.emit(Status{State: StateDisconnected})
		if schedule {
			time.AfterFunc(m.delay, m.reconnect)
		}
		return
	}
	m.conn = conn
	m.state = StateConnected
	m.attempts = 0
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	log.Info("live feed connected", "endpoint", m.endpoint)
	m.emit(Status{State: StateConnected})
	go m.readLoop(conn, gen)
}

func (m *Manager) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			m.lost(gen, err)
			return
		}
		m.handleMessage(gen, data)
	}
}

func (m *Manager) handleMessage(gen uint64, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		// The socket stays open; only the status degrades. The message
		// is not delivered.
		m.state = StateError
		m.mu.Unlock()

		log.Warn("live message decode failed", "err", err.Error())
		m.emit(Status{State: StateError, Detail: "decode live message: " + err.Error()})
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.messages++
	m.lastMessage = time.Now()
	fn := m.onMessage
	m.mu.Unlock()

	if fn != nil {
		m.post(func() { fn(msg) })
	}
}

// lost handles the end of one socket's read loop. A stale generation
// means Disconnect already accounted for this socket.
func (m *Manager) lost(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.state = StateDisconnected
	schedule := m.scheduleLocked()
	m.mu.Unlock()

	if websocket.CloseStatus(err) == -1 {
		// Read ended without a peer close frame.
		log.Warn("live feed read failed", "err", err.Error())
		m.emit(Status{State: StateError, Detail: err.Error()})
	} else {
		log.Info("live feed closed", "status", websocket.CloseStatus(err))
	}
	m.emit(Status{State: StateDisconnected})
	if schedule {
		time.AfterFunc(m.delay, m.reconnect)
	}
}

// scheduleLocked decides whether this closure earns a reconnect timer.
// Caller holds mu.
func (m *Manager) scheduleLocked() bool {
	if !m.autoReconnect || m.attempts >= m.maxAttempts || m.reconnectPending {
		return false
	}
	m.reconnectPending = true
	return true
}

// reconnect fires after the fixed delay. There is no timer handle to
// cancel: Disconnect neutralizes a pending timer by dropping the
// auto-reconnect flag and saturating the attempt counter, both of which
// are re-checked here.
func (m *Manager) reconnect() {
	m.mu.Lock()
	m.reconnectPending = false
	if !m.autoReconnect || m.attempts >= m.maxAttempts {
		m.mu.Unlock()
		return
	}
	m.attempts++
	attempt := m.attempts
	m.mu.Unlock()

	log.Info("reconnecting to live feed", "attempt", attempt, "max", m.maxAttempts)
	m.Connect()
}

func (m *Manager) emit(s Status) {
	m.mu.Lock()
	fn := m.onStatus
	m.mu.Unlock()
	if fn != nil {
		m.post(func() { fn(s) })
	}
}

// post queues fn for the dispatch goroutine. The queue is unbounded so a
// subscriber that re-enters the manager can never wedge dispatch.
func (m *Manager) post(fn func()) {
	m.qmu.Lock()
	m.queue = append(m.queue, fn)
	m.qmu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) dispatch() {
	for {
		m.qmu.Lock()
		var fn func()
		if len(m.queue) > 0 {
			fn = m.queue[0]
			m.queue = m.queue[1:]
		}
		m.qmu.Unlock()

		if fn != nil {
			fn()
			continue
		}
		select {
		case <-m.wake:
		case <-m.done:
			return
		}
	}
}
