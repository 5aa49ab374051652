package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/goevery/hotelsync/internal/event"
	"go.uber.org/zap"
)

type Config struct {
	// PageURL is the origin the application is served from; it decides the
	// realtime scheme and host.
	PageURL           *url.URL
	DevHost           string
	HeartbeatInterval time.Duration
	Backoff           Backoff
}

type ConnectOptions struct {
	Authenticated bool
}

// Manager owns the single realtime connection of an application scope and
// shares it between every subscriber that asked for it.
type Manager struct {
	logger   *zap.Logger
	config   Config
	dialer   Dialer
	tokens   TokenProvider
	registry *Registry

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	status         Status
	attempts       int
	subscribers    map[string]struct{}
	transport      Transport
	generation     uint64
	heartbeatStop  chan struct{}
	reconnectTimer *time.Timer

	nextListenerId uint64
	listeners      map[uint64]func(Status)
	pending        []Status
}

func NewManager(
	logger *zap.Logger,
	config Config,
	dialer Dialer,
	tokens TokenProvider,
	registry *Registry,
) *Manager {
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 30 * time.Second
	}

	if config.Backoff.Base <= 0 {
		config.Backoff = DefaultBackoff()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		logger:      logger,
		config:      config,
		dialer:      dialer,
		tokens:      tokens,
		registry:    registry,
		ctx:         ctx,
		cancel:      cancel,
		status:      StatusDisconnected,
		subscribers: make(map[string]struct{}),
		listeners:   make(map[uint64]func(Status)),
	}
}

// Connect registers subscriberId and opens the shared connection unless it
// is already open or being opened. It never fails: every outcome is
// reflected in Status.
func (m *Manager) Connect(ctx context.Context, subscriberId string, options ConnectOptions) {
	m.mu.Lock()

	m.subscribers[subscriberId] = struct{}{}

	if m.status == StatusConnecting || m.status == StatusConnected {
		m.mu.Unlock()

		return
	}

	if !options.Authenticated {
		m.logger.Debug("not authenticated, staying disconnected",
			zap.String("subscriberId", subscriberId))

		m.transition(triggerAbort)
		m.unlockAndNotify()

		return
	}

	m.attempts = 0
	generation := m.beginAttemptLocked()
	m.unlockAndNotify()

	m.dial(ctx, generation)
}

// Disconnect unregisters subscriberId. The connection is only torn down
// once no subscriber is left.
func (m *Manager) Disconnect(subscriberId string) {
	m.mu.Lock()

	delete(m.subscribers, subscriberId)

	if len(m.subscribers) > 0 {
		m.mu.Unlock()

		return
	}

	transport := m.teardownLocked()
	m.unlockAndNotify()

	if transport != nil {
		m.closeTransport(transport)
	}
}

// Close tears the connection down regardless of subscribers. It is meant
// for the end of the application scope.
func (m *Manager) Close() {
	m.cancel()

	m.mu.Lock()
	clear(m.subscribers)
	transport := m.teardownLocked()
	m.unlockAndNotify()

	if transport != nil {
		m.closeTransport(transport)
	}
}

func (m *Manager) Subscribe(eventType event.Type, handler Handler) func() {
	return m.registry.Subscribe(eventType, handler)
}

func (m *Manager) Register(eventType event.Type, handler EventHandler) func() {
	return m.registry.Register(eventType, handler)
}

// Send writes envelope if the connection is open and drops it otherwise.
func (m *Manager) Send(envelope event.Envelope) bool {
	data, err := json.Marshal(envelope)
	if err != nil {
		m.logger.Error("failed to encode outbound message",
			zap.String("eventType", string(envelope.Type)),
			zap.Error(err))

		return false
	}

	m.mu.Lock()
	transport := m.transport
	open := m.status == StatusConnected && transport != nil
	m.mu.Unlock()

	if !open {
		m.logger.Warn("connection not open, dropping outbound message",
			zap.String("eventType", string(envelope.Type)))

		return false
	}

	if err := transport.WriteMessage(data); err != nil {
		m.logger.Warn("failed to send message",
			zap.String("eventType", string(envelope.Type)),
			zap.Error(err))

		return false
	}

	return true
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.status
}

func (m *Manager) IsConnected() bool {
	return m.Status() == StatusConnected
}

func (m *Manager) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.subscribers)
}

// OnStatusChange registers listener for every status transition and returns
// its disposer.
func (m *Manager) OnStatusChange(listener func(Status)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextListenerId++
	id := m.nextListenerId
	m.listeners[id] = listener

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		delete(m.listeners, id)
	}
}

func (m *Manager) dial(ctx context.Context, generation uint64) {
	token, err := m.tokens.Token(ctx)
	if err != nil {
		if errors.Is(err, ErrNotAuthenticated) || errors.Is(err, ErrNoToken) {
			m.logger.Info("no connection token available, staying disconnected", zap.Error(err))
		} else {
			m.logger.Warn("failed to fetch connection token", zap.Error(err))
		}

		m.mu.Lock()
		if generation == m.generation {
			m.transition(triggerAbort)
		}
		m.unlockAndNotify()

		return
	}

	endpoint := BuildURL(m.config.PageURL, m.config.DevHost, token)

	transport, err := m.dialer.Dial(ctx, endpoint)
	if err != nil {
		m.logger.Warn("failed to open realtime connection", zap.Error(err))
		m.handleClose(generation, err)

		return
	}

	m.mu.Lock()

	if generation != m.generation || m.status != StatusConnecting {
		m.mu.Unlock()
		m.closeTransport(transport)

		return
	}

	m.transport = transport
	m.attempts = 0
	m.transition(triggerOpen)
	m.startHeartbeatLocked()

	m.unlockAndNotify()

	m.logger.Info("realtime connection established")

	go m.readLoop(generation, transport)
}

func (m *Manager) readLoop(generation uint64, transport Transport) {
	for {
		data, err := transport.ReadMessage()
		if err != nil {
			m.handleClose(generation, err)

			return
		}

		m.receive(generation, data)
	}
}

func (m *Manager) receive(generation uint64, data []byte) {
	m.mu.Lock()
	current := generation == m.generation
	m.mu.Unlock()

	if !current {
		return
	}

	msg, err := event.Decode(data)
	if err != nil {
		m.logger.Warn("dropping inbound message", zap.Error(err))

		return
	}

	if event.IsControl(msg.Type) {
		m.logger.Debug("control message received", zap.String("eventType", string(msg.Type)))

		return
	}

	if m.registry.HandlerCount(msg.Type)+m.registry.HandlerCount(event.Wildcard) == 0 {
		m.logger.Debug("no handler for inbound event", zap.String("eventType", string(msg.Type)))

		return
	}

	msg.Origin = event.OriginRealtime
	m.registry.Dispatch(msg)
}

func (m *Manager) handleClose(generation uint64, cause error) {
	m.mu.Lock()

	if generation != m.generation {
		m.mu.Unlock()

		return
	}

	m.generation++
	transport := m.transport
	m.transport = nil
	m.stopHeartbeatLocked()

	if IsNormalClosure(cause) {
		m.transition(triggerCloseNormal)
		m.unlockAndNotify()

		m.logger.Info("realtime connection closed")

		return
	}

	m.logger.Warn("realtime connection lost", zap.Error(cause))

	m.transition(triggerFail)
	m.scheduleReconnectLocked()
	m.unlockAndNotify()

	if transport != nil {
		m.closeTransport(transport)
	}
}

func (m *Manager) scheduleReconnectLocked() {
	m.transition(triggerSettle)

	if len(m.subscribers) == 0 {
		return
	}

	if m.config.Backoff.Exhausted(m.attempts) {
		m.logger.Warn("giving up reconnecting",
			zap.Int("attempts", m.attempts))

		return
	}

	m.attempts++
	delay := m.config.Backoff.Delay(m.attempts)
	generation := m.generation

	m.logger.Info("scheduling reconnect",
		zap.Int("attempt", m.attempts),
		zap.Duration("delay", delay))

	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.reconnect(generation)
	})
}

func (m *Manager) reconnect(generation uint64) {
	m.mu.Lock()

	if generation != m.generation || m.status != StatusDisconnected || len(m.subscribers) == 0 {
		m.mu.Unlock()

		return
	}

	m.reconnectTimer = nil
	attempt := m.beginAttemptLocked()
	m.unlockAndNotify()

	m.dial(m.ctx, attempt)
}

// IMPORTANT: It must be called only when m.mu is held.
func (m *Manager) beginAttemptLocked() uint64 {
	m.stopReconnectLocked()
	m.generation++
	m.transition(triggerDial)

	return m.generation
}

// IMPORTANT: It must be called only when m.mu is held. The returned
// transport must be closed after unlocking.
func (m *Manager) teardownLocked() Transport {
	m.generation++
	m.stopReconnectLocked()
	m.stopHeartbeatLocked()

	transport := m.transport
	m.transport = nil

	if m.status != StatusDisconnected {
		m.transition(triggerCloseNormal)
	}

	return transport
}

func (m *Manager) startHeartbeatLocked() {
	stop := make(chan struct{})
	m.heartbeatStop = stop

	go func() {
		ticker := time.NewTicker(m.config.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.Send(event.NewPing(time.Now()))
			}
		}
	}()
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
}

func (m *Manager) stopReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

func (m *Manager) transition(t trigger) {
	to, ok := next(m.status, t)
	if !ok {
		m.logger.Error("illegal connection transition",
			zap.String("status", string(m.status)),
			zap.String("trigger", string(t)))

		return
	}

	if to == m.status {
		return
	}

	m.status = to
	m.pending = append(m.pending, to)
}

// unlockAndNotify releases m.mu and then reports queued transitions to
// listeners, so listeners may call back into the manager.
func (m *Manager) unlockAndNotify() {
	changes := m.pending
	m.pending = nil

	var listeners []func(Status)
	if len(changes) > 0 {
		listeners = make([]func(Status), 0, len(m.listeners))
		for _, listener := range m.listeners {
			listeners = append(listeners, listener)
		}
	}

	m.mu.Unlock()

	for _, status := range changes {
		for _, listener := range listeners {
			listener(status)
		}
	}
}

func (m *Manager) closeTransport(transport Transport) {
	if err := transport.Close(); err != nil {
		m.logger.Debug("failed to close transport", zap.Error(err))
	}
}
