// Package mesh is the offline fallback that lets staff devices on the same
// network segment exchange order alerts through an on-premises MQTT broker
// when the realtime backend is unreachable. Delivery is advisory only.
package mesh

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/goevery/hotelsync/internal/event"
	"github.com/goevery/hotelsync/internal/localbus"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

const (
	NetworkRoleHost = "host"
	NetworkRolePeer = "peer"
)

type Config struct {
	DeviceId string
	Name     string
	Role     string
	// Host marks the device that runs the on-premises broker.
	Host             bool
	PresenceInterval time.Duration
	StaleAfter       time.Duration
	QueueSize        int
}

func (c Config) withDefaults() Config {
	if c.PresenceInterval <= 0 {
		c.PresenceInterval = 15 * time.Second
	}

	if c.StaleAfter <= 0 {
		c.StaleAfter = 3 * c.PresenceInterval
	}

	if c.QueueSize <= 0 {
		c.QueueSize = 100
	}

	return c
}

type NetworkStatus struct {
	Role            string
	ConnectedPeers  int
	KnownStaff      int
	PendingMessages int
}

// Dispatcher receives order notices translated into realtime events.
type Dispatcher interface {
	Dispatch(msg event.Message)
}

type outbound struct {
	topic   string
	payload []byte
}

type peer struct {
	presence Presence
	lastSeen time.Time
}

type Node struct {
	logger     *zap.Logger
	config     Config
	link       Link
	dispatcher Dispatcher
	bus        *localbus.Bus
	now        func() time.Time

	mu      sync.Mutex
	pending []outbound
	peers   map[string]peer
	started bool

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewNode(
	logger *zap.Logger,
	config Config,
	link Link,
	dispatcher Dispatcher,
	bus *localbus.Bus,
) *Node {
	return &Node{
		logger:     logger.With(zap.String("deviceId", config.DeviceId)),
		config:     config.withDefaults(),
		link:       link,
		dispatcher: dispatcher,
		bus:        bus,
		now:        time.Now,
		peers:      make(map[string]peer),
		stopCh:     make(chan struct{}),
	}
}

// Start connects to the broker and begins the presence loop. A broker that
// cannot be reached is not an error: outbound messages queue until it is.
func (n *Node) Start(ctx context.Context) {
	n.mu.Lock()
	if n.started {
		n.mu.Unlock()

		return
	}
	n.started = true
	n.mu.Unlock()

	err := n.link.Connect(ctx, LinkEvents{
		OnConnect:        n.onConnect,
		OnConnectionLost: n.onConnectionLost,
	})
	if err != nil {
		n.logger.Debug("mesh broker unreachable", zap.Error(err))
	}

	n.wg.Add(1)
	go n.presenceLoop()
}

func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		close(n.stopCh)
		n.wg.Wait()

		n.publishPresence(false)
		n.link.Close()
	})
}

func (n *Node) NotifyKitchen(notice OrderNotice) {
	n.send(roleTopic(RoleChef), Message{
		Kind:     KindOrderNew,
		Title:    fmt.Sprintf("New order #%s", notice.OrderNumber),
		Body:     notice.Location,
		Priority: PriorityHigh,
		Order:    &notice,
	})
}

func (n *Node) NotifyWaiters(notice OrderNotice) {
	n.send(roleTopic(RoleWaiter), Message{
		Kind:     KindOrderReady,
		Title:    fmt.Sprintf("Order #%s is ready", notice.OrderNumber),
		Body:     notice.Location,
		Priority: PriorityUrgent,
		Order:    &notice,
	})
}

func (n *Node) Broadcast(title, body string, priority Priority) {
	n.send(topicAll, Message{
		Kind:     KindNotification,
		Title:    title,
		Body:     body,
		Priority: priority,
	})
}

func (n *Node) SendDirect(deviceId, title, body string, priority Priority) {
	n.send(deviceTopic(deviceId), Message{
		Kind:     KindNotification,
		Title:    title,
		Body:     body,
		Priority: priority,
	})
}

func (n *Node) Online() bool {
	return n.link.Connected()
}

func (n *Node) Status() NetworkStatus {
	n.mu.Lock()
	defer n.mu.Unlock()

	role := NetworkRolePeer
	if n.config.Host {
		role = NetworkRoleHost
	}

	now := n.now()
	connected := 0
	for _, p := range n.peers {
		if n.reachable(p, now) {
			connected++
		}
	}

	return NetworkStatus{
		Role:            role,
		ConnectedPeers:  connected,
		KnownStaff:      len(n.peers),
		PendingMessages: len(n.pending),
	}
}

// Roster lists every peer seen so far, reachable staff first.
func (n *Node) Roster() []localbus.StaffMember {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.rosterLocked(n.now())
}

// IMPORTANT: It must be called only when n.mu is held.
func (n *Node) rosterLocked(now time.Time) []localbus.StaffMember {
	staff := make([]localbus.StaffMember, 0, len(n.peers))
	for _, p := range n.peers {
		staff = append(staff, localbus.StaffMember{
			DeviceId: p.presence.DeviceId,
			Name:     p.presence.Name,
			Role:     p.presence.Role,
			LastSeen: p.lastSeen,
			Online:   n.reachable(p, now),
		})
	}

	slices.SortFunc(staff, func(a, b localbus.StaffMember) int {
		if a.Online != b.Online {
			if a.Online {
				return -1
			}

			return 1
		}

		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.DeviceId, b.DeviceId))
	})

	return staff
}

func (n *Node) reachable(p peer, now time.Time) bool {
	return p.presence.Online && now.Sub(p.lastSeen) <= n.config.StaleAfter
}

func (n *Node) send(topic string, msg Message) {
	msg.Id = gonanoid.Must()
	msg.From = n.config.DeviceId
	msg.FromName = n.config.Name
	msg.FromRole = n.config.Role
	msg.SentAt = n.now()

	payload, err := json.Marshal(msg)
	if err != nil {
		n.logger.Debug("mesh message not encodable", zap.Error(err))
		return
	}

	item := outbound{topic, payload}

	// Messages queued earlier go out first.
	n.flush()

	if n.link.Connected() && n.countPending() == 0 {
		err := n.link.Publish(topic, payload, false)
		if err == nil {
			return
		}

		n.logger.Debug("mesh publish failed, queueing", zap.String("topic", topic), zap.Error(err))
	}

	n.enqueue(item)
}

func (n *Node) countPending() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return len(n.pending)
}

func (n *Node) enqueue(items ...outbound) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.pending = append(n.pending, items...)
	n.trimLocked()
}

// IMPORTANT: It must be called only when n.mu is held.
func (n *Node) trimLocked() {
	if overflow := len(n.pending) - n.config.QueueSize; overflow > 0 {
		n.logger.Debug("mesh queue full, dropping oldest", zap.Int("dropped", overflow))
		n.pending = slices.Delete(n.pending, 0, overflow)
	}
}

func (n *Node) flush() {
	if !n.link.Connected() {
		return
	}

	n.mu.Lock()
	pending := n.pending
	n.pending = nil
	n.mu.Unlock()

	for i, item := range pending {
		if err := n.link.Publish(item.topic, item.payload, false); err != nil {
			n.logger.Debug("mesh flush interrupted", zap.Error(err))

			n.mu.Lock()
			n.pending = append(slices.Clone(pending[i:]), n.pending...)
			n.trimLocked()
			n.mu.Unlock()

			return
		}
	}
}

func (n *Node) onConnect() {
	n.logger.Debug("mesh link up")

	topics := []string{
		topicAll,
		deviceTopic(n.config.DeviceId),
		topicPresence + "+",
	}
	if n.config.Role != "" {
		topics = append(topics, roleTopic(n.config.Role))
	}

	for _, topic := range topics {
		if err := n.link.Subscribe(topic, n.receive); err != nil {
			n.logger.Debug("mesh subscribe failed", zap.String("topic", topic), zap.Error(err))
		}
	}

	n.publishPresence(true)
	n.flush()
}

func (n *Node) onConnectionLost(err error) {
	n.logger.Debug("mesh link lost", zap.Error(err))
}

func (n *Node) receive(topic string, payload []byte) {
	if isPresenceTopic(topic) {
		n.receivePresence(payload)
		return
	}

	msg, err := decodeMessage(payload)
	if err != nil {
		n.logger.Debug("mesh message dropped", zap.String("topic", topic), zap.Error(err))
		return
	}

	if msg.From == n.config.DeviceId {
		return
	}

	n.touch(Presence{DeviceId: msg.From, Name: msg.FromName, Role: msg.FromRole, Online: true})

	n.bus.PublishNotification(localbus.Notification{
		Title:   msg.Title,
		Message: msg.Body,
		Kind:    kindFor(msg),
		Source:  string(event.OriginMesh),
	})

	if translated, ok := translate(msg); ok {
		n.dispatcher.Dispatch(translated)
	}
}

func (n *Node) receivePresence(payload []byte) {
	var presence Presence
	if err := json.Unmarshal(payload, &presence); err != nil || presence.DeviceId == "" {
		n.logger.Debug("mesh presence dropped", zap.Error(err))
		return
	}

	if presence.DeviceId == n.config.DeviceId {
		return
	}

	n.touch(presence)
}

func (n *Node) touch(presence Presence) {
	n.mu.Lock()
	defer n.mu.Unlock()

	existing, known := n.peers[presence.DeviceId]
	if known {
		if presence.Name == "" {
			presence.Name = existing.presence.Name
		}

		if presence.Role == "" {
			presence.Role = existing.presence.Role
		}
	}

	n.peers[presence.DeviceId] = peer{presence, n.now()}
}

func (n *Node) publishPresence(online bool) {
	if !n.link.Connected() {
		return
	}

	payload, err := json.Marshal(Presence{
		DeviceId: n.config.DeviceId,
		Name:     n.config.Name,
		Role:     n.config.Role,
		Online:   online,
		SentAt:   n.now(),
	})
	if err != nil {
		return
	}

	if err := n.link.Publish(presenceTopic(n.config.DeviceId), payload, true); err != nil {
		n.logger.Debug("mesh presence not published", zap.Error(err))
	}
}

func (n *Node) presenceLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.config.PresenceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			n.refresh()
		}
	}
}

// refresh announces this device, retries queued messages and publishes the
// current roster.
func (n *Node) refresh() {
	n.publishPresence(true)
	n.flush()

	n.mu.Lock()
	staff := n.rosterLocked(n.now())
	n.mu.Unlock()

	n.bus.PublishRoster(localbus.RosterUpdate{Staff: staff})
}

func kindFor(msg Message) localbus.Kind {
	switch {
	case msg.Kind == KindOrderReady:
		return localbus.KindSuccess
	case msg.Priority >= PriorityUrgent:
		return localbus.KindWarning
	default:
		return localbus.KindInfo
	}
}

// translate turns order notices into the same events the realtime
// connection delivers, so order views apply them identically.
func translate(msg Message) (event.Message, bool) {
	var payload event.Payload

	switch msg.Kind {
	case KindOrderNew:
		payload = event.OrderCreated{
			OrderID:      msg.Order.OrderID,
			OrderNumber:  msg.Order.OrderNumber,
			Location:     msg.Order.Location,
			LocationType: msg.Order.LocationType,
			Items:        items(msg.Order.Items),
			CreatedAt:    msg.SentAt,
		}
	case KindOrderReady:
		payload = event.OrderReady{
			OrderID:      msg.Order.OrderID,
			OrderNumber:  msg.Order.OrderNumber,
			Location:     msg.Order.Location,
			LocationType: msg.Order.LocationType,
		}
	default:
		return event.Message{}, false
	}

	return event.Message{
		Type:      payload.EventType(),
		Payload:   payload,
		Timestamp: msg.SentAt,
		Origin:    event.OriginMesh,
	}, true
}

func items(names []string) []event.OrderItem {
	if len(names) == 0 {
		return nil
	}

	items := make([]event.OrderItem, 0, len(names))
	for _, name := range names {
		items = append(items, event.OrderItem{Name: name, Quantity: 1})
	}

	return items
}
