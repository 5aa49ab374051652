package mesh

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goevery/hotelsync/internal/event"
	"github.com/goevery/hotelsync/internal/localbus"
	"github.com/goevery/hotelsync/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSubscription struct {
	link    *fakeLink
	filter  string
	handler func(topic string, payload []byte)
}

// fakeHub is an in-memory broker delivering synchronously.
type fakeHub struct {
	mu            sync.Mutex
	subscriptions []fakeSubscription
	retained      map[string][]byte
}

func newFakeHub() *fakeHub {
	return &fakeHub{
		retained: make(map[string][]byte),
	}
}

func (h *fakeHub) publish(topic string, payload []byte, retained bool) {
	h.mu.Lock()
	if retained {
		h.retained[topic] = payload
	}

	var handlers []func(string, []byte)
	for _, s := range h.subscriptions {
		if matches(s.filter, topic) {
			handlers = append(handlers, s.handler)
		}
	}
	h.mu.Unlock()

	for _, handler := range handlers {
		handler(topic, payload)
	}
}

func (h *fakeHub) subscribe(s fakeSubscription) {
	h.mu.Lock()
	h.subscriptions = append(h.subscriptions, s)

	retained := make(map[string][]byte)
	for topic, payload := range h.retained {
		if matches(s.filter, topic) {
			retained[topic] = payload
		}
	}
	h.mu.Unlock()

	for topic, payload := range retained {
		s.handler(topic, payload)
	}
}

func (h *fakeHub) drop(link *fakeLink) {
	h.mu.Lock()
	defer h.mu.Unlock()

	kept := h.subscriptions[:0]
	for _, s := range h.subscriptions {
		if s.link != link {
			kept = append(kept, s)
		}
	}
	h.subscriptions = kept
}

func matches(filter, topic string) bool {
	filterParts := strings.Split(filter, "/")
	topicParts := strings.Split(topic, "/")
	if len(filterParts) != len(topicParts) {
		return false
	}

	for i := range filterParts {
		if filterParts[i] != "+" && filterParts[i] != topicParts[i] {
			return false
		}
	}

	return true
}

type fakeLink struct {
	hub *fakeHub

	mu          sync.Mutex
	connected   bool
	unreachable bool
	events      LinkEvents
}

func (l *fakeLink) Connect(ctx context.Context, events LinkEvents) error {
	l.mu.Lock()
	l.events = events
	if l.unreachable {
		l.mu.Unlock()

		return errors.New("connection refused")
	}
	l.connected = true
	l.mu.Unlock()

	events.OnConnect()

	return nil
}

func (l *fakeLink) Publish(topic string, payload []byte, retained bool) error {
	if !l.Connected() {
		return ErrLinkDown
	}

	l.hub.publish(topic, payload, retained)

	return nil
}

func (l *fakeLink) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	if !l.Connected() {
		return ErrLinkDown
	}

	l.hub.subscribe(fakeSubscription{l, topic, handler})

	return nil
}

func (l *fakeLink) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.connected
}

func (l *fakeLink) Close() {
	l.mu.Lock()
	l.connected = false
	l.mu.Unlock()

	l.hub.drop(l)
}

func (l *fakeLink) up() {
	l.mu.Lock()
	l.connected = true
	l.unreachable = false
	events := l.events
	l.mu.Unlock()

	events.OnConnect()
}

func (l *fakeLink) down() {
	l.mu.Lock()
	l.connected = false
	events := l.events
	l.mu.Unlock()

	l.hub.drop(l)
	events.OnConnectionLost(errors.New("broker gone"))
}

type testNode struct {
	*Node
	link          *fakeLink
	registry      *realtime.Registry
	bus           *localbus.Bus
	notifications []localbus.Notification
	events        []event.Message
}

func newTestNode(t *testing.T, hub *fakeHub, config Config, unreachable bool) *testNode {
	t.Helper()

	logger := zap.NewNop()
	tn := &testNode{
		link:     &fakeLink{hub: hub, unreachable: unreachable},
		registry: realtime.NewRegistry(logger),
		bus:      localbus.New(logger),
	}

	tn.bus.OnNotification(func(n localbus.Notification) {
		tn.notifications = append(tn.notifications, n)
	})
	tn.registry.Subscribe(event.Wildcard, func(msg event.Message) {
		tn.events = append(tn.events, msg)
	})

	tn.Node = NewNode(logger, config, tn.link, tn.registry, tn.bus)
	tn.Start(context.Background())
	t.Cleanup(tn.Stop)

	return tn
}

var notice = OrderNotice{
	OrderID:      "o1",
	OrderNumber:  "1001",
	Location:     "Table 5",
	LocationType: "table",
	Items:        []string{"Club sandwich"},
}

func TestNode_NotifyKitchen(t *testing.T) {
	hub := newFakeHub()
	chef := newTestNode(t, hub, Config{DeviceId: "chef-1", Name: "Ana", Role: RoleChef}, false)
	waiter := newTestNode(t, hub, Config{DeviceId: "waiter-1", Name: "Ben", Role: RoleWaiter}, false)

	waiter.NotifyKitchen(notice)

	require.Len(t, chef.notifications, 1)
	assert.Equal(t, "New order #1001", chef.notifications[0].Title)
	assert.Equal(t, "Table 5", chef.notifications[0].Message)
	assert.Equal(t, "mesh", chef.notifications[0].Source)

	require.Len(t, chef.events, 1)
	assert.Equal(t, event.TypeOrderCreated, chef.events[0].Type)
	assert.Equal(t, event.OriginMesh, chef.events[0].Origin)

	created := chef.events[0].Payload.(event.OrderCreated)
	assert.Equal(t, "o1", created.OrderID)
	assert.Equal(t, "table", created.LocationType)
	assert.Equal(t, []event.OrderItem{{Name: "Club sandwich", Quantity: 1}}, created.Items)

	assert.Empty(t, waiter.notifications)
	assert.Empty(t, waiter.events)
}

func TestNode_NotifyWaiters(t *testing.T) {
	hub := newFakeHub()
	chef := newTestNode(t, hub, Config{DeviceId: "chef-1", Role: RoleChef}, false)
	waiter := newTestNode(t, hub, Config{DeviceId: "waiter-1", Role: RoleWaiter}, false)

	chef.NotifyWaiters(notice)

	require.Len(t, waiter.notifications, 1)
	assert.Equal(t, localbus.KindSuccess, waiter.notifications[0].Kind)

	require.Len(t, waiter.events, 1)
	assert.Equal(t, event.TypeOrderReady, waiter.events[0].Type)
	assert.Equal(t, "o1", waiter.events[0].Payload.(event.OrderReady).OrderID)

	assert.Empty(t, chef.notifications)
}

func TestNode_BroadcastIgnoresOwnMessages(t *testing.T) {
	hub := newFakeHub()
	a := newTestNode(t, hub, Config{DeviceId: "a", Role: RoleWaiter}, false)
	b := newTestNode(t, hub, Config{DeviceId: "b", Role: RoleChef}, false)

	a.Broadcast("Fire drill", "Assemble at the lobby", PriorityUrgent)

	assert.Empty(t, a.notifications)
	require.Len(t, b.notifications, 1)
	assert.Equal(t, localbus.KindWarning, b.notifications[0].Kind)
	assert.Empty(t, b.events)
}

func TestNode_SendDirect(t *testing.T) {
	hub := newFakeHub()
	a := newTestNode(t, hub, Config{DeviceId: "a", Role: RoleWaiter}, false)
	b := newTestNode(t, hub, Config{DeviceId: "b", Role: RoleWaiter}, false)
	c := newTestNode(t, hub, Config{DeviceId: "c", Role: RoleWaiter}, false)

	a.SendDirect("b", "Table 7", "Guest asking for you", PriorityNormal)

	require.Len(t, b.notifications, 1)
	assert.Equal(t, "Table 7", b.notifications[0].Title)
	assert.Empty(t, c.notifications)
}

func TestNode_PendingQueue(t *testing.T) {
	hub := newFakeHub()
	a := newTestNode(t, hub, Config{DeviceId: "a", Role: RoleWaiter, QueueSize: 2}, true)
	b := newTestNode(t, hub, Config{DeviceId: "b", Role: RoleWaiter}, false)

	assert.False(t, a.Online())

	a.Broadcast("1", "", PriorityNormal)
	a.Broadcast("2", "", PriorityNormal)
	a.Broadcast("3", "", PriorityNormal)

	assert.Equal(t, 2, a.Status().PendingMessages)
	assert.Empty(t, b.notifications)

	a.link.up()

	assert.True(t, a.Online())
	assert.Equal(t, 0, a.Status().PendingMessages)
	require.Len(t, b.notifications, 2)
	assert.Equal(t, "2", b.notifications[0].Title)
	assert.Equal(t, "3", b.notifications[1].Title)
}

func TestNode_QueueAfterLinkLoss(t *testing.T) {
	hub := newFakeHub()
	a := newTestNode(t, hub, Config{DeviceId: "a", Role: RoleWaiter}, false)
	b := newTestNode(t, hub, Config{DeviceId: "b", Role: RoleWaiter}, false)

	a.link.down()
	a.NotifyKitchen(notice)
	a.Broadcast("Back in 5", "", PriorityLow)
	assert.Equal(t, 2, a.Status().PendingMessages)

	a.link.up()
	require.Len(t, b.notifications, 1)
	assert.Equal(t, "Back in 5", b.notifications[0].Title)
	assert.Equal(t, 0, a.Status().PendingMessages)
}

func TestNode_Roster(t *testing.T) {
	hub := newFakeHub()
	clock := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	b := newTestNode(t, hub, Config{DeviceId: "b", Name: "Ben", Role: RoleWaiter}, false)
	newTestNode(t, hub, Config{DeviceId: "c", Name: "Cleo", Role: RoleChef}, false)

	a := newTestNode(t, hub, Config{
		DeviceId:         "a",
		Name:             "Ana",
		Role:             RoleChef,
		Host:             true,
		PresenceInterval: time.Hour,
		StaleAfter:       time.Minute,
	}, true)
	a.now = func() time.Time { return clock }
	a.link.up()

	roster := a.Roster()
	require.Len(t, roster, 2)
	assert.Equal(t, "Ben", roster[0].Name)
	assert.True(t, roster[0].Online)
	assert.Equal(t, RoleChef, roster[1].Role)

	status := a.Status()
	assert.Equal(t, NetworkRoleHost, status.Role)
	assert.Equal(t, 2, status.ConnectedPeers)
	assert.Equal(t, 2, status.KnownStaff)

	clock = clock.Add(2 * time.Minute)
	b.Broadcast("still here", "", PriorityLow)

	roster = a.Roster()
	require.Len(t, roster, 2)
	assert.Equal(t, "b", roster[0].DeviceId)
	assert.True(t, roster[0].Online)
	assert.Equal(t, "c", roster[1].DeviceId)
	assert.False(t, roster[1].Online)

	status = a.Status()
	assert.Equal(t, 1, status.ConnectedPeers)
	assert.Equal(t, 2, status.KnownStaff)
}

func TestNode_RefreshPublishesRoster(t *testing.T) {
	hub := newFakeHub()
	a := newTestNode(t, hub, Config{DeviceId: "a", Role: RoleChef}, false)
	newTestNode(t, hub, Config{DeviceId: "b", Name: "Ben", Role: RoleWaiter}, false)

	var updates []localbus.RosterUpdate
	a.bus.OnRoster(func(update localbus.RosterUpdate) { updates = append(updates, update) })

	a.refresh()

	require.Len(t, updates, 1)
	require.Len(t, updates[0].Staff, 1)
	assert.Equal(t, "Ben", updates[0].Staff[0].Name)
	assert.Equal(t, NetworkRolePeer, a.Status().Role)
}

func TestNode_StopAnnouncesOffline(t *testing.T) {
	hub := newFakeHub()
	a := newTestNode(t, hub, Config{DeviceId: "a", Role: RoleChef}, false)
	b := newTestNode(t, hub, Config{DeviceId: "b", Role: RoleWaiter}, false)

	require.True(t, a.Roster()[0].Online)

	b.Stop()

	roster := a.Roster()
	require.Len(t, roster, 1)
	assert.False(t, roster[0].Online)
	assert.False(t, b.Online())
}

func TestNode_MalformedMessages(t *testing.T) {
	hub := newFakeHub()
	a := newTestNode(t, hub, Config{DeviceId: "a", Role: RoleChef}, false)

	hub.publish(topicAll, []byte("{not json"), false)
	hub.publish(topicAll, []byte(`{"kind":"order_new","from":"x","title":"no order"}`), false)
	hub.publish(presenceTopic("x"), []byte(`{}`), true)

	assert.Empty(t, a.notifications)
	assert.Empty(t, a.events)
	assert.Empty(t, a.Roster())
}

func TestMatches(t *testing.T) {
	assert.True(t, matches(topicPresence+"+", presenceTopic("a")))
	assert.False(t, matches(topicPresence+"+", topicAll))
	assert.True(t, matches(roleTopic(RoleChef), "hotelsync/mesh/role/chef"))
}

func TestLastWill(t *testing.T) {
	topic, payload, err := LastWill(Config{DeviceId: "kds-1", Name: "Kitchen display", Role: RoleChef})

	require.NoError(t, err)
	assert.Equal(t, "hotelsync/mesh/presence/kds-1", topic)
	assert.JSONEq(t, `{"deviceId":"kds-1","name":"Kitchen display","role":"chef","online":false,"sentAt":"0001-01-01T00:00:00Z"}`, string(payload))
}
