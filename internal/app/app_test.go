package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goevery/hotelsync/internal/auth"
	"github.com/goevery/hotelsync/internal/broadcaster"
	"github.com/goevery/hotelsync/internal/config"
	"github.com/goevery/hotelsync/internal/handler"
	"github.com/goevery/hotelsync/internal/localbus"
	"github.com/goevery/hotelsync/internal/mesh"
	"github.com/goevery/hotelsync/internal/order"
	"github.com/goevery/hotelsync/internal/orders"
	"github.com/goevery/hotelsync/internal/persistence/memory"
	"github.com/goevery/hotelsync/internal/realtime"
	"github.com/goevery/hotelsync/internal/server"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

const (
	testSecret = "test-secret"
	testAPIKey = "test-api-key"
)

type backend struct {
	server   *httptest.Server
	registry *broadcaster.InMemoryRegistry
}

func newBackend(t *testing.T) *backend {
	t.Helper()

	logger := zap.NewNop()
	authenticator := auth.NewAuthenticator(testSecret, []string{testAPIKey}, time.Minute)
	registry := broadcaster.NewInMemoryRegistry(logger)
	engine := memory.NewPersistenceEngine(0)
	publishHandler := handler.NewPublishHandler(engine, registry)

	router := mux.NewRouter()

	server.NewWebSocketServer(
		logger,
		&websocket.Upgrader{},
		authenticator,
		registry,
		server.NewRouter(
			logger,
			handler.NewHeartbeatHandler(),
			handler.NewSubscriptionHandler(registry),
			publishHandler,
		),
	).Register(router)

	server.NewRESTServer(
		logger,
		authenticator,
		auth.NewSessionStore([]byte("0123456789abcdef0123456789abcdef"), false),
		handler.NewAuthHandler(authenticator),
		handler.NewTokenHandler(authenticator),
		publishHandler,
		handler.NewHistoryHandler(engine),
	).Register(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &backend{
		srv,
		registry,
	}
}

func (b *backend) push(t *testing.T, body string) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, b.server.URL+"/push", bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func staffToken(t *testing.T) string {
	return staffTokenFor(t, []string{"kitchen"}, auth.ScopeSubscribe)
}

func staffTokenFor(t *testing.T, channels []string, scope ...string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":                "kds-1",
		"exp":                time.Now().Add(time.Hour).Unix(),
		"iat":                time.Now().Unix(),
		"aud":                auth.StaffAudience,
		"role":               "chef",
		"authorizedChannels": channels,
		"scope":              scope,
	})

	tokenString, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	return tokenString
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Device.Id = "kds-1"
	cfg.Device.Name = "Main kitchen"
	cfg.Log.Encoding = "json"

	return cfg
}

func quietBell() fx.Option {
	return fx.Provide(fx.Annotate(
		func() io.Writer { return io.Discard },
		fx.ResultTags(`name:"bell"`),
	))
}

func TestModule_Validate(t *testing.T) {
	cfg := testConfig()
	cfg.Mesh.Enabled = true

	require.NoError(t, fx.ValidateApp(fx.Supply(cfg), Module))
}

func TestKitchenDisplay_RealtimeOrders(t *testing.T) {
	backend := newBackend(t)

	cfg := testConfig()
	cfg.Backend.BaseURL = backend.server.URL
	cfg.Backend.StaffToken = staffToken(t)

	var feed *orders.Feed
	var manager *realtime.Manager

	app := fxtest.New(t,
		fx.Supply(cfg),
		Module,
		quietBell(),
		fx.Populate(&feed, &manager),
	)
	app.RequireStart()
	defer app.RequireStop()

	require.Eventually(t, manager.IsConnected, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return backend.registry.SubscriberCount("kitchen") == 1
	}, 2*time.Second, 10*time.Millisecond)

	backend.push(t, `{"channel":"kitchen","event":{"type":"order_created","data":{"order_id":"o1","order_number":"1001","location":"Table 5","location_type":"table"}}}`)

	require.Eventually(t, func() bool {
		_, ok := feed.Order("o1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	backend.push(t, `{"channel":"kitchen","event":{"type":"order_ready","data":{"order_id":"o1","order_number":"1001"}}}`)

	require.Eventually(t, func() bool {
		record, _ := feed.Order("o1")
		return record.Status == order.StatusReady
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, feed.NewOrderCount())
}

func TestKitchenDisplay_WithoutSession(t *testing.T) {
	var manager *realtime.Manager

	app := fxtest.New(t,
		fx.Supply(testConfig()),
		Module,
		quietBell(),
		fx.Populate(&manager),
	)
	app.RequireStart()
	defer app.RequireStop()

	assert.Equal(t, realtime.StatusDisconnected, manager.Status())
}

type loopbackLink struct {
	mu            sync.Mutex
	connected     bool
	subscriptions map[string]func(topic string, payload []byte)
	published     []string
}

func (l *loopbackLink) Connect(ctx context.Context, events mesh.LinkEvents) error {
	l.mu.Lock()
	l.connected = true
	l.mu.Unlock()

	events.OnConnect()

	return nil
}

func (l *loopbackLink) Publish(topic string, payload []byte, retained bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.published = append(l.published, topic)

	return nil
}

func (l *loopbackLink) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.subscriptions[topic] = handler

	return nil
}

func (l *loopbackLink) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.connected
}

func (l *loopbackLink) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.connected = false
}

func (l *loopbackLink) deliver(t *testing.T, topic string, payload []byte) {
	t.Helper()

	l.mu.Lock()
	handler, ok := l.subscriptions[topic]
	l.mu.Unlock()

	require.True(t, ok, "no subscription for %s", topic)
	handler(topic, payload)
}

func TestKitchenDisplay_MeshOrders(t *testing.T) {
	cfg := testConfig()
	cfg.Mesh.Enabled = true

	link := &loopbackLink{subscriptions: make(map[string]func(string, []byte))}

	var feed *orders.Feed
	var node *mesh.Node
	var bus *localbus.Bus

	app := fxtest.New(t,
		fx.Supply(cfg),
		Module,
		quietBell(),
		fx.Provide(func() mesh.Link { return link }),
		fx.Populate(&feed, &node, &bus),
	)

	var notifications []localbus.Notification
	var mu sync.Mutex

	app.RequireStart()
	defer app.RequireStop()

	bus.OnNotification(func(notification localbus.Notification) {
		mu.Lock()
		defer mu.Unlock()

		notifications = append(notifications, notification)
	})

	require.NotNil(t, node)
	assert.True(t, node.Online())

	payload, err := json.Marshal(mesh.Message{
		Id:       "m1",
		Kind:     mesh.KindOrderNew,
		From:     "waiter-tablet-2",
		FromName: "Terrace tablet",
		FromRole: mesh.RoleWaiter,
		Title:    "New order #1009",
		Priority: mesh.PriorityHigh,
		Order: &mesh.OrderNotice{
			OrderID:     "o9",
			OrderNumber: "1009",
			Location:    "Table 3",
			Items:       []string{"Pad thai"},
		},
		SentAt: time.Now(),
	})
	require.NoError(t, err)

	link.deliver(t, "hotelsync/mesh/role/chef", payload)

	record, ok := feed.Order("o9")
	require.True(t, ok)
	assert.Equal(t, "1009", record.Number)
	assert.Equal(t, order.StatusPending, record.Status)

	mu.Lock()
	defer mu.Unlock()

	fromMesh := 0
	for _, notification := range notifications {
		if notification.Source == "mesh" {
			fromMesh++
		}
	}
	assert.Equal(t, 1, fromMesh)
}

func TestRegisterBusLogger(t *testing.T) {
	bus := localbus.New(zap.NewNop())
	registerBusLogger(zap.NewNop(), bus)

	assert.NotPanics(t, func() {
		bus.PublishNotification(localbus.Notification{Title: "Order ready", Kind: localbus.KindSuccess})
		bus.PublishRoster(localbus.RosterUpdate{Staff: []localbus.StaffMember{{Name: "Ana", Online: true}}})
	})
}
