package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/goevery/hotelsync/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestManager(t *testing.T, dialer Dialer, tokens TokenProvider, backoff Backoff) *Manager {
	t.Helper()

	logger := zap.NewNop()
	page, _ := url.Parse("https://hotel.example.com/kitchen")

	manager := NewManager(logger, Config{
		PageURL:           page,
		HeartbeatInterval: time.Hour,
		Backoff:           backoff,
	}, dialer, tokens, NewRegistry(logger))
	t.Cleanup(manager.Close)

	return manager
}

var fastBackoff = Backoff{Base: time.Millisecond, MaxAttempts: 3}

func TestManager_Connect(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		dialer := &fakeDialer{}
		manager := newTestManager(t, dialer, &countingTokens{token: "tok"}, fastBackoff)

		recorder := &statusRecorder{}
		manager.OnStatusChange(recorder.record)

		assert.Equal(t, StatusDisconnected, manager.Status())

		manager.Connect(context.Background(), "A", ConnectOptions{Authenticated: true})

		assert.Equal(t, StatusConnected, manager.Status())
		assert.True(t, manager.IsConnected())
		assert.Equal(t, []Status{StatusConnecting, StatusConnected}, recorder.all())
		require.Equal(t, 1, dialer.dials())
		assert.Equal(t, "wss://hotel.example.com/ws?token=tok", dialer.urls[0])
	})

	t.Run("unauthenticated", func(t *testing.T) {
		dialer := &fakeDialer{}
		tokens := &countingTokens{token: "tok"}
		manager := newTestManager(t, dialer, tokens, fastBackoff)

		manager.Connect(context.Background(), "A", ConnectOptions{Authenticated: false})

		assert.Equal(t, StatusDisconnected, manager.Status())
		assert.Equal(t, 0, dialer.dials())
		assert.Equal(t, int32(0), tokens.calls.Load())
	})

	t.Run("token endpoint says not authenticated", func(t *testing.T) {
		dialer := &fakeDialer{}
		manager := newTestManager(t, dialer, &countingTokens{err: ErrNotAuthenticated}, fastBackoff)

		manager.Connect(context.Background(), "A", ConnectOptions{Authenticated: true})

		assert.Equal(t, StatusDisconnected, manager.Status())
		assert.Equal(t, 0, dialer.dials())

		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, 0, dialer.dials())
	})

	t.Run("token fetch failure does not start a retry loop", func(t *testing.T) {
		dialer := &fakeDialer{}
		tokens := &countingTokens{err: errors.New("connection refused")}
		manager := newTestManager(t, dialer, tokens, fastBackoff)

		manager.Connect(context.Background(), "A", ConnectOptions{Authenticated: true})
		time.Sleep(20 * time.Millisecond)

		assert.Equal(t, StatusDisconnected, manager.Status())
		assert.Equal(t, int32(1), tokens.calls.Load())
		assert.Equal(t, 0, dialer.dials())
	})

	t.Run("many subscribers share one transport", func(t *testing.T) {
		dialer := &fakeDialer{}
		manager := newTestManager(t, dialer, &countingTokens{token: "tok"}, fastBackoff)

		var wg sync.WaitGroup
		for i := range 25 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				manager.Connect(context.Background(), fmt.Sprintf("sub-%d", i), ConnectOptions{Authenticated: true})
			}()
		}
		wg.Wait()

		assert.Eventually(t, manager.IsConnected, time.Second, time.Millisecond)
		assert.Equal(t, 1, dialer.dials())
		assert.Equal(t, 25, manager.SubscriberCount())
	})
}

func TestManager_Disconnect(t *testing.T) {
	dialer := &fakeDialer{}
	manager := newTestManager(t, dialer, &countingTokens{token: "tok"}, fastBackoff)

	manager.Connect(context.Background(), "A", ConnectOptions{Authenticated: true})
	manager.Connect(context.Background(), "B", ConnectOptions{Authenticated: true})
	transport := dialer.last()
	require.NotNil(t, transport)

	manager.Disconnect("A")

	assert.True(t, manager.IsConnected())
	assert.False(t, transport.isClosed())

	manager.Disconnect("B")

	assert.Equal(t, StatusDisconnected, manager.Status())
	assert.True(t, transport.isClosed())
	assert.False(t, manager.Send(event.NewPing(time.Now())))
	assert.Equal(t, 1, dialer.dials())
}

func TestManager_Heartbeat(t *testing.T) {
	dialer := &fakeDialer{}
	logger := zap.NewNop()
	page, _ := url.Parse("http://localhost:5173")

	manager := NewManager(logger, Config{
		PageURL:           page,
		DevHost:           "localhost:8000",
		HeartbeatInterval: 5 * time.Millisecond,
		Backoff:           fastBackoff,
	}, dialer, &countingTokens{token: "tok"}, NewRegistry(logger))
	defer manager.Close()

	manager.Connect(context.Background(), "A", ConnectOptions{Authenticated: true})
	transport := dialer.last()
	require.NotNil(t, transport)
	assert.Equal(t, "ws://localhost:8000/ws?token=tok", dialer.urls[0])

	assert.Eventually(t, func() bool {
		types := transport.writtenTypes()
		return len(types) >= 2 && types[0] == event.TypePing && types[1] == event.TypePing
	}, time.Second, time.Millisecond)

	manager.Disconnect("A")
	sent := len(transport.writtenTypes())
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, sent, len(transport.writtenTypes()))
}

func TestManager_Inbound(t *testing.T) {
	t.Run("dispatches application messages and swallows control frames", func(t *testing.T) {
		dialer := &fakeDialer{}
		manager := newTestManager(t, dialer, &countingTokens{token: "tok"}, fastBackoff)

		received := make(chan event.Message, 8)
		manager.Subscribe(event.Wildcard, func(msg event.Message) {
			received <- msg
		})

		manager.Connect(context.Background(), "A", ConnectOptions{Authenticated: true})
		transport := dialer.last()

		transport.push(`{"type":"connection_established","data":{"connection_id":"c1"}}`)
		transport.push(`{"type":"pong"}`)
		transport.push(`not-json`)
		transport.push(`{"type":"order_ready","data":{"order_id":"o1"}}`)

		select {
		case msg := <-received:
			assert.Equal(t, event.TypeOrderReady, msg.Type)
			assert.Equal(t, event.OriginRealtime, msg.Origin)
		case <-time.After(time.Second):
			t.Fatal("order_ready was not delivered")
		}

		assert.Empty(t, received)
		assert.True(t, manager.IsConnected())
	})

	t.Run("skips frames nobody handles", func(t *testing.T) {
		dialer := &fakeDialer{}
		manager := newTestManager(t, dialer, &countingTokens{token: "tok"}, fastBackoff)

		core, logs := observer.New(zap.DebugLevel)
		manager.logger = zap.New(core)

		received := make(chan event.Message, 1)
		manager.Subscribe(event.TypeOrderReady, func(msg event.Message) {
			received <- msg
		})

		manager.Connect(context.Background(), "A", ConnectOptions{Authenticated: true})
		assert.Equal(t, 1, manager.SubscriberCount())

		transport := dialer.last()
		transport.push(`{"type":"order_created","data":{"order_id":"o1","order_number":"1001"}}`)
		transport.push(`{"type":"order_ready","data":{"order_id":"o1"}}`)

		select {
		case msg := <-received:
			assert.Equal(t, event.TypeOrderReady, msg.Type)
		case <-time.After(time.Second):
			t.Fatal("order_ready was not delivered")
		}

		skipped := logs.FilterMessage("no handler for inbound event").All()
		require.Len(t, skipped, 1)
		assert.Equal(t, "order_created", skipped[0].ContextMap()["eventType"])
	})

	t.Run("handler isolation", func(t *testing.T) {
		dialer := &fakeDialer{}
		manager := newTestManager(t, dialer, &countingTokens{token: "tok"}, fastBackoff)

		manager.Subscribe(event.TypeOrderReady, func(msg event.Message) {
			panic("bad handler")
		})

		received := make(chan event.OrderReady, 1)
		manager.Subscribe(event.TypeOrderReady, func(msg event.Message) {
			received <- msg.Payload.(event.OrderReady)
		})

		manager.Connect(context.Background(), "A", ConnectOptions{Authenticated: true})
		dialer.last().push(`{"type":"order_ready","data":{"order_id":"o1","order_number":"1001"}}`)

		select {
		case payload := <-received:
			assert.Equal(t, "o1", payload.OrderID)
		case <-time.After(time.Second):
			t.Fatal("second handler did not receive the payload")
		}

		assert.True(t, manager.IsConnected())
	})
}

func TestManager_Reconnect(t *testing.T) {
	t.Run("reconnects after an abnormal close", func(t *testing.T) {
		dialer := &fakeDialer{}
		backoff := Backoff{Base: 10 * time.Millisecond, MaxAttempts: 3}
		manager := newTestManager(t, dialer, &countingTokens{token: "tok"}, backoff)

		recorder := &statusRecorder{}
		manager.OnStatusChange(recorder.record)

		manager.Connect(context.Background(), "A", ConnectOptions{Authenticated: true})
		first := dialer.last()
		first.fail()

		assert.Eventually(t, func() bool {
			return dialer.dials() == 2 && manager.IsConnected()
		}, time.Second, time.Millisecond)

		assert.Equal(t, []Status{
			StatusConnecting,
			StatusConnected,
			StatusError,
			StatusDisconnected,
			StatusConnecting,
			StatusConnected,
		}, recorder.all())
	})

	t.Run("normal close does not reconnect", func(t *testing.T) {
		dialer := &fakeDialer{}
		manager := newTestManager(t, dialer, &countingTokens{token: "tok"}, fastBackoff)

		manager.Connect(context.Background(), "A", ConnectOptions{Authenticated: true})
		dialer.last().Close()

		assert.Eventually(t, func() bool {
			return manager.Status() == StatusDisconnected
		}, time.Second, time.Millisecond)

		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, 1, dialer.dials())
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		dialer := &fakeDialer{err: errors.New("connection refused")}
		manager := newTestManager(t, dialer, &countingTokens{token: "tok"}, fastBackoff)

		manager.Connect(context.Background(), "A", ConnectOptions{Authenticated: true})

		assert.Eventually(t, func() bool {
			return dialer.dials() == 1+fastBackoff.MaxAttempts
		}, time.Second, time.Millisecond)

		time.Sleep(30 * time.Millisecond)
		assert.Equal(t, 1+fastBackoff.MaxAttempts, dialer.dials())
		assert.Equal(t, StatusDisconnected, manager.Status())

		dialer.mu.Lock()
		dialer.err = nil
		dialer.mu.Unlock()

		manager.Connect(context.Background(), "A", ConnectOptions{Authenticated: true})
		assert.True(t, manager.IsConnected())
	})

	t.Run("no reconnect without subscribers", func(t *testing.T) {
		dialer := &fakeDialer{}
		manager := newTestManager(t, dialer, &countingTokens{token: "tok"}, fastBackoff)

		manager.Connect(context.Background(), "A", ConnectOptions{Authenticated: true})
		transport := dialer.last()
		manager.Disconnect("A")
		transport.fail()

		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, 1, dialer.dials())
	})
}

func TestManager_Send(t *testing.T) {
	dialer := &fakeDialer{}
	manager := newTestManager(t, dialer, &countingTokens{token: "tok"}, fastBackoff)

	assert.False(t, manager.Send(event.NewPing(time.Now())))

	manager.Connect(context.Background(), "A", ConnectOptions{Authenticated: true})

	envelope, err := event.NewEnvelope(event.Subscription{Channel: "room-service"}, time.Now())
	require.NoError(t, err)

	assert.True(t, manager.Send(envelope))
	assert.Equal(t, []event.Type{event.TypeSubscribe}, dialer.last().writtenTypes())
}
