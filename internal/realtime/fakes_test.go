package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/goevery/hotelsync/internal/event"
	"github.com/gorilla/websocket"
)

type fakeTransport struct {
	inbound chan []byte
	closing chan error

	mu      sync.Mutex
	written []event.Envelope
	closed  bool
	once    sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []byte, 16),
		closing: make(chan error, 1),
	}
}

func (t *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case data := <-t.inbound:
		return data, nil
	case err := <-t.closing:
		return nil, err
	}
}

func (t *fakeTransport) WriteMessage(data []byte) error {
	var envelope event.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return errors.New("transport closed")
	}

	t.written = append(t.written, envelope)

	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	t.once.Do(func() {
		t.closing <- &websocket.CloseError{Code: websocket.CloseNormalClosure}
	})

	return nil
}

func (t *fakeTransport) push(raw string) {
	t.inbound <- []byte(raw)
}

// fail simulates an abnormal close coming from the network.
func (t *fakeTransport) fail() {
	t.once.Do(func() {
		t.closing <- &websocket.CloseError{Code: websocket.CloseAbnormalClosure}
	})
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.closed
}

func (t *fakeTransport) writtenTypes() []event.Type {
	t.mu.Lock()
	defer t.mu.Unlock()

	types := make([]event.Type, 0, len(t.written))
	for _, envelope := range t.written {
		types = append(types, envelope.Type)
	}

	return types
}

type fakeDialer struct {
	mu         sync.Mutex
	urls       []string
	transports []*fakeTransport
	err        error
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.urls = append(d.urls, url)

	if d.err != nil {
		return nil, d.err
	}

	transport := newFakeTransport()
	d.transports = append(d.transports, transport)

	return transport, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.urls)
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.transports) == 0 {
		return nil
	}

	return d.transports[len(d.transports)-1]
}

type countingTokens struct {
	calls atomic.Int32
	token string
	err   error
}

func (p *countingTokens) Token(ctx context.Context) (string, error) {
	p.calls.Add(1)

	return p.token, p.err
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *statusRecorder) record(status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.statuses = append(r.statuses, status)
}

func (r *statusRecorder) all() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Status(nil), r.statuses...)
}
