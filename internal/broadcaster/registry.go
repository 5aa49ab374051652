package broadcaster

import (
	"errors"
	"sync"

	"github.com/goevery/hotelsync/internal/ierr"
	"go.uber.org/zap"
)

// Registry tracks which staff devices listen on which hotel channels.
type Registry interface {
	// Broadcast queues message for every device on its channel and returns
	// how many devices it was queued for.
	Broadcast(message Message) int
	Subscribe(channel string, connection *Connection) error
	Unsubscribe(channel string, connectionId string)
	Disconnect(connectionId string)
	SubscriberCount(channel string) int
}

// device is a connected socket and the channels it listens on.
type device struct {
	connection *Connection
	channels   map[string]struct{}
}

type InMemoryRegistry struct {
	logger *zap.Logger

	mu       sync.RWMutex
	devices  map[string]*device
	channels map[string]map[string]*device
}

func NewInMemoryRegistry(logger *zap.Logger) *InMemoryRegistry {
	return &InMemoryRegistry{
		logger:   logger,
		devices:  make(map[string]*device),
		channels: make(map[string]map[string]*device),
	}
}

// Broadcast never blocks: a device whose queue is full is dropped, and its
// socket is closed by the writer once Send is closed. Sends happen under the
// read lock so no queue is closed while a send is in flight.
func (r *InMemoryRegistry) Broadcast(message Message) int {
	queued := 0
	var lagging []*device

	r.mu.RLock()
	for _, d := range r.channels[message.Channel] {
		select {
		case d.connection.Send <- message:
			queued++
		default:
			lagging = append(lagging, d)
		}
	}
	r.mu.RUnlock()

	if len(lagging) == 0 {
		return queued
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range lagging {
		r.logger.Warn("device is not keeping up, dropping it",
			zap.String("connectionId", d.connection.Id),
			zap.String("channel", message.Channel),
			zap.String("eventType", string(message.Event.Type)))

		r.dropLocked(d)
	}

	return queued
}

func (r *InMemoryRegistry) Subscribe(channel string, connection *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[connection.Id]
	if !ok {
		d = &device{connection: connection, channels: make(map[string]struct{})}
		r.devices[connection.Id] = d
	}

	if _, ok := d.channels[channel]; ok {
		return ierr.New(ierr.ErrorCodeAlreadyExists, errors.New("already listening on "+channel))
	}

	listeners, ok := r.channels[channel]
	if !ok {
		listeners = make(map[string]*device)
		r.channels[channel] = listeners
	}

	listeners[connection.Id] = d
	d.channels[channel] = struct{}{}

	return nil
}

// Unsubscribe stops delivery of channel to the device. The device stays
// known until Disconnect so its queue is closed exactly once.
func (r *InMemoryRegistry) Unsubscribe(channel string, connectionId string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[connectionId]
	if !ok {
		return
	}

	delete(d.channels, channel)
	r.leaveLocked(channel, connectionId)
}

func (r *InMemoryRegistry) Disconnect(connectionId string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.devices[connectionId]; ok {
		r.dropLocked(d)
	}
}

func (r *InMemoryRegistry) SubscriberCount(channel string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.channels[channel])
}

// IMPORTANT: It must be called only when r.mu is held for writing.
func (r *InMemoryRegistry) dropLocked(d *device) {
	if r.devices[d.connection.Id] != d {
		return
	}

	for channel := range d.channels {
		r.leaveLocked(channel, d.connection.Id)
	}

	delete(r.devices, d.connection.Id)
	close(d.connection.Send)
}

// IMPORTANT: It must be called only when r.mu is held for writing.
func (r *InMemoryRegistry) leaveLocked(channel string, connectionId string) {
	listeners, ok := r.channels[channel]
	if !ok {
		return
	}

	delete(listeners, connectionId)
	if len(listeners) == 0 {
		delete(r.channels, channel)
	}
}
