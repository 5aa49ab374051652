package realtime

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"

	"github.com/goevery/hotelsync/internal/event"
	"go.uber.org/zap"
)

type Handler func(msg event.Message)

// EventHandler is the comparable form of Handler, usually a pointer.
// Registering the same EventHandler twice for one event type keeps a single
// registration.
type EventHandler interface {
	HandleEvent(msg event.Message)
}

type registration struct {
	handler Handler
	owner   EventHandler
}

// Registry maps event types to handlers. Both the realtime connection and
// the mesh dispatch into the same registry.
type Registry struct {
	logger *zap.Logger
	mu     sync.RWMutex

	nextId   uint64
	handlers map[event.Type]map[uint64]registration
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:   logger,
		handlers: make(map[event.Type]map[uint64]registration),
	}
}

// Subscribe registers handler for eventType and returns its disposer.
// Functions cannot be compared, so registering the same function twice
// yields two registrations; use Register when that matters.
func (r *Registry) Subscribe(eventType event.Type, handler Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.addLocked(eventType, registration{handler: handler})
}

// Register registers handler for eventType and returns its disposer. A
// handler already registered for eventType is not added again; the
// returned disposer removes the existing registration.
func (r *Registry) Register(eventType event.Type, handler EventHandler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !reflect.TypeOf(handler).Comparable() {
		return r.addLocked(eventType, registration{handler: handler.HandleEvent})
	}

	for id, existing := range r.handlers[eventType] {
		if existing.owner == handler {
			return r.disposer(eventType, id)
		}
	}

	return r.addLocked(eventType, registration{
		handler: handler.HandleEvent,
		owner:   handler,
	})
}

// IMPORTANT: It must be called only when r.mu is held.
func (r *Registry) addLocked(eventType event.Type, entry registration) func() {
	r.nextId++
	id := r.nextId

	bucket, ok := r.handlers[eventType]
	if !ok {
		bucket = make(map[uint64]registration)
		r.handlers[eventType] = bucket
	}
	bucket[id] = entry

	return r.disposer(eventType, id)
}

func (r *Registry) disposer(eventType event.Type, id uint64) func() {
	var once sync.Once

	return func() {
		once.Do(func() {
			r.remove(eventType, id)
		})
	}
}

func (r *Registry) remove(eventType event.Type, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket, ok := r.handlers[eventType]
	if !ok {
		return
	}

	delete(bucket, id)
	if len(bucket) == 0 {
		delete(r.handlers, eventType)
	}
}

// Dispatch delivers msg to handlers of its type, in registration order, and
// then to wildcard handlers. Handlers are snapshotted first so they may
// unsubscribe freely.
func (r *Registry) Dispatch(msg event.Message) {
	r.mu.RLock()
	typed := snapshot(r.handlers[msg.Type])
	var wildcard []Handler
	if msg.Type != event.Wildcard {
		wildcard = snapshot(r.handlers[event.Wildcard])
	}
	r.mu.RUnlock()

	for _, handler := range typed {
		r.invoke(handler, msg)
	}

	for _, handler := range wildcard {
		r.invoke(handler, msg)
	}
}

// HandlerCount returns the number of handlers registered for eventType.
func (r *Registry) HandlerCount(eventType event.Type) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.handlers[eventType])
}

func (r *Registry) invoke(handler Handler, msg event.Message) {
	defer func() {
		if recovered := recover(); recovered != nil {
			r.logger.Error("event handler panicked",
				zap.String("eventType", string(msg.Type)),
				zap.Error(fmt.Errorf("%v", recovered)))
		}
	}()

	handler(msg)
}

func snapshot(bucket map[uint64]registration) []Handler {
	if len(bucket) == 0 {
		return nil
	}

	handlers := make([]Handler, 0, len(bucket))
	for _, id := range slices.Sorted(maps.Keys(bucket)) {
		handlers = append(handlers, bucket[id].handler)
	}

	return handlers
}
