// Package localbus is the in-process notification bus shared by the
// realtime and mesh transports. Consumers render from it without knowing
// which transport produced an event.
package localbus

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	TopicMeshMessage = "mesh-message"
	TopicStaffRoster = "staff-roster-update"
)

type Kind string

const (
	KindInfo    Kind = "info"
	KindSuccess Kind = "success"
	KindWarning Kind = "warning"
	KindError   Kind = "error"
)

// Notification is a displayable message.
type Notification struct {
	Title    string
	Message  string
	Kind     Kind
	Icon     string
	Duration time.Duration
	// Source is the transport that produced the notification.
	Source string
}

type StaffMember struct {
	DeviceId string    `json:"deviceId"`
	Name     string    `json:"name"`
	Role     string    `json:"role"`
	LastSeen time.Time `json:"lastSeen"`
	Online   bool      `json:"online"`
}

type RosterUpdate struct {
	Staff []StaffMember
}

type Bus struct {
	logger *zap.Logger

	notifications *topic[Notification]
	rosters       *topic[RosterUpdate]
}

func New(logger *zap.Logger) *Bus {
	return &Bus{
		logger:        logger,
		notifications: newTopic[Notification](logger, TopicMeshMessage),
		rosters:       newTopic[RosterUpdate](logger, TopicStaffRoster),
	}
}

func (b *Bus) OnNotification(listener func(Notification)) func() {
	return b.notifications.subscribe(listener)
}

func (b *Bus) PublishNotification(notification Notification) {
	if notification.Kind == "" {
		notification.Kind = KindInfo
	}

	b.notifications.publish(notification)
}

func (b *Bus) OnRoster(listener func(RosterUpdate)) func() {
	return b.rosters.subscribe(listener)
}

func (b *Bus) PublishRoster(update RosterUpdate) {
	b.rosters.publish(update)
}

type topic[T any] struct {
	logger *zap.Logger
	name   string

	mu        sync.RWMutex
	nextId    uint64
	listeners map[uint64]func(T)
}

func newTopic[T any](logger *zap.Logger, name string) *topic[T] {
	return &topic[T]{
		logger:    logger,
		name:      name,
		listeners: make(map[uint64]func(T)),
	}
}

func (t *topic[T]) subscribe(listener func(T)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextId++
	id := t.nextId
	t.listeners[id] = listener

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()

		delete(t.listeners, id)
	}
}

func (t *topic[T]) publish(value T) {
	t.mu.RLock()
	listeners := make([]func(T), 0, len(t.listeners))
	for _, id := range slices.Sorted(maps.Keys(t.listeners)) {
		listeners = append(listeners, t.listeners[id])
	}
	t.mu.RUnlock()

	for _, listener := range listeners {
		t.deliver(listener, value)
	}
}

func (t *topic[T]) deliver(listener func(T), value T) {
	defer func() {
		if recovered := recover(); recovered != nil {
			t.logger.Error("local bus listener panicked",
				zap.String("topic", t.name),
				zap.Error(fmt.Errorf("%v", recovered)))
		}
	}()

	listener(value)
}
