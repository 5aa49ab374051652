package memory

import (
	"context"
	"sync"
	"time"

	"github.com/goevery/hotelsync/internal/broadcaster"
	"github.com/goevery/hotelsync/internal/persistence"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const defaultCapacity = 500

// PersistenceEngine keeps the latest messages of every channel in memory.
// It backs development servers that run without a database.
type PersistenceEngine struct {
	capacity int
	now      func() time.Time

	mu       sync.RWMutex
	channels map[string][]broadcaster.Message
}

func NewPersistenceEngine(capacity int) *PersistenceEngine {
	if capacity <= 0 {
		capacity = defaultCapacity
	}

	return &PersistenceEngine{
		capacity: capacity,
		now:      time.Now,
		channels: make(map[string][]broadcaster.Message),
	}
}

func (e *PersistenceEngine) Setup(ctx context.Context) error {
	return nil
}

func (e *PersistenceEngine) Save(ctx context.Context, request persistence.SaveRequest) (broadcaster.Message, error) {
	message := broadcaster.Message{
		Id:         gonanoid.Must(),
		CreateTime: e.now(),
		Channel:    request.Channel,
		Event:      request.Event,
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	messages := append(e.channels[request.Channel], message)
	if len(messages) > e.capacity {
		messages = messages[len(messages)-e.capacity:]
	}

	e.channels[request.Channel] = messages

	return message, nil
}

// List returns the messages after lastSeenId. When lastSeenId has already
// been evicted, every retained message is newer than it and the oldest ones
// are returned first.
func (e *PersistenceEngine) List(ctx context.Context, channel string, lastSeenId string) ([]broadcaster.Message, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	messages := e.channels[channel]

	if lastSeenId == "" {
		start := max(0, len(messages)-persistence.ListLimit)
		return clone(messages[start:]), nil
	}

	start := 0
	for i, message := range messages {
		if message.Id == lastSeenId {
			start = i + 1
			break
		}
	}

	end := min(len(messages), start+persistence.ListLimit)

	return clone(messages[start:end]), nil
}

func clone(messages []broadcaster.Message) []broadcaster.Message {
	result := make([]broadcaster.Message, len(messages))
	copy(result, messages)

	return result
}
