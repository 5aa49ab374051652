package persistence

import (
	"context"

	"github.com/goevery/hotelsync/internal/broadcaster"
	"github.com/goevery/hotelsync/internal/event"
)

// ListLimit caps the number of messages returned by a single List call.
const ListLimit = 100

// Engine stores published events so clients that reconnect can catch up
// on what they missed.
type Engine interface {
	Setup(ctx context.Context) error
	Save(ctx context.Context, request SaveRequest) (broadcaster.Message, error)
	// List returns, oldest first, the messages of channel published after
	// lastSeenId. An empty lastSeenId returns the most recent messages.
	List(ctx context.Context, channel string, lastSeenId string) ([]broadcaster.Message, error)
}

type SaveRequest struct {
	Channel string
	Event   event.Envelope
}
