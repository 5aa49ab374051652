package broadcaster

import (
	"time"

	"github.com/goevery/hotelsync/internal/event"
)

// Message is an application event addressed to a channel. Subscribers
// receive only its Event envelope.
type Message struct {
	Id         string         `json:"id"`
	CreateTime time.Time      `json:"createTime"`
	Channel    string         `json:"channel"`
	Event      event.Envelope `json:"event"`
}
