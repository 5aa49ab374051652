package handler

import (
	"time"

	"github.com/goevery/hotelsync/internal/event"
)

type HeartbeatHandlerInterface interface {
	Handle() event.Envelope
}

type HeartbeatHandler struct {
	now func() time.Time
}

func NewHeartbeatHandler() *HeartbeatHandler {
	return &HeartbeatHandler{
		now: time.Now,
	}
}

func (h *HeartbeatHandler) Handle() event.Envelope {
	return event.Envelope{
		Type:      event.TypeHeartbeatReply,
		Timestamp: h.now(),
	}
}
