package handler

import (
	"context"
	"errors"
	"time"

	"github.com/goevery/hotelsync/internal/auth"
	"github.com/goevery/hotelsync/internal/broadcaster"
	"github.com/goevery/hotelsync/internal/event"
	"github.com/goevery/hotelsync/internal/ierr"
	"github.com/goevery/hotelsync/internal/persistence"
)

type PublishRequest struct {
	Channel string         `json:"channel"`
	Event   event.Envelope `json:"event"`
}

// PublishResponse is the stored message and the number of devices it was
// queued for.
type PublishResponse struct {
	broadcaster.Message
	Delivered int `json:"delivered"`
}

type PublishHandlerInterface interface {
	Handle(ctx context.Context, req PublishRequest) (PublishResponse, error)
}

type PublishHandler struct {
	persistenceEngine    persistence.Engine
	subscriptionRegistry broadcaster.Registry
	now                  func() time.Time
}

func NewPublishHandler(
	persistenceEngine persistence.Engine,
	subscriptionRegistry broadcaster.Registry,
) *PublishHandler {
	return &PublishHandler{
		persistenceEngine,
		subscriptionRegistry,
		time.Now,
	}
}

// Handle validates the event against the message vocabulary, appends it to
// the event log and fans it out to the channel's subscribers.
func (h *PublishHandler) Handle(ctx context.Context, req PublishRequest) (PublishResponse, error) {
	var authentication *auth.Authentication

	connection, ok := broadcaster.ConnectionFromContext(ctx)
	if ok {
		authentication = connection.Authentication()
	}

	if authentication == nil {
		authentication, ok = auth.AuthenticationFromContext(ctx)
		if !ok {
			return PublishResponse{}, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("user not authenticated"))
		}
	}

	if !authentication.IsPublisher() {
		return PublishResponse{},
			ierr.New(ierr.ErrorCodePermissionDenied, errors.New("user not authorized to publish messages"))
	}

	if !authentication.IsAuthorized(req.Channel) {
		return PublishResponse{},
			ierr.New(ierr.ErrorCodePermissionDenied, errors.New("user not authorized to publish to this channel"))
	}

	channel, err := auth.ParseChannel(req.Channel)
	if err != nil {
		return PublishResponse{}, err
	}

	if !event.IsApplication(req.Event.Type) {
		return PublishResponse{},
			ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("event type cannot be published: "+string(req.Event.Type)))
	}

	if _, err := event.FromEnvelope(req.Event); err != nil {
		return PublishResponse{}, ierr.New(ierr.ErrorCodeInvalidArgument, err)
	}

	envelope := req.Event
	if envelope.Timestamp.IsZero() {
		envelope.Timestamp = h.now()
	}

	message, err := h.persistenceEngine.Save(ctx, persistence.SaveRequest{
		Channel: channel.Name,
		Event:   envelope,
	})
	if err != nil {
		return PublishResponse{}, err
	}

	return PublishResponse{
		Message:   message,
		Delivered: h.subscriptionRegistry.Broadcast(message),
	}, nil
}
