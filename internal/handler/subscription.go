package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goevery/hotelsync/internal/auth"
	"github.com/goevery/hotelsync/internal/broadcaster"
	"github.com/goevery/hotelsync/internal/ierr"
)

type SubscriptionRequest struct {
	Channel string `json:"channel"`
}

type SubscriptionResponse struct {
	Channel     string           `json:"channel"`
	Kind        auth.ChannelKind `json:"kind"`
	Subscribed  bool             `json:"subscribed"`
	Subscribers int              `json:"subscribers"`
	Timestamp   time.Time        `json:"timestamp"`
}

type SubscriptionHandlerInterface interface {
	Subscribe(ctx context.Context, req SubscriptionRequest) (SubscriptionResponse, error)
	Unsubscribe(ctx context.Context, req SubscriptionRequest) (SubscriptionResponse, error)
}

// SubscriptionHandler joins and leaves hotel channels on behalf of the
// device bound to the request context.
type SubscriptionHandler struct {
	registry broadcaster.Registry
	now      func() time.Time
}

func NewSubscriptionHandler(registry broadcaster.Registry) *SubscriptionHandler {
	return &SubscriptionHandler{
		registry,
		time.Now,
	}
}

// Subscribe lets a device listen on a channel its staff role or token
// grants. Staff may always listen on their own staff channel.
func (h *SubscriptionHandler) Subscribe(ctx context.Context, req SubscriptionRequest) (SubscriptionResponse, error) {
	channel, err := auth.ParseChannel(req.Channel)
	if err != nil {
		return SubscriptionResponse{}, err
	}

	connection, ok := broadcaster.ConnectionFromContext(ctx)
	if !ok {
		return SubscriptionResponse{}, errors.New("connection not found in context")
	}

	authentication := connection.Authentication()
	if authentication == nil {
		return SubscriptionResponse{},
			ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("authentication required"))
	}

	if !authentication.IsSubscriber() {
		return SubscriptionResponse{},
			ierr.New(ierr.ErrorCodePermissionDenied, errors.New("subscribe scope required to subscribe to a channel"))
	}

	if !authentication.IsAuthorized(channel.Name) {
		return SubscriptionResponse{}, ierr.New(ierr.ErrorCodePermissionDenied,
			fmt.Errorf("role %q may not listen on %s", authentication.Role, channel.Name))
	}

	err = h.registry.Subscribe(channel.Name, connection)
	if err != nil {
		return SubscriptionResponse{}, err
	}

	return SubscriptionResponse{
		Channel:     channel.Name,
		Kind:        channel.Kind,
		Subscribed:  true,
		Subscribers: h.registry.SubscriberCount(channel.Name),
		Timestamp:   h.now(),
	}, nil
}

func (h *SubscriptionHandler) Unsubscribe(ctx context.Context, req SubscriptionRequest) (SubscriptionResponse, error) {
	channel, err := auth.ParseChannel(req.Channel)
	if err != nil {
		return SubscriptionResponse{}, err
	}

	connection, ok := broadcaster.ConnectionFromContext(ctx)
	if !ok {
		return SubscriptionResponse{}, errors.New("connection not found in context")
	}

	h.registry.Unsubscribe(channel.Name, connection.Id)

	return SubscriptionResponse{
		Channel:     channel.Name,
		Kind:        channel.Kind,
		Subscribed:  false,
		Subscribers: h.registry.SubscriberCount(channel.Name),
		Timestamp:   h.now(),
	}, nil
}
