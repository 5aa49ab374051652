package server

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/goevery/hotelsync/internal/event"
	"github.com/goevery/hotelsync/internal/handler"
	"github.com/goevery/hotelsync/internal/ierr"
	"go.uber.org/zap"
)

// Router answers the control envelopes a client sends over its socket.
type Router struct {
	logger *zap.Logger

	heartbeatHandler    handler.HeartbeatHandlerInterface
	subscriptionHandler handler.SubscriptionHandlerInterface
	publishHandler      handler.PublishHandlerInterface
}

func NewRouter(
	logger *zap.Logger,
	heartbeatHandler handler.HeartbeatHandlerInterface,
	subscriptionHandler handler.SubscriptionHandlerInterface,
	publishHandler handler.PublishHandlerInterface,
) *Router {
	return &Router{
		logger,
		heartbeatHandler,
		subscriptionHandler,
		publishHandler,
	}
}

// RouteEnvelope returns the reply to send back, or nil when there is none.
func (r *Router) RouteEnvelope(ctx context.Context, envelope event.Envelope) *event.Envelope {
	response, err := r.Handle(ctx, envelope)
	if err != nil {
		reply := r.errorReply(r.mapError(err))

		return &reply
	}

	if response == nil {
		return nil
	}

	if reply, ok := response.(event.Envelope); ok {
		return &reply
	}

	data, err := json.Marshal(response)
	if err != nil {
		reply := r.errorReply(r.mapError(err))

		return &reply
	}

	return &event.Envelope{
		Type:      envelope.Type,
		Data:      data,
		Timestamp: time.Now(),
	}
}

func (r *Router) Handle(ctx context.Context, envelope event.Envelope) (any, error) {
	switch envelope.Type {
	case event.TypePing:
		return r.heartbeatHandler.Handle(), nil
	case event.TypeSubscribe, event.TypeUnsubscribe:
		var subscriptionReq handler.SubscriptionRequest
		if err := decodeData(envelope.Data, &subscriptionReq); err != nil {
			return nil, err
		}

		if envelope.Type == event.TypeUnsubscribe {
			return r.subscriptionHandler.Unsubscribe(ctx, subscriptionReq)
		}

		return r.subscriptionHandler.Subscribe(ctx, subscriptionReq)
	case event.TypePublish:
		var publishReq handler.PublishRequest
		if err := decodeData(envelope.Data, &publishReq); err != nil {
			return nil, err
		}

		response, err := r.publishHandler.Handle(ctx, publishReq)
		if err != nil {
			return nil, err
		}

		return publishAck{response.Id, response.Channel, response.Delivered}, nil
	default:
		return nil, ierr.New(ierr.ErrorCodeNotFound, errors.New("unknown message type: "+string(envelope.Type)))
	}
}

type publishAck struct {
	Id        string `json:"id"`
	Channel   string `json:"channel"`
	Delivered int    `json:"delivered"`
}

func (r *Router) errorReply(err ierr.Error) event.Envelope {
	data, _ := json.Marshal(event.ErrorReply{
		Code:    string(err.Code),
		Message: err.Message,
	})

	return event.Envelope{
		Type:      event.TypeError,
		Data:      data,
		Timestamp: time.Now(),
	}
}

func (r *Router) mapError(err error) ierr.Error {
	var handlerErr ierr.Error
	if errors.As(err, &handlerErr) {
		return handlerErr
	}

	r.logger.Error("error in message handler", zap.Error(err))

	return ierr.New(ierr.ErrorCodeInternal, errors.New("internal error"))
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("missing data"))
	}

	if err := json.Unmarshal(data, v); err != nil {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid data: "+err.Error()))
	}

	return nil
}
