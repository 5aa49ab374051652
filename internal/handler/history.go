package handler

import (
	"context"
	"errors"

	"github.com/goevery/hotelsync/internal/auth"
	"github.com/goevery/hotelsync/internal/broadcaster"
	"github.com/goevery/hotelsync/internal/ierr"
	"github.com/goevery/hotelsync/internal/persistence"
)

type HistoryRequest struct {
	Channel string `json:"channel"`
	Since   string `json:"since,omitempty"`
}

type HistoryResponse struct {
	Messages []broadcaster.Message `json:"messages"`
}

type HistoryHandlerInterface interface {
	Handle(ctx context.Context, req HistoryRequest) (HistoryResponse, error)
}

// HistoryHandler replays persisted events so a client that was offline can
// catch up after reconnecting.
type HistoryHandler struct {
	persistenceEngine persistence.Engine
}

func NewHistoryHandler(persistenceEngine persistence.Engine) *HistoryHandler {
	return &HistoryHandler{
		persistenceEngine,
	}
}

func (h *HistoryHandler) Handle(ctx context.Context, req HistoryRequest) (HistoryResponse, error) {
	channel, err := auth.ParseChannel(req.Channel)
	if err != nil {
		return HistoryResponse{}, err
	}

	authentication, ok := auth.AuthenticationFromContext(ctx)
	if !ok {
		return HistoryResponse{}, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("user not authenticated"))
	}

	if !authentication.IsAuthorized(channel.Name) {
		return HistoryResponse{},
			ierr.New(ierr.ErrorCodePermissionDenied, errors.New("user not authorized to access this channel"))
	}

	messages, err := h.persistenceEngine.List(ctx, channel.Name, req.Since)
	if err != nil {
		return HistoryResponse{}, err
	}

	if messages == nil {
		messages = []broadcaster.Message{}
	}

	return HistoryResponse{
		Messages: messages,
	}, nil
}
