package handler

import (
	"context"
	"errors"
	"time"

	"github.com/goevery/hotelsync/internal/auth"
	"github.com/goevery/hotelsync/internal/ierr"
)

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type TokenHandlerInterface interface {
	Handle(ctx context.Context) (TokenResponse, error)
}

// TokenHandler issues the short-lived token a client presents when opening
// its websocket connection.
type TokenHandler struct {
	authenticator *auth.Authenticator
}

func NewTokenHandler(authenticator *auth.Authenticator) *TokenHandler {
	return &TokenHandler{
		authenticator,
	}
}

func (h *TokenHandler) Handle(ctx context.Context) (TokenResponse, error) {
	authentication, ok := auth.AuthenticationFromContext(ctx)
	if !ok {
		return TokenResponse{}, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("user not authenticated"))
	}

	token, expiresAt, err := h.authenticator.IssueConnectionToken(authentication)
	if err != nil {
		return TokenResponse{}, err
	}

	return TokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}
