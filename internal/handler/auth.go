package handler

import (
	"context"
	"errors"

	"github.com/goevery/hotelsync/internal/auth"
	"github.com/goevery/hotelsync/internal/ierr"
)

type AuthRequest struct {
	Token string `json:"token"`
}

type AuthResponse struct {
	Subject            string   `json:"subject"`
	Role               string   `json:"role,omitempty"`
	AuthorizedChannels []string `json:"authorizedChannels"`
}

type AuthHandlerInterface interface {
	Handle(ctx context.Context, req AuthRequest) (*auth.Authentication, error)
}

// AuthHandler exchanges a staff token for the authentication stored in the
// caller's session.
type AuthHandler struct {
	authenticator *auth.Authenticator
}

func NewAuthHandler(authenticator *auth.Authenticator) *AuthHandler {
	return &AuthHandler{
		authenticator,
	}
}

func (h *AuthHandler) Handle(ctx context.Context, req AuthRequest) (*auth.Authentication, error) {
	if req.Token == "" {
		return nil, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("token is required"))
	}

	authentication, err := h.authenticator.AuthenticateJWT(req.Token)
	if err != nil {
		return nil, err
	}

	if !authentication.IsSubscriber() {
		return nil, ierr.New(ierr.ErrorCodePermissionDenied, errors.New("subscribe scope required to open a session"))
	}

	return authentication, nil
}

func NewAuthResponse(authentication *auth.Authentication) AuthResponse {
	return AuthResponse{
		Subject:            authentication.Subject,
		Role:               authentication.Role,
		AuthorizedChannels: authentication.AuthorizedChannels,
	}
}
