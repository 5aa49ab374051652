package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/goevery/hotelsync/internal/auth"
	"github.com/goevery/hotelsync/internal/handler"
	"github.com/goevery/hotelsync/internal/ierr"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type RESTServer struct {
	logger *zap.Logger

	authenticator  *auth.Authenticator
	sessionStore   *auth.SessionStore
	authHandler    handler.AuthHandlerInterface
	tokenHandler   handler.TokenHandlerInterface
	publishHandler handler.PublishHandlerInterface
	historyHandler handler.HistoryHandlerInterface
}

func NewRESTServer(
	logger *zap.Logger,
	authenticator *auth.Authenticator,
	sessionStore *auth.SessionStore,
	authHandler handler.AuthHandlerInterface,
	tokenHandler handler.TokenHandlerInterface,
	publishHandler handler.PublishHandlerInterface,
	historyHandler handler.HistoryHandlerInterface,
) *RESTServer {
	return &RESTServer{
		logger,
		authenticator,
		sessionStore,
		authHandler,
		tokenHandler,
		publishHandler,
		historyHandler,
	}
}

func (s *RESTServer) Register(router *mux.Router) {
	router.HandleFunc("/push", s.push).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/api/session", s.openSession).Methods(http.MethodPost)
	router.HandleFunc("/api/session", s.closeSession).Methods(http.MethodDelete)
	router.HandleFunc("/api/ws/token", s.issueToken).Methods(http.MethodGet)
	router.HandleFunc("/api/events", s.listEvents).Methods(http.MethodGet)
}

func (s *RESTServer) push(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if r.Method == http.MethodOptions {
		return
	}

	authentication, err := s.authenticator.AuthenticateAPIKey(bearerToken(r))
	if err != nil {
		writeError(s.logger, w, err)
		return
	}

	var publishRequest handler.PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&publishRequest); err != nil {
		writeError(s.logger, w, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid request body")))
		return
	}

	ctx := auth.WithAuthentication(r.Context(), authentication)

	message, err := s.publishHandler.Handle(ctx, publishRequest)
	if err != nil {
		writeError(s.logger, w, err)
		return
	}

	writeJSON(s.logger, w, http.StatusOK, message)
}

// openSession accepts the staff token either as a bearer token or in the
// request body.
func (s *RESTServer) openSession(w http.ResponseWriter, r *http.Request) {
	authRequest := handler.AuthRequest{Token: bearerToken(r)}
	if authRequest.Token == "" {
		if err := json.NewDecoder(r.Body).Decode(&authRequest); err != nil {
			writeError(s.logger, w, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid request body")))
			return
		}
	}

	authentication, err := s.authHandler.Handle(r.Context(), authRequest)
	if err != nil {
		writeError(s.logger, w, err)
		return
	}

	if err := s.sessionStore.Save(w, r, authentication); err != nil {
		writeError(s.logger, w, err)
		return
	}

	writeJSON(s.logger, w, http.StatusOK, handler.NewAuthResponse(authentication))
}

func (s *RESTServer) closeSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessionStore.Clear(w, r); err != nil {
		writeError(s.logger, w, ierr.New(ierr.ErrorCodeInternal, err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *RESTServer) issueToken(w http.ResponseWriter, r *http.Request) {
	ctx, err := s.sessionContext(r)
	if err != nil {
		writeError(s.logger, w, err)
		return
	}

	tokenResponse, err := s.tokenHandler.Handle(ctx)
	if err != nil {
		writeError(s.logger, w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(s.logger, w, http.StatusOK, tokenResponse)
}

// listEvents accepts either a session cookie or an api key.
func (s *RESTServer) listEvents(w http.ResponseWriter, r *http.Request) {
	var ctx context.Context

	if apiKey := bearerToken(r); apiKey != "" {
		authentication, err := s.authenticator.AuthenticateAPIKey(apiKey)
		if err != nil {
			writeError(s.logger, w, err)
			return
		}

		ctx = auth.WithAuthentication(r.Context(), authentication)
	} else {
		var err error

		ctx, err = s.sessionContext(r)
		if err != nil {
			writeError(s.logger, w, err)
			return
		}
	}

	query := r.URL.Query()

	historyResponse, err := s.historyHandler.Handle(ctx, handler.HistoryRequest{
		Channel: query.Get("channel"),
		Since:   query.Get("since"),
	})
	if err != nil {
		writeError(s.logger, w, err)
		return
	}

	writeJSON(s.logger, w, http.StatusOK, historyResponse)
}

func (s *RESTServer) sessionContext(r *http.Request) (context.Context, error) {
	authentication, err := s.sessionStore.Load(r)
	if err != nil {
		return nil, err
	}

	return auth.WithAuthentication(r.Context(), authentication), nil
}

func bearerToken(r *http.Request) string {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}

	return strings.TrimSpace(token)
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Debug("failed to encode response", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, err error) {
	var handlerErr ierr.Error
	if !errors.As(err, &handlerErr) {
		logger.Error("error in http handler", zap.Error(err))

		handlerErr = ierr.New(ierr.ErrorCodeInternal, errors.New("internal error"))
	}

	writeJSON(logger, w, handlerErr.HTTPStatus(), map[string]ierr.Error{"error": handlerErr})
}
