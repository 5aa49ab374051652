package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/goevery/hotelsync/internal/auth"
	"github.com/goevery/hotelsync/internal/broadcaster"
	"github.com/goevery/hotelsync/internal/event"
	"github.com/goevery/hotelsync/internal/ierr"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

const (
	readLimit    = 64 * 1024
	readTimeout  = 90 * time.Second
	writeTimeout = 10 * time.Second
	replyBuffer  = 16
)

type WebSocketServer struct {
	logger   *zap.Logger
	upgrader *websocket.Upgrader

	authenticator *auth.Authenticator
	registry      broadcaster.Registry
	router        *Router
}

func NewWebSocketServer(
	logger *zap.Logger,
	upgrader *websocket.Upgrader,
	authenticator *auth.Authenticator,
	registry broadcaster.Registry,
	router *Router,
) *WebSocketServer {
	return &WebSocketServer{
		logger,
		upgrader,
		authenticator,
		registry,
		router,
	}
}

func (s *WebSocketServer) Register(router *mux.Router) {
	router.HandleFunc("/ws", s.handle).Methods(http.MethodGet)
}

func (s *WebSocketServer) handle(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(s.logger, w, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("missing token")))
		return
	}

	authentication, err := s.authenticator.AuthenticateConnectionToken(token)
	if err != nil {
		writeError(s.logger, w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	connection := broadcaster.NewConnection(gonanoid.Must(), authentication)
	logger := s.logger.With(
		zap.String("connectionId", connection.Id),
		zap.String("userId", authentication.Subject),
		zap.String("clientIp", r.RemoteAddr),
	)

	logger.Info("websocket connection established")

	conn.SetReadLimit(readLimit)

	ack, err := event.NewEnvelope(event.ConnectionAck{
		ConnectionID: connection.Id,
		UserID:       authentication.Subject,
	}, time.Now())
	if err != nil {
		logger.Error("failed to build connection acknowledgment", zap.Error(err))
		return
	}

	if err := writeEnvelope(conn, ack); err != nil {
		logger.Debug("failed to send connection acknowledgment", zap.Error(err))
		return
	}

	if authentication.IsSubscriber() {
		for _, channel := range authentication.Channels() {
			if err := s.registry.Subscribe(channel, connection); err != nil {
				logger.Debug("failed to subscribe to granted channel",
					zap.String("channel", channel), zap.Error(err))
			}
		}
	}

	replies := make(chan event.Envelope, replyBuffer)
	done := make(chan struct{})
	writerDone := make(chan struct{})

	go s.write(logger, conn, connection, replies, done, writerDone)

	ctx := broadcaster.WithConnection(r.Context(), connection)

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("websocket read failed", zap.Error(err))
			}

			break
		}

		var reply *event.Envelope

		var envelope event.Envelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			errorReply := s.router.errorReply(ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("malformed message")))
			reply = &errorReply
		} else {
			reply = s.router.RouteEnvelope(ctx, envelope)
		}

		if reply == nil {
			continue
		}

		select {
		case replies <- *reply:
		case <-writerDone:
		}
	}

	s.registry.Disconnect(connection.Id)
	close(done)
	<-writerDone

	logger.Info("websocket connection closed")
}

func (s *WebSocketServer) write(
	logger *zap.Logger,
	conn *websocket.Conn,
	connection *broadcaster.Connection,
	replies <-chan event.Envelope,
	done <-chan struct{},
	writerDone chan<- struct{},
) {
	defer close(writerDone)
	defer conn.Close()

	for {
		select {
		case message, ok := <-connection.Send:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "connection too slow"))

				return
			}

			if err := writeEnvelope(conn, message.Event); err != nil {
				logger.Debug("failed to write message", zap.Error(err))
				return
			}
		case reply := <-replies:
			if err := writeEnvelope(conn, reply); err != nil {
				logger.Debug("failed to write reply", zap.Error(err))
				return
			}
		case <-done:
			return
		}
	}
}

func writeEnvelope(conn *websocket.Conn, envelope event.Envelope) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	return conn.WriteJSON(envelope)
}
