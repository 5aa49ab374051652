package broadcaster

import (
	"context"

	"github.com/goevery/hotelsync/internal/auth"
)

const sendBufferSize = 64

// Connection is one staff device's socket. Messages for the device are
// queued on Send; the registry closes Send when it drops the device.
type Connection struct {
	Id   string
	Send chan Message

	authentication *auth.Authentication
}

func NewConnection(id string, authentication *auth.Authentication) *Connection {
	return &Connection{
		Id:             id,
		Send:           make(chan Message, sendBufferSize),
		authentication: authentication,
	}
}

// Authentication returns the staff identity the socket was opened with, or
// nil.
func (c *Connection) Authentication() *auth.Authentication {
	return c.authentication
}

type contextKey string

const connectionKey contextKey = "connection"

func WithConnection(ctx context.Context, conn *Connection) context.Context {
	return context.WithValue(ctx, connectionKey, conn)
}

func ConnectionFromContext(ctx context.Context) (*Connection, bool) {
	conn, ok := ctx.Value(connectionKey).(*Connection)

	return conn, ok
}
