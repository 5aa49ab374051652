package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/goevery/hotelsync/internal/order"
)

var (
	ErrMalformed      = errors.New("malformed envelope")
	ErrUnknownType    = errors.New("unknown event type")
	ErrInvalidPayload = errors.New("invalid payload")
)

// Payload is implemented by every member of the closed message union.
type Payload interface {
	EventType() Type
	Validate() error
}

type OrderItem struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
	Notes    string  `json:"notes,omitempty"`
}

type OrderCreated struct {
	OrderID       string      `json:"order_id"`
	OrderNumber   string      `json:"order_number"`
	Location      string      `json:"location"`
	LocationType  string      `json:"location_type"`
	Items         []OrderItem `json:"items,omitempty"`
	Subtotal      float64     `json:"subtotal,omitempty"`
	Tax           float64     `json:"tax,omitempty"`
	ServiceCharge float64     `json:"service_charge,omitempty"`
	TotalAmount   float64     `json:"total_amount,omitempty"`
	Priority      string      `json:"priority,omitempty"`
	CustomerName  string      `json:"customer_name,omitempty"`
	CreatedAt     time.Time   `json:"created_at,omitzero"`
}

func (OrderCreated) EventType() Type { return TypeOrderCreated }

func (p OrderCreated) Validate() error {
	return requireOrderID(p.OrderID)
}

// OrderStatusChanged may carry a status this client does not know yet. The
// status is checked where it is applied.
type OrderStatusChanged struct {
	OrderID     string       `json:"order_id"`
	OrderNumber string       `json:"order_number,omitempty"`
	OldStatus   order.Status `json:"old_status,omitempty"`
	NewStatus   order.Status `json:"new_status"`
	Location    string       `json:"location,omitempty"`
}

func (OrderStatusChanged) EventType() Type { return TypeOrderStatusChanged }

func (p OrderStatusChanged) Validate() error {
	if err := requireOrderID(p.OrderID); err != nil {
		return err
	}

	if p.NewStatus == "" {
		return fmt.Errorf("%w: missing new_status", ErrInvalidPayload)
	}

	return nil
}

type OrderReady struct {
	OrderID      string `json:"order_id"`
	OrderNumber  string `json:"order_number,omitempty"`
	Location     string `json:"location,omitempty"`
	LocationType string `json:"location_type,omitempty"`
}

func (OrderReady) EventType() Type { return TypeOrderReady }

func (p OrderReady) Validate() error {
	return requireOrderID(p.OrderID)
}

type OrderDelivered struct {
	OrderID      string `json:"order_id"`
	OrderNumber  string `json:"order_number,omitempty"`
	Location     string `json:"location,omitempty"`
	LocationType string `json:"location_type,omitempty"`
}

func (OrderDelivered) EventType() Type { return TypeOrderDelivered }

func (p OrderDelivered) Validate() error {
	return requireOrderID(p.OrderID)
}

type ConnectionAck struct {
	ConnectionID string `json:"connection_id,omitempty"`
	UserID       string `json:"user_id,omitempty"`
}

func (ConnectionAck) EventType() Type { return TypeConnectionAck }
func (ConnectionAck) Validate() error { return nil }

type HeartbeatReply struct{}

func (HeartbeatReply) EventType() Type { return TypeHeartbeatReply }
func (HeartbeatReply) Validate() error { return nil }

type Ping struct{}

func (Ping) EventType() Type { return TypePing }
func (Ping) Validate() error { return nil }

type ErrorReply struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (ErrorReply) EventType() Type { return TypeError }
func (ErrorReply) Validate() error { return nil }

type Subscription struct {
	Channel string `json:"channel"`
}

func (Subscription) EventType() Type { return TypeSubscribe }

func (p Subscription) Validate() error {
	if p.Channel == "" {
		return fmt.Errorf("%w: missing channel", ErrInvalidPayload)
	}

	return nil
}

type Unsubscription struct {
	Channel string `json:"channel"`
}

func (Unsubscription) EventType() Type { return TypeUnsubscribe }

func (p Unsubscription) Validate() error {
	return Subscription(p).Validate()
}

// Publication asks the server to fan an application event out to a channel.
type Publication struct {
	Channel string   `json:"channel"`
	Event   Envelope `json:"event"`
}

func (Publication) EventType() Type { return TypePublish }

func (p Publication) Validate() error {
	if p.Channel == "" {
		return fmt.Errorf("%w: missing channel", ErrInvalidPayload)
	}

	if IsControl(p.Event.Type) || !IsApplication(p.Event.Type) {
		return fmt.Errorf("%w: %q cannot be published", ErrInvalidPayload, p.Event.Type)
	}

	return nil
}

// Notice carries booking, payment, room, message and system events, which
// belong to the vocabulary but are not interpreted by this layer.
type Notice struct {
	Kind Type
	Raw  json.RawMessage
}

func (n Notice) EventType() Type { return n.Kind }
func (Notice) Validate() error   { return nil }

func (n Notice) MarshalJSON() ([]byte, error) {
	if len(n.Raw) == 0 {
		return []byte("null"), nil
	}

	return n.Raw, nil
}

func requireOrderID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: missing order_id", ErrInvalidPayload)
	}

	return nil
}
