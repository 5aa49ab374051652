package event

import (
	"encoding/json"
	"fmt"
	"time"
)

type Type string

// Wildcard subscribers receive every application message.
const Wildcard Type = "*"

const (
	TypeConnectionAck  Type = "connection_established"
	TypeHeartbeatReply Type = "pong"
	TypePing           Type = "ping"
	TypeError          Type = "error"

	TypeSubscribe   Type = "subscribe"
	TypeUnsubscribe Type = "unsubscribe"
	TypePublish     Type = "publish"

	TypeOrderCreated       Type = "order_created"
	TypeOrderStatusChanged Type = "order_status_changed"
	TypeOrderReady         Type = "order_ready"
	TypeOrderDelivered     Type = "order_delivered"

	TypeBookingCreated    Type = "booking_created"
	TypeBookingUpdated    Type = "booking_updated"
	TypePaymentReceived   Type = "payment_received"
	TypeRoomStatusChanged Type = "room_status_changed"
	TypeNewMessage        Type = "new_message"
	TypeSystemAlert       Type = "system_alert"
)

// IsControl reports whether t is handled by the connection itself and never
// forwarded to subscribers.
func IsControl(t Type) bool {
	return t == TypeConnectionAck || t == TypeHeartbeatReply
}

// Envelope is the wire form of every message in both directions.
type Envelope struct {
	Type      Type            `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitzero"`
}

func NewEnvelope(payload Payload, timestamp time.Time) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", payload.EventType(), err)
	}

	return Envelope{
		Type:      payload.EventType(),
		Data:      data,
		Timestamp: timestamp,
	}, nil
}

func NewPing(now time.Time) Envelope {
	return Envelope{
		Type:      TypePing,
		Timestamp: now,
	}
}

type Origin string

const (
	OriginRealtime Origin = "realtime"
	OriginMesh     Origin = "mesh"
)

// Message is a validated envelope.
type Message struct {
	Type      Type
	Payload   Payload
	Timestamp time.Time
	Origin    Origin
}

func (m Message) Envelope() (Envelope, error) {
	return NewEnvelope(m.Payload, m.Timestamp)
}
