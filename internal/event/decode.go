package event

import (
	"encoding/json"
	"fmt"
)

type decoder func(data json.RawMessage) (Payload, error)

var decoders = map[Type]decoder{
	TypeConnectionAck:      decodeAs[ConnectionAck],
	TypeHeartbeatReply:     decodeAs[HeartbeatReply],
	TypePing:               decodeAs[Ping],
	TypeError:              decodeAs[ErrorReply],
	TypeSubscribe:          decodeAs[Subscription],
	TypeUnsubscribe:        decodeAs[Unsubscription],
	TypePublish:            decodeAs[Publication],
	TypeOrderCreated:       decodeAs[OrderCreated],
	TypeOrderStatusChanged: decodeAs[OrderStatusChanged],
	TypeOrderReady:         decodeAs[OrderReady],
	TypeOrderDelivered:     decodeAs[OrderDelivered],
	TypeBookingCreated:     decodeNotice(TypeBookingCreated),
	TypeBookingUpdated:     decodeNotice(TypeBookingUpdated),
	TypePaymentReceived:    decodeNotice(TypePaymentReceived),
	TypeRoomStatusChanged:  decodeNotice(TypeRoomStatusChanged),
	TypeNewMessage:         decodeNotice(TypeNewMessage),
	TypeSystemAlert:        decodeNotice(TypeSystemAlert),
}

// Decode parses and validates a raw frame.
func Decode(raw []byte) (Message, error) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return FromEnvelope(envelope)
}

func FromEnvelope(envelope Envelope) (Message, error) {
	if envelope.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	decode, ok := decoders[envelope.Type]
	if !ok {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, envelope.Type)
	}

	payload, err := decode(envelope.Data)
	if err != nil {
		return Message{}, err
	}

	if err := payload.Validate(); err != nil {
		return Message{}, err
	}

	return Message{
		Type:      envelope.Type,
		Payload:   payload,
		Timestamp: envelope.Timestamp,
	}, nil
}

func decodeAs[T Payload](data json.RawMessage) (Payload, error) {
	var payload T
	if len(data) == 0 || string(data) == "null" {
		return payload, nil
	}

	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	return payload, nil
}

func decodeNotice(kind Type) decoder {
	return func(data json.RawMessage) (Payload, error) {
		return Notice{Kind: kind, Raw: data}, nil
	}
}

// IsApplication reports whether t is an event subscribers may receive.
func IsApplication(t Type) bool {
	switch t {
	case TypeOrderCreated, TypeOrderStatusChanged, TypeOrderReady, TypeOrderDelivered,
		TypeBookingCreated, TypeBookingUpdated, TypePaymentReceived, TypeRoomStatusChanged,
		TypeNewMessage, TypeSystemAlert:
		return true
	}

	return false
}

