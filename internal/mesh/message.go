package mesh

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	topicPrefix   = "hotelsync/mesh"
	topicAll      = topicPrefix + "/all"
	topicPresence = topicPrefix + "/presence/"
	topicRole     = topicPrefix + "/role/"
	topicDevice   = topicPrefix + "/device/"
)

const (
	RoleChef   = "chef"
	RoleWaiter = "waiter"
)

func roleTopic(role string) string {
	return topicRole + role
}

func deviceTopic(deviceId string) string {
	return topicDevice + deviceId
}

func presenceTopic(deviceId string) string {
	return topicPresence + deviceId
}

func isPresenceTopic(topic string) bool {
	return strings.HasPrefix(topic, topicPresence)
}

type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

type Kind string

const (
	KindNotification Kind = "notification"
	KindOrderNew     Kind = "order_new"
	KindOrderReady   Kind = "order_ready"
)

// OrderNotice carries the essential fields of an order across the mesh.
type OrderNotice struct {
	OrderID      string   `json:"orderId"`
	OrderNumber  string   `json:"orderNumber"`
	Location     string   `json:"location"`
	LocationType string   `json:"locationType,omitempty"`
	Items        []string `json:"items,omitempty"`
}

// Message is one peer-to-peer mesh message.
type Message struct {
	Id       string       `json:"id"`
	Kind     Kind         `json:"kind"`
	From     string       `json:"from"`
	FromName string       `json:"fromName,omitempty"`
	FromRole string       `json:"fromRole,omitempty"`
	Title    string       `json:"title"`
	Body     string       `json:"body,omitempty"`
	Priority Priority     `json:"priority"`
	Order    *OrderNotice `json:"order,omitempty"`
	SentAt   time.Time    `json:"sentAt"`
}

func decodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, fmt.Errorf("decode mesh message: %w", err)
	}

	if msg.From == "" || msg.Kind == "" {
		return Message{}, errors.New("decode mesh message: missing sender or kind")
	}

	if (msg.Kind == KindOrderNew || msg.Kind == KindOrderReady) && (msg.Order == nil || msg.Order.OrderID == "") {
		return Message{}, fmt.Errorf("decode mesh message: %s without order", msg.Kind)
	}

	return msg, nil
}

// Presence is the retained announcement a device keeps on its presence
// topic. The broker replaces it with an offline copy when the device
// vanishes.
type Presence struct {
	DeviceId string    `json:"deviceId"`
	Name     string    `json:"name"`
	Role     string    `json:"role"`
	Online   bool      `json:"online"`
	SentAt   time.Time `json:"sentAt"`
}

// LastWill returns the retained offline presence the broker publishes on
// behalf of a device whose connection drops without a clean Stop.
func LastWill(config Config) (string, []byte, error) {
	payload, err := json.Marshal(Presence{
		DeviceId: config.DeviceId,
		Name:     config.Name,
		Role:     config.Role,
		Online:   false,
	})
	if err != nil {
		return "", nil, fmt.Errorf("marshal last will: %w", err)
	}

	return presenceTopic(config.DeviceId), payload, nil
}
