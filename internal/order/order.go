package order

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusServed    Status = "served"
	StatusDelivered Status = "delivered"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var knownStatuses = map[Status]struct{}{
	StatusPending:   {},
	StatusConfirmed: {},
	StatusPreparing: {},
	StatusReady:     {},
	StatusServed:    {},
	StatusDelivered: {},
	StatusCompleted: {},
	StatusCancelled: {},
}

func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if !status.Valid() {
		return "", fmt.Errorf("unknown order status %q", s)
	}

	return status, nil
}

func (s Status) Valid() bool {
	_, ok := knownStatuses[s]
	return ok
}

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

const (
	LocationTable    = "table"
	LocationRoom     = "room"
	LocationPoolside = "poolside"
	LocationTakeaway = "takeaway"
)

type Item struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
	Notes    string  `json:"notes,omitempty"`
}

// Record is the locally cached projection of an order. It is not the
// authoritative backend order.
type Record struct {
	ID            string               `json:"id"`
	Number        string               `json:"order_number"`
	Location      string               `json:"location"`
	LocationType  string               `json:"location_type"`
	Status        Status               `json:"status"`
	Items         []Item               `json:"items"`
	Subtotal      float64              `json:"subtotal"`
	Tax           float64              `json:"tax"`
	ServiceCharge float64              `json:"service_charge"`
	Total         float64              `json:"total_amount"`
	Priority      Priority             `json:"priority"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
	StatusTimes   map[Status]time.Time `json:"status_times,omitempty"`
}

// Transition moves the record to status and stamps the time it was reached.
func (r *Record) Transition(status Status, at time.Time) {
	r.Status = status
	r.UpdatedAt = at

	if r.StatusTimes == nil {
		r.StatusTimes = make(map[Status]time.Time)
	}
	r.StatusTimes[status] = at
}

func (r Record) ReachedAt(status Status) (time.Time, bool) {
	at, ok := r.StatusTimes[status]
	return at, ok
}

func (r Record) Clone() Record {
	clone := r

	if r.Items != nil {
		clone.Items = make([]Item, len(r.Items))
		copy(clone.Items, r.Items)
	}

	if r.StatusTimes != nil {
		clone.StatusTimes = make(map[Status]time.Time, len(r.StatusTimes))
		for status, at := range r.StatusTimes {
			clone.StatusTimes[status] = at
		}
	}

	return clone
}
