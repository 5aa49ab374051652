package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/goevery/hotelsync/internal/auth"
	"github.com/goevery/hotelsync/internal/event"
	"github.com/goevery/hotelsync/internal/mesh"
	"github.com/goevery/hotelsync/internal/order"
	"github.com/goevery/hotelsync/internal/orders"
	"github.com/goevery/hotelsync/internal/realtime"
	"go.uber.org/zap"
)

var ErrMeshDisabled = errors.New("mesh is disabled")

// Route names the path an announcement took.
type Route string

const (
	RouteRealtime Route = "realtime"
	RouteMesh     Route = "mesh"
	RouteLocal    Route = "local"
)

// Station runs the commands staff type at the kitchen display. Order updates
// are announced over the realtime connection while it is up and over the
// mesh otherwise.
type Station struct {
	logger  *zap.Logger
	feed    *orders.Feed
	manager *realtime.Manager
	node    *mesh.Node
	now     func() time.Time

	mu     sync.Mutex
	online bool
	stops  []func()
}

func NewStation(logger *zap.Logger, feed *orders.Feed, manager *realtime.Manager, node *mesh.Node) *Station {
	return &Station{
		logger:  logger,
		feed:    feed,
		manager: manager,
		node:    node,
		now:     time.Now,
	}
}

func (s *Station) Start() {
	s.mu.Lock()
	s.online = s.manager.IsConnected()
	s.mu.Unlock()

	stops := []func(){
		s.manager.OnStatusChange(s.onStatusChange),
		s.manager.Subscribe(event.TypeError, s.onRejected),
	}

	s.mu.Lock()
	s.stops = stops
	s.mu.Unlock()
}

func (s *Station) Stop() {
	s.mu.Lock()
	stops := s.stops
	s.stops = nil
	s.online = false
	s.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
}

func (s *Station) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.online
}

func (s *Station) onStatusChange(status realtime.Status) {
	s.mu.Lock()
	s.online = status == realtime.StatusConnected
	s.mu.Unlock()

	s.logger.Info("realtime status changed",
		zap.String("status", string(status)),
		zap.Int("subscribers", s.manager.SubscriberCount()),
		zap.Bool("meshFallback", status != realtime.StatusConnected && s.node != nil))
}

// onRejected reports requests the server refused, such as a publish to a
// channel the staff token does not grant.
func (s *Station) onRejected(msg event.Message) {
	reply, ok := msg.Payload.(event.ErrorReply)
	if !ok {
		return
	}

	s.logger.Warn("server rejected request",
		zap.String("code", reply.Code),
		zap.String("message", reply.Message))
}

// Ready marks an order ready and tells the waiters.
func (s *Station) Ready(id string) (Route, error) {
	record, err := s.feed.Bump(id, order.StatusReady)
	if err != nil {
		return "", err
	}

	payload := event.OrderReady{
		OrderID:      record.ID,
		OrderNumber:  record.Number,
		Location:     record.Location,
		LocationType: record.LocationType,
	}
	if s.publish(auth.ChannelWaiters, payload) {
		return RouteRealtime, nil
	}

	if s.node == nil {
		return RouteLocal, nil
	}

	s.node.NotifyWaiters(noticeFor(record))

	return RouteMesh, nil
}

// SetStatus moves an order to status. Ready orders are announced the way
// Ready does; other changes only reach the kitchen channel while online.
func (s *Station) SetStatus(id, status string) (Route, error) {
	parsed, err := order.ParseStatus(status)
	if err != nil {
		return "", err
	}

	if parsed == order.StatusReady {
		return s.Ready(id)
	}

	previous, ok := s.feed.Order(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", orders.ErrUnknownOrder, id)
	}

	record, err := s.feed.Bump(id, parsed)
	if err != nil {
		return "", err
	}

	payload := event.OrderStatusChanged{
		OrderID:     record.ID,
		OrderNumber: record.Number,
		OldStatus:   previous.Status,
		NewStatus:   record.Status,
		Location:    record.Location,
	}
	if s.publish(auth.ChannelKitchen, payload) {
		return RouteRealtime, nil
	}

	return RouteLocal, nil
}

// TakeOrder records an order taken at the pass and tells the other kitchen
// stations about it.
func (s *Station) TakeOrder(id, number, location string) (Route, error) {
	if id == "" || number == "" {
		return "", errors.New("order id and number are required")
	}

	if _, ok := s.feed.Order(id); ok {
		return "", fmt.Errorf("order %s already exists", id)
	}

	now := s.now()
	record := order.Record{
		ID:        id,
		Number:    number,
		Location:  location,
		Priority:  order.PriorityNormal,
		CreatedAt: now,
	}
	record.Transition(order.StatusPending, now)

	s.feed.AddOrders([]order.Record{record})

	payload := event.OrderCreated{
		OrderID:     record.ID,
		OrderNumber: record.Number,
		Location:    record.Location,
		Priority:    string(record.Priority),
		CreatedAt:   now,
	}
	if s.publish(auth.ChannelKitchen, payload) {
		return RouteRealtime, nil
	}

	if s.node == nil {
		return RouteLocal, nil
	}

	s.node.NotifyKitchen(noticeFor(record))

	return RouteMesh, nil
}

// Announce reaches every device on the mesh.
func (s *Station) Announce(title, body string) error {
	if s.node == nil {
		return ErrMeshDisabled
	}

	s.node.Broadcast(title, body, mesh.PriorityNormal)

	return nil
}

// Page reaches a single device on the mesh.
func (s *Station) Page(deviceId, body string) error {
	if s.node == nil {
		return ErrMeshDisabled
	}

	s.node.SendDirect(deviceId, "Message from the kitchen", body, mesh.PriorityHigh)

	return nil
}

// Execute runs one command line and returns the reply for the operator.
func (s *Station) Execute(line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}

	command, args := fields[0], fields[1:]

	switch command {
	case "ready":
		if len(args) != 1 {
			return "", errors.New("usage: ready <order-id>")
		}

		route, err := s.Ready(args[0])
		if err != nil {
			return "", err
		}

		return fmt.Sprintf("order %s ready (%s)", args[0], route), nil
	case "status":
		if len(args) != 2 {
			return "", errors.New("usage: status <order-id> <status>")
		}

		route, err := s.SetStatus(args[0], args[1])
		if err != nil {
			return "", err
		}

		return fmt.Sprintf("order %s %s (%s)", args[0], args[1], route), nil
	case "order":
		if len(args) < 2 {
			return "", errors.New("usage: order <order-id> <number> [location]")
		}

		route, err := s.TakeOrder(args[0], args[1], strings.Join(args[2:], " "))
		if err != nil {
			return "", err
		}

		return fmt.Sprintf("order #%s taken (%s)", args[1], route), nil
	case "clear":
		return fmt.Sprintf("cleared %d finished orders", s.feed.ClearFinished()), nil
	case "ack":
		s.feed.ClearNewOrderCount()

		return "new orders acknowledged", nil
	case "announce":
		if len(args) == 0 {
			return "", errors.New("usage: announce <text>")
		}

		if err := s.Announce(strings.Join(args, " "), ""); err != nil {
			return "", err
		}

		return "announced", nil
	case "page":
		if len(args) < 2 {
			return "", errors.New("usage: page <device-id> <text>")
		}

		if err := s.Page(args[0], strings.Join(args[1:], " ")); err != nil {
			return "", err
		}

		return "paged " + args[0], nil
	default:
		return "", fmt.Errorf("unknown command %q", command)
	}
}

// Run reads commands from r until it is exhausted or ctx is done, writing
// replies to w.
func (s *Station) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}

		reply, err := s.Execute(scanner.Text())
		if err != nil {
			fmt.Fprintln(w, "error:", err)
			continue
		}

		if reply != "" {
			fmt.Fprintln(w, reply)
		}
	}

	return scanner.Err()
}

// publish sends payload to channel over the realtime connection and reports
// whether it was written.
func (s *Station) publish(channel string, payload event.Payload) bool {
	if !s.Online() {
		return false
	}

	now := s.now()

	inner, err := event.NewEnvelope(payload, now)
	if err != nil {
		s.logger.Error("failed to encode announcement", zap.Error(err))
		return false
	}

	envelope, err := event.NewEnvelope(event.Publication{Channel: channel, Event: inner}, now)
	if err != nil {
		s.logger.Error("failed to encode announcement", zap.Error(err))
		return false
	}

	return s.manager.Send(envelope)
}

func noticeFor(record order.Record) mesh.OrderNotice {
	items := make([]string, 0, len(record.Items))
	for _, item := range record.Items {
		items = append(items, item.Name)
	}

	return mesh.OrderNotice{
		OrderID:      record.ID,
		OrderNumber:  record.Number,
		Location:     record.Location,
		LocationType: record.LocationType,
		Items:        items,
	}
}
