package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goevery/hotelsync/internal/event"
	"github.com/goevery/hotelsync/internal/localbus"
	"github.com/goevery/hotelsync/internal/order"
	"github.com/goevery/hotelsync/internal/realtime"
	"go.uber.org/zap"
)

// Subscriber is satisfied by realtime.Manager and realtime.Registry.
type Subscriber interface {
	Register(eventType event.Type, handler realtime.EventHandler) func()
}

type eventHandler struct {
	handle func(msg event.Message)
}

func (h *eventHandler) HandleEvent(msg event.Message) {
	h.handle(msg)
}

type Options struct {
	ShowToasts        bool
	PlaySound         bool
	ShowNotifications bool
}

func DefaultOptions() Options {
	return Options{
		ShowToasts:        true,
		PlaySound:         true,
		ShowNotifications: true,
	}
}

var ErrUnknownOrder = errors.New("unknown order")

const (
	toastDuration      = 4 * time.Second
	readyToastDuration = 10 * time.Second
	effectTimeout      = 5 * time.Second
)

// Feed folds order lifecycle events into a renderable, de-duplicated list
// of orders, most recent first. Each Feed owns its own collection.
type Feed struct {
	logger  *zap.Logger
	source  Subscriber
	effects Effects
	options Options
	now     func() time.Time

	handlers []eventHandlerEntry

	mu            sync.RWMutex
	orders        []order.Record
	newOrderCount int
	unsubscribes  []func()

	nextListenerId uint64
	listeners      map[uint64]func()
}

func NewFeed(
	logger *zap.Logger,
	source Subscriber,
	effects Effects,
	options Options,
) *Feed {
	f := &Feed{
		logger:    logger,
		source:    source,
		effects:   effects,
		options:   options,
		now:       time.Now,
		listeners: make(map[uint64]func()),
	}

	f.handlers = []eventHandlerEntry{
		{event.TypeOrderCreated, &eventHandler{f.onCreated}},
		{event.TypeOrderStatusChanged, &eventHandler{f.onStatusChanged}},
		{event.TypeOrderReady, &eventHandler{f.onReady}},
		{event.TypeOrderDelivered, &eventHandler{f.onDelivered}},
	}

	return f
}

type eventHandlerEntry struct {
	eventType event.Type
	handler   *eventHandler
}

// Start subscribes to order events. It is a no-op when already started.
func (f *Feed) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.unsubscribes != nil {
		return
	}

	f.unsubscribes = make([]func(), 0, len(f.handlers))
	for _, entry := range f.handlers {
		f.unsubscribes = append(f.unsubscribes, f.source.Register(entry.eventType, entry.handler))
	}
}

func (f *Feed) Stop() {
	f.mu.Lock()
	unsubscribes := f.unsubscribes
	f.unsubscribes = nil
	f.mu.Unlock()

	for _, unsubscribe := range unsubscribes {
		unsubscribe()
	}
}

func (f *Feed) Orders() []order.Record {
	f.mu.RLock()
	defer f.mu.RUnlock()

	records := make([]order.Record, len(f.orders))
	for i, record := range f.orders {
		records[i] = record.Clone()
	}

	return records
}

func (f *Feed) Order(id string) (order.Record, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	i := f.indexLocked(id)
	if i < 0 {
		return order.Record{}, false
	}

	return f.orders[i].Clone(), true
}

func (f *Feed) NewOrderCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.newOrderCount
}

func (f *Feed) ClearNewOrderCount() {
	f.mu.Lock()
	f.newOrderCount = 0
	f.mu.Unlock()

	f.changed()
}

// RemoveOrder evicts id from the collection. Event handlers never call it.
func (f *Feed) RemoveOrder(id string) {
	f.mu.Lock()
	i := f.indexLocked(id)
	if i >= 0 {
		f.orders = append(f.orders[:i], f.orders[i+1:]...)
	}
	f.mu.Unlock()

	if i >= 0 {
		f.changed()
	}
}

// Bump moves a known order to status on behalf of staff at this device and
// returns the updated record. No side effect is fired.
func (f *Feed) Bump(id string, status order.Status) (order.Record, error) {
	if !status.Valid() {
		return order.Record{}, fmt.Errorf("unknown order status %q", status)
	}

	f.mu.Lock()
	i := f.indexLocked(id)
	if i < 0 {
		f.mu.Unlock()

		return order.Record{}, fmt.Errorf("%w: %s", ErrUnknownOrder, id)
	}

	f.orders[i].Transition(status, f.now())
	record := f.orders[i].Clone()
	f.mu.Unlock()

	f.changed()

	return record, nil
}

// ClearFinished removes completed and cancelled orders and returns how many
// were removed.
func (f *Feed) ClearFinished() int {
	f.mu.RLock()
	var finished []string
	for _, record := range f.orders {
		if record.Status.Terminal() {
			finished = append(finished, record.ID)
		}
	}
	f.mu.RUnlock()

	for _, id := range finished {
		f.RemoveOrder(id)
	}

	return len(finished)
}

// AddOrders merges records, skipping identifiers already present.
func (f *Feed) AddOrders(records []order.Record) {
	f.mu.Lock()
	added := 0
	for _, record := range records {
		if record.ID == "" || f.indexLocked(record.ID) >= 0 {
			continue
		}

		f.orders = append(f.orders, record.Clone())
		added++
	}
	f.mu.Unlock()

	if added > 0 {
		f.changed()
	}
}

// SetAllOrders replaces the collection. Duplicate identifiers keep their
// first occurrence.
func (f *Feed) SetAllOrders(records []order.Record) {
	seen := make(map[string]struct{}, len(records))
	replacement := make([]order.Record, 0, len(records))

	for _, record := range records {
		if _, ok := seen[record.ID]; ok || record.ID == "" {
			continue
		}

		seen[record.ID] = struct{}{}
		replacement = append(replacement, record.Clone())
	}

	f.mu.Lock()
	f.orders = replacement
	f.mu.Unlock()

	f.changed()
}

// OnChange registers listener for every change of orders or counter.
func (f *Feed) OnChange(listener func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextListenerId++
	id := f.nextListenerId
	f.listeners[id] = listener

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()

		delete(f.listeners, id)
	}
}

func (f *Feed) onCreated(msg event.Message) {
	payload, ok := msg.Payload.(event.OrderCreated)
	if !ok {
		return
	}

	now := f.now()

	f.mu.Lock()
	if f.indexLocked(payload.OrderID) >= 0 {
		f.mu.Unlock()

		return
	}

	record := recordFromCreated(payload, now)
	f.orders = append([]order.Record{record}, f.orders...)
	f.newOrderCount++
	f.mu.Unlock()

	f.changed()

	title := fmt.Sprintf("New order #%s", payload.OrderNumber)
	body := payload.Location

	f.toast(Toast{
		Title:    title,
		Message:  body,
		Icon:     iconFor(order.StatusPending),
		Kind:     localbus.KindInfo,
		Duration: toastDuration,
	})
	f.playSound(SoundNewOrder)
	f.notify(Notification{
		Title: title,
		Body:  body,
		Tag:   "order-" + payload.OrderID,
	})
}

func (f *Feed) onStatusChanged(msg event.Message) {
	payload, ok := msg.Payload.(event.OrderStatusChanged)
	if !ok {
		return
	}

	number := payload.OrderNumber

	status, err := order.ParseStatus(string(payload.NewStatus))
	if err != nil {
		f.logger.Debug("unrecognized order status left unapplied",
			zap.String("orderId", payload.OrderID),
			zap.Error(err))

		if known := f.numberOf(payload.OrderID); known != "" {
			number = known
		}
	} else if applied := f.apply(payload.OrderID, status); applied != "" {
		number = applied
	}

	f.toast(Toast{
		Title:    fmt.Sprintf("Order #%s", number),
		Message:  fmt.Sprintf("Status changed to %s", payload.NewStatus),
		Icon:     iconFor(payload.NewStatus),
		Kind:     localbus.KindInfo,
		Duration: toastDuration,
	})
}

func (f *Feed) onReady(msg event.Message) {
	payload, ok := msg.Payload.(event.OrderReady)
	if !ok {
		return
	}

	number := f.apply(payload.OrderID, order.StatusReady)
	if number == "" {
		number = payload.OrderNumber
	}

	title := fmt.Sprintf("Order #%s is ready", number)
	body := fmt.Sprintf("%s - ready for pickup", payload.Location)

	f.toast(Toast{
		Title:    title,
		Message:  body,
		Icon:     iconFor(order.StatusReady),
		Kind:     localbus.KindSuccess,
		Duration: readyToastDuration,
	})
	f.playSound(SoundOrderReady)
	f.notify(Notification{
		Title:              title,
		Body:               body,
		Tag:                "ready-" + payload.OrderID,
		RequireInteraction: true,
	})
}

func (f *Feed) onDelivered(msg event.Message) {
	payload, ok := msg.Payload.(event.OrderDelivered)
	if !ok {
		return
	}

	f.mu.RLock()
	locationType := payload.LocationType
	if i := f.indexLocked(payload.OrderID); i >= 0 && locationType == "" {
		locationType = f.orders[i].LocationType
	}
	f.mu.RUnlock()

	status := order.StatusServed
	if locationType == order.LocationRoom {
		status = order.StatusDelivered
	}

	number := f.apply(payload.OrderID, status)
	if number == "" {
		number = payload.OrderNumber
	}

	f.toast(Toast{
		Title:    fmt.Sprintf("Order #%s %s", number, status),
		Message:  payload.Location,
		Icon:     iconFor(status),
		Kind:     localbus.KindSuccess,
		Duration: toastDuration,
	})
}

// apply transitions a known order in place and returns its number. Unknown
// identifiers are left alone and yield "".
func (f *Feed) apply(id string, status order.Status) string {
	f.mu.Lock()
	i := f.indexLocked(id)
	if i < 0 {
		f.mu.Unlock()

		f.logger.Debug("status update for unknown order ignored",
			zap.String("orderId", id),
			zap.String("status", string(status)))

		return ""
	}

	f.orders[i].Transition(status, f.now())
	number := f.orders[i].Number
	f.mu.Unlock()

	f.changed()

	return number
}

func (f *Feed) numberOf(id string) string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if i := f.indexLocked(id); i >= 0 {
		return f.orders[i].Number
	}

	return ""
}

// IMPORTANT: It must be called only when f.mu is held.
func (f *Feed) indexLocked(id string) int {
	for i := range f.orders {
		if f.orders[i].ID == id {
			return i
		}
	}

	return -1
}

func (f *Feed) changed() {
	f.mu.RLock()
	listeners := make([]func(), 0, len(f.listeners))
	for _, listener := range f.listeners {
		listeners = append(listeners, listener)
	}
	f.mu.RUnlock()

	for _, listener := range listeners {
		f.guard("change listener", listener)
	}
}

func (f *Feed) toast(toast Toast) {
	if !f.options.ShowToasts || f.effects.Toaster == nil {
		return
	}

	f.guard("toast", func() {
		f.effects.Toaster.Toast(toast)
	})
}

func (f *Feed) playSound(sound string) {
	if !f.options.PlaySound || f.effects.Sound == nil {
		return
	}

	go f.guard("sound", func() {
		ctx, cancel := context.WithTimeout(context.Background(), effectTimeout)
		defer cancel()

		if err := f.effects.Sound.Play(ctx, sound); err != nil {
			f.logger.Debug("sound playback failed", zap.String("sound", sound), zap.Error(err))
		}
	})
}

func (f *Feed) notify(notification Notification) {
	if !f.options.ShowNotifications || f.effects.Notifier == nil {
		return
	}

	go f.guard("notification", func() {
		ctx, cancel := context.WithTimeout(context.Background(), effectTimeout)
		defer cancel()

		if err := f.effects.Notifier.Notify(ctx, notification); err != nil {
			f.logger.Debug("notification failed", zap.String("tag", notification.Tag), zap.Error(err))
		}
	})
}

func (f *Feed) guard(effect string, fn func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			f.logger.Warn("order side effect failed",
				zap.String("effect", effect),
				zap.Error(fmt.Errorf("%v", recovered)))
		}
	}()

	fn()
}

func recordFromCreated(payload event.OrderCreated, now time.Time) order.Record {
	items := make([]order.Item, 0, len(payload.Items))
	for _, item := range payload.Items {
		items = append(items, order.Item{
			Name:     item.Name,
			Quantity: item.Quantity,
			Price:    item.Price,
			Notes:    item.Notes,
		})
	}

	priority := order.Priority(payload.Priority)
	if priority == "" {
		priority = order.PriorityNormal
	}

	createdAt := payload.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	record := order.Record{
		ID:            payload.OrderID,
		Number:        payload.OrderNumber,
		Location:      payload.Location,
		LocationType:  payload.LocationType,
		Items:         items,
		Subtotal:      payload.Subtotal,
		Tax:           payload.Tax,
		ServiceCharge: payload.ServiceCharge,
		Total:         payload.TotalAmount,
		Priority:      priority,
		CreatedAt:     createdAt,
	}
	record.Transition(order.StatusPending, now)

	return record
}
