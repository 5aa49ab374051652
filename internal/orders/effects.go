package orders

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/goevery/hotelsync/internal/localbus"
	"github.com/goevery/hotelsync/internal/order"
	"go.uber.org/zap"
)

const (
	SoundNewOrder   = "new-order"
	SoundOrderReady = "order-ready"
)

type Toast struct {
	Title    string
	Message  string
	Icon     string
	Kind     localbus.Kind
	Duration time.Duration
}

type Toaster interface {
	Toast(toast Toast)
}

type SoundPlayer interface {
	Play(ctx context.Context, sound string) error
}

type Notification struct {
	Title              string
	Body               string
	Tag                string
	RequireInteraction bool
}

// Notifier raises a system level notification. Implementations may fail
// when permission is missing; callers treat every failure as advisory.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// Effects are the optional side channels fired next to state updates. Any
// of them may be nil.
type Effects struct {
	Toaster  Toaster
	Sound    SoundPlayer
	Notifier Notifier
}

var statusIcons = map[order.Status]string{
	order.StatusPending:   "🕐",
	order.StatusConfirmed: "✅",
	order.StatusPreparing: "👨‍🍳",
	order.StatusReady:     "🔔",
	order.StatusServed:    "🍽️",
	order.StatusDelivered: "🛎️",
	order.StatusCompleted: "✔️",
	order.StatusCancelled: "❌",
}

const genericIcon = "📋"

func iconFor(status order.Status) string {
	if icon, ok := statusIcons[status]; ok {
		return icon
	}

	return genericIcon
}

// BusToaster shows toasts by publishing them on the local bus.
type BusToaster struct {
	bus *localbus.Bus
}

func NewBusToaster(bus *localbus.Bus) *BusToaster {
	return &BusToaster{
		bus,
	}
}

func (t *BusToaster) Toast(toast Toast) {
	t.bus.PublishNotification(localbus.Notification{
		Title:    toast.Title,
		Message:  toast.Message,
		Kind:     toast.Kind,
		Icon:     toast.Icon,
		Duration: toast.Duration,
		Source:   "orders",
	})
}

// TerminalBell plays sounds by ringing the terminal bell of a kitchen
// display.
type TerminalBell struct {
	mu sync.Mutex
	w  io.Writer
}

func NewTerminalBell(w io.Writer) *TerminalBell {
	return &TerminalBell{
		w: w,
	}
}

func (b *TerminalBell) Play(ctx context.Context, sound string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rings := 1
	if sound == SoundOrderReady {
		rings = 2
	}

	for range rings {
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := io.WriteString(b.w, "\a"); err != nil {
			return fmt.Errorf("ring bell: %w", err)
		}
	}

	return nil
}

// LogNotifier writes notifications to the structured log, for devices
// without a notification area.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{
		logger,
	}
}

func (n *LogNotifier) Notify(ctx context.Context, notification Notification) error {
	n.logger.Info(notification.Title,
		zap.String("body", notification.Body),
		zap.String("tag", notification.Tag),
		zap.Bool("requireInteraction", notification.RequireInteraction))

	return nil
}
