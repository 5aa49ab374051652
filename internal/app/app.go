// Package app composes the kitchen display: the realtime connection, the
// order feed, the offline mesh and the staff console, started and stopped
// with the fx lifecycle.
package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"os"
	"time"

	"github.com/goevery/hotelsync/internal/config"
	"github.com/goevery/hotelsync/internal/localbus"
	"github.com/goevery/hotelsync/internal/logging"
	"github.com/goevery/hotelsync/internal/mesh"
	"github.com/goevery/hotelsync/internal/orders"
	"github.com/goevery/hotelsync/internal/realtime"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

const (
	subscriberId       = "kitchen-display"
	meshConnectTimeout = 5 * time.Second
)

// Module wires the kitchen display. It expects a *config.Config in the
// graph.
var Module = fx.Options(
	fx.Provide(
		newLogger,
		newHTTPClient,
		newTokenProvider,
		realtime.NewRegistry,
		newManager,
		localbus.New,
		newFeed,
		newMeshNode,
		newStation,
	),
	fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
		return &fxevent.ZapLogger{Logger: logger.Named("fx")}
	}),
	fx.Invoke(registerBusLogger, registerLifecycle),
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Log.Encoding)
}

func newHTTPClient() (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	return &http.Client{
		Jar:     jar,
		Timeout: 10 * time.Second,
	}, nil
}

func newTokenProvider(client *http.Client, cfg *config.Config) realtime.TokenProvider {
	return realtime.NewHTTPTokenProvider(client, cfg.Backend.BaseURL)
}

type managerParams struct {
	fx.In

	Logger   *zap.Logger
	Config   *config.Config
	Tokens   realtime.TokenProvider
	Registry *realtime.Registry
	Dialer   realtime.Dialer `optional:"true"`
}

func newManager(p managerParams) *realtime.Manager {
	dialer := p.Dialer
	if dialer == nil {
		dialer = realtime.NewWebSocketDialer(nil, nil)
	}

	return realtime.NewManager(
		p.Logger.Named("realtime"),
		realtime.Config{
			PageURL:           p.Config.PageURL(),
			DevHost:           p.Config.Realtime.DevHost,
			HeartbeatInterval: p.Config.Realtime.HeartbeatInterval,
			Backoff: realtime.Backoff{
				Base:        p.Config.Realtime.ReconnectInterval,
				MaxAttempts: p.Config.Realtime.MaxReconnectAttempts,
			},
		},
		dialer,
		p.Tokens,
		p.Registry,
	)
}

type feedParams struct {
	fx.In

	Logger  *zap.Logger
	Config  *config.Config
	Manager *realtime.Manager
	Bus     *localbus.Bus
	Bell    io.Writer `name:"bell" optional:"true"`
}

func newFeed(p feedParams) *orders.Feed {
	bell := p.Bell
	if bell == nil {
		bell = os.Stdout
	}

	return orders.NewFeed(
		p.Logger.Named("orders"),
		p.Manager,
		orders.Effects{
			Toaster:  orders.NewBusToaster(p.Bus),
			Sound:    orders.NewTerminalBell(bell),
			Notifier: orders.NewLogNotifier(p.Logger.Named("notifications")),
		},
		orders.Options{
			ShowToasts:        p.Config.Orders.ShowToasts,
			PlaySound:         p.Config.Orders.PlaySound,
			ShowNotifications: p.Config.Orders.ShowNotifications,
		},
	)
}

type meshParams struct {
	fx.In

	Logger   *zap.Logger
	Config   *config.Config
	Registry *realtime.Registry
	Bus      *localbus.Bus
	Link     mesh.Link `optional:"true"`
}

// newMeshNode returns nil when the mesh is disabled.
func newMeshNode(p meshParams) (*mesh.Node, error) {
	if !p.Config.Mesh.Enabled {
		return nil, nil
	}

	meshConfig := mesh.Config{
		DeviceId:         p.Config.Device.Id,
		Name:             p.Config.Device.Name,
		Role:             p.Config.Device.Role,
		Host:             p.Config.Mesh.Host,
		PresenceInterval: p.Config.Mesh.PresenceInterval,
		StaleAfter:       p.Config.Mesh.StaleAfter,
		QueueSize:        p.Config.Mesh.QueueSize,
	}

	link := p.Link
	if link == nil {
		willTopic, will, err := mesh.LastWill(meshConfig)
		if err != nil {
			return nil, err
		}

		link = mesh.NewMQTTLink(mesh.MQTTConfig{
			Broker:    p.Config.Mesh.Broker,
			ClientId:  "hotelsync-" + p.Config.Device.Id,
			Username:  p.Config.Mesh.Username,
			Password:  p.Config.Mesh.Password,
			WillTopic: willTopic,
			Will:      will,
			QoS:       1,
		})
	}

	return mesh.NewNode(p.Logger.Named("mesh"), meshConfig, link, p.Registry, p.Bus), nil
}

func newStation(logger *zap.Logger, feed *orders.Feed, manager *realtime.Manager, node *mesh.Node) *Station {
	return NewStation(logger.Named("station"), feed, manager, node)
}

// registerBusLogger mirrors local notifications into the log, which is the
// only surface a headless display has.
func registerBusLogger(logger *zap.Logger, bus *localbus.Bus) {
	logger = logger.Named("bus")

	bus.OnNotification(func(notification localbus.Notification) {
		logger.Info(notification.Title,
			zap.String("message", notification.Message),
			zap.String("kind", string(notification.Kind)),
			zap.String("source", notification.Source))
	})

	bus.OnRoster(func(update localbus.RosterUpdate) {
		online := 0
		for _, member := range update.Staff {
			if member.Online {
				online++
			}
		}

		logger.Debug("staff roster updated",
			zap.Int("known", len(update.Staff)),
			zap.Int("online", online))
	})
}

type lifecycleParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Logger    *zap.Logger
	Config    *config.Config
	Client    *http.Client
	Manager   *realtime.Manager
	Feed      *orders.Feed
	Node      *mesh.Node
	Station   *Station
	Console   io.Reader `name:"console" optional:"true"`
	Replies   io.Writer `name:"replies" optional:"true"`
}

func registerLifecycle(p lifecycleParams) {
	stopConsole := func() {}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			p.Station.Start()
			p.Feed.Start()

			if p.Node != nil {
				meshCtx, cancel := context.WithTimeout(ctx, meshConnectTimeout)
				p.Node.Start(meshCtx)
				cancel()
			}

			authenticated := true

			err := realtime.OpenSession(ctx, p.Client, p.Config.Backend.BaseURL, p.Config.Backend.StaffToken)
			if err != nil {
				authenticated = false

				if errors.Is(err, realtime.ErrNotAuthenticated) {
					p.Logger.Warn("no staff session, realtime updates disabled")
				} else {
					p.Logger.Warn("failed to open staff session", zap.Error(err))
				}
			}

			p.Manager.Connect(ctx, subscriberId, realtime.ConnectOptions{Authenticated: authenticated})

			console := p.Console
			if console == nil && p.Config.Device.Console {
				console = os.Stdin
			}

			if console != nil {
				replies := p.Replies
				if replies == nil {
					replies = os.Stdout
				}

				consoleCtx, cancel := context.WithCancel(context.Background())
				stopConsole = cancel

				go func() {
					if err := p.Station.Run(consoleCtx, console, replies); err != nil {
						p.Logger.Warn("console stopped", zap.Error(err))
					}
				}()
			}

			p.Logger.Info("kitchen display started",
				zap.String("deviceId", p.Config.Device.Id),
				zap.String("realtimeStatus", string(p.Manager.Status())),
				zap.Bool("mesh", p.Node != nil))

			return nil
		},
		OnStop: func(ctx context.Context) error {
			stopConsole()
			p.Station.Stop()
			p.Feed.Stop()
			p.Manager.Disconnect(subscriberId)
			p.Manager.Close()

			if p.Node != nil {
				p.Node.Stop()
			}

			p.Logger.Info("kitchen display stopped")

			return nil
		},
	})
}
