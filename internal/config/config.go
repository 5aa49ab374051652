// Package config loads the kitchen display configuration from a YAML file
// overlaid with HOTELSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/Netflix/go-env"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Backend  BackendConfig  `yaml:"backend"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Device   DeviceConfig   `yaml:"device"`
	Mesh     MeshConfig     `yaml:"mesh"`
	Orders   OrdersConfig   `yaml:"orders"`
	Log      LogConfig      `yaml:"log"`
}

type BackendConfig struct {
	BaseURL string `yaml:"base_url" env:"HOTELSYNC_BASE_URL"`
	// StaffToken is exchanged for a cookie session at startup.
	StaffToken string `yaml:"staff_token" env:"HOTELSYNC_STAFF_TOKEN"`
}

type RealtimeConfig struct {
	DevHost              string        `yaml:"dev_host" env:"HOTELSYNC_DEV_HOST"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval" env:"HOTELSYNC_HEARTBEAT_INTERVAL"`
	ReconnectInterval    time.Duration `yaml:"reconnect_interval" env:"HOTELSYNC_RECONNECT_INTERVAL"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts" env:"HOTELSYNC_MAX_RECONNECT_ATTEMPTS"`
}

type DeviceConfig struct {
	Id   string `yaml:"id" env:"HOTELSYNC_DEVICE_ID"`
	Name string `yaml:"name" env:"HOTELSYNC_DEVICE_NAME"`
	Role string `yaml:"role" env:"HOTELSYNC_DEVICE_ROLE"`
	// Console reads staff commands from standard input.
	Console bool `yaml:"console" env:"HOTELSYNC_CONSOLE"`
}

type MeshConfig struct {
	Enabled          bool          `yaml:"enabled" env:"HOTELSYNC_MESH_ENABLED"`
	Broker           string        `yaml:"broker" env:"HOTELSYNC_MESH_BROKER"`
	Username         string        `yaml:"username" env:"HOTELSYNC_MESH_USERNAME"`
	Password         string        `yaml:"password" env:"HOTELSYNC_MESH_PASSWORD"`
	Host             bool          `yaml:"host" env:"HOTELSYNC_MESH_HOST"`
	PresenceInterval time.Duration `yaml:"presence_interval" env:"HOTELSYNC_MESH_PRESENCE_INTERVAL"`
	StaleAfter       time.Duration `yaml:"stale_after" env:"HOTELSYNC_MESH_STALE_AFTER"`
	QueueSize        int           `yaml:"queue_size" env:"HOTELSYNC_MESH_QUEUE_SIZE"`
}

type OrdersConfig struct {
	ShowToasts        bool `yaml:"show_toasts" env:"HOTELSYNC_SHOW_TOASTS"`
	PlaySound         bool `yaml:"play_sound" env:"HOTELSYNC_PLAY_SOUND"`
	ShowNotifications bool `yaml:"show_notifications" env:"HOTELSYNC_SHOW_NOTIFICATIONS"`
}

type LogConfig struct {
	Encoding string `yaml:"encoding" env:"HOTELSYNC_LOG_ENCODING"`
}

func Defaults() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL: "http://localhost:8000",
		},
		Realtime: RealtimeConfig{
			HeartbeatInterval:    30 * time.Second,
			ReconnectInterval:    3 * time.Second,
			MaxReconnectAttempts: 5,
		},
		Device: DeviceConfig{
			Role: "chef",
		},
		Mesh: MeshConfig{
			Broker:           "tcp://localhost:1883",
			PresenceInterval: 15 * time.Second,
			StaleAfter:       45 * time.Second,
			QueueSize:        100,
		},
		Orders: OrdersConfig{
			ShowToasts:        true,
			PlaySound:         true,
			ShowNotifications: true,
		},
		Log: LogConfig{
			Encoding: "console",
		},
	}
}

// Load reads path over the defaults, applies the environment and fills in
// a device id when none is configured. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}

		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if _, err := env.UnmarshalFromEnviron(cfg); err != nil {
		return nil, fmt.Errorf("parse config from environment: %w", err)
	}

	if cfg.Device.Id == "" {
		cfg.Device.Id = uuid.NewString()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	base, err := url.Parse(c.Backend.BaseURL)
	if err != nil || base.Host == "" {
		return fmt.Errorf("invalid backend base url %q", c.Backend.BaseURL)
	}

	if c.Realtime.MaxReconnectAttempts < 0 {
		return errors.New("max reconnect attempts must not be negative")
	}

	if c.Mesh.Enabled && c.Mesh.Broker == "" {
		return errors.New("mesh enabled without broker")
	}

	return nil
}

// PageURL is the backend origin the realtime URL is derived from.
func (c *Config) PageURL() *url.URL {
	base, _ := url.Parse(c.Backend.BaseURL)
	return base
}
