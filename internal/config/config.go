// Package config holds the bridge settings: built-in defaults, an optional
// TOML file on top of them, and validation.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/bigbag/kiss-bridge/internal/bridge"
	"github.com/bigbag/kiss-bridge/internal/queue"
)

const (
	DefaultBaudRate      = 9600
	DefaultServerHost    = "localhost"
	DefaultServerPort    = 5555
	DefaultClientHost    = "localhost"
	DefaultClientPort    = 5556
	DefaultTTL           = 2
	DefaultMaxPacketSize = bridge.DefaultMaxPacket
	DefaultQueueCapacity = bridge.DefaultQueueCapacity
	DefaultPollTimeout   = bridge.DefaultPollTimeout

	maxPacketLimit = 1 << 20
)

// Config is the full set of bridge settings.
type Config struct {
	// Device is the serial device path. Empty selects the loopback device.
	Device   string
	BaudRate int

	// ServerHost and ServerPort are the local bind address. An empty host
	// binds every interface.
	ServerHost string
	ServerPort int
	// ClientHost and ClientPort are where every outgoing datagram goes.
	ClientHost string
	ClientPort int
	TTL        int

	MaxPacketSize int
	QueueCapacity int
	QueuePolicy   queue.Policy
	PollTimeout   time.Duration
	Heartbeat     time.Duration

	Quiet    bool
	LogLevel string
}

// Default returns the settings used when nothing else is given.
func Default() Config {
	return Config{
		BaudRate:      DefaultBaudRate,
		ServerHost:    DefaultServerHost,
		ServerPort:    DefaultServerPort,
		ClientHost:    DefaultClientHost,
		ClientPort:    DefaultClientPort,
		TTL:           DefaultTTL,
		MaxPacketSize: DefaultMaxPacketSize,
		QueueCapacity: DefaultQueueCapacity,
		QueuePolicy:   queue.DropNewest,
		PollTimeout:   DefaultPollTimeout,
	}
}

type fileConfig struct {
	Device        string `toml:"device"`
	BaudRate      int    `toml:"baud_rate"`
	ServerHost    string `toml:"server_host"`
	ServerPort    int    `toml:"server_port"`
	ClientHost    string `toml:"client_host"`
	ClientPort    int    `toml:"client_port"`
	TTL           int    `toml:"ttl"`
	MaxPacketSize int    `toml:"max_packet_size"`
	QueueCapacity int    `toml:"queue_capacity"`
	QueuePolicy   string `toml:"queue_policy"`
	PollTimeout   string `toml:"poll_timeout"`
	Heartbeat     string `toml:"heartbeat"`
	Quiet         bool   `toml:"quiet"`
	LogLevel      string `toml:"log_level"`
}

// Load reads a TOML file and applies the keys it defines over Default.
// Undefined keys keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("load config: unknown keys: %s", strings.Join(keys, ", "))
	}

	if meta.IsDefined("device") {
		cfg.Device = strings.TrimSpace(raw.Device)
	}
	if meta.IsDefined("baud_rate") {
		cfg.BaudRate = raw.BaudRate
	}
	if meta.IsDefined("server_host") {
		cfg.ServerHost = strings.TrimSpace(raw.ServerHost)
	}
	if meta.IsDefined("server_port") {
		cfg.ServerPort = raw.ServerPort
	}
	if meta.IsDefined("client_host") {
		cfg.ClientHost = strings.TrimSpace(raw.ClientHost)
	}
	if meta.IsDefined("client_port") {
		cfg.ClientPort = raw.ClientPort
	}
	if meta.IsDefined("ttl") {
		cfg.TTL = raw.TTL
	}
	if meta.IsDefined("max_packet_size") {
		cfg.MaxPacketSize = raw.MaxPacketSize
	}
	if meta.IsDefined("queue_capacity") {
		cfg.QueueCapacity = raw.QueueCapacity
	}
	if meta.IsDefined("queue_policy") {
		p, err := queue.ParsePolicy(raw.QueuePolicy)
		if err != nil {
			return Config{}, fmt.Errorf("parse queue_policy: %w", err)
		}
		cfg.QueuePolicy = p
	}
	if meta.IsDefined("poll_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.PollTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse poll_timeout: %w", err)
		}
		cfg.PollTimeout = d
	}
	if meta.IsDefined("heartbeat") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Heartbeat))
		if err != nil {
			return Config{}, fmt.Errorf("parse heartbeat: %w", err)
		}
		cfg.Heartbeat = d
	}
	if meta.IsDefined("quiet") {
		cfg.Quiet = raw.Quiet
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("baud rate must be positive, got %d", c.BaudRate))
	}
	if c.ServerPort < 0 || c.ServerPort > 65535 {
		errs = append(errs, fmt.Errorf("server port %d out of range", c.ServerPort))
	}
	if c.ClientHost == "" {
		errs = append(errs, errors.New("client host is empty"))
	}
	if c.ClientPort < 1 || c.ClientPort > 65535 {
		errs = append(errs, fmt.Errorf("client port %d out of range", c.ClientPort))
	}
	if c.TTL < 0 || c.TTL > 255 {
		errs = append(errs, fmt.Errorf("ttl %d out of range 0-255", c.TTL))
	}
	if c.MaxPacketSize < 1 || c.MaxPacketSize > maxPacketLimit {
		errs = append(errs, fmt.Errorf("max packet size %d out of range 1-%d", c.MaxPacketSize, maxPacketLimit))
	}
	if c.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("queue capacity must be at least 1, got %d", c.QueueCapacity))
	}
	if c.QueuePolicy != queue.DropNewest && c.QueuePolicy != queue.DropOldest {
		errs = append(errs, fmt.Errorf("unknown queue policy %s", c.QueuePolicy))
	}
	if c.Heartbeat < 0 {
		errs = append(errs, fmt.Errorf("heartbeat must not be negative, got %s", c.Heartbeat))
	}
	return errors.Join(errs...)
}

// ServerAddr is the local bind address as host:port.
func (c *Config) ServerAddr() string {
	return net.JoinHostPort(c.ServerHost, strconv.Itoa(c.ServerPort))
}

// ClientAddr is the destination address as host:port.
func (c *Config) ClientAddr() string {
	return net.JoinHostPort(c.ClientHost, strconv.Itoa(c.ClientPort))
}

// Loopback reports whether no serial device is configured.
func (c *Config) Loopback() bool {
	return c.Device == ""
}
