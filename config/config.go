// Package config loads bridge settings from an optional YAML file and RPCBRIDGE_* environment
// variables.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"rpcbridge/codec"
	"rpcbridge/logging"
)

type Server struct {
	HTTPAddr       string // WebSocket listener
	Path           string // WebSocket upgrade path
	TCPAddr        string // Framed TCP listener; empty disables it
	AllowedOrigins []string
	PingInterval   time.Duration
	Heartbeat      time.Duration
	UnaryTimeout   time.Duration
	StreamTimeout  time.Duration
	RateLimit      float64 // Requests per second; 0 disables limiting
	RateBurst      int
	StreamInterval time.Duration // Pause between greeter stream items
	ShutdownGrace  time.Duration
	Advertise      []string // Endpoints announced in etcd
}

type Client struct {
	URL              string
	Codec            string
	HandshakeTimeout time.Duration
	CallTimeout      time.Duration
	Balancer         string // Used when the endpoint comes from etcd
}

type Etcd struct {
	Endpoints []string // Empty disables discovery
	Name      string
	TTL       int64
}

type Config struct {
	Server      Server
	Client      Client
	Etcd        Etcd
	Log         logging.Config
	MetricsAddr string // Empty disables the /metrics listener
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_addr", ":50052")
	v.SetDefault("server.path", "/ws")
	v.SetDefault("server.tcp_addr", ":50053")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.ping_interval", 30*time.Second)
	v.SetDefault("server.heartbeat", 15*time.Second)
	v.SetDefault("server.unary_timeout", 10*time.Second)
	v.SetDefault("server.stream_timeout", 30*time.Second)
	v.SetDefault("server.rate_limit", 0)
	v.SetDefault("server.rate_burst", 100)
	v.SetDefault("server.stream_interval", 0)
	v.SetDefault("server.shutdown_grace", 5*time.Second)
	v.SetDefault("server.advertise", []string{})

	v.SetDefault("client.url", "ws://localhost:50052/ws")
	v.SetDefault("client.codec", "json")
	v.SetDefault("client.handshake_timeout", 5*time.Second)
	v.SetDefault("client.call_timeout", 10*time.Second)
	v.SetDefault("client.balancer", "round_robin")

	v.SetDefault("etcd.endpoints", []string{})
	v.SetDefault("etcd.name", "rpcbridge")
	v.SetDefault("etcd.ttl", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 7)

	v.SetDefault("metrics.addr", "")
}

// Load reads path when it is non-empty, otherwise looks for config.yaml in . and ./config.
// A missing default file is fine; env-only is fine.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RPCBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("config")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		Server: Server{
			HTTPAddr:       strings.TrimSpace(v.GetString("server.http_addr")),
			Path:           v.GetString("server.path"),
			TCPAddr:        strings.TrimSpace(v.GetString("server.tcp_addr")),
			AllowedOrigins: v.GetStringSlice("server.allowed_origins"),
			PingInterval:   v.GetDuration("server.ping_interval"),
			Heartbeat:      v.GetDuration("server.heartbeat"),
			UnaryTimeout:   v.GetDuration("server.unary_timeout"),
			StreamTimeout:  v.GetDuration("server.stream_timeout"),
			RateLimit:      v.GetFloat64("server.rate_limit"),
			RateBurst:      v.GetInt("server.rate_burst"),
			StreamInterval: v.GetDuration("server.stream_interval"),
			ShutdownGrace:  v.GetDuration("server.shutdown_grace"),
			Advertise:      v.GetStringSlice("server.advertise"),
		},
		Client: Client{
			URL:              strings.TrimSpace(v.GetString("client.url")),
			Codec:            v.GetString("client.codec"),
			HandshakeTimeout: v.GetDuration("client.handshake_timeout"),
			CallTimeout:      v.GetDuration("client.call_timeout"),
			Balancer:         v.GetString("client.balancer"),
		},
		Etcd: Etcd{
			Endpoints: v.GetStringSlice("etcd.endpoints"),
			Name:      v.GetString("etcd.name"),
			TTL:       v.GetInt64("etcd.ttl"),
		},
		Log: logging.Config{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			File:       v.GetString("log.file"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
		},
		MetricsAddr: strings.TrimSpace(v.GetString("metrics.addr")),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Server.HTTPAddr == "" && c.Server.TCPAddr == "" {
		return fmt.Errorf("server.http_addr and server.tcp_addr must not both be empty")
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("server.path %q must start with /", c.Server.Path)
	}
	if c.Server.UnaryTimeout < 0 || c.Server.StreamTimeout < 0 {
		return fmt.Errorf("server timeouts must not be negative")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("invalid server.rate_limit %v", c.Server.RateLimit)
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst <= 0 {
		return fmt.Errorf("server.rate_burst must be positive when rate limiting")
	}
	for _, ep := range c.Server.Advertise {
		if _, err := url.Parse(ep); err != nil {
			return fmt.Errorf("invalid server.advertise endpoint %q: %w", ep, err)
		}
	}
	if _, err := codec.ParseCodecType(c.Client.Codec); err != nil {
		return fmt.Errorf("client.codec: %w", err)
	}
	if len(c.Etcd.Endpoints) > 0 {
		if c.Etcd.Name == "" {
			return fmt.Errorf("etcd.name must not be empty")
		}
		if c.Etcd.TTL <= 0 {
			return fmt.Errorf("invalid etcd.ttl %d", c.Etcd.TTL)
		}
	}
	return nil
}
