package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	TransportWebSocket = "websocket"
	TransportRedis     = "redis"
	TransportAMQP      = "amqp"
)

type ConfigSchema struct {
	API struct {
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"api"`
	Socket struct {
		Transport         string        `yaml:"transport"`
		URL               string        `yaml:"url"`
		ReconnectAttempts int           `yaml:"reconnect_attempts"`
		ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	} `yaml:"socket"`
	Redis struct {
		Host          string `yaml:"host"`
		Port          int    `yaml:"port"`
		Password      string `yaml:"password"`
		DB            int    `yaml:"db"`
		ChannelPrefix string `yaml:"channel_prefix"`
	} `yaml:"redis"`
	RabbitMQ struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"rabbitmq"`
	Map struct {
		DefaultRadiusKm float64 `yaml:"default_radius_km"`
	} `yaml:"map"`
	Session struct {
		UserID string `yaml:"user_id"`
		Role   string `yaml:"role"`
		Token  string `yaml:"token"`
	} `yaml:"session"`
	Journal struct {
		Driver    string        `yaml:"driver"`
		DSN       string        `yaml:"dsn"`
		Replicas  []string      `yaml:"replicas"`
		Retention time.Duration `yaml:"retention"`
	} `yaml:"journal"`
	Debug struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"debug"`
	Logs struct {
		Level string `yaml:"level"`
	} `yaml:"logs"`
}

// Default возвращает конфигурацию со значениями по умолчанию
func Default() *ConfigSchema {
	conf := &ConfigSchema{}
	conf.API.Timeout = 10 * time.Second
	conf.Socket.Transport = TransportWebSocket
	conf.Socket.ReconnectAttempts = 5
	conf.Socket.ReconnectDelay = 2 * time.Second
	conf.Redis.Port = 6379
	conf.Redis.ChannelPrefix = "food:"
	conf.RabbitMQ.Exchange = "food_events"
	conf.Map.DefaultRadiusKm = 5
	conf.Journal.Driver = "sqlite"
	conf.Journal.Retention = 7 * 24 * time.Hour
	conf.Debug.Host = "127.0.0.1"
	conf.Debug.Port = 8090
	conf.Logs.Level = "info"
	return conf
}

// LoadConfig читает YAML поверх значений по умолчанию
func LoadConfig(filePath string) (*ConfigSchema, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*ConfigSchema, error) {
	conf := Default()
	if err := yaml.Unmarshal(data, conf); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *ConfigSchema) Validate() error {
	switch c.Socket.Transport {
	case TransportWebSocket, TransportRedis, TransportAMQP:
	default:
		return fmt.Errorf("unknown socket transport %q", c.Socket.Transport)
	}
	if c.Socket.ReconnectAttempts < 0 {
		return fmt.Errorf("socket.reconnect_attempts must not be negative")
	}
	if c.Socket.ReconnectDelay < 0 {
		return fmt.Errorf("socket.reconnect_delay must not be negative")
	}
	if c.Map.DefaultRadiusKm <= 0 {
		return fmt.Errorf("map.default_radius_km must be positive, got %v", c.Map.DefaultRadiusKm)
	}
	switch c.Session.Role {
	case "", "map", "owner", "claimant":
	default:
		return fmt.Errorf("unknown session role %q", c.Session.Role)
	}
	if c.Journal.Retention < 0 {
		return fmt.Errorf("journal.retention must not be negative")
	}
	switch c.Journal.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown journal driver %q", c.Journal.Driver)
	}
	return nil
}

// RedisAddr - host:port для go-redis
func (c *ConfigSchema) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// DebugAddr - адрес отладочного HTTP сервера
func (c *ConfigSchema) DebugAddr() string {
	return fmt.Sprintf("%s:%d", c.Debug.Host, c.Debug.Port)
}
