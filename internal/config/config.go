package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Chrome  ChromeConfig  `yaml:"chrome"`
	Server  ServerConfig  `yaml:"server"`
	History HistoryConfig `yaml:"history"`
	Session SessionConfig `yaml:"session"`
	Feed    FeedConfig    `yaml:"feed"`
}

// ChromeConfig locates the DevTools endpoint of the instrumented browser.
type ChromeConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

type ServerConfig struct {
	Port      int    `yaml:"port"`
	Host      string `yaml:"host"`
	AuthToken string `yaml:"auth_token"`
}

type HistoryConfig struct {
	LogCapacity   int `yaml:"log_capacity"`
	ErrorCapacity int `yaml:"error_capacity"`
}

type SessionConfig struct {
	MaxReconnectAttempts int      `yaml:"max_reconnect_attempts"`
	IgnoredStackPatterns []string `yaml:"ignored_stack_patterns"`
}

// FeedConfig tunes the /ws live feed.
type FeedConfig struct {
	BroadcastThrottle time.Duration `yaml:"broadcast_throttle"`
	StatusInterval    time.Duration `yaml:"status_interval"`
	SnapshotSize      int           `yaml:"snapshot_size"`
	MaxClients        int           `yaml:"max_clients"` // 0 means unlimited
}

func defaultConfig() *Config {
	return &Config{
		Chrome: ChromeConfig{
			Host:        "localhost",
			Port:        9222,
			DialTimeout: 10 * time.Second,
		},
		Server: ServerConfig{
			Port: 4000,
			Host: "127.0.0.1",
		},
		History: HistoryConfig{
			LogCapacity:   100,
			ErrorCapacity: 100,
		},
		Session: SessionConfig{
			MaxReconnectAttempts: 3,
			IgnoredStackPatterns: []string{"@vite/", "node_modules"},
		},
		Feed: FeedConfig{
			BroadcastThrottle: 100 * time.Millisecond,
			StatusInterval:    2 * time.Second,
			SnapshotSize:      20,
			MaxClients:        16,
		},
	}
}

// Load reads the YAML file at path over the defaults. The file must exist.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to the defaults when the
// file does not exist. Environment overrides are applied either way.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = defaultConfig(), nil
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// applyEnv honours CHROME_HOST, CHROME_PORT and PORT.
func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("CHROME_HOST"); v != "" {
		c.Chrome.Host = v
	}
	if v := getenv("CHROME_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CHROME_PORT: %w", err)
		}
		c.Chrome.Port = port
	}
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = port
	}
	return nil
}

func (c *Config) Validate() error {
	switch {
	case c.Chrome.Host == "":
		return errors.New("chrome.host must be set")
	case c.Chrome.Port <= 0 || c.Chrome.Port > 65535:
		return fmt.Errorf("chrome.port out of range: %d", c.Chrome.Port)
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	case c.History.LogCapacity <= 0:
		return fmt.Errorf("history.log_capacity must be positive, got %d", c.History.LogCapacity)
	case c.History.ErrorCapacity <= 0:
		return fmt.Errorf("history.error_capacity must be positive, got %d", c.History.ErrorCapacity)
	case c.Session.MaxReconnectAttempts < 0:
		return fmt.Errorf("session.max_reconnect_attempts must not be negative, got %d", c.Session.MaxReconnectAttempts)
	case c.Feed.StatusInterval <= 0:
		return fmt.Errorf("feed.status_interval must be positive, got %s", c.Feed.StatusInterval)
	case c.Feed.MaxClients < 0:
		return fmt.Errorf("feed.max_clients must not be negative, got %d", c.Feed.MaxClients)
	case c.Feed.SnapshotSize < 0:
		return fmt.Errorf("feed.snapshot_size must not be negative, got %d", c.Feed.SnapshotSize)
	}
	return nil
}

// ChromeAddr returns host:port of the DevTools endpoint.
func (c *Config) ChromeAddr() string {
	return fmt.Sprintf("%s:%d", c.Chrome.Host, c.Chrome.Port)
}
