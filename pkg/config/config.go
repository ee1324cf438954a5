// Package config loads the YAML configuration shared by the agentchat
// binaries.
//
// Example (agentchat.yaml):
//
//	server:
//	  addr: ":8080"
//	agent:
//	  url: http://127.0.0.1:8090/api/agent/invoke
//	  timeout: 2m
//	  stream: true
//	store:
//	  driver: sqlite
//	  path: data/agentchat.db
//	log:
//	  level: info
//
// A missing file yields the defaults. A file that exists but cannot be
// parsed is an error.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultFile = "agentchat.yaml"

	DefaultServerAddr   = ":8080"
	DefaultAgentURL     = "http://127.0.0.1:8090/api/agent/invoke"
	DefaultAgentTimeout = 2 * time.Minute
	DefaultStoreDriver  = "sqlite"
	DefaultStorePath    = "data/agentchat.db"
	DefaultLogLevel     = "info"
	DefaultAgentdAddr   = ":8090"
	DefaultAgentdModel  = "gemini-2.0-flash"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverJSONL  = "jsonl"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Agent  AgentConfig  `yaml:"agent"`
	Store  StoreConfig  `yaml:"store"`
	Log    LogConfig    `yaml:"log"`
	Agentd AgentdConfig `yaml:"agentd"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// AgentConfig describes the agent endpoint the chat server talks to.
type AgentConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	Stream  bool          `yaml:"stream"`
	ID      string        `yaml:"id"`
	Name    string        `yaml:"name"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"`
	// Path is a database file for sqlite and a directory for jsonl.
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// AgentdConfig configures the development agent endpoint.
type AgentdConfig struct {
	Addr      string `yaml:"addr"`
	Model     string `yaml:"model"`
	ToolsRoot string `yaml:"tools_root"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: DefaultServerAddr},
		Agent: AgentConfig{
			URL:     DefaultAgentURL,
			Timeout: DefaultAgentTimeout,
			Stream:  true,
		},
		Store:  StoreConfig{Driver: DefaultStoreDriver, Path: DefaultStorePath},
		Log:    LogConfig{Level: DefaultLogLevel},
		Agentd: AgentdConfig{Addr: DefaultAgentdAddr, Model: DefaultAgentdModel, ToolsRoot: "."},
	}
}

// Load reads path over the defaults. If the file doesn't exist, it returns
// the defaults and nil error.
func Load(path string) (*Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse yaml config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the values that the binaries rely on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("server.addr is empty")
	}
	if strings.TrimSpace(c.Agentd.Addr) == "" {
		return errors.New("agentd.addr is empty")
	}
	u, err := url.Parse(c.Agent.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("agent.url %q is not an absolute http(s) URL", c.Agent.URL)
	}
	if c.Agent.Timeout <= 0 {
		return fmt.Errorf("agent.timeout %s must be positive", c.Agent.Timeout)
	}
	switch c.Store.Driver {
	case DriverSQLite, DriverJSONL:
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		return errors.New("store.path is empty")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// LogLevel returns the configured level. LOG_LEVEL in the environment wins.
func (c *Config) LogLevel() slog.Level {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if l, err := parseLevel(v); err == nil {
			return l
		}
	}
	l, err := parseLevel(c.Log.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

// Logger returns a text logger writing to w at the configured level.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel()}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log.level %q", s)
	}
	return l, nil
}
