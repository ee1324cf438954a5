package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFile)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_MissingFile_ReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != DefaultServerAddr {
		t.Fatalf("server.addr = %q, want %q", cfg.Server.Addr, DefaultServerAddr)
	}
	if cfg.Agent.URL != DefaultAgentURL || cfg.Agent.Timeout != DefaultAgentTimeout || !cfg.Agent.Stream {
		t.Fatalf("agent = %+v", cfg.Agent)
	}
	if cfg.Store.Driver != DriverSQLite || cfg.Store.Path != DefaultStorePath {
		t.Fatalf("store = %+v", cfg.Store)
	}
	if cfg.Agentd.Model != DefaultAgentdModel || cfg.Agentd.ToolsRoot != "." {
		t.Fatalf("agentd = %+v", cfg.Agentd)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: "127.0.0.1:9000"
agent:
  timeout: 30s
  stream: false
  name: Helper
store:
  driver: jsonl
  path: /tmp/chats
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Errorf("server.addr = %q", cfg.Server.Addr)
	}
	if cfg.Agent.Timeout != 30*time.Second || cfg.Agent.Stream || cfg.Agent.Name != "Helper" {
		t.Errorf("agent = %+v", cfg.Agent)
	}
	// Unset keys keep their defaults.
	if cfg.Agent.URL != DefaultAgentURL {
		t.Errorf("agent.url = %q", cfg.Agent.URL)
	}
	if cfg.Store.Driver != DriverJSONL || cfg.Store.Path != "/tmp/chats" {
		t.Errorf("store = %+v", cfg.Store)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unparsable", "server: [", "parse yaml"},
		{"driver", "store:\n  driver: mongo\n", "store.driver"},
		{"url", "agent:\n  url: /relative\n", "agent.url"},
		{"timeout", "agent:\n  timeout: -1s\n", "agent.timeout"},
		{"addr", "server:\n  addr: \"\"\n", "server.addr"},
		{"level", "log:\n  level: loud\n", "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Load() error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "warn"
	t.Setenv("LOG_LEVEL", "")
	if got := cfg.LogLevel(); got != slog.LevelWarn {
		t.Fatalf("LogLevel() = %v, want WARN", got)
	}
	t.Setenv("LOG_LEVEL", "DEBUG")
	if got := cfg.LogLevel(); got != slog.LevelDebug {
		t.Fatalf("LogLevel() with env = %v, want DEBUG", got)
	}
}
