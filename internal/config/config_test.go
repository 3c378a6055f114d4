package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("valid config", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "valid.jsonc")
		configJSON := `{
			// Test config
			"agent": {
				"command": "fake-agent",
				"args": ["--ndjson"],
				"backend": "local",
				"session_dir": "/tmp/transcripts"
			},
			"timeouts": {"request_ms": 1000, "replay_ms": 30000},
			"heartbeat_sec": 10,
			"capabilities": {"status_updates": true},
			"inspect": {"enabled": true, "address": "127.0.0.1:9999"}
		}`
		_ = os.WriteFile(configPath, []byte(configJSON), 0o644)

		cfg, err := Load(configPath)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Agent.Command != "fake-agent" {
			t.Errorf("Agent.Command = %q, want %q", cfg.Agent.Command, "fake-agent")
		}
		if cfg.RequestTimeout() != time.Second {
			t.Errorf("RequestTimeout() = %s, want 1s", cfg.RequestTimeout())
		}
		if cfg.HeartbeatInterval() != 10*time.Second {
			t.Errorf("HeartbeatInterval() = %s, want 10s", cfg.HeartbeatInterval())
		}
		if !cfg.Capabilities.StatusUpdates {
			t.Error("Capabilities.StatusUpdates = false, want true")
		}
		if cfg.Inspect.Address != "127.0.0.1:9999" {
			t.Errorf("Inspect.Address = %q, want %q", cfg.Inspect.Address, "127.0.0.1:9999")
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() error = %v", err)
		}
	})

	t.Run("applies defaults for missing fields", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "minimal.jsonc")
		configJSON := `{"agent": {"command": "fake-agent"}}`
		_ = os.WriteFile(configPath, []byte(configJSON), 0o644)

		cfg, err := Load(configPath)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Agent.Backend != "local" {
			t.Errorf("Agent.Backend = %q, want default %q", cfg.Agent.Backend, "local")
		}
		if cfg.Timeouts.RequestMs != 5000 {
			t.Errorf("Timeouts.RequestMs = %d, want default %d", cfg.Timeouts.RequestMs, 5000)
		}
		if cfg.Timeouts.ReplayMs != 60000 {
			t.Errorf("Timeouts.ReplayMs = %d, want default %d", cfg.Timeouts.ReplayMs, 60000)
		}
		if cfg.HeartbeatSec != 30 {
			t.Errorf("HeartbeatSec = %d, want default %d", cfg.HeartbeatSec, 30)
		}
		if cfg.Inspect.Address != "127.0.0.1:9190" {
			t.Errorf("Inspect.Address = %q, want default %q", cfg.Inspect.Address, "127.0.0.1:9190")
		}
		if cfg.Maintenance.IndexReconcile != "*/10 * * * *" {
			t.Errorf("Maintenance.IndexReconcile = %q, want default %q", cfg.Maintenance.IndexReconcile, "*/10 * * * *")
		}
		// Paths default relative to the config file's directory.
		if cfg.DataDir != filepath.Join(tmpDir, "data") {
			t.Errorf("DataDir = %q, want %q", cfg.DataDir, filepath.Join(tmpDir, "data"))
		}
		if cfg.Agent.SessionDir != filepath.Join(tmpDir, "agent-sessions") {
			t.Errorf("Agent.SessionDir = %q, want %q", cfg.Agent.SessionDir, filepath.Join(tmpDir, "agent-sessions"))
		}
		if cfg.IndexPath() != filepath.Join(cfg.DataDir, "sessions.json") {
			t.Errorf("IndexPath() = %q, want under DataDir", cfg.IndexPath())
		}
	})

	t.Run("invalid JSON returns error", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "invalid.jsonc")
		_ = os.WriteFile(configPath, []byte("not json"), 0o644)

		if _, err := Load(configPath); err == nil {
			t.Error("expected error for invalid JSON")
		}
	})

	t.Run("missing file returns error", func(t *testing.T) {
		if _, err := Load(filepath.Join(tmpDir, "nonexistent.jsonc")); err == nil {
			t.Error("expected error for missing file")
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"local with command", func(c *Config) { c.Agent.Command = "agent" }, false},
		{"missing command", func(c *Config) {}, true},
		{"docker without container_id", func(c *Config) {
			c.Agent.Command = "agent"
			c.Agent.Backend = "docker"
		}, true},
		{"docker with container_id", func(c *Config) {
			c.Agent.Command = "agent"
			c.Agent.Backend = "docker"
			c.Agent.ContainerID = "abc123"
		}, false},
		{"unknown backend", func(c *Config) {
			c.Agent.Command = "agent"
			c.Agent.Backend = "podman"
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default(t.TempDir())
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStripJSONComments(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"line comment", "{\n// gone\n\"a\": 1}", "{\n\n\"a\": 1}"},
		{"block comment", `{/* gone */"a": 1}`, `{"a": 1}`},
		{"multiline block", "{/* one\ntwo */\"a\": 1}", "{\"a\": 1}"},
		{"slashes inside string", `{"url": "http://example.com"}`, `{"url": "http://example.com"}`},
		{"comment marker inside string", `{"a": "not // a comment"}`, `{"a": "not // a comment"}`},
		{"escaped quote keeps string state", `{"a": "say \"hi\" // still text"}`, `{"a": "say \"hi\" // still text"}`},
		{"comment after value", "{\"a\": 1 // trailing\n}", "{\"a\": 1 \n}"},
		{"no comments", `{"a": 1}`, `{"a": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(StripJSONComments([]byte(tt.input))); got != tt.want {
				t.Errorf("StripJSONComments() = %q, want %q", got, tt.want)
			}
		})
	}
}
