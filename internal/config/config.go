package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// AgentConfig describes how the backing agent subprocess is launched.
type AgentConfig struct {
	// Command is the agent binary; Args are passed verbatim.
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Env     []string `json:"env"`
	// Backend selects the launcher: "local" or "docker".
	Backend string `json:"backend"`
	// ContainerID is the docker container the agent runs in (docker backend only).
	ContainerID string `json:"container_id"`
	// SessionDir is where the agent writes its JSONL transcripts.
	// Defaults to ~/.ferryman/agent-sessions.
	SessionDir string `json:"session_dir"`
}

// TimeoutConfig holds subprocess request timeouts in milliseconds.
type TimeoutConfig struct {
	RequestMs int `json:"request_ms"`
	ReplayMs  int `json:"replay_ms"`
}

// CapabilityConfig gates protocol behaviors that not every client tolerates.
type CapabilityConfig struct {
	// StatusUpdates enables synthetic per-session status tool-call
	// notifications. Off by default: some clients reject tool-call ids
	// that never originated from the agent.
	StatusUpdates bool `json:"status_updates"`
}

// InspectConfig configures the optional read-only MCP inspection listener.
type InspectConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
}

// MaintenanceConfig holds cron expressions for background jobs.
type MaintenanceConfig struct {
	// IndexReconcile rescans the transcript directory and merges
	// discovered sessions into the persisted index.
	IndexReconcile string `json:"index_reconcile"`
	// UsageFlush aggregates the usage archive.
	UsageFlush string `json:"usage_flush"`
}

// Config is the loaded ferryman.jsonc.
type Config struct {
	Agent        AgentConfig       `json:"agent"`
	DataDir      string            `json:"data_dir"`
	LogDir       string            `json:"log_dir"`
	Timeouts     TimeoutConfig     `json:"timeouts"`
	HeartbeatSec int               `json:"heartbeat_sec"`
	Capabilities CapabilityConfig  `json:"capabilities"`
	Inspect      InspectConfig     `json:"inspect"`
	Maintenance  MaintenanceConfig `json:"maintenance"`
}

// Load reads and parses a ferryman.jsonc file, applying defaults for
// missing fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(StripJSONComments(data), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	return cfg, nil
}

// Default returns a config with all defaults applied and no agent command.
func Default(baseDir string) *Config {
	cfg := &Config{}
	cfg.applyDefaults(baseDir)
	return cfg
}

func (c *Config) applyDefaults(baseDir string) {
	if c.DataDir == "" {
		c.DataDir = filepath.Join(baseDir, "data")
	}
	if c.LogDir == "" {
		c.LogDir = filepath.Join(baseDir, "logs")
	}
	if c.Agent.Backend == "" {
		c.Agent.Backend = "local"
	}
	if c.Agent.SessionDir == "" {
		c.Agent.SessionDir = filepath.Join(baseDir, "agent-sessions")
	}
	if c.Timeouts.RequestMs <= 0 {
		c.Timeouts.RequestMs = 5000
	}
	if c.Timeouts.ReplayMs <= 0 {
		c.Timeouts.ReplayMs = 60000
	}
	if c.HeartbeatSec <= 0 {
		c.HeartbeatSec = 30
	}
	if c.Inspect.Address == "" {
		c.Inspect.Address = "127.0.0.1:9190"
	}
	if c.Maintenance.IndexReconcile == "" {
		c.Maintenance.IndexReconcile = "*/10 * * * *"
	}
	if c.Maintenance.UsageFlush == "" {
		c.Maintenance.UsageFlush = "0 * * * *"
	}
}

// Validate checks required fields before the adapter starts.
func (c *Config) Validate() error {
	if c.Agent.Command == "" {
		return fmt.Errorf("agent.command is required")
	}
	switch c.Agent.Backend {
	case "local":
	case "docker":
		if c.Agent.ContainerID == "" {
			return fmt.Errorf("agent.container_id is required for the docker backend")
		}
	default:
		return fmt.Errorf("unknown agent backend %q (want local or docker)", c.Agent.Backend)
	}
	return nil
}

// RequestTimeout returns the default subprocess request timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Timeouts.RequestMs) * time.Millisecond
}

// ReplayTimeout returns the timeout for full-history replay requests.
func (c *Config) ReplayTimeout() time.Duration {
	return time.Duration(c.Timeouts.ReplayMs) * time.Millisecond
}

// HeartbeatInterval returns the pending-prompt heartbeat interval.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSec) * time.Second
}

// IndexPath returns the location of the persisted session-id to
// transcript-path map.
func (c *Config) IndexPath() string {
	return filepath.Join(c.DataDir, "sessions.json")
}

// UsageDBPath returns the location of the usage archive database.
func (c *Config) UsageDBPath() string {
	return filepath.Join(c.DataDir, "usage.db")
}

// AgentEnv returns the extra environment entries for spawned agents.
func (c *Config) AgentEnv() []string {
	return c.Agent.Env
}
