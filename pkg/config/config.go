// Copyright 2025 Strand Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the runtime configuration: YAML with ${VAR} env
// expansion, decoded through mapstructure, with .env support.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration document.
type Config struct {
	Agent      AgentConfig      `yaml:"agent"`
	Logging    LoggingConfig    `yaml:"logging"`
	Server     ServerConfig     `yaml:"server"`
	TaskStore  TaskStoreConfig  `yaml:"task_store"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Shell      ShellConfig      `yaml:"shell"`

	// Features lists system feature keys to auto-install on every run.
	Features []string `yaml:"features"`
}

// AgentConfig configures the agent runtime.
type AgentConfig struct {
	ID                 string `yaml:"id"`
	Model              string `yaml:"model"`
	MaxAgentIterations int    `yaml:"max_agent_iterations"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServerConfig configures the HTTP/SSE server.
type ServerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TaskStoreConfig selects the task storage backend.
type TaskStoreConfig struct {
	// Backend is "memory" or "sql".
	Backend string `yaml:"backend"`

	// Dialect and DSN apply to the sql backend.
	Dialect string `yaml:"dialect"`
	DSN     string `yaml:"dsn"`
}

// CheckpointConfig configures run persistence.
type CheckpointConfig struct {
	// Root directory for the file provider. Empty keeps checkpoints in
	// memory.
	Root string `yaml:"root"`

	EnableAutomaticPersistence bool `yaml:"enable_automatic_persistence"`
}

// ShellConfig configures the command execution boundary.
type ShellConfig struct {
	AllowedCommands []string      `yaml:"allowed_commands"`
	DeniedCommands  []string      `yaml:"denied_commands"`
	DefaultTimeout  time.Duration `yaml:"default_timeout"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Agent.ID == "" {
		c.Agent.ID = "strand"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "warn"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.TaskStore.Backend == "" {
		c.TaskStore.Backend = "memory"
	}
	if c.Shell.DefaultTimeout == 0 {
		c.Shell.DefaultTimeout = 5 * time.Minute
	}
}

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	switch c.TaskStore.Backend {
	case "memory":
	case "sql":
		if c.TaskStore.Dialect == "" || c.TaskStore.DSN == "" {
			return fmt.Errorf("task_store: sql backend requires dialect and dsn")
		}
	default:
		return fmt.Errorf("task_store: unknown backend %q", c.TaskStore.Backend)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging: unknown format %q", c.Logging.Format)
	}

	if c.Agent.MaxAgentIterations < 0 {
		return fmt.Errorf("agent: max_agent_iterations must be non-negative")
	}
	return nil
}
