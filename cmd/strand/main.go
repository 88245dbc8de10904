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

// Command strand runs the agent runtime.
//
// Usage:
//
//	strand serve --config strand.yaml
//	strand validate --config strand.yaml
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/strandkit/strand/pkg/a2a"
	"github.com/strandkit/strand/pkg/config"
	"github.com/strandkit/strand/pkg/logger"
	"github.com/strandkit/strand/pkg/utils"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the task server."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`

	Config   string `short:"c" help:"Path to config file." type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("strand version %s\n", version)
	return nil
}

// ValidateCmd checks a configuration file.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return fmt.Errorf("--config is required")
	}
	if _, err := config.Load(cli.Config); err != nil {
		return err
	}
	fmt.Printf("%s is valid\n", cli.Config)
	return nil
}

// ServeCmd starts the task read and session event server.
type ServeCmd struct {
	Address string `help:"Listen address, overrides the config file." placeholder:"HOST:PORT"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
	logger.Setup(logger.Config{
		Level:  cfg.Logging.Level,
		Format: logger.Format(cfg.Logging.Format),
	})
	if c.Address != "" {
		cfg.Server.Address = c.Address
	}

	store, err := newTaskStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closer, ok := store.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				slog.Warn("Failed to close task store", "error", err)
			}
		}
	}()

	server := a2a.NewServer(a2a.ServerConfig{
		Address:         cfg.Server.Address,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, store, a2a.NewSessionRegistry(store))

	slog.Info("Starting server", "address", cfg.Server.Address)
	return server.Start(ctx)
}

func loadConfig(cli *CLI) (*config.Config, error) {
	config.LoadDotEnvForConfig(cli.Config)
	if cli.Config == "" {
		return config.Default(), nil
	}
	return config.Load(cli.Config)
}

func newTaskStore(cfg *config.Config) (a2a.Storage, error) {
	switch cfg.TaskStore.Backend {
	case "sql":
		db, err := sql.Open(driverName(cfg.TaskStore.Dialect), cfg.TaskStore.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open task database: %w", err)
		}
		return a2a.NewSQLStore(db, cfg.TaskStore.Dialect, utils.SystemClock{})
	default:
		return a2a.NewTaskStore(utils.SystemClock{}), nil
	}
}

func driverName(dialect string) string {
	switch dialect {
	case "sqlite", "sqlite3":
		return "sqlite3"
	default:
		return dialect
	}
}

func main() {
	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("strand"),
		kong.Description("LLM agent graph runtime."),
		kong.UsageOnError(),
	)
	if err := kctx.Run(cli); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
