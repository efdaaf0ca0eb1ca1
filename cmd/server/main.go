// server runs the conversation memory service over stdio (MCP) or HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"contextvault/internal/api"
	"contextvault/internal/config"
	"contextvault/internal/di"
	"contextvault/internal/mcp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		mode       = flag.String("mode", "", "server mode: stdio or http (overrides config)")
		configPath = flag.String("config", "", "path to YAML config file")
	)
	flag.Parse()

	if *configPath != "" {
		if err := os.Setenv("CONTEXTVAULT_CONFIG", *configPath); err != nil {
			return fmt.Errorf("failed to set config path: %w", err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if *mode != "" {
		cfg.Server.Mode = *mode
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	container, err := di.NewContainer(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := container.Shutdown(); err != nil {
			fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
		}
	}()

	if err := container.Start(ctx); err != nil {
		return err
	}

	switch cfg.Server.Mode {
	case "stdio":
		server, err := mcp.NewServer(container)
		if err != nil {
			return err
		}
		if err := server.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	case "http":
		if err := api.NewServer(container).Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	default:
		return fmt.Errorf("invalid mode %q, use stdio or http", cfg.Server.Mode)
	}
	return nil
}
