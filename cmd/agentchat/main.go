package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nstogner/agentchat/pkg/agent"
	"github.com/nstogner/agentchat/pkg/chat"
	"github.com/nstogner/agentchat/pkg/config"
	"github.com/nstogner/agentchat/pkg/server"
	"github.com/nstogner/agentchat/pkg/store/backend"
)

func main() {
	configPath := flag.String("config", config.DefaultFile, "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger.
	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)

	// Initialize store.
	st, closeStore, err := backend.Open(cfg.Store)
	if err != nil {
		slog.Error("Failed to initialize store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	slog.Info("Using agent endpoint", "url", cfg.Agent.URL, "stream", cfg.Agent.Stream)
	client := agent.NewClient(cfg.Agent.URL, cfg.Agent.Timeout, logger)

	srv := server.New(st, client, server.Options{
		Agent:  chat.AgentTarget{ID: cfg.Agent.ID, Name: cfg.Agent.Name},
		Stream: cfg.Agent.Stream,
		Logger: logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Start(cfg.Server.Addr)
	}()

	select {
	case err := <-errc:
		if err != nil {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			slog.Error("Shutdown failed", "error", err)
		}
	}
}
