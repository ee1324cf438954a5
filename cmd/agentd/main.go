// Command agentd serves a development agent endpoint backed by Gemini, or
// by the echo model when GEMINI_API_KEY is unset.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nstogner/agentchat/pkg/agentserver"
	"github.com/nstogner/agentchat/pkg/config"
	"github.com/nstogner/agentchat/pkg/model"
	"github.com/nstogner/agentchat/pkg/model/echo"
	"github.com/nstogner/agentchat/pkg/model/gemini"
	"github.com/nstogner/agentchat/pkg/tools"
)

func main() {
	configPath := flag.String("config", config.DefaultFile, "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize model provider.
	var provider model.Provider
	modelName := cfg.Agentd.Model
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		provider, err = gemini.New(ctx, apiKey)
		if err != nil {
			slog.Error("Failed to initialize Gemini provider", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("GEMINI_API_KEY not set, using the echo model")
		provider = echo.New()
		modelName = echo.ModelName
	}

	if cfg.LogLevel() > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	h := agentserver.NewHandler(provider, tools.Builtin(cfg.Agentd.ToolsRoot), modelName, logger)
	if err := h.Validate(); err != nil {
		slog.Error("Invalid agent configuration", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{Addr: cfg.Agentd.Addr, Handler: h.Engine()}
	errc := make(chan error, 1)
	go func() {
		slog.Info("Starting agent endpoint", "addr", cfg.Agentd.Addr, "provider", provider.Name(), "model", modelName)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
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
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Shutdown failed", "error", err)
		}
	}
}
