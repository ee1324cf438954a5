// Command cli is a terminal chat client. It drives a chat controller
// directly against the configured store and agent endpoint.
//
// Usage:
//
//	go run ./cmd/cli -config agentchat.yaml
//
// Keys:
//
//	enter   send the message
//	ctrl+n  start a new conversation
//	ctrl+l  like the last reply
//	ctrl+d  dislike the last reply
//	ctrl+r  regenerate the last reply
//	ctrl+x  cancel the pending reply
//	esc     back to the conversation list
//	ctrl+c  quit
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nstogner/agentchat/pkg/agent"
	"github.com/nstogner/agentchat/pkg/chat"
	"github.com/nstogner/agentchat/pkg/config"
	"github.com/nstogner/agentchat/pkg/store/backend"
)

func main() {
	configPath := flag.String("config", config.DefaultFile, "path to the YAML config file")
	logPath := flag.String("log", "agentchat-cli.log", "file to write logs to")
	user := flag.String("user", defaultUser(), "user id to chat as")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}

	// The terminal belongs to the UI, so logs go to a file.
	f, err := os.OpenFile(*logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	defer f.Close()
	logger := cfg.Logger(f)
	slog.SetDefault(logger)
	slog.Info("Logging initialized", "level", cfg.LogLevel())

	st, closeStore, err := backend.Open(cfg.Store)
	if err != nil {
		fmt.Println("Error: open store:", err)
		os.Exit(1)
	}
	defer closeStore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctrl := chat.New(*user, st, agent.NewClient(cfg.Agent.URL, cfg.Agent.Timeout, logger),
		chat.WithLogger(logger),
		chat.WithAgent(chat.AgentTarget{ID: cfg.Agent.ID, Name: cfg.Agent.Name}),
	)
	if err := ctrl.LoadConversations(ctx); err != nil {
		slog.Error("Failed to load conversations", "error", err)
	}

	p := tea.NewProgram(initialModel(ctx, ctrl, cfg.Agent.Stream), tea.WithAltScreen())
	_, runErr := p.Run()

	ctrl.Cancel()
	ctrl.Wait()
	if runErr != nil {
		fmt.Printf("Alas, there's been an error: %v", runErr)
		os.Exit(1)
	}
}

func defaultUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}
