package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mailpilot/internal/api"
	"mailpilot/internal/config"
	"mailpilot/internal/core"
	"mailpilot/internal/logging"
	mailpilotmcp "mailpilot/internal/mcp"
	"mailpilot/internal/notify"
	"mailpilot/internal/store"
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	logger := logging.New(cfg.LogLevel)

	baseCtx := context.Background()
	storeInst, err := store.Open(baseCtx, cfg.StateDir)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer storeInst.Close()

	var notifier core.Notifier = &notify.NoOpNotifier{}
	if cfg.Bark.Enabled && cfg.Bark.URL != "" {
		bark, err := notify.NewBarkNotifier(cfg.Bark.URL)
		if err != nil {
			logger.Error("configure bark notifier", "err", err)
			os.Exit(1)
		}
		notifier = bark
	}

	factory := newSessionFactory(baseCtx, cfg, storeInst, logger)
	supervisor := core.NewSupervisor(factory, storeInst, notifier, core.SchedulerConfig{
		CycleInterval:   cfg.Automation.CycleInterval,
		RetryDelay:      cfg.Automation.RetryDelay,
		MaxOAuthRetries: cfg.Automation.MaxOAuthRetries,
		ReauthCron:      cfg.Automation.ReauthCron,
	}, logger)

	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	if cfg.Automation.Autostart {
		if err := supervisor.Start(ctx, core.StartOptions{}); err != nil {
			logger.Error("autostart failed, session can still be started via the API", "err", err)
		}
	}

	// Run based on mode
	switch cfg.Mode {
	case "http", "":
		runHTTPMode(cfg, storeInst, supervisor, logger)
	case "mcp":
		runMCPMode(storeInst, supervisor, logger, cancel)
	case "both":
		runBothMode(cfg, storeInst, supervisor, logger)
	default:
		logger.Error("invalid mode", "mode", cfg.Mode, "valid", []string{"http", "mcp", "both"})
		os.Exit(1)
	}
}

// runHTTPMode starts only the HTTP server.
func runHTTPMode(cfg *config.Config, storeInst *store.Store, supervisor *core.Supervisor, logger *slog.Logger) {
	server, err := api.NewServer(cfg.Server.Addr, cfg.Server.AuthToken, storeInst, supervisor, logger)
	if err != nil {
		logger.Error("create server", "err", err)
		os.Exit(1)
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-serverErr:
		logger.Error("server error", "err", err)
	}

	shutdown(cfg, server, supervisor, logger)
}

// runMCPMode starts only the MCP server.
func runMCPMode(storeInst *store.Store, supervisor *core.Supervisor, logger *slog.Logger, cancel context.CancelFunc) {
	mcpServer := mailpilotmcp.NewMCPServer(storeInst, supervisor, logger)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigs
		logger.Info("received signal, shutting down...")
		supervisor.Stop()
		cancel()
	}()

	// Run MCP server (blocking)
	if err := mcpServer.Run(); err != nil {
		logger.Error("mcp server error", "err", err)
		os.Exit(1)
	}
}

// runBothMode starts both HTTP and MCP servers.
func runBothMode(cfg *config.Config, storeInst *store.Store, supervisor *core.Supervisor, logger *slog.Logger) {
	// Start MCP server in background
	mcpServer := mailpilotmcp.NewMCPServer(storeInst, supervisor, logger)
	mcpErr := make(chan error, 1)
	go func() {
		if err := mcpServer.Run(); err != nil {
			mcpErr <- err
		}
	}()

	// Start HTTP server
	server, err := api.NewServer(cfg.Server.Addr, cfg.Server.AuthToken, storeInst, supervisor, logger)
	if err != nil {
		logger.Error("create server", "err", err)
		os.Exit(1)
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-serverErr:
		logger.Error("server error", "err", err)
	case err := <-mcpErr:
		logger.Error("mcp server error", "err", err)
	}

	shutdown(cfg, server, supervisor, logger)
	logger.Info("shutdown complete")
}

func shutdown(cfg *config.Config, server *api.Server, supervisor *core.Supervisor, logger *slog.Logger) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "err", err)
	}

	stopped := make(chan struct{})
	go func() {
		supervisor.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(cfg.ShutdownGrace):
		logger.Warn("session stop timed out")
	}
}
