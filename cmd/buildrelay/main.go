package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/buildrelay/internal/config"
	"git.home.luguber.info/inful/buildrelay/internal/events"
	"git.home.luguber.info/inful/buildrelay/internal/executor"
	"git.home.luguber.info/inful/buildrelay/internal/history"
	"git.home.luguber.info/inful/buildrelay/internal/janitor"
	"git.home.luguber.info/inful/buildrelay/internal/logbus"
	"git.home.luguber.info/inful/buildrelay/internal/metrics"
	"git.home.luguber.info/inful/buildrelay/internal/queue"
	"git.home.luguber.info/inful/buildrelay/internal/server/httpserver"
	"git.home.luguber.info/inful/buildrelay/internal/webhook"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"config.toml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Serve struct{} `cmd:"" default:"1" help:"Start the build relay server"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`
}

func main() {
	ctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	switch ctx.Command() {
	case "serve":
		if err := runServe(); err != nil {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	case "init":
		if err := runInit(CLI.Config, CLI.Init.Force); err != nil {
			slog.Error("Init failed", "error", err)
			os.Exit(1)
		}
	}
}

func runInit(configPath string, force bool) error {
	slog.Info("Initializing configuration", "path", configPath, "force", force)
	return config.Init(configPath, force)
}

func runServe() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	store := config.NewStore(cfg)

	slog.Info("Starting build relay",
		"name", cfg.Name,
		"port", cfg.Port,
		"projects", len(cfg.Projects))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	var registry *prometheus.Registry
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		recorder = metrics.NewPrometheusRecorder(registry)
	}

	archive, err := history.NewStore(cfg.HistoryDB)
	if err != nil {
		return fmt.Errorf("open history database: %w", err)
	}
	defer archive.Close()

	emitter, err := events.NewEmitter(cfg.Events)
	if err != nil {
		return fmt.Errorf("connect event emitter: %w", err)
	}
	defer emitter.Close()

	bus := logbus.New()
	manager := queue.NewManager(store, executor.New(recorder), bus, queue.Options{
		Archive:  archive,
		Notifier: webhook.New(10 * time.Second),
		Emitter:  emitter,
		Metrics:  recorder,
	})

	watcher, err := config.NewWatcher(CLI.Config, store)
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("start config watcher: %w", err)
	}
	defer watcher.Stop()

	sweeper, err := janitor.New(cfg.Retention, archive, cfg.LogPath)
	if err != nil {
		return fmt.Errorf("create retention janitor: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	srv := httpserver.New(store, manager, bus, httpserver.Options{
		Registry: registry,
		Metrics:  recorder,
	})
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}

	<-ctx.Done()
	slog.Info("Shutdown signal received, stopping server...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := srv.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop http server: %w", err)
	}

	slog.Info("Build relay stopped")
	return nil
}
