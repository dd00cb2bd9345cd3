package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the configuration file and hot-swaps reloadable parts of
// the configuration into the Store. Auth policies, webhook URLs, command
// templates, and return fields take effect on the next request or dequeue;
// listener and route topology changes require a restart and only log a
// warning.
type Watcher struct {
	configPath   string
	store        *Store
	watcher      *fsnotify.Watcher
	stopChan     chan struct{}
	reloadChan   chan struct{}
	debounceTime time.Duration
}

// NewWatcher creates a watcher for the given config file.
func NewWatcher(configPath string, store *Store) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	// Resolve absolute path for consistent watching.
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	return &Watcher{
		configPath:   absPath,
		store:        store,
		watcher:      fw,
		stopChan:     make(chan struct{}),
		reloadChan:   make(chan struct{}, 1),
		debounceTime: 2 * time.Second, // Debounce rapid file changes
	}, nil
}

// Start begins monitoring the configuration file.
func (w *Watcher) Start(ctx context.Context) error {
	// Watch the directory containing the config file: editors replace the
	// file on save, which drops a watch on the file itself.
	configDir := filepath.Dir(w.configPath)
	if err := w.watcher.Add(configDir); err != nil {
		return fmt.Errorf("watch config directory %s: %w", configDir, err)
	}

	slog.Info("Starting configuration watcher", "config_path", w.configPath)

	go w.watchLoop(ctx)
	go w.reloadLoop(ctx)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	close(w.stopChan)
	return w.watcher.Close()
}

func (w *Watcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.configPath {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			// Coalesce bursts; reloadChan has capacity 1.
			select {
			case w.reloadChan <- struct{}{}:
			default:
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Configuration watcher error", "error", err)
		}
	}
}

func (w *Watcher) reloadLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-w.reloadChan:
			time.Sleep(w.debounceTime)
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	next, err := Load(w.configPath)
	if err != nil {
		slog.Error("Configuration reload failed, keeping previous configuration", "error", err)
		return
	}

	prev := w.store.Current()
	if prev.Port != next.Port || prev.SSL != next.SSL || prev.BasePath != next.BasePath {
		slog.Warn("Listener configuration changed; restart required for it to take effect")
	}
	if pr, nr := routeSignature(prev), routeSignature(next); pr != nr {
		slog.Warn("Project route topology changed; restart required for new routes",
			"previous", pr, "next", nr)
	}

	w.store.Swap(next)
	slog.Info("Configuration reloaded", "projects", len(next.Projects))
}

// routeSignature summarizes the registered route set for change detection.
func routeSignature(cfg *Config) string {
	var paths []string
	for _, p := range cfg.Projects {
		for _, ep := range []EndpointConfig{p.API.Build, p.API.IsBuilding, p.API.Abort, p.API.Cleanup, p.API.Socket} {
			if ep.Endpoint != "" {
				paths = append(paths, p.BaseEndpointPath+ep.Endpoint)
			}
		}
	}
	sort.Strings(paths)
	sig := ""
	for _, p := range paths {
		sig += p + ";"
	}
	return sig
}
