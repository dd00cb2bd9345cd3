// Package httpserver wires the buildrelay HTTP surface: the per-project
// build endpoints composed from the configuration, the health probe, and the
// optional Prometheus endpoint. Routes are built from the startup config;
// topology changes require a restart (the config watcher warns about them).
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"git.home.luguber.info/inful/buildrelay/internal/config"
	"git.home.luguber.info/inful/buildrelay/internal/logbus"
	"git.home.luguber.info/inful/buildrelay/internal/metrics"
	"git.home.luguber.info/inful/buildrelay/internal/queue"
	"git.home.luguber.info/inful/buildrelay/internal/server/handlers"
	smw "git.home.luguber.info/inful/buildrelay/internal/server/middleware"
)

// Options carries the optional collaborators of the server.
type Options struct {
	// Registry serves /metrics when the metrics config enables it.
	Registry *prometheus.Registry
	// Metrics counts WebSocket subscribers.
	Metrics metrics.Recorder
}

// Server is the single HTTP (or HTTPS) listener for all projects.
type Server struct {
	cfg  *config.Store
	srv  *http.Server
	opts Options

	buildHandlers  *handlers.BuildHandlers
	socketHandlers *handlers.SocketHandlers
}

// New constructs the server and registers every configured route.
func New(cfg *config.Store, q *queue.Manager, bus *logbus.Bus, opts Options) *Server {
	s := &Server{
		cfg:            cfg,
		opts:           opts,
		buildHandlers:  handlers.NewBuildHandlers(cfg, q),
		socketHandlers: handlers.NewSocketHandlers(cfg, q, bus, opts.Metrics),
	}

	snapshot := cfg.Current()
	mux := http.NewServeMux()
	s.registerRoutes(mux, snapshot)

	chain := smw.Chain(slog.Default())
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", snapshot.Port),
		Handler:           chain(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes(mux *http.ServeMux, cfg *config.Config) {
	mux.HandleFunc(joinPath(cfg.BasePath, "/health"), methodOnly(http.MethodGet, handlers.Health()))

	if cfg.Metrics.Enabled && s.opts.Registry != nil {
		mux.Handle(joinPath(cfg.BasePath, cfg.Metrics.Path),
			promhttp.HandlerFor(s.opts.Registry, promhttp.HandlerOpts{}))
	}

	for name, pc := range cfg.Projects {
		s.registerProject(mux, cfg.BasePath, name, pc)
	}
}

// registerProject mounts the project's configured operations. An empty
// endpoint string disables that operation.
func (s *Server) registerProject(mux *http.ServeMux, basePath, name string, pc config.ProjectConfig) {
	mount := func(ep config.EndpointConfig, defaultMethod string, h http.HandlerFunc) {
		if ep.Endpoint == "" {
			return
		}
		method := ep.Method
		if method == "" {
			method = defaultMethod
		}
		path := joinPath(basePath, joinPath(pc.BaseEndpointPath, ep.Endpoint))
		mux.HandleFunc(path, methodOnly(method, h))
		slog.Debug("Route registered",
			slog.String("project", name),
			slog.String("method", method),
			slog.String("path", path))
	}

	mount(pc.API.Build, http.MethodPost, s.buildHandlers.Submit(name))
	mount(pc.API.IsBuilding, http.MethodPost, s.buildHandlers.IsBuilding(name))
	mount(pc.API.Abort, http.MethodPost, s.buildHandlers.Abort(name))
	mount(pc.API.Cleanup, http.MethodPost, s.buildHandlers.Cleanup(name))
	mount(pc.API.Socket, http.MethodGet, s.socketHandlers.Stream(name))
}

// Handler exposes the full middleware-wrapped handler for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start binds the listener and begins serving. The bind happens here, not in
// the serve goroutine, so startup fails fast on a busy port.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.cfg.Current()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("bind port %d: %w", cfg.Port, err)
	}

	go func() {
		var serveErr error
		if cfg.SSL.EnableSSL {
			serveErr = s.srv.ServeTLS(ln, cfg.SSL.CertificatePath, cfg.SSL.CertificateKeyPath)
		} else {
			serveErr = s.srv.Serve(ln)
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", serveErr)
		}
	}()

	slog.Info("HTTP server started",
		slog.Int("port", cfg.Port),
		slog.Bool("tls", cfg.SSL.EnableSSL))
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	slog.Info("HTTP server stopped")
	return nil
}

// methodOnly rejects requests with the wrong method.
func methodOnly(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

// joinPath concatenates URL path segments without doubling slashes.
func joinPath(base, p string) string {
	base = strings.TrimSuffix(base, "/")
	if p == "" {
		return base
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return base + p
}
