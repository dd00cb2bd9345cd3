package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"git.home.luguber.info/inful/buildrelay/internal/config"
	"git.home.luguber.info/inful/buildrelay/internal/logbus"
	"git.home.luguber.info/inful/buildrelay/internal/logfields"
	"git.home.luguber.info/inful/buildrelay/internal/metrics"
	"git.home.luguber.info/inful/buildrelay/internal/queue"
)

// writeWait is the maximum time allowed to write a frame to the peer. A
// stalled client is disconnected rather than blocking the stream.
const writeWait = 10 * time.Second

// upgrader performs the HTTP to WebSocket protocol upgrade. Origin checks are
// left to the reverse proxy; the socket token is the credential.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SocketHandlers streams live build logs over WebSocket.
type SocketHandlers struct {
	cfg     *config.Store
	queue   *queue.Manager
	bus     *logbus.Bus
	metrics metrics.Recorder
}

// NewSocketHandlers wires the log stream endpoint.
func NewSocketHandlers(cfg *config.Store, q *queue.Manager, bus *logbus.Bus, rec metrics.Recorder) *SocketHandlers {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &SocketHandlers{cfg: cfg, queue: q, bus: bus, metrics: rec}
}

// Stream handles the socket endpoint for one project. The subscriber first
// receives the full history as one JSON array frame, then live records one
// frame at a time until the build reaches its terminal state.
func (h *SocketHandlers) Stream(project string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")

		// Only the currently running build can be tailed. Queued builds have
		// no stream yet; finished builds have already shut theirs down.
		snap := h.queue.Status(project)
		if snap.Current == nil || token == "" || snap.Current.SocketToken != token {
			http.Error(w, "no matching build", http.StatusBadRequest)
			return
		}
		topic, ok := h.bus.Lookup(token)
		if !ok {
			http.Error(w, "no matching build", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("WebSocket upgrade failed",
				logfields.Project(project), logfields.Error(err))
			return
		}
		defer conn.Close()

		h.metrics.AddSubscribers(1)
		defer h.metrics.AddSubscribers(-1)

		history, live, detach := topic.Attach()
		defer detach()

		// History replay always precedes live frames.
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(history); err != nil {
			return
		}

		// Read pump: the client sends nothing meaningful, but reading is how
		// we notice it went away.
		clientGone := make(chan struct{})
		go func() {
			defer close(clientGone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case frame, ok := <-live:
				if !ok {
					// Terminal marker: tell the client the build is done.
					conn.SetWriteDeadline(time.Now().Add(writeWait))
					_ = conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "build finished"))
					return
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(frame); err != nil {
					return
				}
			case <-clientGone:
				return
			}
		}
	}
}
