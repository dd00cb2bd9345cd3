// Package events publishes build lifecycle events to NATS so other systems
// can react to builds without polling the HTTP API. The emitter is optional;
// a nil *Emitter is valid and publishes nothing.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/buildrelay/internal/build"
	"git.home.luguber.info/inful/buildrelay/internal/config"
	"git.home.luguber.info/inful/buildrelay/internal/logfields"
)

// Event is the payload published on every lifecycle transition.
type Event struct {
	BuildID   string       `json:"build_id"`
	Project   string       `json:"project"`
	Status    build.Status `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
}

// Emitter publishes lifecycle events to NATS.
type Emitter struct {
	conn          *nats.Conn
	subjectPrefix string
}

// NewEmitter connects to NATS. Returns (nil, nil) when events are disabled.
func NewEmitter(cfg config.EventsConfig) (*Emitter, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	conn, err := nats.Connect(cfg.NATSURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	slog.Info("Event emitter connected", "url", cfg.NATSURL, "subject_prefix", cfg.SubjectPrefix)
	return &Emitter{conn: conn, subjectPrefix: cfg.SubjectPrefix}, nil
}

// Emit publishes one event on <prefix>.<status>. Publishing is best effort:
// failures are logged, never returned, and never affect the build.
func (e *Emitter) Emit(buildID, project string, status build.Status) {
	if e == nil {
		return
	}

	data, err := json.Marshal(Event{
		BuildID:   buildID,
		Project:   project,
		Status:    status,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("Failed to marshal lifecycle event", logfields.Error(err))
		return
	}

	subject := e.subjectPrefix + "." + string(status)
	if err := e.conn.Publish(subject, data); err != nil {
		slog.Warn("Failed to publish lifecycle event",
			logfields.BuildID(buildID),
			logfields.Error(err))
		return
	}
	slog.Debug("Published lifecycle event",
		logfields.BuildID(buildID),
		logfields.Project(project),
		logfields.Status(string(status)))
}

// Close drains and closes the NATS connection.
func (e *Emitter) Close() {
	if e == nil || e.conn == nil {
		return
	}
	_ = e.conn.Drain()
}
