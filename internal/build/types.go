// Package build holds the core data model for buildrelay: the request queued
// for a project, the live process once dequeued, the immutable log records a
// run emits, and the archival result produced on terminal status.
package build

import (
	"context"
	"crypto/rand"
	"time"
)

// Status represents the lifecycle state of a build.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusAborted Status = "aborted"
)

// Terminal reports whether the status is a final one.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusAborted
}

// LogLevel classifies a single log record.
type LogLevel string

const (
	LevelInfo    LogLevel = "info"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
	LevelSuccess LogLevel = "success"
)

// Log is one immutable log record emitted during a build. Step 0 is the
// build preamble; command steps are 1-indexed.
type Log struct {
	Timestamp time.Time `json:"timestamp"`
	Step      int       `json:"step"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	Command   string    `json:"command,omitempty"`
}

// Request is a pending build admitted to a project's queue. It is created on
// submit and consumed when the queue worker dequeues it.
type Request struct {
	ID          string         `json:"id"`
	ProjectName string         `json:"project_name"`
	UniqueID    string         `json:"unique_id"`
	Payload     map[string]any `json:"payload"`
	// Files is reserved for future upload support and is always empty.
	Files       map[string]string `json:"files"`
	CreatedAt   time.Time         `json:"created_at"`
	SocketToken string            `json:"socket_token"`
}

// Process is the live form of a Request once dequeued. At most one Process
// exists per project at any instant. Mutation happens under the owning
// project's lock in the queue manager.
type Process struct {
	ID          string    `json:"id"`
	ProjectName string    `json:"project_name"`
	UniqueID    string    `json:"unique_id"`
	Status      Status    `json:"status"`
	CurrentStep int       `json:"current_step"`
	TotalSteps  int       `json:"total_steps"`
	StartedAt   time.Time `json:"started_at"`
	SocketToken string    `json:"socket_token"`
	Logs        []Log     `json:"logs"`

	// Cancel aborts the run: the executor spawns commands with a context
	// derived from it, so cancelling kills the running child process.
	Cancel context.CancelFunc `json:"-"`
}

// NewProcess creates the running Process for a dequeued request.
func NewProcess(req *Request, totalSteps int, cancel context.CancelFunc) *Process {
	return &Process{
		ID:          req.ID,
		ProjectName: req.ProjectName,
		UniqueID:    req.UniqueID,
		Status:      StatusRunning,
		CurrentStep: 0,
		TotalSteps:  totalSteps,
		StartedAt:   time.Now().UTC(),
		SocketToken: req.SocketToken,
		Logs:        make([]Log, 0, 16),
		Cancel:      cancel,
	}
}

// Result is the archival form of a finished build. It is appended to the
// project's history and persisted by the history store.
type Result struct {
	ID              string    `json:"id"`
	ProjectName     string    `json:"project_name"`
	Status          Status    `json:"status"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
	Logs            []Log     `json:"logs"`
	DurationSeconds int64     `json:"duration_seconds"`
}

// ResultOf freezes a terminal Process into a Result.
func ResultOf(p *Process, status Status, completedAt time.Time) *Result {
	logs := make([]Log, len(p.Logs))
	copy(logs, p.Logs)
	return &Result{
		ID:              p.ID,
		ProjectName:     p.ProjectName,
		Status:          status,
		StartedAt:       p.StartedAt,
		CompletedAt:     completedAt,
		Logs:            logs,
		DurationSeconds: int64(completedAt.Sub(p.StartedAt).Seconds()),
	}
}

// SocketTokenLength is the length of the per-build WebSocket credential.
const SocketTokenLength = 32

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// NewSocketToken mints the per-build subscription credential: a 32-char
// alphanumeric string, the sole authentication for the log stream.
func NewSocketToken() string {
	buf := make([]byte, SocketTokenLength)
	if _, err := rand.Read(buf); err != nil {
		panic("build: crypto/rand unavailable: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(buf)
}
