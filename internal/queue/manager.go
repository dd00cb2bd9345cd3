// Package queue owns the per-project build queues and enforces the admission
// rules: at most one running build per project, FIFO dequeue by a singleton
// worker, dedup on the caller-supplied unique ID, and a bounded pending queue.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/buildrelay/internal/build"
	"git.home.luguber.info/inful/buildrelay/internal/config"
	"git.home.luguber.info/inful/buildrelay/internal/events"
	"git.home.luguber.info/inful/buildrelay/internal/executor"
	"git.home.luguber.info/inful/buildrelay/internal/history"
	"git.home.luguber.info/inful/buildrelay/internal/logbus"
	"git.home.luguber.info/inful/buildrelay/internal/logfields"
	"git.home.luguber.info/inful/buildrelay/internal/metrics"
	"git.home.luguber.info/inful/buildrelay/internal/webhook"
)

// State is an admission or abort outcome surfaced to clients.
type State string

const (
	StateBuilding       State = "building"
	StateAlreadyRunning State = "already_running"
	StateAlready        State = "already"
	StateFull           State = "full"
	StateAborted        State = "aborted"
	StateNotFound       State = "not_found"

	// StateAlreadyRunningOther is kept for wire compatibility with older
	// clients. The per-project current cell makes it unreachable.
	StateAlreadyRunningOther State = "already_running_other_project"
)

// MaxHistory bounds the in-memory per-project result history.
const MaxHistory = 50

// Submission is the outcome of a Submit call.
type Submission struct {
	State       State
	BuildID     string
	SocketToken string
	QueueLength int
}

// CurrentBuild is the point-in-time view of a running build.
type CurrentBuild struct {
	ID          string       `json:"id"`
	Status      build.Status `json:"status"`
	CurrentStep int          `json:"current_step"`
	TotalSteps  int          `json:"total_steps"`
	SocketToken string       `json:"socket_token"`
}

// Snapshot is the queue view returned by Status.
type Snapshot struct {
	IsBuilding  bool          `json:"isBuilding"`
	QueueLength int           `json:"queueLength"`
	Current     *CurrentBuild `json:"currentBuild,omitempty"`
}

// Options carries the optional collaborators a Manager notifies on terminal
// builds. Any field may be left zero.
type Options struct {
	Archive  *history.Store
	Notifier *webhook.Notifier
	Emitter  *events.Emitter
	Metrics  metrics.Recorder
}

// Manager is the registry of project queues.
type Manager struct {
	cfg      *config.Store
	executor *executor.Executor
	bus      *logbus.Bus
	opts     Options

	mu       sync.Mutex
	projects map[string]*projectState
}

type projectState struct {
	mu            sync.Mutex
	queue         []*build.Request
	current       *build.Process
	history       []*build.Result
	workerRunning bool
}

// NewManager creates the queue registry.
func NewManager(cfg *config.Store, exec *executor.Executor, bus *logbus.Bus, opts Options) *Manager {
	if opts.Metrics == nil {
		opts.Metrics = metrics.NoopRecorder{}
	}
	return &Manager{
		cfg:      cfg,
		executor: exec,
		bus:      bus,
		opts:     opts,
		projects: make(map[string]*projectState),
	}
}

// reject records a refused submission in the metrics and the debug log.
func (m *Manager) reject(projectName, uniqueID string, state State) {
	m.opts.Metrics.IncSubmission(projectName, string(state))
	slog.Debug("Build rejected",
		logfields.Project(projectName),
		logfields.UniqueID(uniqueID),
		logfields.State(string(state)))
}

func (m *Manager) project(name string) *projectState {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[name]
	if !ok {
		p = &projectState{}
		m.projects[name] = p
	}
	return p
}

// Submit admits (or rejects) a build request. The caller has already
// authorized the request and extracted uniqueID from the payload.
func (m *Manager) Submit(projectName, uniqueID string, payload map[string]any) Submission {
	cfg := m.cfg.Current()
	pc, ok := cfg.Projects[projectName]
	if !ok {
		return Submission{State: StateNotFound}
	}

	p := m.project(projectName)
	p.mu.Lock()
	defer p.mu.Unlock()

	if !pc.AllowMultiBuild && p.current != nil {
		m.reject(projectName, uniqueID, StateAlreadyRunning)
		return Submission{
			State:       StateAlreadyRunning,
			BuildID:     p.current.ID,
			SocketToken: p.current.SocketToken,
		}
	}

	if p.current != nil && p.current.UniqueID == uniqueID {
		m.reject(projectName, uniqueID, StateAlready)
		return Submission{
			State:       StateAlready,
			BuildID:     p.current.ID,
			SocketToken: p.current.SocketToken,
		}
	}
	for _, queued := range p.queue {
		if queued.UniqueID == uniqueID {
			m.reject(projectName, uniqueID, StateAlready)
			return Submission{
				State:       StateAlready,
				BuildID:     queued.ID,
				SocketToken: queued.SocketToken,
			}
		}
	}

	if len(p.queue) >= pc.MaxPendingBuild {
		m.reject(projectName, uniqueID, StateFull)
		return Submission{State: StateFull, QueueLength: len(p.queue)}
	}

	req := &build.Request{
		ID:          uuid.NewString(),
		ProjectName: projectName,
		UniqueID:    uniqueID,
		Payload:     payload,
		Files:       map[string]string{},
		CreatedAt:   time.Now().UTC(),
		SocketToken: build.NewSocketToken(),
	}
	p.queue = append(p.queue, req)
	m.opts.Metrics.IncSubmission(projectName, string(StateBuilding))
	m.opts.Metrics.SetQueueLength(projectName, len(p.queue))

	slog.Info("Build admitted",
		logfields.Project(projectName),
		logfields.BuildID(req.ID),
		logfields.UniqueID(uniqueID),
		logfields.QueueLength(len(p.queue)))

	if !p.workerRunning {
		p.workerRunning = true
		go m.worker(projectName, p)
	}

	return Submission{
		State:       StateBuilding,
		BuildID:     req.ID,
		SocketToken: req.SocketToken,
		QueueLength: len(p.queue),
	}
}

// worker drains the project's queue serially. Exactly one worker runs per
// project at a time; it exits when the queue is empty.
func (m *Manager) worker(projectName string, p *projectState) {
	for {
		p.mu.Lock()
		if p.current != nil {
			// Should be impossible with a singleton worker; defensive.
			p.workerRunning = false
			p.mu.Unlock()
			return
		}
		if len(p.queue) == 0 {
			p.workerRunning = false
			p.mu.Unlock()
			return
		}
		req := p.queue[0]
		p.queue = p.queue[1:]
		queueLen := len(p.queue)

		cfg := m.cfg.Current()
		pc := cfg.Projects[projectName]

		ctx, cancel := context.WithCancel(context.Background())
		proc := build.NewProcess(req, len(pc.Build.Commands), cancel)
		p.current = proc
		p.mu.Unlock()

		m.opts.Metrics.SetQueueLength(projectName, queueLen)

		topic := m.bus.Open(req.SocketToken, req.ID)
		m.emit(req.ID, projectName, build.StatusRunning)

		slog.Info("Build started",
			logfields.Project(projectName),
			logfields.BuildID(req.ID),
			logfields.UniqueID(req.UniqueID))

		sink := &processSink{p: p, proc: proc, topic: topic}
		status := m.executor.Run(ctx, executor.Pipeline{
			Project:      projectName,
			BuildID:      req.ID,
			WorkDir:      pc.Build.ProjectPath,
			Payload:      req.Payload,
			Commands:     pc.Build.Commands,
			RunOnSuccess: pc.Build.RunOnSuccess,
			RunOnFailure: pc.Build.RunOnFailure,
		}, sink)
		cancel()

		m.finalize(projectName, p, proc, req, pc, status)
	}
}

// finalize freezes the terminal build into a Result, clears the current cell,
// and notifies the archival and outbound collaborators.
func (m *Manager) finalize(projectName string, p *projectState, proc *build.Process, req *build.Request, pc config.ProjectConfig, status build.Status) {
	completedAt := time.Now().UTC()

	p.mu.Lock()
	result := build.ResultOf(proc, status, completedAt)
	p.current = nil
	p.history = append(p.history, result)
	if len(p.history) > MaxHistory {
		p.history = p.history[len(p.history)-MaxHistory:]
	}
	p.mu.Unlock()

	slog.Info("Build finished",
		logfields.Project(projectName),
		logfields.BuildID(result.ID),
		logfields.Status(string(status)),
		logfields.DurationMS(float64(completedAt.Sub(result.StartedAt).Milliseconds())))

	m.opts.Metrics.IncBuildOutcome(projectName, string(status))
	m.opts.Metrics.ObserveBuildDuration(projectName, completedAt.Sub(result.StartedAt))

	cfg := m.cfg.Current()

	if m.opts.Archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := m.opts.Archive.Append(ctx, result); err != nil {
			slog.Error("Failed to archive build result",
				logfields.BuildID(result.ID), logfields.Error(err))
		}
		cancel()
	}
	if err := history.WriteLogFile(cfg.LogPath, result.ID, result.Logs); err != nil {
		slog.Error("Failed to write build log file",
			logfields.BuildID(result.ID), logfields.Error(err))
	}

	template := pc.Build.OnSuccess
	if status != build.StatusSuccess {
		template = pc.Build.OnFailure
	}
	if m.opts.Notifier != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		m.opts.Notifier.Notify(ctx, template, req.Payload, result, req.SocketToken)
		cancel()
	}

	m.emit(result.ID, projectName, status)

	// Terminal marker: subscribers observe the stream close.
	m.bus.Shutdown(req.SocketToken)
}

func (m *Manager) emit(buildID, projectName string, status build.Status) {
	if m.opts.Emitter != nil {
		m.opts.Emitter.Emit(buildID, projectName, status)
	}
}

// Abort cancels a build by its unique ID. A queued build is removed before
// any process starts; the running build is killed through its cancel func.
func (m *Manager) Abort(projectName, uniqueID string) State {
	p := m.project(projectName)
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, queued := range p.queue {
		if queued.UniqueID == uniqueID {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			m.opts.Metrics.SetQueueLength(projectName, len(p.queue))
			slog.Info("Queued build aborted",
				logfields.Project(projectName),
				logfields.BuildID(queued.ID),
				logfields.UniqueID(uniqueID))
			return StateAborted
		}
	}

	if p.current != nil && p.current.UniqueID == uniqueID {
		slog.Info("Aborting running build",
			logfields.Project(projectName),
			logfields.BuildID(p.current.ID),
			logfields.UniqueID(uniqueID))
		p.current.Cancel()
		return StateAborted
	}

	return StateNotFound
}

// Status returns the project's queue snapshot.
func (m *Manager) Status(projectName string) Snapshot {
	p := m.project(projectName)
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := Snapshot{QueueLength: len(p.queue)}
	if p.current != nil {
		snap.IsBuilding = true
		snap.Current = &CurrentBuild{
			ID:          p.current.ID,
			Status:      p.current.Status,
			CurrentStep: p.current.CurrentStep,
			TotalSteps:  p.current.TotalSteps,
			SocketToken: p.current.SocketToken,
		}
	}
	return snap
}

// History returns a copy of the project's recent in-memory results, newest
// last.
func (m *Manager) History(projectName string) []*build.Result {
	p := m.project(projectName)
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*build.Result, len(p.history))
	copy(out, p.history)
	return out
}

// processSink appends executor output to the live process and broadcasts it
// on the build's topic. Records with broadcast=false stay out of the socket
// stream but are still part of the build's log history.
type processSink struct {
	p     *projectState
	proc  *build.Process
	topic *logbus.Topic
}

func (s *processSink) Append(step int, level build.LogLevel, message, command string, broadcast bool) {
	rec := build.Log{
		Timestamp: time.Now().UTC(),
		Step:      step,
		Level:     level,
		Message:   message,
		Command:   command,
	}

	s.p.mu.Lock()
	s.proc.Logs = append(s.proc.Logs, rec)
	s.proc.CurrentStep = step
	s.p.mu.Unlock()

	if broadcast {
		s.topic.Publish(logbus.FrameOf(s.proc.ID, rec))
	}
}
