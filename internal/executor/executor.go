// Package executor runs one build's shell pipeline: each command template is
// resolved, spawned through bash, and its stdout/stderr streamed line by line
// into the build's log. Abort is cooperative: the pipeline context cancels
// the running child (kill) and the executor observes the cancellation before
// the next command and between output reads. Post-commands still run after
// an abort.
package executor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"git.home.luguber.info/inful/buildrelay/internal/build"
	"git.home.luguber.info/inful/buildrelay/internal/config"
	"git.home.luguber.info/inful/buildrelay/internal/logfields"
	"git.home.luguber.info/inful/buildrelay/internal/metrics"
	"git.home.luguber.info/inful/buildrelay/internal/resolver"
)

// LogSink receives the log records a run emits. Records are always kept for
// history; broadcast=false suppresses only the live per-line fan-out.
type LogSink interface {
	Append(step int, level build.LogLevel, message, command string, broadcast bool)
}

// Pipeline is everything the executor needs to run one build.
type Pipeline struct {
	Project      string
	BuildID      string
	WorkDir      string
	Payload      map[string]any
	Commands     []config.CommandConfig
	RunOnSuccess []config.CommandConfig
	RunOnFailure []config.CommandConfig
}

// Executor runs pipelines. It is stateless and safe for concurrent use; the
// per-project serialization lives in the queue manager.
type Executor struct {
	metrics metrics.Recorder
}

// New creates an executor. rec may be a NoopRecorder.
func New(rec metrics.Recorder) *Executor {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Executor{metrics: rec}
}

// Run executes the pipeline and returns the terminal status. ctx is the
// build's own context: cancelling it aborts the run, kills the current child,
// and skips the remaining pipeline commands. Post-commands still run, on a
// context detached from the cancelled one.
func (e *Executor) Run(ctx context.Context, p Pipeline, sink LogSink) build.Status {
	sink.Append(0, build.LevelInfo, "Build started", "", true)

	status := build.StatusSuccess
	lastStep := 0

	for i, cmd := range p.Commands {
		step := i + 1
		lastStep = step

		if ctx.Err() != nil {
			status = build.StatusAborted
			break
		}

		resolved := resolver.Command(cmd.Command, p.Payload)
		sink.Append(step, build.LevelInfo, "Executing: "+cmd.Title, resolved, true)

		err := e.runCommand(ctx, p, step, resolved, cmd.SendToSock, sink)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			status = build.StatusAborted
			break
		}
		if cmd.OnError == config.OnErrorContinue {
			// Tolerated failure: recorded, but the build status is unaffected.
			sink.Append(step, build.LevelWarning, fmt.Sprintf("Command failed (continuing): %v", err), "", true)
			continue
		}
		sink.Append(step, build.LevelError, fmt.Sprintf("Command failed: %v", err), "", true)
		status = build.StatusFailed
		break
	}

	if ctx.Err() != nil {
		status = build.StatusAborted
	}

	// Post-commands run for every terminal status, aborts included, always
	// with continue semantics, and never alter the final status. They get a
	// context detached from the build's so an abort cannot kill them mid-run.
	post := p.RunOnSuccess
	if status != build.StatusSuccess {
		post = p.RunOnFailure
	}
	postCtx := context.WithoutCancel(ctx)
	for _, cmd := range post {
		resolved := resolver.Command(cmd.Command, p.Payload)
		sink.Append(lastStep, build.LevelInfo, "Executing: "+cmd.Title, resolved, true)
		if err := e.runCommand(postCtx, p, lastStep, resolved, cmd.SendToSock, sink); err != nil {
			sink.Append(lastStep, build.LevelWarning, fmt.Sprintf("Post-command failed: %v", err), "", true)
		}
	}

	switch status {
	case build.StatusSuccess:
		sink.Append(lastStep, build.LevelSuccess, "Build succeeded", "", true)
	case build.StatusFailed:
		sink.Append(lastStep, build.LevelError, "Build failed", "", true)
	case build.StatusAborted:
		sink.Append(lastStep, build.LevelWarning, "Build aborted", "", true)
	}

	return status
}

// runCommand spawns `bash -c <resolved>` and streams both output pipes into
// the sink at the given step. A spawn failure, a non-zero exit, and an output
// read error all surface as a non-nil error.
func (e *Executor) runCommand(ctx context.Context, p Pipeline, step int, resolved string, broadcast bool, sink LogSink) error {
	started := time.Now()

	cmd := exec.CommandContext(ctx, "bash", "-c", resolved)
	if p.WorkDir != "" {
		cmd.Dir = p.WorkDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		// Spawn failures abort the step regardless of on_error policy; the
		// caller's on_error still decides whether the build continues.
		return fmt.Errorf("spawn command: %w", err)
	}

	var wg sync.WaitGroup
	var readErrMu sync.Mutex
	var readErr error

	stream := func(r io.Reader, level build.LogLevel) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			sink.Append(step, level, scanner.Text(), "", broadcast)
		}
		if err := scanner.Err(); err != nil {
			sink.Append(step, build.LevelError, fmt.Sprintf("Error reading output: %v", err), "", broadcast)
			readErrMu.Lock()
			if readErr == nil {
				readErr = err
			}
			readErrMu.Unlock()
		}
	}

	wg.Add(2)
	go stream(stdout, build.LevelInfo)
	go stream(stderr, build.LevelError)
	wg.Wait()

	waitErr := cmd.Wait()
	e.metrics.ObserveCommandDuration(p.Project, time.Since(started))

	if waitErr != nil {
		slog.Debug("Command exited with error",
			logfields.Project(p.Project),
			logfields.BuildID(p.BuildID),
			logfields.Step(step),
			logfields.Command(resolved),
			logfields.Error(waitErr))
		return waitErr
	}
	if readErr != nil {
		return fmt.Errorf("read command output: %w", readErr)
	}
	return nil
}
