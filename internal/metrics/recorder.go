package metrics

import "time"

// Recorder defines observability hooks for build and queue metrics.
// Implementations may forward to Prometheus; the NoopRecorder makes the
// hooks optional everywhere they are injected.
type Recorder interface {
	IncBuildOutcome(project, outcome string) // outcome: success|failed|aborted
	ObserveBuildDuration(project string, d time.Duration)
	ObserveCommandDuration(project string, d time.Duration)
	SetQueueLength(project string, n int)
	IncSubmission(project, state string)
	AddSubscribers(delta int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not
// configured).
type NoopRecorder struct{}

func (NoopRecorder) IncBuildOutcome(string, string)               {}
func (NoopRecorder) ObserveBuildDuration(string, time.Duration)   {}
func (NoopRecorder) ObserveCommandDuration(string, time.Duration) {}
func (NoopRecorder) SetQueueLength(string, int)                   {}
func (NoopRecorder) IncSubmission(string, string)                 {}
func (NoopRecorder) AddSubscribers(int)                           {}
