package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once            sync.Once
	buildOutcome    *prom.CounterVec
	buildDuration   *prom.HistogramVec
	commandDuration *prom.HistogramVec
	queueLength     *prom.GaugeVec
	submissions     *prom.CounterVec
	subscribers     prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.buildOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "buildrelay",
			Name:      "build_outcomes_total",
			Help:      "Build outcomes by final status",
		}, []string{"project", "outcome"})
		pr.buildDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "buildrelay",
			Name:      "build_duration_seconds",
			Help:      "Total build duration",
			Buckets:   prom.DefBuckets,
		}, []string{"project"})
		pr.commandDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "buildrelay",
			Name:      "command_duration_seconds",
			Help:      "Duration of individual pipeline commands",
			Buckets:   prom.DefBuckets,
		}, []string{"project"})
		pr.queueLength = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "buildrelay",
			Name:      "queue_length",
			Help:      "Pending builds per project",
		}, []string{"project"})
		pr.submissions = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "buildrelay",
			Name:      "submissions_total",
			Help:      "Build submissions by admission state",
		}, []string{"project", "state"})
		pr.subscribers = prom.NewGauge(prom.GaugeOpts{
			Namespace: "buildrelay",
			Name:      "log_subscribers",
			Help:      "Currently attached WebSocket log subscribers",
		})
		reg.MustRegister(pr.buildOutcome, pr.buildDuration, pr.commandDuration, pr.queueLength, pr.submissions, pr.subscribers)
	})
	return pr
}

func (p *PrometheusRecorder) IncBuildOutcome(project, outcome string) {
	if p == nil || p.buildOutcome == nil {
		return
	}
	p.buildOutcome.WithLabelValues(project, outcome).Inc()
}

func (p *PrometheusRecorder) ObserveBuildDuration(project string, d time.Duration) {
	if p == nil || p.buildDuration == nil {
		return
	}
	p.buildDuration.WithLabelValues(project).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveCommandDuration(project string, d time.Duration) {
	if p == nil || p.commandDuration == nil {
		return
	}
	p.commandDuration.WithLabelValues(project).Observe(d.Seconds())
}

func (p *PrometheusRecorder) SetQueueLength(project string, n int) {
	if p == nil || p.queueLength == nil {
		return
	}
	p.queueLength.WithLabelValues(project).Set(float64(n))
}

func (p *PrometheusRecorder) IncSubmission(project, state string) {
	if p == nil || p.submissions == nil {
		return
	}
	p.submissions.WithLabelValues(project, state).Inc()
}

func (p *PrometheusRecorder) AddSubscribers(delta int) {
	if p == nil || p.subscribers == nil {
		return
	}
	p.subscribers.Add(float64(delta))
}
