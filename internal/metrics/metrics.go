// Package metrics counts what a build did. Collectors live on a private
// registry and are written to a node-exporter textfile on request.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/specialistvlad/gridbuild/internal/task"
)

// Collector implements executor.Observer and counts rescans.
type Collector struct {
	registry *prometheus.Registry

	tasks     *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	rescans   prometheus.Counter
	installed *prometheus.CounterVec
	runs      *prometheus.CounterVec
	cache     *prometheus.CounterVec
}

// New creates the collectors and registers them.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		tasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridbuild_tasks_total",
				Help: "Tasks by final state.",
			},
			[]string{"state"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gridbuild_task_duration_seconds",
				Help:    "Wall time of executed tasks.",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"state"},
		),
		rescans: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridbuild_rescans_total",
			Help: "Source directories reconciled with the filesystem.",
		}),
		installed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridbuild_install_paths_total",
				Help: "Paths installed or removed.",
			},
			[]string{"mode"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridbuild_runs_total",
				Help: "Command invocations by outcome.",
			},
			[]string{"command", "outcome"},
		),
		cache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridbuild_output_cache_total",
				Help: "Output cache operations by result.",
			},
			[]string{"result"},
		),
	}
	c.registry.MustRegister(c.tasks, c.duration, c.rescans, c.installed, c.runs, c.cache)
	return c
}

// Registry exposes the private registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) TaskStarted(task.Task) {}

func (c *Collector) TaskFinished(t task.Task, elapsed time.Duration) {
	state := t.State().String()
	c.tasks.WithLabelValues(state).Inc()
	c.duration.WithLabelValues(state).Observe(elapsed.Seconds())
}

// Rescanned counts one directory reconciliation.
func (c *Collector) Rescanned() { c.rescans.Inc() }

// Installed counts one path handled in the given install mode.
func (c *Collector) Installed(mode string) {
	c.installed.WithLabelValues(mode).Inc()
}

// Cache counts one output cache operation: "hit", "miss" or "store".
func (c *Collector) Cache(result string) { c.cache.WithLabelValues(result).Inc() }

// Run counts one finished command.
func (c *Collector) Run(command string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	c.runs.WithLabelValues(command, outcome).Inc()
}

// WriteTextfile writes every collected metric to path in the text exposition
// format.
func (c *Collector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.registry)
}
