// Package metrics holds the Prometheus collectors updated after engine
// operations commit.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Recorder struct {
	registry     *prometheus.Registry
	runsStarted  *prometheus.CounterVec
	runsFinished *prometheus.CounterVec
	results      *prometheus.CounterVec
	linkChanges  *prometheus.CounterVec
	renumbers    *prometheus.CounterVec
}

// New builds a recorder backed by its own registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caseline",
			Name:      "runs_started_total",
			Help:      "Test runs started, by execution mode.",
		}, []string{"mode"}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caseline",
			Name:      "runs_finished_total",
			Help:      "Test runs that reached finished, by execution mode.",
		}, []string{"mode"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caseline",
			Name:      "results_recorded_total",
			Help:      "Result writes, by status and whether it was the first write.",
		}, []string{"status", "first"}),
		linkChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caseline",
			Name:      "link_changes_total",
			Help:      "Rows added or removed by association reconciles.",
		}, []string{"link", "op"}),
		renumbers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caseline",
			Name:      "renumbers_total",
			Help:      "Scope renumber operations, by table.",
		}, []string{"table"}),
	}
	r.registry.MustRegister(collectors.NewGoCollector(), r.runsStarted, r.runsFinished, r.results, r.linkChanges, r.renumbers)
	return r
}

// Methods are no-ops on a nil Recorder.

func (r *Recorder) RunStarted(mode string) {
	if r == nil {
		return
	}
	r.runsStarted.WithLabelValues(mode).Inc()
}

func (r *Recorder) RunFinished(mode string) {
	if r == nil {
		return
	}
	r.runsFinished.WithLabelValues(mode).Inc()
}

func (r *Recorder) ResultRecorded(status string, first bool) {
	if r == nil {
		return
	}
	f := "false"
	if first {
		f = "true"
	}
	r.results.WithLabelValues(status, f).Inc()
}

func (r *Recorder) LinksChanged(link string, added, removed int) {
	if r == nil {
		return
	}
	if added > 0 {
		r.linkChanges.WithLabelValues(link, "add").Add(float64(added))
	}
	if removed > 0 {
		r.linkChanges.WithLabelValues(link, "remove").Add(float64(removed))
	}
}

func (r *Recorder) Renumbered(table string) {
	if r == nil {
		return
	}
	r.renumbers.WithLabelValues(table).Inc()
}

// Registry exposes the underlying registry for gathering in tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
