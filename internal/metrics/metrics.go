// Package metrics provides Prometheus metrics for automation runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records run outcomes. A nil *Recorder is valid and records nothing.
type Recorder struct {
	applicationsTotal  *prometheus.CounterVec
	skippedTotal       *prometheus.CounterVec
	watchdogTotal      *prometheus.CounterVec
	runsTotal          *prometheus.CounterVec
	applicationSeconds *prometheus.HistogramVec
	answersTotal       *prometheus.CounterVec
}

// New registers the recorder's collectors with reg.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		applicationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoapply_applications_total",
				Help: "Applications logged by site and status",
			},
			[]string{"site", "status"},
		),
		skippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoapply_jobs_skipped_total",
				Help: "Jobs viewed without an application, by site and reason",
			},
			[]string{"site", "reason"},
		),
		watchdogTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoapply_watchdog_recoveries_total",
				Help: "Stuck applications abandoned by the watchdog",
			},
			[]string{"site"},
		),
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoapply_runs_total",
				Help: "Finished runs by site and final status",
			},
			[]string{"site", "status"},
		),
		applicationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autoapply_application_duration_seconds",
				Help:    "Time from opening a job to logging its outcome",
				Buckets: []float64{5, 15, 30, 60, 120, 240, 480},
			},
			[]string{"site", "status"},
		),
		answersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoapply_answers_total",
				Help: "Resolved form answers by source",
			},
			[]string{"source"},
		),
	}
}

// ObserveApplication records one application outcome and how long it took.
func (r *Recorder) ObserveApplication(site, status string, duration time.Duration) {
	if r == nil {
		return
	}
	r.applicationsTotal.WithLabelValues(site, status).Inc()
	r.applicationSeconds.WithLabelValues(site, status).Observe(duration.Seconds())
}

func (r *Recorder) ObserveSkip(site, reason string) {
	if r == nil {
		return
	}
	r.skippedTotal.WithLabelValues(site, reason).Inc()
}

func (r *Recorder) ObserveWatchdog(site string) {
	if r == nil {
		return
	}
	r.watchdogTotal.WithLabelValues(site).Inc()
}

func (r *Recorder) ObserveRun(site, status string) {
	if r == nil {
		return
	}
	r.runsTotal.WithLabelValues(site, status).Inc()
}

// AddAnswers adds per-source answer counts, typically from a resolver's stats at run end.
func (r *Recorder) AddAnswers(bySource map[string]int) {
	if r == nil {
		return
	}
	for source, n := range bySource {
		if n > 0 {
			r.answersTotal.WithLabelValues(source).Add(float64(n))
		}
	}
}
