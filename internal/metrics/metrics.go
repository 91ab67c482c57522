// Package metrics exposes Prometheus collectors for the scrape service.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics owns the collectors updated by the manager and workers.
type Metrics struct {
	JobsStarted    prometheus.Counter
	JobsCompleted  *prometheus.CounterVec
	JobsRunning    prometheus.Gauge
	JobRuntime     *prometheus.HistogramVec
	LeadsProcessed *prometheus.CounterVec
	SourceRetries  *prometheus.CounterVec
	SourceFailures *prometheus.CounterVec
}

// New registers the collectors against the provided registry.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		JobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_jobs_started_total",
			Help: "Total jobs that have started.",
		}),
		JobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_jobs_completed_total",
			Help: "Total jobs finished partitioned by result.",
		}, []string{"result"}),
		JobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scraper_jobs_running",
			Help: "Current number of running jobs.",
		}),
		JobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_job_runtime_seconds",
			Help:    "Wall time per finished job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		LeadsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_leads_processed_total",
			Help: "Records processed partitioned by source and outcome (saved, duplicate, failed).",
		}, []string{"source", "outcome"}),
		SourceRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_source_retries_total",
			Help: "Source fetch retries partitioned by source and failure class.",
		}, []string{"source", "class"}),
		SourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_source_failures_total",
			Help: "Sources abandoned after exhausting retries, partitioned by source.",
		}, []string{"source"}),
	}
	for _, collector := range []prometheus.Collector{
		m.JobsStarted,
		m.JobsCompleted,
		m.JobsRunning,
		m.JobRuntime,
		m.LeadsProcessed,
		m.SourceRetries,
		m.SourceFailures,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register scraper collector: %w", err)
		}
	}
	return m, nil
}
