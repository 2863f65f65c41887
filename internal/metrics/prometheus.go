package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for the job daemon.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	jobsCreatedTotal  *prometheus.CounterVec
	jobsStartedTotal  *prometheus.CounterVec
	jobsFinishedTotal *prometheus.CounterVec
	jobsKilledTotal   *prometheus.CounterVec

	jobDuration *prometheus.HistogramVec

	uptime      prometheus.GaugeFunc
	runningJobs prometheus.Gauge

	statusUpdatesTotal *prometheus.CounterVec
}

// Default histogram buckets for job duration, in milliseconds.
var defaultBuckets = []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 300000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		jobsCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_created_total",
				Help:      "Total number of jobs created",
			},
			[]string{"plugin"},
		),

		jobsStartedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_started_total",
				Help:      "Total number of jobs started",
			},
			[]string{"plugin"},
		),

		jobsFinishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_finished_total",
				Help:      "Total number of jobs that finished, by outcome",
			},
			[]string{"plugin", "status"},
		),

		jobsKilledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_killed_total",
				Help:      "Total number of jobs killed before completion",
			},
			[]string{"plugin"},
		),

		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_milliseconds",
				Help:      "Duration of job execution in milliseconds, from start to finish",
				Buckets:   buckets,
			},
			[]string{"plugin", "status"},
		),

		runningJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "running_jobs",
				Help:      "Number of jobs currently running",
			},
		),

		statusUpdatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "status_updates_total",
				Help:      "Total number of status update calls received from jobs",
			},
			[]string{"plugin"},
		),
	}

	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the daemon started",
		},
		func() float64 {
			return time.Since(StartTime()).Seconds()
		},
	)

	registry.MustRegister(
		pm.jobsCreatedTotal,
		pm.jobsStartedTotal,
		pm.jobsFinishedTotal,
		pm.jobsKilledTotal,
		pm.jobDuration,
		pm.uptime,
		pm.runningJobs,
		pm.statusUpdatesTotal,
	)

	promMetrics = pm
}

// RecordPrometheusJobCreated records a job entering the Created state.
func RecordPrometheusJobCreated(plugin string) {
	if promMetrics == nil {
		return
	}
	promMetrics.jobsCreatedTotal.WithLabelValues(plugin).Inc()
}

// RecordPrometheusJobStarted records a job transitioning to Running.
func RecordPrometheusJobStarted(plugin string) {
	if promMetrics == nil {
		return
	}
	promMetrics.jobsStartedTotal.WithLabelValues(plugin).Inc()
	promMetrics.runningJobs.Inc()
}

// RecordPrometheusJobKilled records a job transitioning to Killed. The
// running_jobs gauge is not touched here: it drops once, in
// RecordPrometheusJobFinished, when the killed worker's exit is reported.
func RecordPrometheusJobKilled(plugin string) {
	if promMetrics == nil {
		return
	}
	promMetrics.jobsKilledTotal.WithLabelValues(plugin).Inc()
}

// RecordPrometheusJobFinished records a job's worker exiting, successfully or not.
func RecordPrometheusJobFinished(plugin string, durationMs int64, success bool) {
	if promMetrics == nil {
		return
	}
	status := "success"
	if !success {
		status = "failed"
	}
	promMetrics.jobsFinishedTotal.WithLabelValues(plugin, status).Inc()
	promMetrics.jobDuration.WithLabelValues(plugin, status).Observe(float64(durationMs))
	promMetrics.runningJobs.Dec()
}

// RecordPrometheusStatusUpdate records a status update call for a plugin's job.
func RecordPrometheusStatusUpdate(plugin string) {
	if promMetrics == nil {
		return
	}
	promMetrics.statusUpdatesTotal.WithLabelValues(plugin).Inc()
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics scraping.
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the prometheus registry, for registering
// additional custom collectors.
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
