// Package metrics collects and exposes job-execution observability data.
//
// # Design rationale
//
// Two metric stores coexist in this package:
//
//  1. The in-process Metrics struct (per-plugin counters + time series) for
//     the lightweight JSON endpoints /metrics.json and /metrics/timeseries.
//  2. A Prometheus registry (prometheus.go) for scraping by external
//     monitoring systems.
//
// # Concurrency — hot path
//
// RecordJobFinished is called from the job manager on every job completion
// and must be fast. It uses atomic increments for global counters and
// dispatches a lightweight event onto a buffered channel (tsChan) for the
// time-series worker to process asynchronously, avoiding a write-lock on
// the hot path.
//
// # Invariants
//
//   - SuccessfulJobs + FailedJobs <= TotalJobs: RecordJobCreated counts every
//     job in TotalJobs, and RecordJobFinished adds each finished job to
//     exactly one of SuccessfulJobs or FailedJobs.
//   - The time-series ring buffer holds at most timeSeriesBucketCount buckets
//     (24 * 60 = 1440 for the last 24 hours at 1-minute granularity).
//   - tsChan capacity is 8192 events; events dropped when full are counted
//     in tsDroppedEvents for observability.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	timeSeriesBucketDuration = time.Minute
	timeSeriesBucketCount    = 24 * 60
)

// TimeSeriesBucket stores metrics for a single time bucket.
type TimeSeriesBucket struct {
	Timestamp    time.Time
	Jobs         int64
	Failures     int64
	TotalLatency int64
	Count        int64
}

// Metrics collects and exposes job lifecycle metrics.
type Metrics struct {
	TotalJobs      atomic.Int64
	StartedJobs    atomic.Int64
	SuccessfulJobs atomic.Int64
	FailedJobs     atomic.Int64
	KilledJobs     atomic.Int64

	TotalLatencyMs atomic.Int64
	MinLatencyMs   atomic.Int64
	MaxLatencyMs   atomic.Int64

	pluginMetrics sync.Map // plugin name -> *PluginMetrics

	timeSeriesMu    sync.RWMutex
	timeSeries      []*TimeSeriesBucket
	tsChan          chan timeSeriesEvent
	tsDroppedEvents atomic.Int64

	startTime time.Time
}

type timeSeriesEvent struct {
	durationMs int64
	isError    bool
}

// PluginMetrics tracks metrics for a single plugin name.
type PluginMetrics struct {
	Jobs       atomic.Int64
	Successes  atomic.Int64
	Failures   atomic.Int64
	TotalMs    atomic.Int64
	MinMs      atomic.Int64
	MaxMs      atomic.Int64
}

var global = &Metrics{startTime: time.Now()}

func init() {
	global.MinLatencyMs.Store(int64(^uint64(0) >> 1))
	global.tsChan = make(chan timeSeriesEvent, 8192)
	global.initTimeSeries()
	go global.processTimeSeriesLoop()
}

func (m *Metrics) initTimeSeries() {
	m.timeSeriesMu.Lock()
	defer m.timeSeriesMu.Unlock()

	now := time.Now().Truncate(timeSeriesBucketDuration)
	m.timeSeries = make([]*TimeSeriesBucket, timeSeriesBucketCount)
	for i := 0; i < timeSeriesBucketCount; i++ {
		m.timeSeries[i] = &TimeSeriesBucket{
			Timestamp: now.Add(time.Duration(i-(timeSeriesBucketCount-1)) * timeSeriesBucketDuration),
		}
	}
}

// Global returns the global metrics instance.
func Global() *Metrics {
	return global
}

// StartTime returns the time the metrics system was initialized.
func StartTime() time.Time {
	return global.startTime
}

// RecordJobCreated records a job entering the Created state.
func (m *Metrics) RecordJobCreated(plugin string) {
	m.TotalJobs.Add(1)
	RecordPrometheusJobCreated(plugin)
}

// RecordJobStarted records a job transitioning to Running.
func (m *Metrics) RecordJobStarted(plugin string) {
	m.StartedJobs.Add(1)
	RecordPrometheusJobStarted(plugin)
}

// RecordJobKilled records a job transitioning to Killed.
func (m *Metrics) RecordJobKilled(plugin string) {
	m.KilledJobs.Add(1)
	RecordPrometheusJobKilled(plugin)
}

// RecordJobFinished records a worker exiting, successfully or not.
func (m *Metrics) RecordJobFinished(plugin string, durationMs int64, success bool) {
	if success {
		m.SuccessfulJobs.Add(1)
	} else {
		m.FailedJobs.Add(1)
	}

	m.TotalLatencyMs.Add(durationMs)
	updateMin(&m.MinLatencyMs, durationMs)
	updateMax(&m.MaxLatencyMs, durationMs)

	pm := m.getPluginMetrics(plugin)
	pm.Jobs.Add(1)
	if success {
		pm.Successes.Add(1)
	} else {
		pm.Failures.Add(1)
	}
	pm.TotalMs.Add(durationMs)
	updateMin(&pm.MinMs, durationMs)
	updateMax(&pm.MaxMs, durationMs)

	m.recordTimeSeries(durationMs, !success)
	RecordPrometheusJobFinished(plugin, durationMs, success)
}

func (m *Metrics) recordTimeSeries(durationMs int64, isError bool) {
	select {
	case m.tsChan <- timeSeriesEvent{durationMs: durationMs, isError: isError}:
	default:
		m.tsDroppedEvents.Add(1)
	}
}

func (m *Metrics) processTimeSeriesLoop() {
	for evt := range m.tsChan {
		m.applyTimeSeriesEvent(evt.durationMs, evt.isError)
	}
}

func (m *Metrics) applyTimeSeriesEvent(durationMs int64, isError bool) {
	m.timeSeriesMu.Lock()
	defer m.timeSeriesMu.Unlock()

	now := time.Now().Truncate(timeSeriesBucketDuration)

	if len(m.timeSeries) > 0 {
		lastBucket := m.timeSeries[len(m.timeSeries)-1]
		bucketsDiff := int(now.Sub(lastBucket.Timestamp) / timeSeriesBucketDuration)

		if bucketsDiff > 0 {
			if bucketsDiff >= timeSeriesBucketCount {
				m.timeSeries = make([]*TimeSeriesBucket, timeSeriesBucketCount)
				for i := 0; i < timeSeriesBucketCount; i++ {
					m.timeSeries[i] = &TimeSeriesBucket{
						Timestamp: now.Add(time.Duration(i-(timeSeriesBucketCount-1)) * timeSeriesBucketDuration),
					}
				}
			} else {
				m.timeSeries = m.timeSeries[bucketsDiff:]
				for i := 0; i < bucketsDiff; i++ {
					m.timeSeries = append(m.timeSeries, &TimeSeriesBucket{
						Timestamp: lastBucket.Timestamp.Add(time.Duration(i+1) * timeSeriesBucketDuration),
					})
				}
			}
		}
	}

	if len(m.timeSeries) > 0 {
		bucket := m.timeSeries[len(m.timeSeries)-1]
		bucket.Jobs++
		bucket.TotalLatency += durationMs
		bucket.Count++
		if isError {
			bucket.Failures++
		}
	}
}

func (m *Metrics) getPluginMetrics(plugin string) *PluginMetrics {
	if v, ok := m.pluginMetrics.Load(plugin); ok {
		return v.(*PluginMetrics)
	}
	pm := &PluginMetrics{}
	pm.MinMs.Store(int64(^uint64(0) >> 1))
	actual, _ := m.pluginMetrics.LoadOrStore(plugin, pm)
	return actual.(*PluginMetrics)
}

// GetPluginMetrics returns the metrics for a specific plugin, or nil.
func (m *Metrics) GetPluginMetrics(plugin string) *PluginMetrics {
	if v, ok := m.pluginMetrics.Load(plugin); ok {
		return v.(*PluginMetrics)
	}
	return nil
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() map[string]interface{} {
	total := m.SuccessfulJobs.Load() + m.FailedJobs.Load()
	avgLatency := float64(0)
	if total > 0 {
		avgLatency = float64(m.TotalLatencyMs.Load()) / float64(total)
	}

	minLatency := m.MinLatencyMs.Load()
	if minLatency == int64(^uint64(0)>>1) {
		minLatency = 0
	}

	return map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"jobs": map[string]interface{}{
			"created":   m.TotalJobs.Load(),
			"started":   m.StartedJobs.Load(),
			"succeeded": m.SuccessfulJobs.Load(),
			"failed":    m.FailedJobs.Load(),
			"killed":    m.KilledJobs.Load(),
		},
		"latency_ms": map[string]interface{}{
			"avg": avgLatency,
			"min": minLatency,
			"max": m.MaxLatencyMs.Load(),
		},
		"ts_dropped_events": m.tsDroppedEvents.Load(),
	}
}

// PluginStats returns per-plugin metrics.
func (m *Metrics) PluginStats() map[string]interface{} {
	result := make(map[string]interface{})

	m.pluginMetrics.Range(func(key, value interface{}) bool {
		name := key.(string)
		pm := value.(*PluginMetrics)

		total := pm.Jobs.Load()
		avgMs := float64(0)
		if total > 0 {
			avgMs = float64(pm.TotalMs.Load()) / float64(total)
		}

		minMs := pm.MinMs.Load()
		if minMs == int64(^uint64(0)>>1) {
			minMs = 0
		}

		result[name] = map[string]interface{}{
			"jobs":      total,
			"successes": pm.Successes.Load(),
			"failures":  pm.Failures.Load(),
			"avg_ms":    avgMs,
			"min_ms":    minMs,
			"max_ms":    pm.MaxMs.Load(),
		}
		return true
	})

	return result
}

// JSONHandler returns an HTTP handler that exposes metrics in JSON format.
func (m *Metrics) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		result := m.Snapshot()
		result["plugins"] = m.PluginStats()
		json.NewEncoder(w).Encode(result)
	})
}

// TimeSeries returns minute-level time-series data for the last 24 hours.
func (m *Metrics) TimeSeries() []map[string]interface{} {
	m.timeSeriesMu.RLock()
	defer m.timeSeriesMu.RUnlock()

	result := make([]map[string]interface{}, len(m.timeSeries))
	for i, bucket := range m.timeSeries {
		avgDuration := float64(0)
		if bucket.Count > 0 {
			avgDuration = float64(bucket.TotalLatency) / float64(bucket.Count)
		}
		result[i] = map[string]interface{}{
			"timestamp":    bucket.Timestamp.Format(time.RFC3339),
			"jobs":         bucket.Jobs,
			"failures":     bucket.Failures,
			"avg_duration": avgDuration,
		}
	}
	return result
}

// TimeSeriesHandler returns an HTTP handler for time-series metrics.
func (m *Metrics) TimeSeriesHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.TimeSeries())
	})
}

func updateMin(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value >= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}

func updateMax(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value <= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}
