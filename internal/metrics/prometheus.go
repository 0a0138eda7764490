// Package metrics provides Prometheus-based metrics collection for farmscan.
package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// Namespace for all farmscan metrics
	namespace = "farmscan"

	// Subsystems
	subsystemProbe  = "probe"
	subsystemPool   = "pool"
	subsystemTask   = "task"
	subsystemSystem = "system"
	subsystemAPI    = "api"
)

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	// Probe metrics
	probesTotal   *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec

	// Pool metrics
	workersRunning prometheus.Gauge
	workersWaiting prometheus.Gauge

	// Task metrics
	tasksCreated    prometheus.Counter
	tasksPruned     prometheus.Counter
	activeTasks     prometheus.Gauge
	addressesQueued prometheus.Counter

	// API metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// System metrics
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
	uptime      prometheus.Gauge

	startTime time.Time
	registry  *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		startTime: time.Now(),
		registry:  registry,
	}

	pm.initProbeMetrics()
	pm.initPoolMetrics()
	pm.initTaskMetrics()
	pm.initAPIMetrics()
	pm.initSystemMetrics()

	pm.registerMetrics()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

func (pm *PrometheusMetrics) initProbeMetrics() {
	pm.probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "total",
			Help:      "Total number of device probes by outcome",
		},
		[]string{"outcome"},
	)

	pm.probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "duration_seconds",
			Help:      "Duration of device probes in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 60.0},
		},
		[]string{"outcome"},
	)
}

func (pm *PrometheusMetrics) initPoolMetrics() {
	pm.workersRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemPool,
			Name:      "workers_running",
			Help:      "Number of workers in the running set",
		},
	)

	pm.workersWaiting = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemPool,
			Name:      "workers_waiting",
			Help:      "Number of workers parked waiting for work",
		},
	)
}

func (pm *PrometheusMetrics) initTaskMetrics() {
	pm.tasksCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemTask,
			Name:      "created_total",
			Help:      "Total number of scan tasks created",
		},
	)

	pm.tasksPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemTask,
			Name:      "pruned_total",
			Help:      "Total number of completed scan tasks removed by retention",
		},
	)

	pm.activeTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemTask,
			Name:      "active",
			Help:      "Number of registered scan tasks",
		},
	)

	pm.addressesQueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemTask,
			Name:      "addresses_total",
			Help:      "Total number of candidate addresses queued across all tasks",
		},
	)
}

func (pm *PrometheusMetrics) initAPIMetrics() {
	pm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)

	pm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"method", "path"},
	)
}

func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.memoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "memory_bytes",
			Help:      "Current memory usage in bytes",
		},
	)

	pm.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	pm.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Application uptime in seconds",
		},
	)
}

// registerMetrics registers all metrics with the Prometheus registry
func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(
		pm.probesTotal,
		pm.probeDuration,
		pm.workersRunning,
		pm.workersWaiting,
		pm.tasksCreated,
		pm.tasksPruned,
		pm.activeTasks,
		pm.addressesQueued,
		pm.httpRequests,
		pm.httpDuration,
		pm.memoryUsage,
		pm.goroutines,
		pm.uptime,
	)
}

// GetRegistry returns the Prometheus registry for HTTP handler
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// ObserveProbe records the outcome and duration of one probe.
func (pm *PrometheusMetrics) ObserveProbe(outcome string, duration time.Duration) {
	pm.probesTotal.WithLabelValues(outcome).Inc()
	pm.probeDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// SetWorkers sets the running and waiting worker gauges.
func (pm *PrometheusMetrics) SetWorkers(running, waiting int) {
	pm.workersRunning.Set(float64(running))
	pm.workersWaiting.Set(float64(waiting))
}

// SetActiveTasks sets the number of registered tasks
func (pm *PrometheusMetrics) SetActiveTasks(count int) {
	pm.activeTasks.Set(float64(count))
}

// TaskCreated counts a new task and its addresses
func (pm *PrometheusMetrics) TaskCreated(addresses int) {
	pm.tasksCreated.Inc()
	pm.addressesQueued.Add(float64(addresses))
}

// TasksPruned counts tasks removed by retention
func (pm *PrometheusMetrics) TasksPruned(count int) {
	pm.tasksPruned.Add(float64(count))
}

// IncrementHTTPRequests increments HTTP request counter
func (pm *PrometheusMetrics) IncrementHTTPRequests(method, path, status string) {
	pm.httpRequests.WithLabelValues(method, path, status).Inc()
}

// RecordHTTPDuration records HTTP request duration
func (pm *PrometheusMetrics) RecordHTTPDuration(method, path string, duration time.Duration) {
	pm.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateSystemMetrics updates all system metrics with current values
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	pm.memoryUsage.Set(float64(memStats.Alloc))
	pm.goroutines.Set(float64(runtime.NumGoroutine()))
	pm.uptime.Set(time.Since(pm.startTime).Seconds())
}

// StartPeriodicUpdates refreshes system metrics until ctx is done.
func (pm *PrometheusMetrics) StartPeriodicUpdates(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pm.UpdateSystemMetrics()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.UpdateSystemMetrics()
		}
	}
}

var (
	globalMetrics *PrometheusMetrics
	metricsOnce   sync.Once
)

// GetGlobalMetrics returns the global Prometheus metrics instance
func GetGlobalMetrics() *PrometheusMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewPrometheusMetrics()
	})
	return globalMetrics
}
