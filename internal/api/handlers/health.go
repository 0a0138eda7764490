// Package handlers provides HTTP request handlers for the farmscan API.
// This file implements health check and system status endpoints.
package handlers

import (
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/anstrom/farmscan/internal/workers"
)

// Status constants.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"
)

// Resource thresholds for a degraded status. Every probe worker is a
// goroutine, so the goroutine bound sits well above the maximum
// concurrency.
const (
	maxHealthyMemory     = 1 << 30 // 1GB
	maxHealthyGoroutines = 10000
)

// EngineChecker is the part of the scan engine health endpoints look at.
type EngineChecker interface {
	Running() bool
	Stats() workers.Stats
}

// StreamCounter reports open progress streams.
type StreamCounter interface {
	GetConnectedClients() int
}

// HealthHandler handles health check and status endpoints.
type HealthHandler struct {
	engine    EngineChecker
	streams   StreamCounter
	logger    *slog.Logger
	startTime time.Time
}

// NewHealthHandler creates a new health handler. streams may be nil.
func NewHealthHandler(engine EngineChecker, streams StreamCounter, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		engine:    engine,
		streams:   streams,
		logger:    logger.With("handler", "health"),
		startTime: time.Now(),
	}
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks"`
}

// LivenessResponse represents a simple liveness check response.
type LivenessResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
}

// StatusResponse represents a detailed status response.
type StatusResponse struct {
	Service   ServiceInfo    `json:"service"`
	System    SystemInfo     `json:"system"`
	Engine    EngineInfo     `json:"engine"`
	Health    HealthResponse `json:"health"`
	Timestamp time.Time      `json:"timestamp"`
}

// ServiceInfo contains service-related information.
type ServiceInfo struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	StartTime time.Time `json:"start_time"`
	Uptime    string    `json:"uptime"`
	PID       int       `json:"pid"`
}

// SystemInfo contains system-related information.
type SystemInfo struct {
	OS           string     `json:"os"`
	Architecture string     `json:"architecture"`
	CPUs         int        `json:"cpus"`
	GoVersion    string     `json:"go_version"`
	Memory       MemoryInfo `json:"memory"`
	Goroutines   int        `json:"goroutines"`
}

// MemoryInfo contains memory usage information.
type MemoryInfo struct {
	Allocated   uint64 `json:"allocated_bytes"`
	TotalAlloc  uint64 `json:"total_alloc_bytes"`
	System      uint64 `json:"system_bytes"`
	GCCycles    uint32 `json:"gc_cycles"`
	LastGC      string `json:"last_gc"`
	HeapObjects uint64 `json:"heap_objects"`
}

// EngineInfo summarizes the scan engine.
type EngineInfo struct {
	Running        bool  `json:"running"`
	Concurrency    int   `json:"concurrency"`
	TimeoutMS      int64 `json:"timeout_ms"`
	WorkersRunning int   `json:"workers_running"`
	WorkersWaiting int   `json:"workers_waiting"`
	Tasks          int   `json:"tasks"`
	Streams        int   `json:"streams"`
}

// VersionResponse represents version information.
type VersionResponse struct {
	Version   string    `json:"version"`
	Commit    string    `json:"commit"`
	BuildTime string    `json:"build_time"`
	GoVersion string    `json:"go_version"`
	Timestamp time.Time `json:"timestamp"`
}

// Health reports 503 once the engine has stopped accepting work.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("Health check requested", "remote_addr", r.RemoteAddr)

	response := h.getHealthInfo()

	statusCode := http.StatusOK
	if response.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
		h.logger.Warn("Health check failed", "checks", response.Checks)
	}

	writeJSON(w, r, statusCode, response)
}

// Liveness performs a simple liveness check without dependencies.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("Liveness check requested", "remote_addr", r.RemoteAddr)

	writeJSON(w, r, http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).String(),
	})
}

// Status provides detailed system status information.
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("Status check requested", "remote_addr", r.RemoteAddr)

	response := StatusResponse{
		Service: ServiceInfo{
			Name:      "farmscan",
			Version:   getVersion(),
			StartTime: h.startTime,
			Uptime:    time.Since(h.startTime).String(),
			PID:       os.Getpid(),
		},
		System:    h.getSystemInfo(),
		Engine:    h.getEngineInfo(),
		Health:    h.getHealthInfo(),
		Timestamp: time.Now().UTC(),
	}

	writeJSON(w, r, http.StatusOK, response)
}

// Version provides version information.
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("Version requested", "remote_addr", r.RemoteAddr)

	writeJSON(w, r, http.StatusOK, VersionResponse{
		Version:   getVersion(),
		Commit:    getCommit(),
		BuildTime: getBuildTime(),
		GoVersion: runtime.Version(),
		Timestamp: time.Now().UTC(),
	})
}

// getSystemInfo gathers system information.
func (h *HealthHandler) getSystemInfo() SystemInfo {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	memInfo := MemoryInfo{
		Allocated:   memStats.Alloc,
		TotalAlloc:  memStats.TotalAlloc,
		System:      memStats.Sys,
		GCCycles:    memStats.NumGC,
		HeapObjects: memStats.HeapObjects,
	}
	if memStats.LastGC > 0 {
		memInfo.LastGC = time.Unix(0, int64(memStats.LastGC)).UTC().Format(time.RFC3339) //nolint:gosec // ns since epoch fits int64
	}

	return SystemInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		CPUs:         runtime.NumCPU(),
		GoVersion:    runtime.Version(),
		Memory:       memInfo,
		Goroutines:   runtime.NumGoroutine(),
	}
}

// getEngineInfo gathers scan engine information.
func (h *HealthHandler) getEngineInfo() EngineInfo {
	var info EngineInfo
	if h.engine == nil {
		return info
	}

	stats := h.engine.Stats()
	info.Running = h.engine.Running()
	info.Concurrency = stats.Concurrency
	info.TimeoutMS = stats.TimeoutMS
	info.WorkersRunning = stats.Workers.Running
	info.WorkersWaiting = stats.Workers.Waiting
	info.Tasks = len(stats.Tasks)
	if h.streams != nil {
		info.Streams = h.streams.GetConnectedClients()
	}
	return info
}

// getHealthInfo performs health checks and returns status.
func (h *HealthHandler) getHealthInfo() HealthResponse {
	response := HealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).String(),
		Checks:    make(map[string]string),
	}

	switch {
	case h.engine == nil:
		response.Status = StatusUnhealthy
		response.Checks["engine"] = "not configured"
	case !h.engine.Running():
		response.Status = StatusUnhealthy
		response.Checks["engine"] = "stopped"
	default:
		response.Checks["engine"] = "ok"
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	if memStats.Alloc > maxHealthyMemory {
		if response.Status == StatusHealthy {
			response.Status = StatusDegraded
		}
		response.Checks["memory"] = "high usage"
	} else {
		response.Checks["memory"] = "ok"
	}

	if runtime.NumGoroutine() > maxHealthyGoroutines {
		if response.Status == StatusHealthy {
			response.Status = StatusDegraded
		}
		response.Checks["goroutines"] = "high count"
	} else {
		response.Checks["goroutines"] = "ok"
	}

	return response
}

// Helper functions for build information (these should be set via ldflags).
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func getVersion() string {
	return version
}

func getCommit() string {
	return commit
}

func getBuildTime() string {
	return buildTime
}

// SetBuildInfo sets build information (called by main package).
func SetBuildInfo(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
}
