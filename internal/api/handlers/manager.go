// Package handlers provides HTTP request handlers for the farmscan API.
// This package implements REST endpoint handlers for scan tasks, progress
// streaming, mDNS discovery and health checks.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/anstrom/farmscan/internal/scanning"
)

// Options carries handler settings taken from the API configuration.
type Options struct {
	MaxRequestSize   int64
	ProgressInterval time.Duration
	Discovery        CandidateSource
}

// HandlerManager manages all API handlers and their dependencies.
type HandlerManager struct {
	engine scanning.Engine
	logger *slog.Logger

	// Individual handler groups
	health    *HealthHandler
	scan      *ScanHandler
	discovery *DiscoveryHandler
	websocket *WebSocketHandler
}

// New creates a new handler manager with all handler groups initialized.
func New(engine scanning.Engine, logger *slog.Logger, opts Options) *HandlerManager {
	hm := &HandlerManager{
		engine: engine,
		logger: logger,
	}

	hm.scan = NewScanHandler(engine, logger, opts.MaxRequestSize)
	hm.websocket = NewWebSocketHandler(engine, logger, opts.ProgressInterval)
	hm.health = NewHealthHandler(engine, hm.websocket, logger)
	hm.discovery = NewDiscoveryHandler(opts.Discovery, engine, logger)

	return hm
}

// Close shuts down open progress streams.
func (hm *HandlerManager) Close() error {
	return hm.websocket.Close()
}

// Liveness handles GET /liveness - process is up.
func (hm *HandlerManager) Liveness(w http.ResponseWriter, r *http.Request) {
	hm.health.Liveness(w, r)
}

// Health handles GET /health - engine is accepting work.
func (hm *HandlerManager) Health(w http.ResponseWriter, r *http.Request) {
	hm.health.Health(w, r)
}

// Status handles GET /status - get system status.
func (hm *HandlerManager) Status(w http.ResponseWriter, r *http.Request) {
	hm.health.Status(w, r)
}

// Version handles GET /version - get version information.
func (hm *HandlerManager) Version(w http.ResponseWriter, r *http.Request) {
	hm.health.Version(w, r)
}

// CreateScan handles POST /api/v1/scans - create a new scan.
func (hm *HandlerManager) CreateScan(w http.ResponseWriter, r *http.Request) {
	hm.scan.CreateScan(w, r)
}

// GetStats handles GET /api/v1/scans - engine stats.
func (hm *HandlerManager) GetStats(w http.ResponseWriter, r *http.Request) {
	hm.scan.GetStats(w, r)
}

// GetScan handles GET /api/v1/scans/{id} - get a specific scan.
func (hm *HandlerManager) GetScan(w http.ResponseWriter, r *http.Request) {
	hm.scan.GetScan(w, r)
}

// UpdateConfig handles PATCH /api/v1/scans - reconfigure the engine.
func (hm *HandlerManager) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	hm.scan.UpdateConfig(w, r)
}

// DeleteAllScans handles DELETE /api/v1/scans - delete every scan.
func (hm *HandlerManager) DeleteAllScans(w http.ResponseWriter, r *http.Request) {
	hm.scan.DeleteAllScans(w, r)
}

// DeleteScan handles DELETE /api/v1/scans/{id} - delete a scan.
func (hm *HandlerManager) DeleteScan(w http.ResponseWriter, r *http.Request) {
	hm.scan.DeleteScan(w, r)
}

// ScanProgress handles GET /api/v1/scans/{id}/ws - stream scan progress.
func (hm *HandlerManager) ScanProgress(w http.ResponseWriter, r *http.Request) {
	hm.websocket.ScanProgress(w, r)
}

// ListCandidates handles GET /api/v1/discovery/mdns - browse for printers.
func (hm *HandlerManager) ListCandidates(w http.ResponseWriter, r *http.Request) {
	hm.discovery.ListCandidates(w, r)
}

// ScanCandidates handles POST /api/v1/discovery/mdns/scan - scan what
// answered a browse.
func (hm *HandlerManager) ScanCandidates(w http.ResponseWriter, r *http.Request) {
	hm.discovery.ScanCandidates(w, r)
}
