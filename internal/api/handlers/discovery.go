// Package handlers provides HTTP request handlers for the farmscan API.
// This file implements the mDNS discovery endpoints, which list announced
// Moonraker instances and can seed a scan with them.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/anstrom/farmscan/internal/discovery"
	"github.com/anstrom/farmscan/internal/errors"
	"github.com/anstrom/farmscan/internal/scanning"
)

// CandidateSource yields announced service instances.
type CandidateSource interface {
	Candidates(ctx context.Context) ([]discovery.Candidate, error)
}

// DiscoveryHandler handles discovery-related API endpoints.
type DiscoveryHandler struct {
	source CandidateSource
	engine scanning.Engine
	logger *slog.Logger
}

// NewDiscoveryHandler creates a new discovery handler. A nil source means
// discovery is disabled.
func NewDiscoveryHandler(source CandidateSource, engine scanning.Engine, logger *slog.Logger) *DiscoveryHandler {
	return &DiscoveryHandler{
		source: source,
		engine: engine,
		logger: logger.With("handler", "discovery"),
	}
}

// CandidatesResponse lists browse results.
type CandidatesResponse struct {
	Candidates []discovery.Candidate `json:"candidates"`
	Count      int                   `json:"count"`
}

// DiscoveryScanResponse is returned when a scan was seeded from a browse.
type DiscoveryScanResponse struct {
	ID         string                `json:"id"`
	Candidates []discovery.Candidate `json:"candidates"`
}

// ListCandidates handles GET /api/v1/discovery/mdns - browse and return
// what answered.
func (h *DiscoveryHandler) ListCandidates(w http.ResponseWriter, r *http.Request) {
	candidates, ok := h.browse(w, r)
	if !ok {
		return
	}

	writeJSON(w, r, http.StatusOK, CandidatesResponse{
		Candidates: candidates,
		Count:      len(candidates),
	})
}

// ScanCandidates handles POST /api/v1/discovery/mdns/scan - browse, then
// register a scan over the announced addresses.
func (h *DiscoveryHandler) ScanCandidates(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestIDFromContext(r.Context())

	candidates, ok := h.browse(w, r)
	if !ok {
		return
	}

	id, err := h.engine.CreateScan(discovery.Specs(candidates))
	if err != nil {
		writeEngineError(w, r, h.logger, "create scan from discovery", err)
		return
	}

	h.logger.Info("Scan created from mDNS candidates",
		"request_id", requestID,
		"task_id", id,
		"candidates", len(candidates))

	writeJSON(w, r, http.StatusCreated, DiscoveryScanResponse{
		ID:         id,
		Candidates: candidates,
	})
}

func (h *DiscoveryHandler) browse(w http.ResponseWriter, r *http.Request) ([]discovery.Candidate, bool) {
	requestID := getRequestIDFromContext(r.Context())

	if h.source == nil {
		writeError(w, r, http.StatusServiceUnavailable,
			errors.NewScanError(errors.CodeConfiguration, "mDNS discovery is disabled"))
		return nil, false
	}

	h.logger.Info("Browsing for mDNS candidates", "request_id", requestID)

	candidates, err := h.source.Candidates(r.Context())
	if err != nil {
		h.logger.Error("mDNS browse failed", "request_id", requestID, "error", err)
		writeError(w, r, http.StatusBadGateway, err)
		return nil, false
	}
	if candidates == nil {
		candidates = []discovery.Candidate{}
	}
	return candidates, true
}
