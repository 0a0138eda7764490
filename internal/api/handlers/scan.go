// Package handlers provides HTTP request handlers for the farmscan API.
// This file implements the scan task endpoints: task creation, snapshots,
// live engine reconfiguration and deletion.
package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/anstrom/farmscan/internal/errors"
	"github.com/anstrom/farmscan/internal/netrange"
	"github.com/anstrom/farmscan/internal/scanning"
)

// CIDR prefix lengths accepted in scan requests.
const (
	minRequestPrefix = 10
	maxRequestPrefix = 31
)

// ScanHandler handles scan-related API endpoints.
type ScanHandler struct {
	engine         scanning.Engine
	logger         *slog.Logger
	validate       *validator.Validate
	maxRequestSize int64
}

// NewScanHandler creates a new scan handler.
func NewScanHandler(engine scanning.Engine, logger *slog.Logger, maxRequestSize int64) *ScanHandler {
	return &ScanHandler{
		engine:         engine,
		logger:         logger.With("handler", "scan"),
		validate:       mustRegisterRules(validator.New(validator.WithRequiredStructEnabled()), scanRules),
		maxRequestSize: maxRequestSize,
	}
}

// CreateScanResponse is returned for a newly registered task.
type CreateScanResponse struct {
	ID string `json:"id"`
}

// UpdateConfigRequest is a partial engine reconfiguration. Timeout is in
// milliseconds.
type UpdateConfigRequest struct {
	Concurrency *int `json:"concurrency,omitempty" validate:"omitempty,min=1,max=1000"`
	Timeout     *int `json:"timeout,omitempty" validate:"omitempty,min=100,max=60000"`
}

// DeleteAllResponse reports how many tasks were removed.
type DeleteAllResponse struct {
	Deleted int `json:"deleted"`
}

// scanRules are the custom validation tags used by scan requests.
var scanRules = map[string]validator.Func{
	"scanprefix": validateScanPrefix,
}

// mustRegisterRules registers rules on v and panics if one is rejected.
func mustRegisterRules(v *validator.Validate, rules map[string]validator.Func) *validator.Validate {
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("failed to register %s validation: %v", tag, err))
		}
	}
	return v
}

// validateScanPrefix accepts IPv4 CIDRs whose prefix length is within the
// request bounds. Host bits are allowed.
func validateScanPrefix(fl validator.FieldLevel) bool {
	prefix, err := netip.ParsePrefix(fl.Field().String())
	if err != nil || !prefix.Addr().Is4() {
		return false
	}
	return prefix.Bits() >= minRequestPrefix && prefix.Bits() <= maxRequestPrefix
}

// CreateScan handles POST /api/v1/scans - register a scan over a list of
// address ranges.
func (h *ScanHandler) CreateScan(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestIDFromContext(r.Context())
	h.logger.Info("Creating scan", "request_id", requestID)

	var specs []netrange.Spec
	if err := parseJSON(w, r, &specs, h.maxRequestSize); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	if err := h.validateSpecs(specs); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, err)
		return
	}

	id, err := h.engine.CreateScan(specs)
	if err != nil {
		writeEngineError(w, r, h.logger, "create scan", err)
		return
	}

	h.logger.Info("Scan created",
		"request_id", requestID,
		"task_id", id,
		"ranges", len(specs))

	writeJSON(w, r, http.StatusCreated, CreateScanResponse{ID: id})
}

// validateSpecs checks the shape of each range before it reaches the
// expander.
func (h *ScanHandler) validateSpecs(specs []netrange.Spec) error {
	for i, spec := range specs {
		if err := h.validate.Struct(spec); err != nil {
			return errors.WrapScanError(errors.CodeValidation,
				fmt.Sprintf("Invalid range at index %d", i), err)
		}

		switch {
		case spec.CIDR != "" && (spec.Begin != "" || spec.End != ""):
			return errors.NewScanErrorWithTarget(errors.CodeValidation,
				fmt.Sprintf("Range at index %d mixes cidr with begin/end", i), spec.String())
		case spec.CIDR != "":
			if err := h.validate.Var(spec.CIDR, "scanprefix"); err != nil {
				return errors.NewScanErrorWithTarget(errors.CodeValidation,
					fmt.Sprintf("Range at index %d must be an IPv4 CIDR between /%d and /%d",
						i, minRequestPrefix, maxRequestPrefix),
					spec.CIDR)
			}
		case spec.Begin == "" || spec.End == "":
			return errors.NewScanErrorWithTarget(errors.CodeValidation,
				fmt.Sprintf("Range at index %d needs either cidr or both begin and end", i), spec.String())
		}
	}
	return nil
}

// GetStats handles GET /api/v1/scans - engine stats and per-task counts.
func (h *ScanHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.engine.Stats())
}

// GetScan handles GET /api/v1/scans/{id} - a snapshot of one task.
func (h *ScanHandler) GetScan(w http.ResponseWriter, r *http.Request) {
	id, err := extractIDFromPath(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	snap, err := h.engine.GetScan(id)
	if err != nil {
		writeEngineError(w, r, h.logger, "get scan", err)
		return
	}

	writeJSON(w, r, http.StatusOK, snap)
}

// UpdateConfig handles PATCH /api/v1/scans - change concurrency and probe
// timeout of the running engine.
func (h *ScanHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestIDFromContext(r.Context())

	var req UpdateConfigRequest
	if err := parseJSON(w, r, &req, h.maxRequestSize); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity,
			errors.WrapScanError(errors.CodeValidation, "Invalid engine configuration", err))
		return
	}

	update := scanning.ConfigUpdate{Concurrency: req.Concurrency}
	if req.Timeout != nil {
		timeout := time.Duration(*req.Timeout) * time.Millisecond
		update.Timeout = &timeout
	}

	cfg, err := h.engine.UpdateConfig(update)
	if err != nil {
		writeEngineError(w, r, h.logger, "update engine configuration", err)
		return
	}

	h.logger.Info("Engine configuration updated",
		"request_id", requestID,
		"concurrency", cfg.Concurrency,
		"timeout_ms", cfg.TimeoutMS)

	writeJSON(w, r, http.StatusOK, cfg)
}

// DeleteAllScans handles DELETE /api/v1/scans - drop every task.
func (h *ScanHandler) DeleteAllScans(w http.ResponseWriter, r *http.Request) {
	n := h.engine.DeleteAllScans()

	h.logger.Info("All scans deleted",
		"request_id", getRequestIDFromContext(r.Context()),
		"count", n)

	writeJSON(w, r, http.StatusOK, DeleteAllResponse{Deleted: n})
}

// DeleteScan handles DELETE /api/v1/scans/{id} - drop one task.
func (h *ScanHandler) DeleteScan(w http.ResponseWriter, r *http.Request) {
	id, err := extractIDFromPath(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	if err := h.engine.DeleteScan(id); err != nil {
		writeEngineError(w, r, h.logger, "delete scan", err)
		return
	}

	h.logger.Info("Scan deleted",
		"request_id", getRequestIDFromContext(r.Context()),
		"task_id", id)

	w.WriteHeader(http.StatusNoContent)
}
