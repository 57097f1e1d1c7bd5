package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arbiter-ai/arbiter-engine/pkg/apperrors"
	"github.com/arbiter-ai/arbiter-engine/pkg/models"
	"github.com/arbiter-ai/arbiter-engine/pkg/services"
)

// ============================================================================
// Request/Response Types
// ============================================================================

// StartSyncRequest for POST /api/sync.
type StartSyncRequest struct {
	Dataset string `json:"dataset"`

	// Force re-ingests even when the remote dataset is no newer than the
	// last completed run.
	Force bool `json:"force,omitempty"`

	// ResumeID continues a paused run instead of starting a new one.
	ResumeID *uuid.UUID `json:"resume_id,omitempty"`
}

// ============================================================================
// Handler
// ============================================================================

// SyncHandler handles bulk synchronization HTTP requests.
type SyncHandler struct {
	syncService services.SyncService
	logger      *zap.Logger
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(syncService services.SyncService, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{
		syncService: syncService,
		logger:      logger,
	}
}

// RegisterRoutes registers the sync handler's routes on the given mux.
func (h *SyncHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sync", h.Start)
	mux.HandleFunc("GET /api/sync/latest", h.Latest)
	mux.HandleFunc("GET /api/sync/{rid}", h.Get)
}

// Start handles POST /api/sync
func (h *SyncHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	dataset, ok := parseDataset(req.Dataset)
	if !ok {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_dataset", "Dataset must be oracle_cards or rulings"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	run, err := h.syncService.StartSync(r.Context(), dataset, services.SyncOptions{
		Force:    req.Force,
		ResumeID: req.ResumeID,
	})
	if err != nil {
		h.writeSyncError(w, dataset, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: run}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *SyncHandler) writeSyncError(w http.ResponseWriter, dataset models.DatasetType, err error) {
	h.logger.Error("Sync request failed",
		zap.String("dataset", string(dataset)),
		zap.Error(err))

	status := http.StatusInternalServerError
	code := "sync_failed"
	switch {
	case errors.Is(err, apperrors.ErrSyncInProgress):
		status = http.StatusConflict
		code = "sync_in_progress"
	case errors.Is(err, apperrors.ErrInvalidResumeState):
		status = http.StatusConflict
		code = "invalid_resume_state"
	}
	if err := ErrorResponse(w, status, code, err.Error()); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

// Get handles GET /api/sync/{rid}
func (h *SyncHandler) Get(w http.ResponseWriter, r *http.Request) {
	runID, ok := ParseRunID(w, r, h.logger)
	if !ok {
		return
	}

	run, err := h.syncService.GetRun(r.Context(), runID)
	if errors.Is(err, apperrors.ErrNotFound) {
		if err := ErrorResponse(w, http.StatusNotFound, "run_not_found", "No such sync run"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if err != nil {
		h.logger.Error("Failed to fetch sync run",
			zap.String("run_id", runID.String()),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "get_run_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: run}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Latest handles GET /api/sync/latest?dataset=
func (h *SyncHandler) Latest(w http.ResponseWriter, r *http.Request) {
	dataset, ok := parseDataset(r.URL.Query().Get("dataset"))
	if !ok {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_dataset", "Dataset must be oracle_cards or rulings"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	run, err := h.syncService.LatestCompleted(r.Context(), dataset)
	if errors.Is(err, apperrors.ErrNotFound) {
		if err := ErrorResponse(w, http.StatusNotFound, "no_completed_run", "Dataset has never completed a sync"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if err != nil {
		h.logger.Error("Failed to fetch latest sync run",
			zap.String("dataset", string(dataset)),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "get_latest_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: run}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func parseDataset(raw string) (models.DatasetType, bool) {
	switch models.DatasetType(raw) {
	case models.DatasetOracleCards:
		return models.DatasetOracleCards, true
	case models.DatasetRulings:
		return models.DatasetRulings, true
	default:
		return "", false
	}
}
