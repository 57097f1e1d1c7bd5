package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/arbiter-ai/arbiter-engine/pkg/apperrors"
	"github.com/arbiter-ai/arbiter-engine/pkg/models"
	"github.com/arbiter-ai/arbiter-engine/pkg/services"
)

// ============================================================================
// Request/Response Types
// ============================================================================

// ResolveRequest for POST /api/resolve. Name resolves a single card; Names
// and Hands resolve a batch. Hands contribute only their visible cards.
type ResolveRequest struct {
	Name  string        `json:"name,omitempty"`
	Names []string      `json:"names,omitempty"`
	Hands []models.Hand `json:"hands,omitempty"`
}

// ResolveManyResponse for batch resolutions.
type ResolveManyResponse struct {
	Results []*services.ResolveResult `json:"results"`
	Total   int                       `json:"total"`
}

// AutocompleteResponse for GET /api/cards/autocomplete.
type AutocompleteResponse struct {
	Suggestions []string `json:"suggestions"`
	Total       int      `json:"total"`
}

// ============================================================================
// Handler
// ============================================================================

// AutocompleteClient is the slice of the catalog client the cards handler
// needs for name suggestions.
type AutocompleteClient interface {
	Autocomplete(ctx context.Context, partial string) ([]string, error)
}

// CardsHandler handles card resolution HTTP requests.
type CardsHandler struct {
	resolver services.ResolverService
	suggest  AutocompleteClient
	logger   *zap.Logger
}

// NewCardsHandler creates a new cards handler.
func NewCardsHandler(resolver services.ResolverService, suggest AutocompleteClient, logger *zap.Logger) *CardsHandler {
	return &CardsHandler{
		resolver: resolver,
		suggest:  suggest,
		logger:   logger,
	}
}

// RegisterRoutes registers the cards handler's routes on the given mux.
func (h *CardsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/resolve", h.Resolve)
	mux.HandleFunc("GET /api/cards/autocomplete", h.Autocomplete)
}

// Resolve handles POST /api/resolve
func (h *CardsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if len(req.Names) == 0 && len(req.Hands) == 0 {
		h.resolveSingle(w, r, req.Name)
		return
	}

	names := make([]string, 0, len(req.Names))
	if req.Name != "" {
		names = append(names, req.Name)
	}
	names = append(names, req.Names...)
	for _, hand := range req.Hands {
		for _, card := range hand.Cards {
			names = append(names, card.Name)
		}
	}
	if len(names) == 0 {
		if err := ErrorResponse(w, http.StatusBadRequest, "empty_request", "No card names to resolve"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	results, err := h.resolver.ResolveMany(r.Context(), names)
	if err != nil {
		h.writeResolveError(w, err)
		return
	}

	response := ResolveManyResponse{Results: results, Total: len(results)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *CardsHandler) resolveSingle(w http.ResponseWriter, r *http.Request, name string) {
	if name == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "empty_request", "No card names to resolve"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	result, err := h.resolver.Resolve(r.Context(), name)
	if err != nil {
		h.writeResolveError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: result}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *CardsHandler) writeResolveError(w http.ResponseWriter, err error) {
	h.logger.Error("Failed to resolve card names", zap.Error(err))

	status := http.StatusInternalServerError
	code := "resolve_failed"
	if errors.Is(err, apperrors.ErrResolutionFailed) {
		// The remote catalog misbehaved; the request itself was fine.
		status = http.StatusBadGateway
		code = "resolution_failed"
	}
	if err := ErrorResponse(w, status, code, err.Error()); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

// Autocomplete handles GET /api/cards/autocomplete
func (h *CardsHandler) Autocomplete(w http.ResponseWriter, r *http.Request) {
	partial := r.URL.Query().Get("q")
	if partial == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_query", "Query parameter q is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	suggestions, err := h.suggest.Autocomplete(r.Context(), partial)
	if err != nil {
		h.logger.Error("Failed to fetch autocomplete suggestions",
			zap.String("q", partial),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusBadGateway, "autocomplete_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	response := AutocompleteResponse{Suggestions: suggestions, Total: len(suggestions)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
