package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/memforge-ai/memforge/internal/domain"
	"github.com/memforge-ai/memforge/internal/service"
	"github.com/memforge-ai/memforge/internal/store"
)

type EntityHandler struct {
	search   *service.HybridSearchEngine
	entities domain.EntityStore
	logger   *zap.Logger
}

func NewEntityHandler(search *service.HybridSearchEngine, entities domain.EntityStore, logger *zap.Logger) *EntityHandler {
	return &EntityHandler{search: search, entities: entities, logger: logger}
}

// Search finds entities by substring and description similarity, with their
// relationships in both directions.
func (h *EntityHandler) Search(w http.ResponseWriter, r *http.Request) {
	userID := resolveUser(r, "")
	if userID == "" {
		writeDetail(w, http.StatusBadRequest, "user_id is required")
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		writeDetail(w, http.StatusBadRequest, "query is required")
		return
	}

	matches, err := h.search.SearchEntities(r.Context(), userID, query, queryInt(r, "limit", 0))
	if err != nil {
		h.logger.Error("entity search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to search entities")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": matches, "count": len(matches)})
}

// Delete removes an entity by id or case-insensitive name. Mentioning
// memories stay intact.
func (h *EntityHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := resolveUser(r, "")
	if userID == "" {
		writeDetail(w, http.StatusBadRequest, "user_id is required")
		return
	}

	deletion, err := h.entities.Delete(r.Context(), userID, chi.URLParam(r, "idOrName"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeDetail(w, http.StatusNotFound, "not found")
			return
		}
		h.logger.Error("delete entity failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete entity")
		return
	}
	writeJSON(w, http.StatusOK, deletion)
}
