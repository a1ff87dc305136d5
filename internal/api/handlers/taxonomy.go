package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/memforge-ai/memforge/internal/domain"
	"github.com/memforge-ai/memforge/internal/service"
)

// TaxonomyHandler serves the browse vocabulary: categories, tags and
// memory communities.
type TaxonomyHandler struct {
	memories   domain.MemoryStore
	clustering *service.ClusteringService
	logger     *zap.Logger
}

func NewTaxonomyHandler(memories domain.MemoryStore, clustering *service.ClusteringService, logger *zap.Logger) *TaxonomyHandler {
	return &TaxonomyHandler{memories: memories, clustering: clustering, logger: logger}
}

// Categories lists the distinct categories of the user's current memories
// with counts.
func (h *TaxonomyHandler) Categories(w http.ResponseWriter, r *http.Request) {
	userID := resolveUser(r, "")
	if userID == "" {
		writeDetail(w, http.StatusBadRequest, "user_id is required")
		return
	}

	cats, err := h.memories.ListCategories(r.Context(), userID)
	if err != nil {
		h.logger.Error("list categories failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list categories")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": cats, "count": len(cats)})
}

// Tags lists the distinct tags of the user's current memories.
func (h *TaxonomyHandler) Tags(w http.ResponseWriter, r *http.Request) {
	userID := resolveUser(r, "")
	if userID == "" {
		writeDetail(w, http.StatusBadRequest, "user_id is required")
		return
	}

	tags, err := h.memories.ListTags(r.Context(), userID)
	if err != nil {
		h.logger.Error("list tags failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list tags")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": tags, "count": len(tags)})
}

// Communities lists the current community layer.
func (h *TaxonomyHandler) Communities(w http.ResponseWriter, r *http.Request) {
	userID := resolveUser(r, "")
	if userID == "" {
		writeDetail(w, http.StatusBadRequest, "user_id is required")
		return
	}

	communities, err := h.clustering.List(r.Context(), userID)
	if err != nil {
		h.logger.Error("list communities failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list communities")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"communities": communities, "count": len(communities)})
}

// RebuildCommunities re-runs community detection and replaces the layer.
func (h *TaxonomyHandler) RebuildCommunities(w http.ResponseWriter, r *http.Request) {
	userID := resolveUser(r, "")
	if userID == "" {
		writeDetail(w, http.StatusBadRequest, "user_id is required")
		return
	}

	communities, err := h.clustering.Rebuild(r.Context(), userID)
	if err != nil {
		h.logger.Error("rebuild communities failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to rebuild communities")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"communities": communities, "count": len(communities)})
}
