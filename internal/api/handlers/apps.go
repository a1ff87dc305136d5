package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/memforge-ai/memforge/internal/domain"
	"github.com/memforge-ai/memforge/internal/store"
)

type AppHandler struct {
	apps   domain.AppStore
	logger *zap.Logger
}

func NewAppHandler(apps domain.AppStore, logger *zap.Logger) *AppHandler {
	return &AppHandler{apps: apps, logger: logger}
}

type appItem struct {
	ID          string `json:"id"`
	AppName     string `json:"app_name"`
	IsActive    bool   `json:"is_active"`
	CreatedAt   int64  `json:"created_at"`
	MemoryCount int    `json:"memory_count"`
}

func toAppItem(a domain.App) appItem {
	return appItem{
		ID:          a.ID,
		AppName:     a.AppName,
		IsActive:    a.IsActive,
		CreatedAt:   a.CreatedAt.Unix(),
		MemoryCount: a.MemoryCount,
	}
}

// List returns the user's apps with per-app memory counts. name and active
// query parameters filter the result.
func (h *AppHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := resolveUser(r, "")
	if userID == "" {
		writeDetail(w, http.StatusBadRequest, "user_id is required")
		return
	}

	var active *bool
	switch r.URL.Query().Get("active") {
	case "true":
		v := true
		active = &v
	case "false":
		v := false
		active = &v
	}

	apps, err := h.apps.List(r.Context(), userID, r.URL.Query().Get("name"), active)
	if err != nil {
		h.logger.Error("list apps failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list apps")
		return
	}

	items := make([]appItem, 0, len(apps))
	for _, a := range apps {
		items = append(items, toAppItem(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

func (h *AppHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := resolveUser(r, "")
	if userID == "" {
		writeDetail(w, http.StatusBadRequest, "user_id is required")
		return
	}

	app, err := h.apps.Get(r.Context(), userID, chi.URLParam(r, "appId"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeDetail(w, http.StatusNotFound, "not found")
			return
		}
		h.logger.Error("get app failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get app")
		return
	}
	writeJSON(w, http.StatusOK, toAppItem(*app))
}

type setActiveRequest struct {
	UserID   string `json:"user_id"`
	IsActive *bool  `json:"is_active"`
}

// SetActive pauses or resumes an app. Writes attributed to a paused app are
// rejected with 403 at ingestion time.
func (h *AppHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	userID := resolveUser(r, req.UserID)
	if userID == "" {
		writeDetail(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.IsActive == nil {
		writeDetail(w, http.StatusBadRequest, "is_active is required")
		return
	}

	appID := chi.URLParam(r, "appId")
	ok, err := h.apps.SetActive(r.Context(), userID, appID, *req.IsActive)
	if err != nil {
		h.logger.Error("set app active failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update app")
		return
	}
	if !ok {
		writeDetail(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": appID, "is_active": *req.IsActive})
}
