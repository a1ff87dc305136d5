package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/memforge-ai/memforge/internal/domain"
	"github.com/memforge-ai/memforge/internal/service"
	"github.com/memforge-ai/memforge/internal/store"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
	defaultTopK     = 10
	maxTopK         = 50
)

type MemoryHandler struct {
	writer    *service.MemoryWriter
	dedup     *service.DeduplicationEngine
	search    *service.HybridSearchEngine
	bulk      *service.BulkIngester
	extractor *service.EntityExtractor
	tasks     *service.TaskSupervisor
	memories  domain.MemoryStore
	history   domain.HistoryStore
	apps      domain.AppStore
	logger    *zap.Logger
}

func NewMemoryHandler(
	writer *service.MemoryWriter,
	dedup *service.DeduplicationEngine,
	search *service.HybridSearchEngine,
	bulk *service.BulkIngester,
	extractor *service.EntityExtractor,
	tasks *service.TaskSupervisor,
	memories domain.MemoryStore,
	history domain.HistoryStore,
	apps domain.AppStore,
	logger *zap.Logger,
) *MemoryHandler {
	return &MemoryHandler{
		writer:    writer,
		dedup:     dedup,
		search:    search,
		bulk:      bulk,
		extractor: extractor,
		tasks:     tasks,
		memories:  memories,
		history:   history,
		apps:      apps,
		logger:    logger,
	}
}

// memoryItem is the UI-facing serialization: Unix seconds for created/updated,
// ISO strings for the raw validity interval.
type memoryItem struct {
	ID               string         `json:"id"`
	Content          string         `json:"content"`
	State            string         `json:"state"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Tags             []string       `json:"tags"`
	Categories       []string       `json:"categories,omitempty"`
	AppName          string         `json:"app_name,omitempty"`
	CreatedAt        int64          `json:"created_at"`
	UpdatedAt        int64          `json:"updated_at"`
	ValidAt          string         `json:"valid_at"`
	InvalidAt        *string        `json:"invalid_at,omitempty"`
	SupersededBy     string         `json:"superseded_by,omitempty"`
	IsCurrent        bool           `json:"is_current"`
	ExtractionStatus string         `json:"extraction_status,omitempty"`
	Score            float64        `json:"score,omitempty"`
}

func toMemoryItem(m domain.Memory) memoryItem {
	item := memoryItem{
		ID:               m.ID,
		Content:          m.Content,
		State:            string(m.State),
		Metadata:         m.Metadata,
		Tags:             m.Tags,
		Categories:       m.Categories,
		AppName:          m.AppName,
		CreatedAt:        m.CreatedAt.Unix(),
		UpdatedAt:        m.UpdatedAt.Unix(),
		ValidAt:          m.ValidAt.UTC().Format(time.RFC3339),
		SupersededBy:     m.SupersededBy,
		IsCurrent:        m.IsCurrent(),
		ExtractionStatus: string(m.ExtractionStatus),
	}
	if m.InvalidAt != nil {
		s := m.InvalidAt.UTC().Format(time.RFC3339)
		item.InvalidAt = &s
	}
	return item
}

type listMemoriesResponse struct {
	Items []memoryItem `json:"items"`
	Total int          `json:"total"`
	Page  int          `json:"page"`
	Size  int          `json:"size"`
	Pages int          `json:"pages"`
}

// List serves both the bi-temporal listing and, when search_query is set,
// a paginated hybrid search.
func (h *MemoryHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := resolveUser(r, "")
	if userID == "" {
		writeDetail(w, http.StatusBadRequest, "user_id is required")
		return
	}

	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	size := queryInt(r, "size", defaultPageSize)
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	if query := strings.TrimSpace(r.URL.Query().Get("search_query")); query != "" {
		h.listBySearch(w, r, userID, query, page, size)
		return
	}

	opts := domain.ListOptions{
		AppID:             r.URL.Query().Get("app_id"),
		Categories:        splitCSV(r.URL.Query().Get("categories")),
		Page:              page,
		Size:              size,
		IncludeSuperseded: r.URL.Query().Get("include_superseded") == "true",
	}
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "as_of must be an ISO-8601 timestamp")
			return
		}
		opts.AsOf = &t
	}

	items, total, err := h.memories.List(r.Context(), userID, opts)
	if err != nil {
		h.logger.Error("list memories failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list memories")
		return
	}

	out := make([]memoryItem, 0, len(items))
	for _, m := range items {
		out = append(out, toMemoryItem(m))
	}
	writeJSON(w, http.StatusOK, listMemoriesResponse{
		Items: out,
		Total: total,
		Page:  page,
		Size:  size,
		Pages: pages(total, size),
	})
}

func (h *MemoryHandler) listBySearch(w http.ResponseWriter, r *http.Request, userID, query string, page, size int) {
	results, err := h.search.Search(r.Context(), domain.SearchRequest{
		Query:   query,
		UserID:  userID,
		TopK:    page * size,
		Mode:    domain.SearchHybrid,
		AppName: r.URL.Query().Get("app_id"),
	})
	if err != nil {
		h.logger.Error("memory search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to search memories")
		return
	}

	total := len(results)
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}

	out := make([]memoryItem, 0, end-start)
	for _, res := range results[start:end] {
		out = append(out, searchResultItem(res))
	}
	writeJSON(w, http.StatusOK, listMemoriesResponse{
		Items: out,
		Total: total,
		Page:  page,
		Size:  size,
		Pages: pages(total, size),
	})
}

func searchResultItem(res domain.SearchResult) memoryItem {
	return memoryItem{
		ID:         res.ID,
		Content:    res.Content,
		State:      string(domain.StateActive),
		Tags:       res.Tags,
		Categories: res.Categories,
		AppName:    res.AppName,
		CreatedAt:  res.CreatedAt.Unix(),
		UpdatedAt:  res.UpdatedAt.Unix(),
		IsCurrent:  true,
		Score:      service.DisplayScore(res.RRFScore),
	}
}

func pages(total, size int) int {
	if size <= 0 {
		return 0
	}
	return (total + size - 1) / size
}

type createMemoryRequest struct {
	UserID   string         `json:"user_id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Infer    *bool          `json:"infer,omitempty"`
	App      string         `json:"app,omitempty"`
	Tags     []string       `json:"tags,omitempty"`
}

type createMemoryResponse struct {
	memoryItem
	Event string `json:"event,omitempty"`
}

// Create runs the ingestion pipeline for one memory: app-pause check, dedup
// (unless infer=false), write, scheduled extraction.
func (h *MemoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID := resolveUser(r, req.UserID)
	if userID == "" {
		writeDetail(w, http.StatusBadRequest, "user_id is required")
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeDetail(w, http.StatusBadRequest, "text is required")
		return
	}

	if req.App != "" {
		active, err := h.apps.IsActive(r.Context(), userID, req.App)
		if err == nil && !active {
			writeDetail(w, http.StatusForbidden, "app is paused")
			return
		}
	}

	if req.Infer == nil || *req.Infer {
		decision := h.dedup.Decide(r.Context(), userID, text)
		switch decision.Action {
		case domain.DedupSkip:
			existing, err := h.memories.GetByID(r.Context(), userID, decision.ExistingID)
			if err != nil {
				h.logger.Error("fetch duplicate failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "failed to store memory")
				return
			}
			writeJSON(w, http.StatusOK, createMemoryResponse{
				memoryItem: toMemoryItem(*existing),
				Event:      "SKIP_DUPLICATE",
			})
			return

		case domain.DedupSupersede:
			m, _, err := h.writer.Supersede(r.Context(), userID, decision.ExistingID, text, service.AddOptions{
				AppName:  req.App,
				Tags:     req.Tags,
				Metadata: req.Metadata,
			})
			if err != nil {
				h.logger.Error("supersede failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "failed to store memory")
				return
			}
			if m != nil {
				writeJSON(w, http.StatusCreated, createMemoryResponse{memoryItem: toMemoryItem(*m)})
				return
			}
			// Old memory vanished between decision and write; store fresh.
		}
	}

	m, _, err := h.writer.Add(r.Context(), userID, text, service.AddOptions{
		AppName:  req.App,
		Tags:     req.Tags,
		Metadata: req.Metadata,
	})
	if err != nil {
		h.logger.Error("create memory failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store memory")
		return
	}
	writeJSON(w, http.StatusCreated, createMemoryResponse{memoryItem: toMemoryItem(*m)})
}

type bulkDeleteRequest struct {
	UserID    string   `json:"user_id"`
	MemoryIDs []string `json:"memory_ids"`
}

// BulkDelete soft-deletes the listed memories in one UNWIND round trip.
func (h *MemoryHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	var req bulkDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	userID := resolveUser(r, req.UserID)
	if userID == "" {
		writeDetail(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if len(req.MemoryIDs) == 0 {
		writeDetail(w, http.StatusBadRequest, "memory_ids is required")
		return
	}

	n, err := h.memories.BulkSoftDelete(r.Context(), userID, req.MemoryIDs)
	if err != nil {
		h.logger.Error("bulk delete failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete memories")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

// GetByID is user-anchored: an id owned by another user reads as not found.
func (h *MemoryHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	userID := resolveUser(r, "")
	if userID == "" {
		writeDetail(w, http.StatusBadRequest, "user_id is required")
		return
	}

	m, err := h.memories.GetByID(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeDetail(w, http.StatusNotFound, "not found")
			return
		}
		h.logger.Error("get memory failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get memory")
		return
	}
	writeJSON(w, http.StatusOK, toMemoryItem(*m))
}

type updateMemoryRequest struct {
	UserID        string `json:"user_id"`
	Text          string `json:"text"`
	MemoryContent string `json:"memory_content"`
	AppName       string `json:"app_name,omitempty"`
}

// Update supersedes the memory with new content; the old node keeps its
// closed validity interval.
func (h *MemoryHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	userID := resolveUser(r, req.UserID)
	if userID == "" {
		writeDetail(w, http.StatusBadRequest, "user_id is required")
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		text = strings.TrimSpace(req.MemoryContent)
	}
	if text == "" {
		writeDetail(w, http.StatusBadRequest, "text is required")
		return
	}

	m, _, err := h.writer.Supersede(r.Context(), userID, chi.URLParam(r, "id"), text, service.AddOptions{
		AppName: req.AppName,
	})
	if err != nil {
		h.logger.Error("update memory failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update memory")
		return
	}
	if m == nil {
		writeDetail(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, toMemoryItem(*m))
}

// Delete soft-deletes a single memory.
func (h *MemoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := resolveUser(r, "")
	if userID == "" {
		writeDetail(w, http.StatusBadRequest, "user_id is required")
		return
	}

	ok, err := h.writer.Delete(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.logger.Error("delete memory failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete memory")
		return
	}
	if !ok {
		writeDetail(w, http.StatusNotFound, "not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type searchRequest struct {
	Query   string `json:"query"`
	UserID  string `json:"user_id"`
	AppName string `json:"app_name,omitempty"`
	TopK    int    `json:"top_k,omitempty"`
	Mode    string `json:"mode,omitempty"`
}

type searchResponse struct {
	Results []memoryItem `json:"results"`
	Query   string       `json:"query"`
	Mode    string       `json:"mode"`
	Count   int          `json:"count"`
}

// Search runs the fused lexical+vector search.
func (h *MemoryHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	userID := resolveUser(r, req.UserID)
	if userID == "" {
		writeDetail(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeDetail(w, http.StatusBadRequest, "query is required")
		return
	}

	mode := domain.SearchHybrid
	if req.Mode != "" {
		if !domain.ValidSearchMode(req.Mode) {
			writeDetail(w, http.StatusBadRequest, "mode must be one of hybrid, text, vector")
			return
		}
		mode = domain.SearchMode(req.Mode)
	}
	topK := req.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	if topK > maxTopK {
		topK = maxTopK
	}

	results, err := h.search.Search(r.Context(), domain.SearchRequest{
		Query:   req.Query,
		UserID:  userID,
		TopK:    topK,
		Mode:    mode,
		AppName: req.AppName,
	})
	if err != nil {
		h.logger.Error("search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to search memories")
		return
	}

	items := make([]memoryItem, 0, len(results))
	for _, res := range results {
		items = append(items, searchResultItem(res))
	}
	h.search.LogAccess(userID, req.AppName, req.Query, results)

	writeJSON(w, http.StatusOK, searchResponse{
		Results: items,
		Query:   req.Query,
		Mode:    string(mode),
		Count:   len(items),
	})
}

// Reextract enqueues entity extraction for every memory of the user. The
// task pool bounds concurrency; already-extracted memories are no-ops.
func (h *MemoryHandler) Reextract(w http.ResponseWriter, r *http.Request) {
	userID := resolveUser(r, "")
	if userID == "" {
		writeDetail(w, http.StatusBadRequest, "user_id is required")
		return
	}

	ids, err := h.memories.ListIDs(r.Context(), userID)
	if err != nil {
		h.logger.Error("list memory ids failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue reextraction")
		return
	}

	for _, id := range ids {
		memoryID := id
		h.tasks.Submit("reextract", func(ctx context.Context) error {
			return h.extractor.Process(ctx, memoryID)
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"queued":  len(ids),
		"user_id": userID,
	})
}

type historyItem struct {
	ID            string `json:"id"`
	MemoryID      string `json:"memory_id"`
	PreviousValue string `json:"previous_value,omitempty"`
	NewValue      string `json:"new_value,omitempty"`
	Action        string `json:"action"`
	CreatedAt     int64  `json:"created_at"`
}

// History lists the audit trail of one memory, newest first.
func (h *MemoryHandler) History(w http.ResponseWriter, r *http.Request) {
	userID := resolveUser(r, "")
	if userID == "" {
		writeDetail(w, http.StatusBadRequest, "user_id is required")
		return
	}
	memoryID := chi.URLParam(r, "id")

	// Ownership check before touching the unanchored history log.
	if _, err := h.memories.GetByID(r.Context(), userID, memoryID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeDetail(w, http.StatusNotFound, "not found")
			return
		}
		h.logger.Error("get memory failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get history")
		return
	}

	entries, err := h.history.ListByMemory(r.Context(), memoryID)
	if err != nil {
		h.logger.Error("list history failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get history")
		return
	}

	items := make([]historyItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, historyItem{
			ID:            e.ID,
			MemoryID:      e.MemoryID,
			PreviousValue: e.PreviousValue,
			NewValue:      e.NewValue,
			Action:        string(e.Action),
			CreatedAt:     e.CreatedAt.Unix(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

type bulkIngestRequest struct {
	UserID      string             `json:"user_id"`
	App         string             `json:"app,omitempty"`
	Items       []service.BulkItem `json:"items"`
	Concurrency int                `json:"concurrency,omitempty"`
	Dedup       *bool              `json:"dedup,omitempty"`
}

type bulkIngestResponse struct {
	Statuses []service.BulkStatus `json:"statuses"`
	Added    int                  `json:"added"`
	Skipped  int                  `json:"skipped"`
	Failed   int                  `json:"failed"`
}

// BulkIngest writes many memories with batched embedding and a single
// UNWIND insert.
func (h *MemoryHandler) BulkIngest(w http.ResponseWriter, r *http.Request) {
	var req bulkIngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	userID := resolveUser(r, req.UserID)
	if userID == "" {
		writeDetail(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if len(req.Items) == 0 {
		writeDetail(w, http.StatusBadRequest, "items is required")
		return
	}

	if req.App != "" {
		active, err := h.apps.IsActive(r.Context(), userID, req.App)
		if err == nil && !active {
			writeDetail(w, http.StatusForbidden, "app is paused")
			return
		}
	}

	statuses := h.bulk.Ingest(r.Context(), userID, req.Items, service.BulkOptions{
		AppName:      req.App,
		Concurrency:  req.Concurrency,
		DedupEnabled: req.Dedup == nil || *req.Dedup,
	})

	resp := bulkIngestResponse{Statuses: statuses}
	for _, s := range statuses {
		switch s.Status {
		case service.BulkAdded:
			resp.Added++
		case service.BulkSkippedDuplicate:
			resp.Skipped++
		case service.BulkFailed:
			resp.Failed++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
