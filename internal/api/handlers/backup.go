package handlers

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/memforge-ai/memforge/internal/domain"
	"github.com/memforge-ai/memforge/internal/store"
)

const (
	backupJSONName  = "memories.json"
	backupJSONLName = "memories.jsonl.gz"

	exportPageSize = 200
	// maxImportBytes caps the uploaded archive size.
	maxImportBytes = 64 << 20
)

// BackupHandler exports and imports a user's memories as a ZIP archive with
// a JSON array plus a gzipped JSONL stream of the same records. Embeddings
// are not exported; import re-embeds every record.
type BackupHandler struct {
	memories domain.MemoryStore
	embedder domain.EmbeddingClient
	logger   *zap.Logger
}

func NewBackupHandler(memories domain.MemoryStore, embedder domain.EmbeddingClient, logger *zap.Logger) *BackupHandler {
	return &BackupHandler{memories: memories, embedder: embedder, logger: logger}
}

// Export streams a ZIP of all memories, superseded ones included.
func (h *BackupHandler) Export(w http.ResponseWriter, r *http.Request) {
	userID := resolveUser(r, "")
	if userID == "" {
		writeDetail(w, http.StatusBadRequest, "user_id is required")
		return
	}

	memories, err := h.collect(r, userID)
	if err != nil {
		h.logger.Error("export collect failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to export memories")
		return
	}

	var buf bytes.Buffer
	if err := writeArchive(&buf, memories); err != nil {
		h.logger.Error("export archive failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to export memories")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="memforge-backup.zip"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *BackupHandler) collect(r *http.Request, userID string) ([]domain.Memory, error) {
	var all []domain.Memory
	for page := 1; ; page++ {
		items, total, err := h.memories.List(r.Context(), userID, domain.ListOptions{
			Page:              page,
			Size:              exportPageSize,
			IncludeSuperseded: true,
		})
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if len(all) >= total || len(items) == 0 {
			return all, nil
		}
	}
}

func writeArchive(w io.Writer, memories []domain.Memory) error {
	zw := zip.NewWriter(w)

	jsonFile, err := zw.Create(backupJSONName)
	if err != nil {
		return fmt.Errorf("create %s: %w", backupJSONName, err)
	}
	enc := json.NewEncoder(jsonFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(memories); err != nil {
		return fmt.Errorf("encode %s: %w", backupJSONName, err)
	}

	jsonlFile, err := zw.Create(backupJSONLName)
	if err != nil {
		return fmt.Errorf("create %s: %w", backupJSONLName, err)
	}
	gz := gzip.NewWriter(jsonlFile)
	lineEnc := json.NewEncoder(gz)
	for i := range memories {
		if err := lineEnc.Encode(memories[i]); err != nil {
			return fmt.Errorf("encode %s: %w", backupJSONLName, err)
		}
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}

	return zw.Close()
}

type importResponse struct {
	Imported    int `json:"imported"`
	Overwritten int `json:"overwritten"`
	Skipped     int `json:"skipped"`
	Failed      int `json:"failed"`
}

// Import restores memories from an uploaded archive. mode=skip leaves
// existing ids untouched; mode=overwrite replaces their content. Every
// imported record is re-embedded so the index matches the current provider.
func (h *BackupHandler) Import(w http.ResponseWriter, r *http.Request) {
	userID := resolveUser(r, "")
	if userID == "" {
		writeDetail(w, http.StatusBadRequest, "user_id is required")
		return
	}
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = "skip"
	}
	if mode != "skip" && mode != "overwrite" {
		writeDetail(w, http.StatusBadRequest, "mode must be skip or overwrite")
		return
	}

	records, err := readArchive(r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(records) == 0 {
		writeJSON(w, http.StatusOK, importResponse{})
		return
	}

	texts := make([]string, len(records))
	for i, m := range records {
		texts[i] = m.Content
	}
	vectors, err := h.embedder.EmbedBatch(r.Context(), texts)
	if err != nil {
		h.logger.Error("import embed failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to embed imported memories")
		return
	}

	var resp importResponse
	for i := range records {
		m := records[i]
		m.Embedding = vectors[i]

		exists := false
		if m.ID != "" {
			if _, err := h.memories.GetByID(r.Context(), userID, m.ID); err == nil {
				exists = true
			} else if !errors.Is(err, store.ErrNotFound) {
				resp.Failed++
				continue
			}
		}

		switch {
		case exists && mode == "skip":
			resp.Skipped++
		case exists:
			if _, err := h.memories.UpdateContent(r.Context(), userID, m.ID, m.Content, m.Embedding); err != nil {
				resp.Failed++
				continue
			}
			resp.Overwritten++
		default:
			if err := h.memories.Create(r.Context(), userID, &m, m.AppName); err != nil {
				resp.Failed++
				continue
			}
			resp.Imported++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// readArchive accepts the archive as a multipart "file" field or as the raw
// request body, and prefers the JSONL stream over the JSON array.
func readArchive(r *http.Request) ([]domain.Memory, error) {
	var raw []byte
	if file, _, err := r.FormFile("file"); err == nil {
		defer file.Close()
		raw, err = io.ReadAll(io.LimitReader(file, maxImportBytes))
		if err != nil {
			return nil, fmt.Errorf("read upload: %w", err)
		}
	} else {
		raw, err = io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("archive is required")
	}

	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("invalid zip archive")
	}

	if f := findFile(zr, backupJSONLName); f != nil {
		return readJSONL(f)
	}
	if f := findFile(zr, backupJSONName); f != nil {
		return readJSON(f)
	}
	return nil, fmt.Errorf("archive contains neither %s nor %s", backupJSONLName, backupJSONName)
}

func findFile(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if strings.EqualFold(f.Name, name) {
			return f
		}
	}
	return nil
}

func readJSONL(f *zip.File) ([]domain.Memory, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	gz, err := gzip.NewReader(rc)
	if err != nil {
		return nil, fmt.Errorf("invalid gzip stream in %s", f.Name)
	}
	defer gz.Close()

	var out []domain.Memory
	dec := json.NewDecoder(gz)
	for {
		var m domain.Memory
		if err := dec.Decode(&m); err == io.EOF {
			return out, nil
		} else if err != nil {
			return nil, fmt.Errorf("invalid record in %s", f.Name)
		}
		if strings.TrimSpace(m.Content) != "" {
			out = append(out, m)
		}
	}
}

func readJSON(f *zip.File) ([]domain.Memory, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	var all []domain.Memory
	if err := json.NewDecoder(rc).Decode(&all); err != nil {
		return nil, fmt.Errorf("invalid %s", f.Name)
	}
	out := all[:0]
	for _, m := range all {
		if strings.TrimSpace(m.Content) != "" {
			out = append(out, m)
		}
	}
	return out, nil
}
