package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"kbvector/internal/embed"
	"kbvector/internal/ingest"
	"kbvector/internal/vectorstore"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Knowledge Base API is running"})
}

// handleHealth reports store readiness: 503 until the collection is open,
// with the failure cause included when initialization gave up.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state, cause := s.store.State()

	w.Header().Set("Content-Type", "application/json")
	if state != vectorstore.StateReady {
		w.WriteHeader(http.StatusServiceUnavailable)
		body := map[string]any{
			"status": "unavailable",
			"state":  state.String(),
		}
		if cause != nil {
			body["error"] = cause.Error()
		}
		json.NewEncoder(w).Encode(body)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"state":  state.String(),
	})
}

// handleUpload ingests a multipart batch of documents.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// Limit total request size, with headroom for form overhead.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes*10+10*1024*1024)

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	fileHeaders := r.MultipartForm.File["files"]
	if len(fileHeaders) == 0 {
		jsonError(w, "at least one file is required", http.StatusBadRequest)
		return
	}

	var files []ingest.File
	for _, fh := range fileHeaders {
		filename := sanitizeFilename(fh.Filename)

		f, err := fh.Open()
		if err != nil {
			jsonError(w, fmt.Sprintf("failed to open %s", filename), http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadBytes+1))
		f.Close()
		if err != nil {
			jsonError(w, fmt.Sprintf("failed to read %s", filename), http.StatusBadRequest)
			return
		}
		if int64(len(data)) > s.cfg.MaxUploadBytes {
			jsonError(w, fmt.Sprintf("%s exceeds max size (%d bytes)", filename, s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
			return
		}
		files = append(files, ingest.File{Name: filename, Data: data})
	}

	report, err := s.ingester.IngestBatch(r.Context(), files)
	if err != nil {
		if errors.Is(err, ingest.ErrEmptyContent) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]any{
				"error":  err.Error(),
				"report": report,
			})
			return
		}
		var pe *embed.ProviderError
		if errors.As(err, &pe) {
			jsonError(w, err.Error(), http.StatusBadGateway)
			return
		}
		if errors.Is(err, vectorstore.ErrNotReady) {
			jsonError(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		s.log.Error("upload failed", "error", err)
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"message":  fmt.Sprintf("Successfully processed %d text chunks", report.Chunks),
		"batch_id": report.BatchID,
		"chunks":   report.Chunks,
		"inserted": report.Inserted,
		"files":    report.Files,
	})
}

type searchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

// handleSearch embeds a query and runs nearest-neighbor retrieval. The
// score on each hit is the raw L2 distance, not a bounded similarity.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		jsonError(w, "query is required", http.StatusBadRequest)
		return
	}
	k := req.K
	if k <= 0 {
		k = s.cfg.DefaultTopK
	}

	vector, err := s.embedder.EmbedOne(r.Context(), req.Query)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}

	results, err := s.store.Search(r.Context(), vector, k)
	if err != nil {
		if errors.Is(err, vectorstore.ErrNotReady) {
			jsonError(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		s.log.Error("search failed", "error", err)
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []vectorstore.Result{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"results": results})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"model":      s.embedder.Model(),
		"dimension":  s.embedder.Dimension(),
		"collection": s.store.Collection(),
		"embedding":  s.embedder.Stats.Snapshot(),
	})
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
