package service

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"bdqcore/internal/infra/artifacts"
	"bdqcore/internal/infra/history"
)

// Handler provides HTTP access to job history and stored artifacts.
type Handler struct {
	History   history.Store
	Artifacts artifacts.Store
}

// NewHandler constructs the job status handler.
func NewHandler(h history.Store, a artifacts.Store) *Handler {
	return &Handler{History: h, Artifacts: a}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		writeError(w, http.StatusInternalServerError, "job history not configured")
		return
	}

	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == "/api/v1/jobs":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleList(w, r)
	case strings.HasPrefix(path, "/api/v1/jobs/"):
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleJob(w, r, strings.TrimPrefix(path, "/api/v1/jobs/"))
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	records, err := h.History.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": records})
}

func (h *Handler) handleJob(w http.ResponseWriter, r *http.Request, remainder string) {
	segments := strings.Split(remainder, "/")
	switch {
	case len(segments) == 1 && segments[0] != "":
		h.handleGet(w, r, segments[0])
	case len(segments) == 3 && segments[1] == "artifacts" && segments[2] != "":
		h.handleArtifact(w, r, segments[0], segments[2])
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	record, err := h.History.Get(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": record})
}

// handleArtifact streams one stored output of a finished job. name is the
// artifact's short name (raw_results.csv, amended_dataset.csv, digest.json);
// the record maps it to the store key.
func (h *Handler) handleArtifact(w http.ResponseWriter, r *http.Request, id, name string) {
	if h.Artifacts == nil {
		writeError(w, http.StatusInternalServerError, "artifact store not configured")
		return
	}
	record, err := h.History.Get(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	key, ok := record.Artifacts[name]
	if !ok {
		writeError(w, http.StatusNotFound, "artifact not found")
		return
	}

	info, body, err := h.Artifacts.Get(r.Context(), key)
	if errors.Is(err, artifacts.ErrNotFound) {
		writeError(w, http.StatusNotFound, "artifact not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer body.Close()

	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	}
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
