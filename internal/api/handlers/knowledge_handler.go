package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/knowledge-ingest/internal/models"
	"github.com/markdave123-py/knowledge-ingest/internal/services"
)

const maxUploadBytes = 52 << 20

type KnowledgeHandler struct {
	svc        *services.KnowledgeService
	stuckAfter time.Duration
}

func NewKnowledgeHandler(svc *services.KnowledgeService, stuckAfter time.Duration) *KnowledgeHandler {
	if stuckAfter <= 0 {
		stuckAfter = 15 * time.Minute
	}
	return &KnowledgeHandler{svc: svc, stuckAfter: stuckAfter}
}

// knowledgeView adds the display label of the status.
type knowledgeView struct {
	models.KnowledgeFile
	StatusLabel string `json:"statusLabel"`
}

func view(f *models.KnowledgeFile) knowledgeView {
	return knowledgeView{KnowledgeFile: *f, StatusLabel: f.Status.Label()}
}

func views(files []models.KnowledgeFile) []knowledgeView {
	out := make([]knowledgeView, 0, len(files))
	for i := range files {
		out = append(out, view(&files[i]))
	}
	return out
}

// Upload accepts a multipart file and starts ingestion in the background.
func (h *KnowledgeHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	advanced := true
	if v := r.FormValue("advancedRag"); v != "" {
		advanced, err = strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "advancedRag must be a boolean")
			return
		}
	}

	f, err := h.svc.Upload(r.Context(), services.UploadInput{
		ChatbotID:   chi.URLParam(r, "chatbotID"),
		Title:       r.FormValue("title"),
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
		AdvancedRAG: advanced,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, view(f))
}

func (h *KnowledgeHandler) List(w http.ResponseWriter, r *http.Request) {
	files, err := h.svc.List(r.Context(), chi.URLParam(r, "chatbotID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views(files))
}

func (h *KnowledgeHandler) Get(w http.ResponseWriter, r *http.Request) {
	f, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view(f))
}

func (h *KnowledgeHandler) Reingest(w http.ResponseWriter, r *http.Request) {
	f, err := h.svc.Reingest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, view(f))
}

func (h *KnowledgeHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stuck lists in-flight records older than ?olderThan (default STUCK_AFTER).
func (h *KnowledgeHandler) Stuck(w http.ResponseWriter, r *http.Request) {
	olderThan := h.stuckAfter
	if v := r.URL.Query().Get("olderThan"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "olderThan must be a duration such as 15m")
			return
		}
		olderThan = d
	}
	files, err := h.svc.Stuck(r.Context(), olderThan)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views(files))
}
