package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/knowledge-ingest/internal/models"
	"github.com/markdave123-py/knowledge-ingest/internal/services"
)

type QueryHandler struct {
	svc *services.KnowledgeService
}

func NewQueryHandler(svc *services.KnowledgeService) *QueryHandler {
	return &QueryHandler{svc: svc}
}

type queryRequest struct {
	Question   string `json:"question"`
	K          int    `json:"k"`
	DocumentID string `json:"documentId"`
}

type queryResponse struct {
	Results []models.ScoredChunk `json:"results"`
}

// Query returns the chunks of a chatbot nearest to the question.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	hits, err := h.svc.Query(r.Context(), chi.URLParam(r, "chatbotID"), req.Question, req.K, req.DocumentID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{Results: hits})
}
