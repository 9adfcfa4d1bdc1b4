package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/respondeo/internal/interfaces"
)

const (
	defaultSimilarLimit = 5
	maxSimilarLimit     = 20
)

// SearchHandler serves vector similarity lookups for the widget's
// "related articles" panel.
type SearchHandler struct {
	similarity interfaces.SimilarityService
	auth       *Auth
	logger     arbor.ILogger
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(similarity interfaces.SimilarityService, auth *Auth, logger arbor.ILogger) *SearchHandler {
	return &SearchHandler{
		similarity: similarity,
		auth:       auth,
		logger:     logger,
	}
}

type similarRequest struct {
	QuestionID string `json:"question_id"`
	Limit      int    `json:"limit"`
}

// SimilarHandler returns the blogs closest to a question by summary
// embedding cosine similarity.
// POST /api/v1/search/similar
func (h *SearchHandler) SimilarHandler(w http.ResponseWriter, r *http.Request) {
	pub, ok := h.auth.Publisher(w, r)
	if !ok {
		return
	}

	var req similarRequest
	if !DecodeJSONBody(w, r, &req) {
		return
	}
	if req.QuestionID == "" {
		WriteError(w, r, http.StatusBadRequest, CodeValidation, "question_id is required")
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSimilarLimit
	}
	if limit > maxSimilarLimit {
		limit = maxSimilarLimit
	}

	blogs, err := h.similarity.SearchSimilar(r.Context(), pub, req.QuestionID, limit)
	if err != nil {
		WriteServiceError(w, r, h.logger, err)
		return
	}
	WriteResult(w, r, http.StatusOK, "similar blogs", map[string]interface{}{
		"results": blogs,
		"count":   len(blogs),
	})
}
