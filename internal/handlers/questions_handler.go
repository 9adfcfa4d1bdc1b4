package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/respondeo/internal/common"
	"github.com/ternarybob/respondeo/internal/interfaces"
)

// QuestionsHandler serves the widget-facing question reads and the
// admin question/blog management endpoints.
type QuestionsHandler struct {
	intake interfaces.IntakeService
	auth   *Auth
	logger arbor.ILogger
}

// NewQuestionsHandler creates a new questions handler.
func NewQuestionsHandler(intake interfaces.IntakeService, auth *Auth, logger arbor.ILogger) *QuestionsHandler {
	return &QuestionsHandler{
		intake: intake,
		auth:   auth,
		logger: logger,
	}
}

// CheckAndLoadHandler is the widget fast path: stored questions when
// they exist, otherwise the state of the job that will produce them.
// GET /api/v1/questions/check-and-load?blog_url=...
func (h *QuestionsHandler) CheckAndLoadHandler(w http.ResponseWriter, r *http.Request) {
	pub, ok := h.auth.Publisher(w, r)
	if !ok {
		return
	}
	blogURL, ok := requireBlogURL(w, r)
	if !ok {
		return
	}

	result, err := h.intake.CheckAndLoad(r.Context(), pub, blogURL)
	if err != nil {
		WriteServiceError(w, r, h.logger, err)
		return
	}
	WriteResult(w, r, http.StatusOK, string(result.Status), result)
}

// ByURLHandler returns the stored questions for a URL.
// GET /api/v1/questions/by-url?blog_url=...&randomize=true
func (h *QuestionsHandler) ByURLHandler(w http.ResponseWriter, r *http.Request) {
	pub, ok := h.auth.Publisher(w, r)
	if !ok {
		return
	}
	blogURL, ok := requireBlogURL(w, r)
	if !ok {
		return
	}
	randomize := r.URL.Query().Get("randomize") == "true"

	questions, blogInfo, err := h.intake.GetQuestionsByURL(r.Context(), pub, blogURL, randomize)
	if err != nil {
		WriteServiceError(w, r, h.logger, err)
		return
	}
	WriteResult(w, r, http.StatusOK, "questions loaded", map[string]interface{}{
		"questions": questions,
		"blog_info": blogInfo,
	})
}

// GetQuestionHandler returns one question record by id.
// GET /api/v1/questions/{question_id}
func (h *QuestionsHandler) GetQuestionHandler(w http.ResponseWriter, r *http.Request, questionID string) {
	if !h.auth.Admin(w, r) {
		return
	}

	question, err := h.intake.GetQuestion(r.Context(), questionID)
	if err != nil {
		WriteServiceError(w, r, h.logger, err)
		return
	}
	WriteResult(w, r, http.StatusOK, "question loaded", question)
}

// DeleteBlogHandler removes a blog's content, summary, and questions.
// Job history is retained.
// DELETE /api/v1/questions/{blog_id}
func (h *QuestionsHandler) DeleteBlogHandler(w http.ResponseWriter, r *http.Request, blogID string) {
	if !h.auth.Admin(w, r) {
		return
	}

	deleted, err := h.intake.DeleteBlog(r.Context(), blogID)
	if err != nil {
		WriteServiceError(w, r, h.logger, err)
		return
	}
	WriteResult(w, r, http.StatusOK, "blog deleted", map[string]interface{}{
		"blog_id":           blogID,
		"questions_deleted": deleted,
	})
}

// requireBlogURL reads and validates the blog_url query parameter.
// Normalization proper happens in the services; this only rejects
// garbage early with a validation envelope.
func requireBlogURL(w http.ResponseWriter, r *http.Request) (string, bool) {
	blogURL := r.URL.Query().Get("blog_url")
	if blogURL == "" {
		WriteError(w, r, http.StatusBadRequest, CodeValidation, "blog_url parameter is required")
		return "", false
	}
	if _, err := common.NormalizeURL(blogURL); err != nil {
		WriteError(w, r, http.StatusBadRequest, CodeValidation, "invalid blog_url: "+err.Error())
		return "", false
	}
	return blogURL, true
}
