package handlers

import (
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/respondeo/internal/interfaces"
)

const maxQuestionChars = 2000

// QAHandler serves the ad-hoc question endpoint backing the widget's
// free-form ask box.
type QAHandler struct {
	qa     interfaces.QAService
	auth   *Auth
	logger arbor.ILogger
}

// NewQAHandler creates a new Q&A handler.
func NewQAHandler(qa interfaces.QAService, auth *Auth, logger arbor.ILogger) *QAHandler {
	return &QAHandler{
		qa:     qa,
		auth:   auth,
		logger: logger,
	}
}

type askRequest struct {
	Question string `json:"question"`
}

// AskHandler answers one free-form question with the publisher's chat
// model. Responses are not cached; rate limited per publisher.
// POST /api/v1/qa/ask
func (h *QAHandler) AskHandler(w http.ResponseWriter, r *http.Request) {
	pub, ok := h.auth.Publisher(w, r)
	if !ok {
		return
	}

	var req askRequest
	if !DecodeJSONBody(w, r, &req) {
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		WriteError(w, r, http.StatusBadRequest, CodeValidation, "question is required")
		return
	}
	if len(question) > maxQuestionChars {
		WriteError(w, r, http.StatusBadRequest, CodeValidation, "question exceeds maximum length")
		return
	}

	answer, err := h.qa.Ask(r.Context(), pub, question)
	if err != nil {
		WriteServiceError(w, r, h.logger, err)
		return
	}
	WriteResult(w, r, http.StatusOK, "question answered", answer)
}
