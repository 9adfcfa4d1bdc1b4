package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/respondeo/internal/common"
	"github.com/ternarybob/respondeo/internal/interfaces"
	"github.com/ternarybob/respondeo/internal/models"
)

// JobsHandler exposes job enqueue for publishers and the queue
// inspection/control surface for admins.
type JobsHandler struct {
	intake interfaces.IntakeService
	queue  interfaces.QueueManager
	auth   *Auth
	logger arbor.ILogger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(intake interfaces.IntakeService, queue interfaces.QueueManager, auth *Auth, logger arbor.ILogger) *JobsHandler {
	return &JobsHandler{
		intake: intake,
		queue:  queue,
		auth:   auth,
		logger: logger,
	}
}

type processRequest struct {
	BlogURL string `json:"blog_url"`
}

// ProcessHandler enqueues a blog URL for processing without waiting
// for questions. Returns 202 with the job state.
// POST /api/v1/jobs/process
func (h *JobsHandler) ProcessHandler(w http.ResponseWriter, r *http.Request) {
	pub, ok := h.auth.Publisher(w, r)
	if !ok {
		return
	}

	var req processRequest
	if !DecodeJSONBody(w, r, &req) {
		return
	}
	if req.BlogURL == "" {
		WriteError(w, r, http.StatusBadRequest, CodeValidation, "blog_url is required")
		return
	}
	if _, err := common.NormalizeURL(req.BlogURL); err != nil {
		WriteError(w, r, http.StatusBadRequest, CodeValidation, "invalid blog_url: "+err.Error())
		return
	}

	result, err := h.intake.Enqueue(r.Context(), pub, req.BlogURL)
	if err != nil {
		WriteServiceError(w, r, h.logger, err)
		return
	}

	message := "job queued"
	if !result.Created {
		message = "job already active"
	}
	WriteResult(w, r, http.StatusAccepted, message, result)
}

// StatusHandler returns the full job record.
// GET /api/v1/jobs/status/{job_id}
func (h *JobsHandler) StatusHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !h.auth.Admin(w, r) {
		return
	}

	job, err := h.queue.GetJob(r.Context(), jobID)
	if err != nil {
		WriteServiceError(w, r, h.logger, err)
		return
	}
	WriteResult(w, r, http.StatusOK, "job loaded", job)
}

// StatsHandler returns queue counts per status.
// GET /api/v1/jobs/stats
func (h *JobsHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if !h.auth.Admin(w, r) {
		return
	}

	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		WriteServiceError(w, r, h.logger, err)
		return
	}
	WriteResult(w, r, http.StatusOK, "queue stats", stats)
}

// ListHandler returns jobs filtered by status.
// GET /api/v1/jobs?status=queued&limit=50
func (h *JobsHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !h.auth.Admin(w, r) {
		return
	}

	status := models.JobStatus(r.URL.Query().Get("status"))
	limit := intQueryParam(r, "limit", 50)

	jobs, err := h.queue.ListJobs(r.Context(), status, limit)
	if err != nil {
		WriteServiceError(w, r, h.logger, err)
		return
	}
	WriteResult(w, r, http.StatusOK, "jobs listed", map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// CancelHandler cancels a queued job and releases its quota slot.
// POST /api/v1/jobs/cancel/{job_id}
func (h *JobsHandler) CancelHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !h.auth.Admin(w, r) {
		return
	}

	if err := h.intake.CancelJob(r.Context(), jobID); err != nil {
		WriteServiceError(w, r, h.logger, err)
		return
	}
	WriteResult(w, r, http.StatusOK, "job cancelled", map[string]interface{}{
		"job_id": jobID,
		"status": models.JobStatusCancelled,
	})
}

// ReprocessHandler requeues a terminal job for another run.
// POST /api/v1/jobs/reprocess/{job_id}
func (h *JobsHandler) ReprocessHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !h.auth.Admin(w, r) {
		return
	}

	job, err := h.intake.ReprocessJob(r.Context(), jobID)
	if err != nil {
		WriteServiceError(w, r, h.logger, err)
		return
	}
	WriteResult(w, r, http.StatusAccepted, "job requeued", job)
}
