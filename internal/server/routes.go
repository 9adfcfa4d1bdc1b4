package server

import (
	"net/http"

	"github.com/ternarybob/respondeo/internal/handlers"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Questions (widget read path)
	mux.HandleFunc("/api/v1/questions/check-and-load", s.route(MethodRouter{
		http.MethodGet: s.app.QuestionsHandler.CheckAndLoadHandler,
	}))
	mux.HandleFunc("/api/v1/questions/by-url", s.route(MethodRouter{
		http.MethodGet: s.app.QuestionsHandler.ByURLHandler,
	}))
	mux.HandleFunc("/api/v1/questions/", s.handleQuestionRoutes) // GET/DELETE /{id}

	// Jobs (enqueue + admin queue surface)
	mux.HandleFunc("/api/v1/jobs/process", s.route(MethodRouter{
		http.MethodPost: s.app.JobsHandler.ProcessHandler,
	}))
	mux.HandleFunc("/api/v1/jobs/stats", s.route(MethodRouter{
		http.MethodGet: s.app.JobsHandler.StatsHandler,
	}))
	mux.HandleFunc("/api/v1/jobs", s.route(MethodRouter{
		http.MethodGet: s.app.JobsHandler.ListHandler,
	}))
	mux.HandleFunc("/api/v1/jobs/status/", s.handleJobTail("/api/v1/jobs/status/", http.MethodGet, s.app.JobsHandler.StatusHandler))
	mux.HandleFunc("/api/v1/jobs/cancel/", s.handleJobTail("/api/v1/jobs/cancel/", http.MethodPost, s.app.JobsHandler.CancelHandler))
	mux.HandleFunc("/api/v1/jobs/reprocess/", s.handleJobTail("/api/v1/jobs/reprocess/", http.MethodPost, s.app.JobsHandler.ReprocessHandler))

	// Search & ad-hoc Q&A
	mux.HandleFunc("/api/v1/search/similar", s.route(MethodRouter{
		http.MethodPost: s.app.SearchHandler.SimilarHandler,
	}))
	mux.HandleFunc("/api/v1/qa/ask", s.route(MethodRouter{
		http.MethodPost: s.app.QAHandler.AskHandler,
	}))

	// Publishers
	mux.HandleFunc("/api/v1/publishers/onboard", s.route(MethodRouter{
		http.MethodPost: s.app.PublishersHandler.OnboardHandler,
	}))
	mux.HandleFunc("/api/v1/publishers/metadata", s.route(MethodRouter{
		http.MethodGet: s.app.PublishersHandler.MetadataHandler,
	}))

	// Admin event stream
	mux.HandleFunc(eventsPath, s.app.EventsHandler.EventsWebSocketHandler)

	// Operational endpoints
	mux.HandleFunc("/health", s.route(MethodRouter{
		http.MethodGet: s.app.APIHandler.HealthHandler,
	}))
	mux.HandleFunc("/version", s.route(MethodRouter{
		http.MethodGet: s.app.APIHandler.VersionHandler,
	}))

	// Envelope 404 for everything else under the API prefix
	mux.HandleFunc("/api/", s.notFoundHandler)
	mux.HandleFunc("/", s.notFoundHandler)

	return mux
}

// handleQuestionRoutes routes /api/v1/questions/{id}: GET resolves a
// question id, DELETE removes a blog id with its derived data.
func (s *Server) handleQuestionRoutes(w http.ResponseWriter, r *http.Request) {
	id := handlers.PathTail(r.URL.Path, "/api/v1/questions/")
	if id == "" {
		s.notFoundHandler(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.app.QuestionsHandler.GetQuestionHandler(w, r, id)
	case http.MethodDelete:
		s.app.QuestionsHandler.DeleteBlogHandler(w, r, id)
	default:
		s.methodNotAllowed(w, r)
	}
}

// handleJobTail builds a handler for /prefix/{job_id} routes with a
// single allowed method.
func (s *Server) handleJobTail(prefix, method string, handler func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := handlers.PathTail(r.URL.Path, prefix)
		if jobID == "" {
			s.notFoundHandler(w, r)
			return
		}
		if r.Method != method {
			s.methodNotAllowed(w, r)
			return
		}
		handler(w, r, jobID)
	}
}
