package server

import (
	"net/http"

	"github.com/ternarybob/respondeo/internal/handlers"
)

// RouteHandler is a function type for HTTP handlers
type RouteHandler func(http.ResponseWriter, *http.Request)

// MethodRouter maps HTTP methods to handlers
type MethodRouter map[string]RouteHandler

// route builds a handler that dispatches by method and answers
// anything unmapped with an envelope 405.
func (s *Server) route(routes MethodRouter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handler, ok := routes[r.Method]
		if !ok {
			s.methodNotAllowed(w, r)
			return
		}
		handler(w, r)
	}
}

// methodNotAllowed writes the envelope 405.
func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	handlers.WriteError(w, r, http.StatusMethodNotAllowed, handlers.CodeValidation, "method not allowed")
}

// notFoundHandler writes the envelope 404.
func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	handlers.WriteError(w, r, http.StatusNotFound, handlers.CodeNotFound, "the requested endpoint does not exist")
}
